package ledger

import (
	"context"

	"github.com/kaifufi/limit-order-go/engine"
)

// EngineAccount is the code at an engine's own address. It accepts native
// value and answers the engine's read-only queries.
type EngineAccount struct {
	Engine *engine.Engine
}

// Run implements Contract.
func (a EngineAccount) Run(ctx context.Context, l *Ledger, msg *engine.Message) ([]byte, error) {
	if len(msg.Data) == 0 {
		return nil, nil
	}
	if msg.Value != nil && msg.Value.Sign() > 0 {
		return nil, revert("engine queries are not payable")
	}
	ret, err := a.Engine.Query(ctx, msg.Data)
	if err != nil {
		return nil, revert("engine query: %v", err)
	}
	return ret, nil
}
