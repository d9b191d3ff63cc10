package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SimulationResult is the outcome of one simulated call.
type SimulationResult struct {
	Success bool          `json:"success"`
	Return  hexutil.Bytes `json:"return,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Simulate runs calls from the given account in order against current state
// and reports the outcome of each. Every effect is reverted afterwards, so a
// failed call does not stop the ones after it.
func (e *Engine) Simulate(ctx context.Context, from common.Address, calls []*Message) []SimulationResult {
	snap := e.host.Snapshot()
	defer e.host.RevertToSnapshot(snap)

	results := make([]SimulationResult, len(calls))
	for i, msg := range calls {
		m := *msg
		m.From = from
		ret, err := e.host.Call(ctx, &m)
		if err != nil {
			results[i].Error = err.Error()
			continue
		}
		results[i] = SimulationResult{Success: true, Return: ret}
	}
	return results
}

// SimulateFill dry-runs a fill and reverts it regardless of the outcome.
func (e *Engine) SimulateFill(ctx context.Context, taker common.Address, req *FillRequest) (*FillResult, error) {
	snap := e.host.Snapshot()
	defer e.host.RevertToSnapshot(snap)
	return e.FillOrder(ctx, taker, req)
}
