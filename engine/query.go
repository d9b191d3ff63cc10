package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kaifufi/limit-order-go/chain"
)

var queryABI = chain.GetEngineQueryABI()

// Query answers an ABI encoded read-only call against the engine's state and
// returns the ABI encoded result. It is the code of the engine's own account,
// which predicates with unknown selectors static-call.
func (e *Engine) Query(ctx context.Context, calldata []byte) ([]byte, error) {
	if len(calldata) < 4 {
		return nil, fmt.Errorf("query of %d bytes has no selector", len(calldata))
	}
	method, err := queryABI.MethodById(calldata[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method.Name, err)
	}
	maker := args[0].(common.Address)

	var out interface{}
	switch method.Name {
	case "epoch":
		if out, err = e.epochs.EpochAt(maker, args[1].(*big.Int)); err != nil {
			return nil, err
		}
	case "epochEquals":
		epoch, err := e.epochs.EpochAt(maker, args[1].(*big.Int))
		if err != nil {
			return nil, err
		}
		out = epoch.Cmp(args[2].(*big.Int)) == 0
	case "remaining":
		if out, err = e.Remaining(maker, common.Hash(args[1].([32]byte))); err != nil {
			return nil, err
		}
	case "rawRemaining":
		out = e.RawRemaining(maker, common.Hash(args[1].([32]byte)))
	case "bitInvalidatorForOrder":
		slot := args[1].(*big.Int)
		if !slot.IsUint64() {
			out = new(big.Int)
			break
		}
		out = e.BitInvalidatorForOrder(maker, slot.Uint64())
	default:
		return nil, fmt.Errorf("query %s is not supported", method.Name)
	}
	return method.Outputs.Pack(out)
}
