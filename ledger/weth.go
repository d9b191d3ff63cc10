package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kaifufi/limit-order-go/engine"
)

// WrappedNative is an ERC20 backed one to one by the native value it holds.
// Plain value transfers and deposit mint, withdraw burns and pays out.
type WrappedNative struct {
	*ERC20
}

// NewWrappedNative creates a wrapped native token to be deployed at addr.
func NewWrappedNative(addr common.Address) *WrappedNative {
	return &WrappedNative{ERC20: NewERC20(addr, "Wrapped Ether", 18)}
}

// Run implements Contract.
func (w *WrappedNative) Run(ctx context.Context, l *Ledger, msg *engine.Message) ([]byte, error) {
	if len(msg.Data) == 0 {
		return nil, w.deposit(l, msg)
	}
	method, args, err := decodeCall(&erc20ABI, msg.Data)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "deposit":
		return nil, w.deposit(l, msg)
	case "withdraw":
		amount := args[0].(*big.Int)
		if err := w.burn(l, msg.From, amount); err != nil {
			return nil, err
		}
		_, err := l.Call(ctx, &engine.Message{From: w.Address, To: msg.From, Value: amount})
		return nil, err
	default:
		if msg.Value != nil && msg.Value.Sign() > 0 {
			return nil, revert("%s is not payable", method.Name)
		}
		return w.ERC20.Run(ctx, l, msg)
	}
}

func (w *WrappedNative) deposit(l *Ledger, msg *engine.Message) error {
	if msg.Value == nil || msg.Value.Sign() == 0 {
		return nil
	}
	return w.Mint(l, msg.From, msg.Value)
}
