package engine

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kaifufi/limit-order-go/chain"
)

// AmountQuote carries the order state an amount getter prices against.
type AmountQuote struct {
	Order     *chain.Order
	Remaining *big.Int
}

func (q *AmountQuote) filled() *big.Int {
	return new(big.Int).Sub(q.Order.MakingAmount, q.Remaining)
}

// MakingAmount returns the maker units owed for takingAmount taker units,
// through the order's making amount getter when it has one.
func (q *AmountQuote) MakingAmount(ctx context.Context, r Reader, self common.Address, takingAmount *big.Int) (*big.Int, error) {
	o := q.Order
	if getter := o.Extension.MakingAmountGetter; len(getter) != 0 {
		return callGetter(ctx, r, self, "getMakingAmount", getter, o, takingAmount, q.filled(), q.Remaining)
	}
	if o.Traits.NoPartialFills {
		return GetMakingAmountNoPartialFill(o.MakingAmount, o.TakingAmount, takingAmount), nil
	}
	return GetMakingAmount(o.MakingAmount, o.TakingAmount, takingAmount), nil
}

// TakingAmount returns the taker units owed for makingAmount maker units,
// through the order's taking amount getter when it has one.
func (q *AmountQuote) TakingAmount(ctx context.Context, r Reader, self common.Address, makingAmount *big.Int) (*big.Int, error) {
	o := q.Order
	if getter := o.Extension.TakingAmountGetter; len(getter) != 0 {
		return callGetter(ctx, r, self, "getTakingAmount", getter, o, makingAmount, q.filled(), q.Remaining)
	}
	if o.Traits.NoPartialFills {
		return GetTakingAmountNoPartialFill(o.MakingAmount, o.TakingAmount, makingAmount), nil
	}
	return GetTakingAmount(o.MakingAmount, o.TakingAmount, makingAmount), nil
}

func callGetter(ctx context.Context, r Reader, self common.Address, method string, getter []byte,
	o *chain.Order, requested, filled, remaining *big.Int) (*big.Int, error) {

	target, extra, err := chain.SplitCall(getter)
	if err != nil {
		return nil, wrapError(ErrExtensionInvalid, err, "%s", method)
	}
	data, err := chain.GetAmountGetterABI().Pack(method, o.MakingAmount, o.TakingAmount,
		requested, filled, remaining, extra)
	if err != nil {
		return nil, wrapError(ErrAmountGetterFailed, err, "encode %s", method)
	}
	result, err := r.StaticCall(ctx, self, target, data)
	if err != nil {
		return nil, wrapError(ErrAmountGetterFailed, err, "%s on %s", method, target.Hex())
	}
	if len(result) < 32 {
		return nil, newError(ErrAmountGetterFailed, "%s on %s returned %d bytes", method, target.Hex(), len(result))
	}
	return new(big.Int).SetBytes(result[:32]), nil
}
