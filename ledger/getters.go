package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/kaifufi/limit-order-go/chain"
	"github.com/kaifufi/limit-order-go/engine"
)

var (
	amountGetterABI = chain.GetAmountGetterABI()
	rangeArgs       = abi.Arguments{{Type: mustType("uint256")}, {Type: mustType("uint256")}}
	priceUnit       = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// RangeAmountGetter prices an order along a line from priceStart to
// priceEnd taker units per 1e18 maker units as the order fills. Its extra
// data is abi.encode(priceStart, priceEnd).
type RangeAmountGetter struct{}

// RangeExtraData encodes the price range of a RangeAmountGetter.
func RangeExtraData(priceStart, priceEnd *big.Int) ([]byte, error) {
	return rangeArgs.Pack(priceStart, priceEnd)
}

// Run implements Contract.
func (g RangeAmountGetter) Run(ctx context.Context, l *Ledger, msg *engine.Message) ([]byte, error) {
	method, args, err := decodeCall(&amountGetterABI, msg.Data)
	if err != nil {
		return nil, err
	}
	orderMaking := args[0].(*big.Int)
	requested := args[2].(*big.Int)
	filled := args[3].(*big.Int)
	prices, err := rangeArgs.Unpack(args[5].([]byte))
	if err != nil {
		return nil, revert("range getter: %v", err)
	}
	priceStart, priceEnd := prices[0].(*big.Int), prices[1].(*big.Int)
	if priceEnd.Cmp(priceStart) < 0 {
		return nil, revert("range getter: price end %s below start %s", priceEnd, priceStart)
	}
	if orderMaking.Sign() == 0 {
		return nil, revert("range getter: zero order amount")
	}

	var out *big.Int
	switch method.Name {
	case "getTakingAmount":
		out = RangeTakingAmount(priceStart, priceEnd, orderMaking, requested, filled)
	case "getMakingAmount":
		if priceStart.Sign() == 0 && priceEnd.Sign() == 0 {
			return nil, revert("range getter: zero price")
		}
		out = RangeMakingAmount(priceStart, priceEnd, orderMaking, requested, filled)
	default:
		return nil, revert("range getter does not implement %s", method.Name)
	}
	return method.Outputs.Pack(out)
}

// RangeTakingAmount returns the taker units for making maker units after
// filled units are gone: making times the average price over the range
// [filled, filled+making].
func RangeTakingAmount(priceStart, priceEnd, orderMaking, making, filled *big.Int) *big.Int {
	diff := new(big.Int).Sub(priceEnd, priceStart)
	span := new(big.Int).Lsh(filled, 1)
	span.Add(span, making)
	out := diff.Mul(diff, span)
	out.Mul(out, making)
	out.Quo(out, new(big.Int).Lsh(orderMaking, 1))
	out.Add(out, new(big.Int).Mul(priceStart, making))
	return out.Quo(out, priceUnit)
}

// RangeMakingAmount inverts RangeTakingAmount, solving
// diff*m^2 + 2*b*m - 2*orderMaking*taking*1e18 = 0 for m with
// b = priceStart*orderMaking + diff*filled.
func RangeMakingAmount(priceStart, priceEnd, orderMaking, taking, filled *big.Int) *big.Int {
	scaled := new(big.Int).Mul(taking, priceUnit)
	diff := new(big.Int).Sub(priceEnd, priceStart)
	if diff.Sign() == 0 {
		return scaled.Quo(scaled, priceStart)
	}
	b := new(big.Int).Mul(priceStart, orderMaking)
	b.Add(b, new(big.Int).Mul(diff, filled))

	disc := new(big.Int).Mul(b, b)
	term := new(big.Int).Mul(diff, orderMaking)
	term.Mul(term, scaled)
	disc.Add(disc, term.Lsh(term, 1))

	out := disc.Sqrt(disc)
	out.Sub(out, b)
	return out.Quo(out, diff)
}
