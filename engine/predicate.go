package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/kaifufi/limit-order-go/chain"
)

const maxPredicateDepth = 32

// EpochReader resolves nonceEquals against stored epochs.
type EpochReader interface {
	EpochAt(maker common.Address, series *big.Int) (*big.Int, error)
}

// predicateEvaluator interprets encoded predicates without modifying state.
type predicateEvaluator struct {
	reader Reader
	self   common.Address
	epochs EpochReader // nil when epochs are unavailable
	custom CustomPredicate
}

// check evaluates a predicate, which holds iff it evaluates to exactly 1.
// Errors outside an and/or branch abort the check.
func (p *predicateEvaluator) check(ctx context.Context, predicate []byte) (bool, error) {
	v, err := p.eval(ctx, predicate, 0)
	if err != nil {
		if _, ok := KindOf(err); ok {
			return false, err
		}
		return false, wrapError(ErrPredicateIsNotTrue, err, "predicate evaluation failed")
	}
	return v.Cmp(common.Big1) == 0, nil
}

func boolWord(b bool) *big.Int {
	if b {
		return big.NewInt(1)
	}
	return new(big.Int)
}

func (p *predicateEvaluator) eval(ctx context.Context, data []byte, depth int) (*big.Int, error) {
	if depth > maxPredicateDepth {
		return nil, fmt.Errorf("predicate nested deeper than %d", maxPredicateDepth)
	}
	call, err := chain.ParsePredicate(data)
	if err != nil {
		return nil, err
	}
	switch call.Op {
	case chain.PredicateAnd:
		for _, child := range call.Children {
			v, err := p.eval(ctx, child, depth+1)
			if err != nil || v.Cmp(common.Big1) != 0 {
				return boolWord(false), nil
			}
		}
		return boolWord(true), nil

	case chain.PredicateOr:
		for _, child := range call.Children {
			v, err := p.eval(ctx, child, depth+1)
			if err == nil && v.Cmp(common.Big1) == 0 {
				return boolWord(true), nil
			}
		}
		return boolWord(false), nil

	case chain.PredicateNot:
		v, err := p.eval(ctx, call.Children[0], depth+1)
		if err != nil {
			return nil, err
		}
		return boolWord(v.Sign() == 0), nil

	case chain.PredicateEq, chain.PredicateLt, chain.PredicateGt:
		v, err := p.eval(ctx, call.Children[0], depth+1)
		if err != nil {
			return nil, err
		}
		cmp := v.Cmp(call.Value)
		switch call.Op {
		case chain.PredicateEq:
			return boolWord(cmp == 0), nil
		case chain.PredicateLt:
			return boolWord(cmp < 0), nil
		default:
			return boolWord(cmp > 0), nil
		}

	case chain.PredicateTimestampBelow:
		now, err := p.reader.Timestamp(ctx)
		if err != nil {
			return nil, err
		}
		return boolWord(new(big.Int).SetUint64(now).Cmp(call.Value) < 0), nil

	case chain.PredicateNonceEquals:
		if p.epochs == nil {
			return nil, fmt.Errorf("epochs of %s are not available", call.Maker.Hex())
		}
		epoch, err := p.epochs.EpochAt(call.Maker, call.Series)
		if err != nil {
			return nil, err
		}
		return boolWord(epoch.Cmp(call.Epoch) == 0), nil

	case chain.PredicateArbitraryStaticCall:
		result, err := p.reader.StaticCall(ctx, p.self, call.Target, call.Data)
		if err != nil {
			return nil, err
		}
		if len(result) < 32 {
			return nil, fmt.Errorf("static call to %s returned %d bytes", call.Target.Hex(), len(result))
		}
		return new(big.Int).SetBytes(result[:32]), nil

	default:
		if p.custom != nil {
			v, err := p.custom.EvaluatePredicate(ctx, p.reader, call.Raw)
			if err != nil {
				return nil, err
			}
			if v == nil {
				v = new(big.Int)
			}
			return v, nil
		}
		return p.selfCall(ctx, call.Raw)
	}
}

// selfCall static-calls the engine's own account with the predicate
// calldata and takes the first word of the result.
func (p *predicateEvaluator) selfCall(ctx context.Context, calldata []byte) (*big.Int, error) {
	result, err := p.reader.StaticCall(ctx, p.self, p.self, calldata)
	if err != nil {
		return nil, wrapError(ErrUnknownPredicate, err, "selector %x", calldata[:4])
	}
	if len(result) < 32 {
		return nil, newError(ErrUnknownPredicate, "selector %x returned %d bytes", calldata[:4], len(result))
	}
	return new(big.Int).SetBytes(result[:32]), nil
}

// EpochAt implements EpochReader over the engine's storage.
func (m *EpochManager) EpochAt(maker common.Address, series *big.Int) (*big.Int, error) {
	key, overflow := uint256.FromBig(series)
	if overflow {
		return new(big.Int), nil
	}
	return m.epochAt(maker, key).ToBig(), nil
}
