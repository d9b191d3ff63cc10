package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PredicateOp identifies a predicate primitive.
type PredicateOp uint8

const (
	PredicateCustom PredicateOp = iota
	PredicateAnd
	PredicateOr
	PredicateNot
	PredicateEq
	PredicateLt
	PredicateGt
	PredicateTimestampBelow
	PredicateNonceEquals
	PredicateArbitraryStaticCall
)

// MaxPredicateChildren is the number of 32-bit offsets packed in one word.
const MaxPredicateChildren = 8

var ErrInvalidPredicate = errors.New("invalid predicate")

var predicateOps = map[[4]byte]PredicateOp{}

func init() {
	for name, op := range map[string]PredicateOp{
		"and":                 PredicateAnd,
		"or":                  PredicateOr,
		"not":                 PredicateNot,
		"eq":                  PredicateEq,
		"lt":                  PredicateLt,
		"gt":                  PredicateGt,
		"timestampBelow":      PredicateTimestampBelow,
		"nonceEquals":         PredicateNonceEquals,
		"arbitraryStaticCall": PredicateArbitraryStaticCall,
	} {
		var sel [4]byte
		copy(sel[:], predicateABI.Methods[name].ID)
		predicateOps[sel] = op
	}
}

// PredicateCall is one decoded level of a predicate expression. Child
// expressions are left encoded and decoded lazily by the evaluator.
type PredicateCall struct {
	Op       PredicateOp
	Children [][]byte       // and, or, not, eq, lt, gt
	Value    *big.Int       // eq, lt, gt, timestampBelow
	Maker    common.Address // nonceEquals
	Series   *big.Int       // nonceEquals
	Epoch    *big.Int       // nonceEquals
	Target   common.Address // arbitraryStaticCall
	Data     []byte         // arbitraryStaticCall
	Raw      []byte         // custom: the full calldata
}

// ParsePredicate decodes the top level of an encoded predicate. Selectors
// outside the primitive table decode as PredicateCustom.
func ParsePredicate(b []byte) (*PredicateCall, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidPredicate, len(b))
	}
	var sel [4]byte
	copy(sel[:], b[:4])
	op, ok := predicateOps[sel]
	if !ok {
		return &PredicateCall{Op: PredicateCustom, Raw: b}, nil
	}
	method, err := predicateABI.MethodById(b[:4])
	if err != nil {
		return nil, err
	}
	vals, err := method.Inputs.Unpack(b[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPredicate, method.Name, err)
	}
	call := &PredicateCall{Op: op}
	switch op {
	case PredicateAnd, PredicateOr:
		call.Children, err = splitChildren(vals[0].(*big.Int), vals[1].([]byte))
		if err != nil {
			return nil, err
		}
	case PredicateNot:
		call.Children = [][]byte{vals[0].([]byte)}
	case PredicateEq, PredicateLt, PredicateGt:
		call.Value = vals[0].(*big.Int)
		call.Children = [][]byte{vals[1].([]byte)}
	case PredicateTimestampBelow:
		call.Value = vals[0].(*big.Int)
	case PredicateNonceEquals:
		call.Maker = vals[0].(common.Address)
		call.Series = vals[1].(*big.Int)
		call.Epoch = vals[2].(*big.Int)
	case PredicateArbitraryStaticCall:
		call.Target = vals[0].(common.Address)
		call.Data = vals[1].([]byte)
	}
	return call, nil
}

// splitChildren slices data by the cumulative 32-bit end offsets packed in
// offsets, lowest first. A zero offset terminates the list.
func splitChildren(offsets *big.Int, data []byte) ([][]byte, error) {
	var children [][]byte
	word := new(big.Int).Set(offsets)
	mask := big.NewInt(0xffffffff)
	var prev uint64
	for i := 0; i < MaxPredicateChildren; i++ {
		end := new(big.Int).And(word, mask).Uint64()
		if end == 0 {
			break
		}
		if end < prev || end > uint64(len(data)) {
			return nil, fmt.Errorf("%w: child %d offset %d out of range", ErrInvalidPredicate, i, end)
		}
		children = append(children, data[prev:end])
		prev = end
		word.Rsh(word, 32)
	}
	return children, nil
}

// And encodes a conjunction of up to eight predicates.
func And(children ...[]byte) ([]byte, error) {
	return packCombinator("and", children)
}

// Or encodes a disjunction of up to eight predicates.
func Or(children ...[]byte) ([]byte, error) {
	return packCombinator("or", children)
}

func packCombinator(name string, children [][]byte) ([]byte, error) {
	if len(children) == 0 || len(children) > MaxPredicateChildren {
		return nil, fmt.Errorf("%w: %s takes 1 to %d children", ErrInvalidPredicate, name, MaxPredicateChildren)
	}
	offsets := new(big.Int)
	var data []byte
	for i, child := range children {
		if len(child) == 0 {
			return nil, fmt.Errorf("%w: empty child %d", ErrInvalidPredicate, i)
		}
		data = append(data, child...)
		if len(data) > 0xffffffff {
			return nil, fmt.Errorf("%w: %s data too long", ErrInvalidPredicate, name)
		}
		end := new(big.Int).SetUint64(uint64(len(data)))
		offsets.Or(offsets, end.Lsh(end, uint(32*i)))
	}
	return predicateABI.Pack(name, offsets, data)
}

// Not encodes the negation of a predicate.
func Not(child []byte) ([]byte, error) {
	return predicateABI.Pack("not", nonNil(child))
}

// Eq encodes result(call) == value.
func Eq(value *big.Int, call []byte) ([]byte, error) {
	return predicateABI.Pack("eq", value, nonNil(call))
}

// Lt encodes result(call) < value.
func Lt(value *big.Int, call []byte) ([]byte, error) {
	return predicateABI.Pack("lt", value, nonNil(call))
}

// Gt encodes result(call) > value.
func Gt(value *big.Int, call []byte) ([]byte, error) {
	return predicateABI.Pack("gt", value, nonNil(call))
}

// TimestampBelow encodes now < t.
func TimestampBelow(t uint64) ([]byte, error) {
	return predicateABI.Pack("timestampBelow", new(big.Int).SetUint64(t))
}

// NonceEquals encodes epoch(maker, series) == epoch.
func NonceEquals(maker common.Address, series, epoch uint64) ([]byte, error) {
	return predicateABI.Pack("nonceEquals", maker,
		new(big.Int).SetUint64(series), new(big.Int).SetUint64(epoch))
}

// ArbitraryStaticCall encodes a read-only call whose first result word is
// the value of the expression.
func ArbitraryStaticCall(target common.Address, data []byte) ([]byte, error) {
	return predicateABI.Pack("arbitraryStaticCall", target, nonNil(data))
}
