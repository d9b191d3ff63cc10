package engine

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Message is a call between accounts.
type Message struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Reader is the read-only view of the ledger the engine verifies against.
// chain.ContractCaller implements it over a live node.
type Reader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	Timestamp(ctx context.Context) (uint64, error)
	HasCode(ctx context.Context, addr common.Address) (bool, error)
	// StaticCall runs a call that must not modify state.
	StaticCall(ctx context.Context, from, to common.Address, data []byte) ([]byte, error)
}

// Host is the transactional ledger the engine settles on. Every state
// change made through a Host is undone by RevertToSnapshot.
type Host interface {
	Reader
	// Call runs a state-mutating call, moving msg.Value first. A failed
	// call leaves no effect.
	Call(ctx context.Context, msg *Message) ([]byte, error)
	GetState(addr common.Address, slot common.Hash) common.Hash
	SetState(addr common.Address, slot, value common.Hash) error
	AddLog(l *types.Log) error
	Snapshot() int
	RevertToSnapshot(id int)
}

// CustomPredicate evaluates predicate calldata whose selector is not one of
// the built-in primitives. It must not modify state.
type CustomPredicate interface {
	EvaluatePredicate(ctx context.Context, r Reader, calldata []byte) (*big.Int, error)
}

// CustomPredicateFunc adapts a function to CustomPredicate.
type CustomPredicateFunc func(ctx context.Context, r Reader, calldata []byte) (*big.Int, error)

// EvaluatePredicate calls f.
func (f CustomPredicateFunc) EvaluatePredicate(ctx context.Context, r Reader, calldata []byte) (*big.Int, error) {
	return f(ctx, r, calldata)
}
