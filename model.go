package limitorder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kaifufi/limit-order-go/chain"
	"github.com/kaifufi/limit-order-go/server"
)

// PlacedOrder is a signed order together with its hash
type PlacedOrder struct {
	*chain.SignedOrder
	Hash common.Hash
}

// PlaceOrderInput describes a maker order in human-readable units. Amounts
// are parsed with the decimals the node reports for each token.
type PlaceOrderInput struct {
	MakerToken common.Address
	TakerToken common.Address
	// MakingAmount is the amount of MakerToken sold, e.g. "1.5".
	MakingAmount string
	// Price is in TakerToken per MakerToken. Ignored when TakingAmount is
	// set.
	Price        string
	TakingAmount string

	AllowedSender      common.Address
	Receiver           common.Address
	Expiration         uint64
	Nonce              uint64
	NoPartialFills     bool
	AllowMultipleFills bool
	Extension          chain.Extension
}

// FillOptions tune a fill. Exactly one of MakingAmount and TakingAmount
// should be set.
type FillOptions struct {
	MakingAmount *big.Int
	TakingAmount *big.Int
	// Threshold bounds the other side: the most the taker pays, or the
	// least they receive.
	Threshold    *big.Int
	Target       common.Address
	Interaction  *server.Interaction
	UnwrapNative bool
	Value        *big.Int
}

// BatchOrderResult represents the result of a single order in a batch
type BatchOrderResult struct {
	Index int
	Order *PlacedOrder
	Error error
}

// BatchCancelResult represents the result of a single cancel in a batch
type BatchCancelResult struct {
	OrderHash common.Hash
	Events    []*chain.Event
	Error     error
}
