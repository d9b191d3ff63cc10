package server

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/kaifufi/limit-order-go/chain"
	"github.com/kaifufi/limit-order-go/engine"
)

// Response is the envelope of every API reply. Code is zero on success and
// the HTTP status otherwise.
type Response struct {
	Code   int         `json:"code"`
	Msg    string      `json:"msg,omitempty"`
	Kind   string      `json:"kind,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

// Amount is a uint256 accepted as a decimal or 0x-prefixed hex string.
type Amount = math.HexOrDecimal256

// NewAmount converts v for a request. Nil stays nil.
func NewAmount(v *big.Int) *Amount {
	if v == nil {
		return nil
	}
	return (*Amount)(new(big.Int).Set(v))
}

func bigOf(a *Amount) *big.Int {
	if a == nil {
		return nil
	}
	return (*big.Int)(a)
}

// Info describes the node.
type Info struct {
	ChainID       *big.Int       `json:"chainId"`
	Engine        common.Address `json:"engine"`
	WrappedNative common.Address `json:"wrappedNative"`
	Block         uint64         `json:"block"`
	Timestamp     uint64         `json:"timestamp"`
	Tokens        []TokenInfo    `json:"tokens"`
	DevMode       bool           `json:"devMode"`
}

// TokenInfo describes a fungible token deployed on the node.
type TokenInfo struct {
	Address  common.Address `json:"address"`
	Name     string         `json:"name"`
	Decimals uint8          `json:"decimals"`
}

// OrderRequest carries a standard order and its signature.
type OrderRequest struct {
	Order     *chain.Order   `json:"order"`
	Signature hexutil.Bytes  `json:"signature,omitempty"`
	Taker     common.Address `json:"taker,omitempty"`
}

// RFQOrderRequest carries an RFQ order.
type RFQOrderRequest struct {
	Order *chain.OrderRFQ `json:"order"`
}

// HashResult is the reply to hash and verify requests.
type HashResult struct {
	OrderHash common.Hash `json:"orderHash"`
}

// Interaction is a taker callback: target and calldata.
type Interaction struct {
	Target common.Address `json:"target"`
	Data   hexutil.Bytes  `json:"data,omitempty"`
}

func (in *Interaction) engine() *engine.Interaction {
	if in == nil {
		return nil
	}
	return &engine.Interaction{Target: in.Target, Data: in.Data}
}

// FillRequest fills a standard order as Taker.
type FillRequest struct {
	Taker           common.Address `json:"taker"`
	Order           *chain.Order   `json:"order"`
	Signature       hexutil.Bytes  `json:"signature,omitempty"`
	MakingAmount    *Amount        `json:"makingAmount,omitempty"`
	TakingAmount    *Amount        `json:"takingAmount,omitempty"`
	Threshold       *Amount        `json:"threshold,omitempty"`
	Target          common.Address `json:"target"`
	Interaction     *Interaction   `json:"interaction,omitempty"`
	TakerPermit     hexutil.Bytes  `json:"takerPermit,omitempty"`
	SkipMakerPermit bool           `json:"skipMakerPermit,omitempty"`
	UnwrapNative    bool           `json:"unwrapNative,omitempty"`
	Value           *Amount        `json:"value,omitempty"`
}

func (r *FillRequest) engine() *engine.FillRequest {
	return &engine.FillRequest{
		Order:           r.Order,
		Signature:       r.Signature,
		MakingAmount:    bigOf(r.MakingAmount),
		TakingAmount:    bigOf(r.TakingAmount),
		Threshold:       bigOf(r.Threshold),
		Target:          r.Target,
		Interaction:     r.Interaction.engine(),
		TakerPermit:     r.TakerPermit,
		SkipMakerPermit: r.SkipMakerPermit,
		UnwrapNative:    r.UnwrapNative,
		Value:           bigOf(r.Value),
	}
}

// RFQFillRequest fills an RFQ order as Taker. A zero Amount fills the whole
// order.
type RFQFillRequest struct {
	Taker          common.Address  `json:"taker"`
	Order          *chain.OrderRFQ `json:"order"`
	Signature      hexutil.Bytes   `json:"signature"`
	Amount         *Amount         `json:"amount,omitempty"`
	AmountIsMaking bool            `json:"amountIsMaking,omitempty"`
	Target         common.Address  `json:"target"`
	Interaction    *Interaction    `json:"interaction,omitempty"`
}

// FillResult is the reply to a fill. Events is empty for simulated fills.
type FillResult struct {
	*engine.FillResult
	Block  uint64         `json:"block,omitempty"`
	Events []*chain.Event `json:"events,omitempty"`
}

// TxResult is the reply to a state-changing request.
type TxResult struct {
	Block  uint64         `json:"block"`
	Return hexutil.Bytes  `json:"return,omitempty"`
	Events []*chain.Event `json:"events"`
}

// CancelRequest cancels by order, or by OrderHash and MakerTraits when Order
// is nil.
type CancelRequest struct {
	Maker       common.Address    `json:"maker"`
	Order       *chain.Order      `json:"order,omitempty"`
	OrderHash   common.Hash       `json:"orderHash"`
	MakerTraits chain.MakerTraits `json:"makerTraits"`
}

// BitsInvalidateRequest invalidates the nonce of MakerTraits plus
// AdditionalMask in the same bitmap word.
type BitsInvalidateRequest struct {
	Maker          common.Address    `json:"maker"`
	MakerTraits    chain.MakerTraits `json:"makerTraits"`
	AdditionalMask *Amount           `json:"additionalMask,omitempty"`
}

// RFQCancelRequest invalidates an RFQ id plus AdditionalMask.
type RFQCancelRequest struct {
	Maker          common.Address `json:"maker"`
	ID             uint64         `json:"id"`
	AdditionalMask *Amount        `json:"additionalMask,omitempty"`
}

// EpochRequest names a maker's series. Amount is used by advances only.
type EpochRequest struct {
	Maker  common.Address `json:"maker"`
	Series uint64         `json:"series"`
	Amount uint64         `json:"amount,omitempty"`
}

// EpochResult carries a series epoch.
type EpochResult struct {
	Maker  common.Address `json:"maker"`
	Series uint64         `json:"series"`
	Epoch  uint64         `json:"epoch"`
	Block  uint64         `json:"block,omitempty"`
}

// RemainingResult carries the remaining amount of a touched order. Raw is
// the stored value: 0 untouched, 1 exhausted or cancelled, remaining+1
// otherwise.
type RemainingResult struct {
	OrderHash common.Hash `json:"orderHash"`
	Remaining *big.Int    `json:"remaining"`
	Raw       *big.Int    `json:"raw"`
}

// BitmapResult carries one bitmap word.
type BitmapResult struct {
	Maker common.Address `json:"maker"`
	Slot  uint64         `json:"slot"`
	Word  *big.Int       `json:"word"`
}

// CallRequest is a message sent From an account.
type CallRequest struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data,omitempty"`
	Value *Amount        `json:"value,omitempty"`
}

func (c *CallRequest) message() *engine.Message {
	return &engine.Message{From: c.From, To: c.To, Data: c.Data, Value: bigOf(c.Value)}
}

// SimulateRequest runs Calls from From and reverts them all.
type SimulateRequest struct {
	From  common.Address `json:"from"`
	Calls []*CallRequest `json:"calls"`
}

// WarpRequest sets the node clock.
type WarpRequest struct {
	Timestamp uint64 `json:"timestamp"`
}

// FundRequest credits native value, or mints Token when it is set.
type FundRequest struct {
	Address common.Address `json:"address"`
	Token   common.Address `json:"token"`
	Amount  *Amount        `json:"amount"`
}

// BalanceResult carries a native or token balance.
type BalanceResult struct {
	Address common.Address `json:"address"`
	Token   common.Address `json:"token"`
	Balance *big.Int       `json:"balance"`
}

// Websocket actions sent by clients.
const (
	ActionHeartbeat   = "HEARTBEAT"
	ActionSubscribe   = "SUBSCRIBE"
	ActionUnsubscribe = "UNSUBSCRIBE"
)

// Websocket channels. Every event channel is named after its event;
// ChannelAll receives them all.
const (
	ChannelAll                   = "*"
	ChannelOrderFilled           = chain.EventOrderFilled
	ChannelOrderFilledRFQ        = chain.EventOrderFilledRFQ
	ChannelOrderCancelled        = chain.EventOrderCancelled
	ChannelBitInvalidatorUpdated = chain.EventBitInvalidatorUpdated
	ChannelEpochIncreased        = chain.EventEpochIncreased
)

var channels = map[string]bool{
	ChannelAll:                   true,
	ChannelOrderFilled:           true,
	ChannelOrderFilledRFQ:        true,
	ChannelOrderCancelled:        true,
	ChannelBitInvalidatorUpdated: true,
	ChannelEpochIncreased:        true,
}

// Websocket message types sent by the server.
const (
	MsgTypeEvent        = "event"
	MsgTypeSubscribed   = "subscribed"
	MsgTypeUnsubscribed = "unsubscribed"
	MsgTypeHeartbeat    = "heartbeat"
	MsgTypeError        = "error"
)

// WSRequest is a client websocket message.
type WSRequest struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
}

// WSMessage is a server websocket message.
type WSMessage struct {
	MsgType string       `json:"msgType"`
	Channel string       `json:"channel,omitempty"`
	Event   *chain.Event `json:"event,omitempty"`
	Error   string       `json:"error,omitempty"`
}
