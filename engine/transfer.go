package engine

import (
	"bytes"
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/kaifufi/limit-order-go/chain"
)

// callSucceeded applies the token return convention: no return data, or a
// first word equal to true.
func callSucceeded(ret []byte) bool {
	if len(ret) == 0 {
		return true
	}
	return len(ret) >= 32 && new(big.Int).SetBytes(ret[:32]).Cmp(common.Big1) == 0
}

func (e *Engine) call(ctx context.Context, to common.Address, data []byte, value *big.Int) ([]byte, error) {
	return e.host.Call(ctx, &Message{From: e.cfg.Address, To: to, Data: data, Value: value})
}

// transfer dispatches the call built by an asset template.
func (e *Engine) transfer(ctx context.Context, asset chain.Asset, from, to common.Address, amount *big.Int, kind ErrorKind) error {
	inv, err := asset.Build(from, to, amount)
	if err != nil {
		return wrapError(kind, err, "build %s transfer", asset.Kind())
	}
	ret, err := e.call(ctx, inv.To, inv.Data, nil)
	if err != nil {
		return wrapError(kind, err, "%s transfer of %s from %s to %s", asset.Kind(), amount, from.Hex(), to.Hex())
	}
	if !callSucceeded(ret) {
		return newError(kind, "%s transfer of %s from %s to %s returned false", asset.Kind(), amount, from.Hex(), to.Hex())
	}
	return nil
}

func (e *Engine) isWrappedNative(asset chain.Asset) bool {
	a, ok := asset.(*chain.ERC20Asset)
	return ok && e.cfg.WrappedNative != (common.Address{}) && a.Token == e.cfg.WrappedNative
}

// transferUnwrapped pulls a wrapped-native asset into the engine, unwraps it
// and pays it out as native value.
func (e *Engine) transferUnwrapped(ctx context.Context, asset chain.Asset, from, to common.Address, amount *big.Int, kind ErrorKind) error {
	if !e.isWrappedNative(asset) {
		return newError(kind, "cannot unwrap %s asset %s", asset.Kind(), asset.Target().Hex())
	}
	if err := e.transfer(ctx, asset, from, e.cfg.Address, amount, kind); err != nil {
		return err
	}
	data, err := chain.GetERC20ABI().Pack("withdraw", amount)
	if err != nil {
		return wrapError(kind, err, "encode withdraw")
	}
	if _, err := e.call(ctx, e.cfg.WrappedNative, data, nil); err != nil {
		return wrapError(kind, err, "unwrap %s", amount)
	}
	if _, err := e.call(ctx, to, nil, amount); err != nil {
		return wrapError(kind, err, "send %s native to %s", amount, to.Hex())
	}
	return nil
}

// receiveValue moves native value attached by the taker to the engine.
func (e *Engine) receiveValue(ctx context.Context, taker common.Address, value *big.Int) error {
	if e.cfg.WrappedNative == (common.Address{}) {
		return newError(ErrInvalidMsgValue, "native value is not accepted")
	}
	if _, err := e.host.Call(ctx, &Message{From: taker, To: e.cfg.Address, Value: value}); err != nil {
		return wrapError(ErrInvalidMsgValue, err, "receive %s from %s", value, taker.Hex())
	}
	return nil
}

// payMaker settles the taker leg of a fill to the order's receiver.
func (e *Engine) payMaker(ctx context.Context, order *chain.Order, taker common.Address, taking, value *big.Int) error {
	receiver := order.ReceiverOrMaker()
	const kind = ErrTransferFromTakerToMakerFailed

	if value.Sign() > 0 {
		if !e.isWrappedNative(order.TakerAsset) || value.Cmp(taking) != 0 {
			return newError(ErrInvalidMsgValue, "value %s for taking %s of %s", value, taking, order.TakerAsset.Target().Hex())
		}
		if order.Traits.UnwrapNative {
			if _, err := e.call(ctx, receiver, nil, value); err != nil {
				return wrapError(kind, err, "send %s native to %s", value, receiver.Hex())
			}
			return nil
		}
		deposit, err := chain.GetERC20ABI().Pack("deposit")
		if err != nil {
			return wrapError(kind, err, "encode deposit")
		}
		if _, err := e.call(ctx, e.cfg.WrappedNative, deposit, value); err != nil {
			return wrapError(kind, err, "wrap %s", value)
		}
		return e.transfer(ctx, order.TakerAsset, e.cfg.Address, receiver, taking, kind)
	}

	if order.Traits.UnwrapNative {
		return e.transferUnwrapped(ctx, order.TakerAsset, taker, receiver, taking, kind)
	}
	return e.transfer(ctx, order.TakerAsset, taker, receiver, taking, kind)
}

var permitMethod = chain.GetERC20ABI().Methods["permit"]

// permit runs a target(20) ++ permit(owner, spender, ...) allowance grant.
// The permit must be signed by owner for the engine as spender; any other
// call is rejected before it runs.
func (e *Engine) permit(ctx context.Context, permit []byte, owner common.Address) error {
	target, data, err := chain.SplitCall(permit)
	if err != nil {
		return wrapError(ErrPermitFailed, err, "malformed permit")
	}
	if len(data) < 4 || !bytes.Equal(data[:4], permitMethod.ID) {
		return newError(ErrPermitFailed, "call on %s is not a permit", target.Hex())
	}
	args, err := permitMethod.Inputs.Unpack(data[4:])
	if err != nil {
		return wrapError(ErrPermitFailed, err, "decode permit on %s", target.Hex())
	}
	if signer := args[0].(common.Address); signer != owner {
		return newError(ErrPermitFailed, "permit on %s is for %s, not %s", target.Hex(), signer.Hex(), owner.Hex())
	}
	if spender := args[1].(common.Address); spender != e.cfg.Address {
		return newError(ErrPermitFailed, "permit on %s grants %s", target.Hex(), spender.Hex())
	}
	ret, err := e.call(ctx, target, data, nil)
	if err != nil {
		return wrapError(ErrPermitFailed, err, "permit on %s", target.Hex())
	}
	if !callSucceeded(ret) {
		return newError(ErrPermitFailed, "permit on %s returned false", target.Hex())
	}
	return nil
}

func (e *Engine) interact(ctx context.Context, in *Interaction, hash common.Hash, maker, taker common.Address,
	making, taking, remaining *big.Int) error {

	data := in.Data
	if data == nil {
		data = []byte{}
	}
	calldata, err := chain.GetTakerInteractionABI().Pack("takerInteraction", hash, maker, taker,
		making, taking, remaining, data)
	if err != nil {
		return wrapError(ErrInteractionFailed, err, "encode interaction")
	}
	if _, err := e.call(ctx, in.Target, calldata, nil); err != nil {
		return wrapError(ErrInteractionFailed, err, "interaction on %s", in.Target.Hex())
	}
	return nil
}

func (e *Engine) emit(l *types.Log, err error) error {
	if err != nil {
		return err
	}
	return e.host.AddLog(l)
}
