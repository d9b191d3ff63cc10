package engine_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaifufi/limit-order-go/chain"
	"github.com/kaifufi/limit-order-go/engine"
	"github.com/kaifufi/limit-order-go/ledger"
)

func TestPartialFillsAddUp(t *testing.T) {
	h := newHarness(t)
	order, sig := h.order(100, 200, nil)
	hash, err := h.eng.HashOrder(order)
	require.NoError(t, err)

	var res *engine.FillResult
	events, err := h.transact(func() error {
		var err error
		res, err = h.eng.FillOrder(h.ctx, takerAddr, &engine.FillRequest{
			Order: order, Signature: sig, MakingAmount: big.NewInt(40),
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, hash, res.OrderHash)
	assert.Equal(t, int64(80), res.TakingAmount.Int64())
	assert.Equal(t, int64(60), res.Remaining.Int64())
	require.Len(t, events, 1)
	assert.Equal(t, chain.EventOrderFilled, events[0].Name)
	assert.Equal(t, hash, events[0].OrderHash)
	assert.Equal(t, int64(40), events[0].MakingAmount.Int64())
	assert.Equal(t, int64(60), events[0].RemainingAmount.Int64())

	remaining, err := h.eng.Remaining(h.maker, hash)
	require.NoError(t, err)
	assert.Equal(t, int64(60), remaining.Int64())

	res, err = h.fill(order, nil, 0, 120)
	require.NoError(t, err)
	assert.Equal(t, int64(60), res.MakingAmount.Int64())
	assert.Zero(t, res.Remaining.Sign())
	assert.Equal(t, int64(1), h.eng.RawRemaining(h.maker, hash).Int64())

	_, err = h.fill(order, sig, 1, 0)
	requireKind(t, err, engine.ErrInvalidatedOrder)

	single := newHarness(t)
	order, sig = single.order(100, 200, nil)
	_, err = single.fill(order, sig, 100, 200)
	require.NoError(t, err)

	for _, pair := range []struct{ split, whole int64 }{
		{h.balanceA(takerAddr), single.balanceA(takerAddr)},
		{h.balanceB(takerAddr), single.balanceB(takerAddr)},
		{h.balanceA(h.maker), single.balanceA(single.maker)},
		{h.balanceB(h.maker), single.balanceB(single.maker)},
	} {
		assert.Equal(t, pair.whole, pair.split)
	}
	assert.Equal(t, int64(100), h.balanceA(takerAddr))
	assert.Equal(t, int64(200), h.balanceB(h.maker))
}

func TestFillScenarios(t *testing.T) {
	h := newHarness(t)

	order, sig := h.order(2, 10, nil)
	res, err := h.fill(order, sig, 0, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.MakingAmount.Int64())
	assert.Equal(t, int64(9), res.TakingAmount.Int64())
	assert.Equal(t, int64(1), res.Remaining.Int64())

	order, sig = h.order(10, 2, nil)
	res, err = h.fill(order, sig, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.MakingAmount.Int64())
	assert.Equal(t, int64(1), res.TakingAmount.Int64())
}

func TestFillAmountChecks(t *testing.T) {
	h := newHarness(t)
	order, sig := h.order(100, 200, nil)
	noPartial, noPartialSig := h.order(100, 200, func(d *chain.OrderData) { d.NoPartialFills = true })

	tests := []struct {
		name           string
		order          *chain.Order
		sig            []byte
		making, taking int64
		threshold      int64
		wantKind       engine.ErrorKind
	}{
		{"no amount", order, sig, 0, 0, 0, engine.ErrSwapWithZeroAmount},
		{"rounds to zero", order, sig, 0, 1, 0, engine.ErrSwapWithZeroAmount},
		{"both amounts", order, sig, 10, 20, 0, engine.ErrOnlyOneAmountShouldBeZero},
		{"over remaining", order, sig, 101, 0, 0, engine.ErrMakingAmountExceeded},
		{"taking too high", order, sig, 10, 0, 19, engine.ErrTakingAmountTooHigh},
		{"making too low", order, sig, 0, 20, 11, engine.ErrMakingAmountTooLow},
		{"partial of no-partial", noPartial, noPartialSig, 50, 0, 0, engine.ErrPartialFillNotAllowed},
		{"partial taking of no-partial", noPartial, noPartialSig, 0, 100, 0, engine.ErrPartialFillNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.fillAs(takerAddr, &engine.FillRequest{
				Order:        tt.order,
				Signature:    tt.sig,
				MakingAmount: big.NewInt(tt.making),
				TakingAmount: big.NewInt(tt.taking),
				Threshold:    big.NewInt(tt.threshold),
			})
			requireKind(t, err, tt.wantKind)
		})
	}

	res, err := h.fillAs(takerAddr, &engine.FillRequest{
		Order: order, Signature: sig, MakingAmount: big.NewInt(10), Threshold: big.NewInt(20),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.TakingAmount.Int64())

	res, err = h.fill(noPartial, noPartialSig, 100, 200)
	require.NoError(t, err)
	assert.Zero(t, res.Remaining.Sign())
}

func TestFillIsAtomic(t *testing.T) {
	h := newHarness(t)
	order, sig := h.order(100, 200, nil)
	hash, err := h.eng.HashOrder(order)
	require.NoError(t, err)

	// otherAddr holds no taker asset.
	_, err = h.fillAs(otherAddr, &engine.FillRequest{Order: order, Signature: sig, MakingAmount: big.NewInt(10)})
	requireKind(t, err, engine.ErrTransferFromTakerToMakerFailed)
	assert.True(t, errors.Is(err, ledger.ErrRevert))

	assert.Equal(t, int64(1000), h.balanceA(h.maker))
	assert.Zero(t, h.balanceA(otherAddr))
	assert.Zero(t, h.eng.RawRemaining(h.maker, hash).Sign())
	_, err = h.eng.Remaining(h.maker, hash)
	requireKind(t, err, engine.ErrUnknownOrder)
}

func TestPrivateAndExpiredOrders(t *testing.T) {
	h := newHarness(t)

	order, sig := h.order(100, 200, func(d *chain.OrderData) { d.AllowedSender = takerAddr })
	_, err := h.fillAs(otherAddr, &engine.FillRequest{Order: order, Signature: sig, MakingAmount: big.NewInt(10)})
	requireKind(t, err, engine.ErrPrivateOrder)
	_, err = h.fill(order, sig, 10, 0)
	require.NoError(t, err)

	order, sig = h.order(100, 200, func(d *chain.OrderData) { d.Expiration = genesisTime + 10 })
	_, err = h.fill(order, sig, 10, 0)
	require.NoError(t, err)
	require.NoError(t, h.l.Warp(genesisTime+11))
	_, err = h.fill(order, sig, 10, 0)
	requireKind(t, err, engine.ErrOrderExpired)
}

func TestExtensionFlag(t *testing.T) {
	h := newHarness(t)

	order, _ := h.order(100, 200, nil)
	order.Traits.HasExtension = true
	sig, err := h.builder.SignOrder(order)
	require.NoError(t, err)
	_, err = h.fill(order, sig, 10, 0)
	requireKind(t, err, engine.ErrMissingOrderExtension)

	predicate, err := chain.TimestampBelow(genesisTime + 100)
	require.NoError(t, err)
	order, _ = h.order(100, 200, func(d *chain.OrderData) { d.Extension.Predicate = predicate })
	order.Traits.HasExtension = false
	sig, err = h.builder.SignOrder(order)
	require.NoError(t, err)
	_, err = h.fill(order, sig, 10, 0)
	requireKind(t, err, engine.ErrExtensionInvalid)
}

func TestSignatures(t *testing.T) {
	h := newHarness(t)
	order, sig := h.order(100, 200, nil)

	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	hash, err := h.eng.HashOrder(order)
	require.NoError(t, err)
	forged, err := chain.SignHash(hash, otherKey)
	require.NoError(t, err)

	for name, bad := range map[string][]byte{
		"other signer": forged,
		"high s":       chain.FlipS(sig),
		"truncated":    sig[:64],
		"missing":      nil,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := h.fill(order, bad, 10, 0)
			requireKind(t, err, engine.ErrBadSignature)
		})
	}

	// Later fills of a started order do not need the signature again.
	_, err = h.fill(order, sig, 10, 0)
	require.NoError(t, err)
	_, err = h.fill(order, nil, 10, 0)
	require.NoError(t, err)
}

func TestContractWalletMaker(t *testing.T) {
	h := newHarness(t)
	walletAddr := common.HexToAddress("0x3a11e70000000000000000000000000000000001")
	h.l.Deploy(walletAddr, &ledger.Wallet{Address: walletAddr, Owner: h.maker})
	require.NoError(t, h.tokA.Mint(h.l, walletAddr, big.NewInt(100)))
	h.approve(walletAddr, tokenAAddr, math.MaxBig256)

	order, _ := h.order(100, 200, nil)
	order.Maker = walletAddr
	hash, err := h.eng.HashOrder(order)
	require.NoError(t, err)
	sig, err := chain.SignHash(hash, h.makerKey)
	require.NoError(t, err)

	_, err = h.fill(order, chain.FlipS(sig), 10, 0)
	requireKind(t, err, engine.ErrBadSignature)

	_, err = h.fill(order, sig, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(20), h.balanceB(walletAddr))
	assert.Equal(t, int64(10), h.balanceA(takerAddr))
}

func TestCancelOrder(t *testing.T) {
	h := newHarness(t)
	ctx := h.ctx

	order, sig := h.order(100, 200, nil)
	hash, err := h.eng.HashOrder(order)
	require.NoError(t, err)

	_, err = h.transact(func() error { return h.eng.CancelOrder(ctx, takerAddr, order) })
	requireKind(t, err, engine.ErrAccessDenied)

	events, err := h.transact(func() error { return h.eng.CancelOrder(ctx, h.maker, order) })
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, chain.EventOrderCancelled, events[0].Name)
	assert.Equal(t, hash, events[0].OrderHash)
	assert.Equal(t, int64(1), h.eng.RawRemaining(h.maker, hash).Int64())

	_, err = h.fill(order, sig, 10, 0)
	requireKind(t, err, engine.ErrInvalidatedOrder)

	// Cancelling an exhausted order changes nothing.
	order, sig = h.order(10, 20, nil)
	_, err = h.fill(order, sig, 10, 0)
	require.NoError(t, err)
	events, err = h.transact(func() error { return h.eng.CancelOrder(ctx, h.maker, order) })
	require.NoError(t, err)
	assert.Empty(t, events)

	// Single-fill orders are cancelled through their nonce bit.
	order, sig = h.order(100, 200, func(d *chain.OrderData) {
		d.AllowMultipleFills = false
		d.Nonce = 7
	})
	events, err = h.transact(func() error { return h.eng.CancelOrder(ctx, h.maker, order) })
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, chain.EventBitInvalidatorUpdated, events[0].Name)
	assert.Equal(t, h.maker, events[0].Maker)
	assert.Zero(t, events[0].SlotIndex.Sign())
	assert.Equal(t, int64(1<<7), events[0].SlotValue.Int64())

	events, err = h.transact(func() error { return h.eng.CancelOrder(ctx, h.maker, order) })
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, int64(1<<7), h.eng.BitInvalidatorForOrder(h.maker, 0).Int64())

	_, err = h.fill(order, sig, 100, 0)
	requireKind(t, err, engine.ErrInvalidatedOrder)
}

func TestBitInvalidation(t *testing.T) {
	h := newHarness(t)
	single := func(nonce uint64) func(*chain.OrderData) {
		return func(d *chain.OrderData) {
			d.AllowMultipleFills = false
			d.Nonce = nonce
		}
	}

	// A single-fill order is spent by its first fill, partial or not.
	order, sig := h.order(100, 200, single(0))
	_, err := h.fill(order, sig, 10, 0)
	require.NoError(t, err)
	_, err = h.fill(order, sig, 10, 0)
	requireKind(t, err, engine.ErrInvalidatedOrder)

	o1, sig1 := h.order(100, 200, single(1))
	o5, sig5 := h.order(100, 200, single(5))
	o300, sig300 := h.order(100, 200, single(300))

	events, err := h.transact(func() error {
		return h.eng.BitsInvalidateForOrder(h.ctx, h.maker, o1.Traits, big.NewInt(1<<5))
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1<<0|1<<1|1<<5), events[0].SlotValue.Int64())
	assert.Equal(t, int64(1<<0|1<<1|1<<5), h.eng.BitInvalidatorForOrder(h.maker, 0).Int64())

	_, err = h.fill(o1, sig1, 10, 0)
	requireKind(t, err, engine.ErrInvalidatedOrder)
	_, err = h.fill(o5, sig5, 10, 0)
	requireKind(t, err, engine.ErrInvalidatedOrder)
	_, err = h.fill(o300, sig300, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<(300-256)), h.eng.BitInvalidatorForOrder(h.maker, 1).Int64())

	multi, _ := h.order(100, 200, nil)
	_, err = h.transact(func() error {
		return h.eng.BitsInvalidateForOrder(h.ctx, h.maker, multi.Traits, nil)
	})
	requireKind(t, err, engine.ErrOrderIsNotSuitableForMassInvalidation)
}

func TestEpochs(t *testing.T) {
	h := newHarness(t)
	epochOrder := func(epoch uint64) func(*chain.OrderData) {
		return func(d *chain.OrderData) {
			d.NeedCheckEpoch = true
			d.Series = 3
			d.Nonce = epoch
		}
	}
	stale, staleSig := h.order(100, 200, epochOrder(0))
	other, otherSig := h.order(100, 200, func(d *chain.OrderData) {
		d.NeedCheckEpoch = true
		d.Series = 4
	})

	_, err := h.fill(stale, staleSig, 10, 0)
	require.NoError(t, err)

	events, err := h.transact(func() error {
		epoch, err := h.eng.IncreaseEpoch(h.ctx, h.maker, 3)
		if err == nil && epoch != 1 {
			return errors.New("unexpected epoch")
		}
		return err
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, chain.EventEpochIncreased, events[0].Name)
	assert.Equal(t, int64(3), events[0].Series.Int64())
	assert.Equal(t, int64(1), events[0].NewEpoch.Int64())
	assert.True(t, h.eng.EpochEquals(h.maker, 3, 1))

	_, err = h.fill(stale, nil, 10, 0)
	requireKind(t, err, engine.ErrWrongSeriesNonce)
	_, err = h.fill(other, otherSig, 10, 0)
	require.NoError(t, err)

	current, currentSig := h.order(100, 200, epochOrder(1))
	_, err = h.fill(current, currentSig, 10, 0)
	require.NoError(t, err)

	for _, amount := range []uint64{0, 256} {
		_, err = h.transact(func() error {
			_, err := h.eng.AdvanceEpoch(h.ctx, h.maker, 3, amount)
			return err
		})
		requireKind(t, err, engine.ErrAdvanceEpochFailed)
	}
	_, err = h.transact(func() error {
		_, err := h.eng.AdvanceEpoch(h.ctx, h.maker, 3, 255)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(256), h.eng.Epoch(h.maker, 3))

	// Epoch checks only apply to remaining-amount orders.
	order, _ := h.order(100, 200, nil)
	order.Traits.AllowMultipleFills = false
	order.Traits.NeedCheckEpoch = true
	sig, err := h.builder.SignOrder(order)
	require.NoError(t, err)
	_, err = h.fill(order, sig, 10, 0)
	requireKind(t, err, engine.ErrEpochManagerAndBitInvalidatorsAreIncompatible)
}

func TestMakerPermit(t *testing.T) {
	h := newHarness(t)
	h.approve(h.maker, tokenAAddr, big.NewInt(0))

	permit, err := h.tokA.PermitCalldata(h.l, h.makerKey, engineAddr, big.NewInt(1000), big.NewInt(genesisTime+3600))
	require.NoError(t, err)
	order, sig := h.order(100, 200, func(d *chain.OrderData) {
		d.Extension.MakerPermit = chain.JoinCall(tokenAAddr, permit)
	})

	_, err = h.fillAs(takerAddr, &engine.FillRequest{
		Order: order, Signature: sig, MakingAmount: big.NewInt(10), SkipMakerPermit: true,
	})
	requireKind(t, err, engine.ErrTransferFromMakerToTakerFailed)

	_, err = h.fill(order, sig, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(990), h.tokA.Allowance(h.l, h.maker, engineAddr).Int64())

	// The permit is spent; later fills must not replay it.
	_, err = h.fill(order, nil, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(20), h.balanceA(takerAddr))

	order, sig = h.order(100, 200, func(d *chain.OrderData) {
		d.Extension.MakerPermit = chain.JoinCall(tokenAAddr, permit)
	})
	_, err = h.fill(order, sig, 10, 0)
	requireKind(t, err, engine.ErrPermitFailed)
}

func TestTakerPermit(t *testing.T) {
	h := newHarness(t)
	takerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	taker := crypto.PubkeyToAddress(takerKey.PublicKey)
	require.NoError(t, h.tokB.Mint(h.l, taker, big.NewInt(100)))

	permit, err := h.tokB.PermitCalldata(h.l, takerKey, engineAddr, big.NewInt(20), big.NewInt(genesisTime+3600))
	require.NoError(t, err)
	order, sig := h.order(100, 200, nil)

	_, err = h.fillAs(taker, &engine.FillRequest{Order: order, Signature: sig, MakingAmount: big.NewInt(10)})
	requireKind(t, err, engine.ErrTransferFromTakerToMakerFailed)

	// Only permits of the taker granting the engine are run.
	steal, err := chain.GetERC20ABI().Pack("transferFrom", h.maker, taker, big.NewInt(50))
	require.NoError(t, err)
	makerPermit, err := h.tokA.PermitCalldata(h.l, h.makerKey, engineAddr, big.NewInt(50), big.NewInt(genesisTime+3600))
	require.NoError(t, err)
	otherSpender, err := h.tokB.PermitCalldata(h.l, takerKey, takerAddr, big.NewInt(20), big.NewInt(genesisTime+3600))
	require.NoError(t, err)
	for name, bad := range map[string][]byte{
		"transferFrom":  chain.JoinCall(tokenAAddr, steal),
		"maker permit":  chain.JoinCall(tokenAAddr, makerPermit),
		"other spender": chain.JoinCall(tokenBAddr, otherSpender),
		"short":         chain.JoinCall(tokenBAddr, []byte{1, 2}),
	} {
		_, err = h.fillAs(taker, &engine.FillRequest{
			Order: order, Signature: sig, MakingAmount: big.NewInt(10), TakerPermit: bad,
		})
		requireKind(t, err, engine.ErrPermitFailed)
		assert.Zero(t, h.balanceA(taker), name)
	}
	assert.Equal(t, int64(100), h.balanceB(taker))

	_, err = h.fillAs(taker, &engine.FillRequest{
		Order: order, Signature: sig, MakingAmount: big.NewInt(10), TakerPermit: chain.JoinCall(tokenBAddr, permit),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(80), h.balanceB(taker))
	assert.Zero(t, h.tokB.Allowance(h.l, taker, engineAddr).Sign())
}

func TestTakerInteraction(t *testing.T) {
	h := newHarness(t)
	interactor := common.HexToAddress("0x1717000000000000000000000000000000000001")
	require.NoError(t, h.tokB.Mint(h.l, interactor, big.NewInt(1000)))
	h.approve(interactor, tokenBAddr, math.MaxBig256)

	order, sig := h.order(100, 200, nil)
	inner, innerSig := h.order(50, 100, nil)

	var seen []interface{}
	var nested func(ctx context.Context) error
	h.l.Deploy(interactor, ledger.ContractFunc(func(ctx context.Context, l *ledger.Ledger, msg *engine.Message) ([]byte, error) {
		require.Equal(t, engineAddr, msg.From)
		takerABI := chain.GetTakerInteractionABI()
		method, err := takerABI.MethodById(msg.Data[:4])
		require.NoError(t, err)
		seen, err = method.Inputs.Unpack(msg.Data[4:])
		require.NoError(t, err)
		return nil, nested(ctx)
	}))

	// The taker already holds the maker asset while the interaction runs,
	// and may fill other orders.
	nested = func(ctx context.Context) error {
		if got := h.balanceA(takerAddr); got != 10 {
			return errors.New("maker asset not delivered before the interaction")
		}
		_, err := h.eng.FillOrder(ctx, interactor, &engine.FillRequest{
			Order: inner, Signature: innerSig, MakingAmount: big.NewInt(5),
		})
		return err
	}
	res, err := h.fillAs(takerAddr, &engine.FillRequest{
		Order: order, Signature: sig, MakingAmount: big.NewInt(10),
		Interaction: &engine.Interaction{Target: interactor, Data: []byte{0xab}},
	})
	require.NoError(t, err)
	require.Len(t, seen, 7)
	assert.Equal(t, res.OrderHash, common.Hash(seen[0].([32]byte)))
	assert.Equal(t, h.maker, seen[1].(common.Address))
	assert.Equal(t, takerAddr, seen[2].(common.Address))
	assert.Equal(t, int64(10), seen[3].(*big.Int).Int64())
	assert.Equal(t, int64(20), seen[4].(*big.Int).Int64())
	assert.Equal(t, int64(90), seen[5].(*big.Int).Int64())
	assert.Equal(t, []byte{0xab}, seen[6].([]byte))
	assert.Equal(t, int64(5), h.balanceA(interactor))

	// Re-entering the order being filled is rejected and unwinds the fill.
	nested = func(ctx context.Context) error {
		_, err := h.eng.FillOrder(ctx, interactor, &engine.FillRequest{
			Order: order, MakingAmount: big.NewInt(1),
		})
		return err
	}
	_, err = h.fillAs(takerAddr, &engine.FillRequest{
		Order: order, MakingAmount: big.NewInt(10),
		Interaction: &engine.Interaction{Target: interactor},
	})
	requireKind(t, err, engine.ErrInteractionFailed)
	assert.True(t, errors.Is(err, engine.ErrReentrancyDetected))
	assert.Equal(t, int64(10), h.balanceA(takerAddr))

	nested = func(ctx context.Context) error {
		return h.eng.CancelOrder(ctx, h.maker, order)
	}
	_, err = h.fillAs(takerAddr, &engine.FillRequest{
		Order: order, MakingAmount: big.NewInt(10),
		Interaction: &engine.Interaction{Target: interactor},
	})
	assert.True(t, errors.Is(err, engine.ErrReentrancyDetected))

	// The guard is released once the fill returns.
	nested = func(context.Context) error { return nil }
	_, err = h.fillAs(takerAddr, &engine.FillRequest{
		Order: order, MakingAmount: big.NewInt(10),
		Interaction: &engine.Interaction{Target: interactor},
	})
	require.NoError(t, err)
}

func TestAmountGetters(t *testing.T) {
	h := newHarness(t)
	e18 := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	extra, err := ledger.RangeExtraData(e18, new(big.Int).Mul(big.NewInt(3), e18))
	require.NoError(t, err)
	getter := chain.JoinCall(getterAddr, extra)

	order, sig := h.order(100, 200, func(d *chain.OrderData) {
		d.Extension.MakingAmountGetter = getter
		d.Extension.TakingAmountGetter = getter
	})
	res, err := h.fill(order, sig, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(75), res.TakingAmount.Int64())

	res, err = h.fill(order, nil, 0, 125)
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.MakingAmount.Int64())
	assert.Zero(t, res.Remaining.Sign())
	assert.Equal(t, int64(200), h.balanceB(h.maker))

	broken, brokenSig := h.order(100, 200, func(d *chain.OrderData) {
		d.Extension.TakingAmountGetter = chain.JoinCall(tokenAAddr, nil)
	})
	_, err = h.fill(broken, brokenSig, 10, 0)
	requireKind(t, err, engine.ErrAmountGetterFailed)
}

func TestNativeValue(t *testing.T) {
	h := newHarness(t)
	wethOrder := func(edit func(*chain.OrderData)) (*chain.Order, []byte) {
		return h.order(10, 5, func(d *chain.OrderData) {
			d.TakerAsset = &chain.ERC20Asset{Token: wethAddr}
			if edit != nil {
				edit(d)
			}
		})
	}
	require.NoError(t, h.l.Fund(takerAddr, big.NewInt(100)))

	order, sig := wethOrder(nil)
	_, err := h.fillAs(takerAddr, &engine.FillRequest{
		Order: order, Signature: sig, MakingAmount: big.NewInt(10), Value: big.NewInt(4),
	})
	requireKind(t, err, engine.ErrInvalidMsgValue)
	assert.Equal(t, int64(100), h.l.Balance(takerAddr).Int64())

	_, err = h.fillAs(takerAddr, &engine.FillRequest{
		Order: order, Signature: sig, MakingAmount: big.NewInt(10), Value: big.NewInt(5),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(95), h.l.Balance(takerAddr).Int64())
	assert.Equal(t, int64(5), h.weth.BalanceOf(h.l, h.maker).Int64())
	assert.Zero(t, h.l.Balance(engineAddr).Sign())

	plain, plainSig := h.order(10, 5, nil)
	_, err = h.fillAs(takerAddr, &engine.FillRequest{
		Order: plain, Signature: plainSig, MakingAmount: big.NewInt(10), Value: big.NewInt(5),
	})
	requireKind(t, err, engine.ErrInvalidMsgValue)

	// The maker asks to be paid in native value.
	unwrap, unwrapSig := wethOrder(func(d *chain.OrderData) { d.UnwrapNative = true })
	_, err = h.fillAs(takerAddr, &engine.FillRequest{
		Order: unwrap, Signature: unwrapSig, MakingAmount: big.NewInt(10), Value: big.NewInt(5),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), h.l.Balance(h.maker).Int64())

	deposit, err := chain.GetERC20ABI().Pack("deposit")
	require.NoError(t, err)
	_, err = h.l.Call(h.ctx, &engine.Message{From: takerAddr, To: wethAddr, Value: big.NewInt(5), Data: deposit})
	require.NoError(t, err)
	h.approve(takerAddr, wethAddr, math.MaxBig256)
	unwrap, unwrapSig = wethOrder(func(d *chain.OrderData) { d.UnwrapNative = true })
	_, err = h.fill(unwrap, unwrapSig, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), h.l.Balance(h.maker).Int64())

	// The taker asks to receive a wrapped maker asset as native value.
	_, err = h.l.Call(h.ctx, &engine.Message{From: h.maker, To: wethAddr, Value: big.NewInt(8), Data: deposit})
	require.NoError(t, err)
	h.approve(h.maker, wethAddr, math.MaxBig256)
	sells, sellsSig := h.order(8, 4, func(d *chain.OrderData) { d.MakerAsset = &chain.ERC20Asset{Token: wethAddr} })
	before := h.l.Balance(otherAddr).Int64()
	_, err = h.fillAs(takerAddr, &engine.FillRequest{
		Order: sells, Signature: sellsSig, MakingAmount: big.NewInt(8), Target: otherAddr, UnwrapNative: true,
	})
	require.NoError(t, err)
	assert.Equal(t, before+8, h.l.Balance(otherAddr).Int64())

	_, err = h.fillAs(takerAddr, &engine.FillRequest{
		Order: plain, Signature: plainSig, MakingAmount: big.NewInt(10), UnwrapNative: true,
	})
	requireKind(t, err, engine.ErrTransferFromMakerToTakerFailed)
}

func TestNonFungibleAssets(t *testing.T) {
	h := newHarness(t)
	setApproval := func(operator common.Address) {
		data, err := chain.GetERC721ABI().Pack("setApprovalForAll", operator, true)
		require.NoError(t, err)
		_, err = h.l.Call(h.ctx, &engine.Message{From: h.maker, To: nftAddr, Data: data})
		require.NoError(t, err)
	}
	require.NoError(t, h.nft.Mint(h.l, h.maker, big.NewInt(9)))
	require.NoError(t, h.nft.Mint(h.l, h.maker, big.NewInt(10)))
	setApproval(engineAddr)
	setApproval(proxyAddr)

	order, sig := h.order(1, 50, func(d *chain.OrderData) {
		d.MakerAsset = &chain.ERC721Asset{Token: nftAddr, TokenID: big.NewInt(9)}
		d.AllowMultipleFills = false
	})
	_, err := h.fill(order, sig, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, takerAddr, h.nft.OwnerOf(h.l, big.NewInt(9)))

	proxy := &ledger.ERC721Proxy{Address: proxyAddr, Engine: engineAddr}
	asset, err := proxy.Asset(nftAddr, big.NewInt(10))
	require.NoError(t, err)
	order, sig = h.order(1, 50, func(d *chain.OrderData) {
		d.MakerAsset = asset
		d.Nonce = 1
		d.AllowMultipleFills = false
	})
	_, err = h.fill(order, sig, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, takerAddr, h.nft.OwnerOf(h.l, big.NewInt(10)))
	assert.Equal(t, int64(100), h.balanceB(h.maker))
}

func TestSimulation(t *testing.T) {
	h := newHarness(t)
	order, sig := h.order(100, 200, nil)
	hash, err := h.eng.HashOrder(order)
	require.NoError(t, err)

	var res *engine.FillResult
	err = h.l.Simulate(func() error {
		var err error
		res, err = h.eng.SimulateFill(h.ctx, takerAddr, &engine.FillRequest{
			Order: order, Signature: sig, MakingAmount: big.NewInt(30),
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(60), res.TakingAmount.Int64())
	assert.Zero(t, h.balanceA(takerAddr))
	assert.Zero(t, h.eng.RawRemaining(h.maker, hash).Sign())

	ok, err := chain.GetERC20ABI().Pack("transfer", takerAddr, big.NewInt(10))
	require.NoError(t, err)
	tooMuch, err := chain.GetERC20ABI().Pack("transfer", takerAddr, big.NewInt(5000))
	require.NoError(t, err)
	results := h.eng.Simulate(h.ctx, h.maker, []*engine.Message{
		{To: tokenAAddr, Data: ok},
		{To: tokenAAddr, Data: tooMuch},
		{To: tokenAAddr, Data: ok},
	})
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.NotEmpty(t, results[1].Error)
	assert.True(t, results[2].Success)
	assert.Equal(t, int64(1000), h.balanceA(h.maker))
}

func TestVerifier(t *testing.T) {
	h := newHarness(t)
	predicate, err := chain.NonceEquals(common.Address{}, 0, 0)
	require.NoError(t, err)
	order, sig := h.order(100, 200, func(d *chain.OrderData) { d.Extension.Predicate = predicate })

	hash, err := h.eng.Verifier().VerifyOrder(h.ctx, order, sig, takerAddr)
	require.NoError(t, err)
	want, err := h.eng.HashOrder(order)
	require.NoError(t, err)
	assert.Equal(t, want, hash)

	_, err = h.eng.Verifier().VerifyOrder(h.ctx, order, chain.FlipS(sig), takerAddr)
	requireKind(t, err, engine.ErrBadSignature)

	// Without epochs nonceEquals cannot be evaluated.
	v, err := engine.NewVerifier(h.ctx, h.l, engineAddr, nil, nil)
	require.NoError(t, err)
	_, err = v.VerifyOrder(h.ctx, order, sig, takerAddr)
	requireKind(t, err, engine.ErrPredicateIsNotTrue)

	private, privateSig := h.order(100, 200, func(d *chain.OrderData) { d.AllowedSender = takerAddr })
	_, err = v.VerifyOrder(h.ctx, private, privateSig, otherAddr)
	requireKind(t, err, engine.ErrPrivateOrder)

	_, err = engine.NewVerifier(h.ctx, h.l, common.Address{}, nil, nil)
	require.Error(t, err)
}
