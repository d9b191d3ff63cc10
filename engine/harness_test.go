package engine_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/kaifufi/limit-order-go/chain"
	"github.com/kaifufi/limit-order-go/engine"
	"github.com/kaifufi/limit-order-go/ledger"
)

const (
	testChainID = 1337
	genesisTime = 1_700_000_000
)

var (
	engineAddr = common.HexToAddress("0xe000000000000000000000000000000000000001")
	tokenAAddr = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenBAddr = common.HexToAddress("0x1000000000000000000000000000000000000002")
	wethAddr   = common.HexToAddress("0x1000000000000000000000000000000000000003")
	nftAddr    = common.HexToAddress("0x1000000000000000000000000000000000000004")
	getterAddr = common.HexToAddress("0x1000000000000000000000000000000000000005")
	proxyAddr  = common.HexToAddress("0x1000000000000000000000000000000000000006")
	takerAddr  = common.HexToAddress("0x7a6e000000000000000000000000000000000001")
	otherAddr  = common.HexToAddress("0x07e4000000000000000000000000000000000002")
)

type harness struct {
	t        *testing.T
	ctx      context.Context
	l        *ledger.Ledger
	eng      *engine.Engine
	tokA     *ledger.ERC20
	tokB     *ledger.ERC20
	weth     *ledger.WrappedNative
	nft      *ledger.ERC721
	makerKey *ecdsa.PrivateKey
	maker    common.Address
	builder  *chain.OrderBuilder
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithConfig(t, nil)
}

func newHarnessWithConfig(t *testing.T, custom engine.CustomPredicate) *harness {
	t.Helper()
	ctx := context.Background()
	l, err := ledger.New(&ledger.Config{ChainID: big.NewInt(testChainID), Timestamp: genesisTime})
	require.NoError(t, err)

	h := &harness{
		t:    t,
		ctx:  ctx,
		l:    l,
		tokA: ledger.NewERC20(tokenAAddr, "Token A", 18),
		tokB: ledger.NewERC20(tokenBAddr, "Token B", 6),
		weth: ledger.NewWrappedNative(wethAddr),
		nft:  &ledger.ERC721{Address: nftAddr, Name: "Collectible"},
	}
	l.Deploy(tokenAAddr, h.tokA)
	l.Deploy(tokenBAddr, h.tokB)
	l.Deploy(wethAddr, h.weth)
	l.Deploy(nftAddr, h.nft)
	l.Deploy(getterAddr, ledger.RangeAmountGetter{})
	l.Deploy(proxyAddr, &ledger.ERC721Proxy{Address: proxyAddr, Engine: engineAddr})

	h.makerKey, err = crypto.GenerateKey()
	require.NoError(t, err)
	h.maker = crypto.PubkeyToAddress(h.makerKey.PublicKey)
	h.builder, err = chain.NewOrderBuilder(engineAddr, testChainID, h.makerKey)
	require.NoError(t, err)

	h.eng, err = engine.New(ctx, l, &engine.Config{
		Address:         engineAddr,
		WrappedNative:   wethAddr,
		CustomPredicate: custom,
	})
	require.NoError(t, err)
	l.Deploy(engineAddr, ledger.EngineAccount{Engine: h.eng})

	require.NoError(t, h.tokA.Mint(l, h.maker, big.NewInt(1000)))
	require.NoError(t, h.tokB.Mint(l, takerAddr, big.NewInt(1000)))
	h.approve(h.maker, tokenAAddr, math.MaxBig256)
	h.approve(takerAddr, tokenBAddr, math.MaxBig256)
	return h
}

func (h *harness) approve(owner, token common.Address, amount *big.Int) {
	h.t.Helper()
	data, err := chain.GetERC20ABI().Pack("approve", engineAddr, amount)
	require.NoError(h.t, err)
	_, err = h.l.Call(h.ctx, &engine.Message{From: owner, To: token, Data: data})
	require.NoError(h.t, err)
}

// order builds and signs an order of making tokenA for taking tokenB.
func (h *harness) order(making, taking int64, edit func(*chain.OrderData)) (*chain.Order, []byte) {
	h.t.Helper()
	data := &chain.OrderData{
		MakerAsset:         &chain.ERC20Asset{Token: tokenAAddr},
		TakerAsset:         &chain.ERC20Asset{Token: tokenBAddr},
		MakingAmount:       big.NewInt(making),
		TakingAmount:       big.NewInt(taking),
		AllowMultipleFills: true,
	}
	if edit != nil {
		edit(data)
	}
	signed, err := h.builder.BuildSignedOrder(data)
	require.NoError(h.t, err)
	return signed.Order, signed.Signature
}

func (h *harness) fill(order *chain.Order, sig []byte, making, taking int64) (*engine.FillResult, error) {
	return h.fillAs(takerAddr, &engine.FillRequest{
		Order:        order,
		Signature:    sig,
		MakingAmount: big.NewInt(making),
		TakingAmount: big.NewInt(taking),
	})
}

func (h *harness) fillAs(taker common.Address, req *engine.FillRequest) (*engine.FillResult, error) {
	var res *engine.FillResult
	_, err := h.l.Transact(func() error {
		var err error
		res, err = h.eng.FillOrder(h.ctx, taker, req)
		return err
	})
	return res, err
}

// transact runs fn as a ledger transaction and returns its decoded events.
func (h *harness) transact(fn func() error) ([]*chain.Event, error) {
	logs, err := h.l.Transact(fn)
	if err != nil {
		return nil, err
	}
	return decodeLogs(h.t, logs), nil
}

func decodeLogs(t *testing.T, logs []*types.Log) []*chain.Event {
	t.Helper()
	var events []*chain.Event
	for _, lg := range logs {
		if lg.Address != engineAddr {
			continue
		}
		ev, err := chain.ParseEvent(lg)
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func (h *harness) balanceA(addr common.Address) int64 {
	return h.tokA.BalanceOf(h.l, addr).Int64()
}

func (h *harness) balanceB(addr common.Address) int64 {
	return h.tokB.BalanceOf(h.l, addr).Int64()
}

func requireKind(t *testing.T, err error, kind engine.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	got, ok := engine.KindOf(err)
	require.True(t, ok, "no error kind in %v", err)
	require.Equal(t, kind, got, "error: %v", err)
	require.True(t, errors.Is(err, kind))
}
