package limitorder_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	limitorder "github.com/kaifufi/limit-order-go"
	"github.com/kaifufi/limit-order-go/chain"
	"github.com/kaifufi/limit-order-go/engine"
	"github.com/kaifufi/limit-order-go/ledger"
	"github.com/kaifufi/limit-order-go/server"
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
	takerAddr  = common.HexToAddress("0x7a6e000000000000000000000000000000000001")
)

func init() {
	logger := slog.NewBackend(os.Stdout).Logger("TEST")
	logger.SetLevel(slog.LevelWarn)
	server.UseLogger(logger)
}

// startNode serves a dev mode node with tokens A (18 decimals) and B (6
// decimals) and returns its URL.
func startNode(t *testing.T) string {
	t.Helper()
	l, err := ledger.New(&ledger.Config{ChainID: big.NewInt(testChainID), Timestamp: genesisTime})
	require.NoError(t, err)

	tokA := ledger.NewERC20(tokenAAddr, "Token A", 18)
	tokB := ledger.NewERC20(tokenBAddr, "Token B", 6)
	weth := ledger.NewWrappedNative(wethAddr)
	l.Deploy(tokenAAddr, tokA)
	l.Deploy(tokenBAddr, tokB)
	l.Deploy(wethAddr, weth)

	eng, err := engine.New(context.Background(), l, &engine.Config{Address: engineAddr, WrappedNative: wethAddr})
	require.NoError(t, err)
	l.Deploy(engineAddr, ledger.EngineAccount{Engine: eng})

	s, err := server.New(&server.Config{
		Ledger:        l,
		Engine:        eng,
		WrappedNative: weth,
		Tokens:        []*ledger.ERC20{tokA, tokB},
		DevMode:       true,
		PingPeriod:    time.Second,
	})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func newClient(t *testing.T, url string) *limitorder.Client {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := limitorder.NewClient(limitorder.ClientConfig{
		Host:       url,
		ChainID:    testChainID,
		Engine:     engineAddr.Hex(),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(key)),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func units(t *testing.T, amount string, decimals int) *big.Int {
	t.Helper()
	v, err := limitorder.ParseUnits(amount, decimals)
	require.NoError(t, err)
	return v
}

// fund mints maker token A and taker token B, and has the taker approve
// the engine.
func fund(t *testing.T, c *limitorder.Client) {
	t.Helper()
	ctx := context.Background()
	api := c.API()
	_, err := api.Fund(ctx, &server.FundRequest{Address: c.Maker(), Token: tokenAAddr, Amount: server.NewAmount(units(t, "100", 18))})
	require.NoError(t, err)
	_, err = api.Fund(ctx, &server.FundRequest{Address: takerAddr, Token: tokenBAddr, Amount: server.NewAmount(units(t, "1000", 6))})
	require.NoError(t, err)

	approve, err := chain.GetERC20ABI().Pack("approve", engineAddr, math.MaxBig256)
	require.NoError(t, err)
	_, err = api.Call(ctx, &server.CallRequest{From: takerAddr, To: tokenBAddr, Data: approve})
	require.NoError(t, err)
}

func TestNewClient(t *testing.T) {
	_, err := limitorder.NewClient(limitorder.ClientConfig{Engine: "0x1234"})
	assert.True(t, errors.Is(err, limitorder.ErrInvalidParam))

	_, err = limitorder.NewClient(limitorder.ClientConfig{PrivateKey: "0xzz"})
	assert.True(t, errors.Is(err, limitorder.ErrInvalidParam))

	c, err := limitorder.NewClient(limitorder.ClientConfig{})
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, c.Maker())

	ctx := context.Background()
	_, err = c.BuildOrder(ctx, &limitorder.PlaceOrderInput{})
	assert.ErrorIs(t, err, limitorder.ErrNoSigner)
	_, err = c.CancelOrder(ctx, &chain.Order{})
	assert.ErrorIs(t, err, limitorder.ErrNoSigner)
	_, err = c.SignOrderRFQ(&chain.OrderRFQ{})
	assert.ErrorIs(t, err, limitorder.ErrNoSigner)
	_, err = c.EnableTrading(ctx, tokenAAddr)
	assert.ErrorIs(t, err, limitorder.ErrNoSigner)
}

func TestCheckChain(t *testing.T) {
	url := startNode(t)
	ctx := context.Background()

	c := newClient(t, url)
	info, err := c.CheckChain(ctx)
	require.NoError(t, err)
	assert.Equal(t, engineAddr, info.Engine)
	assert.True(t, info.DevMode)

	d, err := c.TokenDecimals(ctx, tokenBAddr)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), d)
	_, err = c.TokenDecimals(ctx, takerAddr)
	assert.True(t, errors.Is(err, limitorder.ErrInvalidParam))

	other, err := limitorder.NewClient(limitorder.ClientConfig{Host: url, ChainID: 1, Engine: engineAddr.Hex()})
	require.NoError(t, err)
	_, err = other.CheckChain(ctx)
	assert.ErrorContains(t, err, "chain id")

	other, err = limitorder.NewClient(limitorder.ClientConfig{Host: url, ChainID: testChainID})
	require.NoError(t, err)
	_, err = other.CheckChain(ctx)
	assert.ErrorContains(t, err, "engine")
}

func TestOrderLifecycle(t *testing.T) {
	url := startNode(t)
	ctx := context.Background()
	c := newClient(t, url)
	fund(t, c)

	res, err := c.EnableTrading(ctx, tokenAAddr)
	require.NoError(t, err)
	require.Len(t, res, 1)
	res, err = c.EnableTrading(ctx, tokenAAddr)
	require.NoError(t, err)
	assert.Empty(t, res)

	order, err := c.PlaceOrder(ctx, &limitorder.PlaceOrderInput{
		MakerToken:         tokenAAddr,
		TakerToken:         tokenBAddr,
		MakingAmount:       "10",
		Price:              "2.5",
		AllowMultipleFills: true,
	})
	require.NoError(t, err)
	assert.Equal(t, c.Maker(), order.Order.Maker)
	assert.Equal(t, units(t, "25", 6), order.Order.TakingAmount)

	hash, err := c.API().HashOrder(ctx, &server.OrderRequest{Order: order.Order})
	require.NoError(t, err)
	assert.Equal(t, order.Hash, hash)

	_, err = c.FillOrder(ctx, takerAddr, order.SignedOrder, &limitorder.FillOptions{})
	assert.True(t, errors.Is(err, limitorder.ErrInvalidParam))

	opts := &limitorder.FillOptions{MakingAmount: units(t, "4", 18)}
	sim, err := c.SimulateFill(ctx, takerAddr, order.SignedOrder, opts)
	require.NoError(t, err)
	assert.Equal(t, units(t, "10", 6), sim.TakingAmount)
	bal, err := c.Balance(ctx, takerAddr, tokenAAddr)
	require.NoError(t, err)
	assert.Equal(t, "0", bal)

	fill, err := c.FillOrder(ctx, takerAddr, order.SignedOrder, opts)
	require.NoError(t, err)
	assert.Equal(t, order.Hash, fill.OrderHash)
	assert.Equal(t, units(t, "6", 18), fill.Remaining)
	require.Len(t, fill.Events, 1)
	assert.Equal(t, chain.EventOrderFilled, fill.Events[0].Name)

	bal, err = c.Balance(ctx, takerAddr, tokenAAddr)
	require.NoError(t, err)
	assert.Equal(t, "4", bal)
	bal, err = c.Balance(ctx, c.Maker(), tokenBAddr)
	require.NoError(t, err)
	assert.Equal(t, "10", bal)

	remaining, err := c.API().Remaining(ctx, c.Maker(), order.Hash)
	require.NoError(t, err)
	assert.Equal(t, units(t, "6", 18), remaining.Remaining)

	cancels, err := c.CancelOrdersBatch(ctx, []*chain.Order{order.Order, nil})
	require.NoError(t, err)
	require.Len(t, cancels, 2)
	require.NoError(t, cancels[0].Error)
	assert.Equal(t, order.Hash, cancels[0].OrderHash)
	require.Len(t, cancels[0].Events, 1)
	assert.Equal(t, chain.EventOrderCancelled, cancels[0].Events[0].Name)
	assert.True(t, errors.Is(cancels[1].Error, limitorder.ErrInvalidParam))

	_, err = c.FillOrder(ctx, takerAddr, order.SignedOrder, opts)
	var apiErr *limitorder.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 422, apiErr.Code)
	assert.True(t, limitorder.IsKind(err, string(engine.ErrInvalidatedOrder)))
}

func TestPlaceOrdersBatch(t *testing.T) {
	url := startNode(t)
	ctx := context.Background()
	c := newClient(t, url)
	fund(t, c)
	_, err := c.EnableTrading(ctx, tokenAAddr)
	require.NoError(t, err)

	results := c.PlaceOrdersBatch(ctx, []*limitorder.PlaceOrderInput{
		{MakerToken: tokenAAddr, TakerToken: tokenBAddr, MakingAmount: "1", TakingAmount: "3"},
		{MakerToken: tokenAAddr, TakerToken: tokenBAddr, MakingAmount: "1", Price: "abc"},
		{MakerToken: takerAddr, TakerToken: tokenBAddr, MakingAmount: "1", Price: "1"},
	})
	require.Len(t, results, 3)
	require.NoError(t, results[0].Error)
	assert.Equal(t, units(t, "3", 6), results[0].Order.Order.TakingAmount)
	assert.True(t, errors.Is(results[1].Error, limitorder.ErrInvalidParam))
	assert.True(t, errors.Is(results[2].Error, limitorder.ErrInvalidParam))
	assert.Equal(t, 2, results[2].Index)
}

func TestRFQAndEpochs(t *testing.T) {
	url := startNode(t)
	ctx := context.Background()
	c := newClient(t, url)
	fund(t, c)
	_, err := c.EnableTrading(ctx, tokenAAddr)
	require.NoError(t, err)

	order := &chain.OrderRFQ{
		ID:           7,
		Expiration:   genesisTime + 1000,
		MakerAsset:   tokenAAddr,
		TakerAsset:   tokenBAddr,
		MakingAmount: units(t, "1", 18),
		TakingAmount: units(t, "2", 6),
	}
	sig, err := c.SignOrderRFQ(order)
	require.NoError(t, err)
	assert.Equal(t, c.Maker(), order.Maker)

	fill, err := c.API().FillOrderRFQ(ctx, &server.RFQFillRequest{Taker: takerAddr, Order: order, Signature: sig})
	require.NoError(t, err)
	assert.Equal(t, units(t, "2", 6), fill.TakingAmount)

	word, err := c.API().BitmapRFQ(ctx, c.Maker(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<7), word.Word.Int64())

	other := &chain.OrderRFQ{Maker: takerAddr}
	_, err = c.SignOrderRFQ(other)
	assert.True(t, errors.Is(err, limitorder.ErrInvalidParam))

	epoch, err := c.CancelAllOrders(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), epoch)
	got, err := c.API().Epoch(ctx, c.Maker(), 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got)

	require.NoError(t, c.API().Warp(ctx, genesisTime+2000))
	info, err := c.API().Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(genesisTime+2000), info.Timestamp)
}

// fakeRPC answers the JSON-RPC methods an on-chain verification uses. Every
// eth_call returns funds as a uint256 word.
func fakeRPC(t *testing.T, chainID uint64, funds *big.Int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		var result interface{}
		switch req.Method {
		case "eth_chainId":
			result = hexutil.Uint64(chainID)
		case "eth_getBlockByNumber":
			result = &types.Header{Number: big.NewInt(1), Difficulty: new(big.Int), Time: genesisTime}
		case "eth_getCode":
			result = hexutil.Bytes{}
		case "eth_call":
			result = hexutil.Bytes(common.LeftPadBytes(funds.Bytes(), 32))
		default:
			t.Errorf("unexpected method %s", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		}))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifyOnChain(t *testing.T) {
	url := startNode(t)
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	newRPCClient := func(rpcURL string) *limitorder.Client {
		c, err := limitorder.NewClient(limitorder.ClientConfig{
			Host:       url,
			ChainID:    testChainID,
			Engine:     engineAddr.Hex(),
			PrivateKey: hexutil.Encode(crypto.FromECDSA(key)),
			RPCURL:     rpcURL,
		})
		require.NoError(t, err)
		t.Cleanup(c.Close)
		return c
	}

	c := newRPCClient("")
	order, err := c.BuildOrder(ctx, &limitorder.PlaceOrderInput{
		MakerToken:   tokenAAddr,
		TakerToken:   tokenBAddr,
		MakingAmount: "5",
		TakingAmount: "5",
	})
	require.NoError(t, err)
	_, err = c.VerifyOnChain(ctx, order.SignedOrder, takerAddr)
	assert.True(t, errors.Is(err, limitorder.ErrInvalidParam))

	funded := new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)
	c = newRPCClient(fakeRPC(t, testChainID, funded).URL)
	hash, err := c.VerifyOnChain(ctx, order.SignedOrder, takerAddr)
	require.NoError(t, err)
	assert.Equal(t, order.Hash, hash)

	bad := *order.SignedOrder
	bad.Signature = order.Signature[:10]
	_, err = c.VerifyOnChain(ctx, &bad, takerAddr)
	assert.ErrorIs(t, err, engine.ErrBadSignature)

	c = newRPCClient(fakeRPC(t, testChainID, big.NewInt(1)).URL)
	_, err = c.VerifyOnChain(ctx, order.SignedOrder, takerAddr)
	assert.ErrorContains(t, err, "order needs")

	c = newRPCClient(fakeRPC(t, 56, funded).URL)
	_, err = c.VerifyOnChain(ctx, order.SignedOrder, takerAddr)
	assert.ErrorContains(t, err, "rpc chain id")
}
