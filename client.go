package limitorder

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/kaifufi/limit-order-go/chain"
	eng "github.com/kaifufi/limit-order-go/engine"
	"github.com/kaifufi/limit-order-go/server"
)

// Client is the main SDK client. It signs orders with the maker key and
// talks to a lopd node.
type Client struct {
	apiClient  *APIClient
	builder    *chain.OrderBuilder
	engine     common.Address
	chainID    int64
	wsEndpoint string
	rpcURL     string

	callerMtx      sync.Mutex
	contractCaller *chain.ContractCaller
	verifier       *eng.Verifier

	decimalsMtx sync.RWMutex
	decimals    map[common.Address]uint8
}

// NewClient creates a new client
func NewClient(config ClientConfig) (*Client, error) {
	config.setDefaults()

	if !common.IsHexAddress(config.Engine) {
		return nil, &InvalidParamError{Message: fmt.Sprintf("invalid engine address %q", config.Engine)}
	}
	if config.ChainID <= 0 {
		return nil, &InvalidParamError{Message: fmt.Sprintf("chain_id must be positive, got %d", config.ChainID)}
	}
	engine := common.HexToAddress(config.Engine)

	c := &Client{
		apiClient:  NewAPIClient(config.Host, config.Timeout),
		engine:     engine,
		chainID:    config.ChainID,
		wsEndpoint: config.WSEndpoint,
		rpcURL:     config.RPCURL,
		decimals:   make(map[common.Address]uint8),
	}

	if config.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(config.PrivateKey, "0x"))
		if err != nil {
			return nil, &InvalidParamError{Message: fmt.Sprintf("invalid private key: %v", err)}
		}
		if c.builder, err = chain.NewOrderBuilder(engine, config.ChainID, key); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Close releases idle connections and the RPC client
func (c *Client) Close() {
	c.apiClient.client.CloseIdleConnections()
	c.callerMtx.Lock()
	defer c.callerMtx.Unlock()
	if c.contractCaller != nil {
		c.contractCaller.Close()
		c.contractCaller, c.verifier = nil, nil
	}
}

// API returns the underlying API client
func (c *Client) API() *APIClient {
	return c.apiClient
}

// Maker returns the address of the signing key, or the zero address
func (c *Client) Maker() common.Address {
	if c.builder == nil {
		return common.Address{}
	}
	return c.builder.Maker()
}

// NewWSClient creates a websocket client for the node's event feed
func (c *Client) NewWSClient(config WSConfig) *WSClient {
	if config.Endpoint == "" {
		config.Endpoint = c.wsEndpoint
	}
	return NewWSClient(config)
}

// CheckChain compares the node's chain id and engine with the signing
// domain of this client. Orders signed for another domain never verify.
func (c *Client) CheckChain(ctx context.Context) (*server.Info, error) {
	info, err := c.apiClient.Info(ctx)
	if err != nil {
		return nil, err
	}
	if info.ChainID == nil || info.ChainID.Int64() != c.chainID {
		return nil, fmt.Errorf("node chain id %v, client is configured for %d", info.ChainID, c.chainID)
	}
	if info.Engine != c.engine {
		return nil, fmt.Errorf("node engine %s, client is configured for %s", info.Engine.Hex(), c.engine.Hex())
	}
	c.cacheDecimals(info.Tokens)
	return info, nil
}

func (c *Client) cacheDecimals(tokens []server.TokenInfo) {
	c.decimalsMtx.Lock()
	defer c.decimalsMtx.Unlock()
	for _, t := range tokens {
		c.decimals[t.Address] = t.Decimals
	}
}

// TokenDecimals returns the decimals of a token known to the node. They
// never change, so the first lookup is cached for good.
func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	c.decimalsMtx.RLock()
	d, ok := c.decimals[token]
	c.decimalsMtx.RUnlock()
	if ok {
		return d, nil
	}

	info, err := c.apiClient.Info(ctx)
	if err != nil {
		return 0, err
	}
	c.cacheDecimals(info.Tokens)

	c.decimalsMtx.RLock()
	defer c.decimalsMtx.RUnlock()
	if d, ok = c.decimals[token]; !ok {
		return 0, &InvalidParamError{Message: fmt.Sprintf("unknown token %s", token.Hex())}
	}
	return d, nil
}

// EnableTrading approves the engine to spend the maker's tokens. Tokens
// that already have an unlimited allowance are skipped.
func (c *Client) EnableTrading(ctx context.Context, tokens ...common.Address) ([]*server.TxResult, error) {
	if c.builder == nil {
		return nil, ErrNoSigner
	}
	erc20 := chain.GetERC20ABI()
	maker := c.Maker()

	allowanceData, err := erc20.Pack("allowance", maker, c.engine)
	if err != nil {
		return nil, err
	}
	approveData, err := erc20.Pack("approve", c.engine, math.MaxBig256)
	if err != nil {
		return nil, err
	}

	// Anything at or above half the range counts as unlimited.
	unlimited := new(big.Int).Lsh(big.NewInt(1), 255)

	var results []*server.TxResult
	for _, token := range tokens {
		ret, err := c.apiClient.StaticCall(ctx, &server.CallRequest{From: maker, To: token, Data: allowanceData})
		if err != nil {
			return results, fmt.Errorf("allowance of %s: %w", token.Hex(), err)
		}
		if len(ret) >= 32 && new(big.Int).SetBytes(ret[:32]).Cmp(unlimited) >= 0 {
			continue
		}
		res, err := c.apiClient.Call(ctx, &server.CallRequest{From: maker, To: token, Data: approveData})
		if err != nil {
			return results, fmt.Errorf("approve %s: %w", token.Hex(), err)
		}
		results = append(results, res)
	}
	return results, nil
}

// BuildOrder converts input to base units and signs the order. Nothing is
// sent to the node besides token decimal lookups.
func (c *Client) BuildOrder(ctx context.Context, in *PlaceOrderInput) (*PlacedOrder, error) {
	if c.builder == nil {
		return nil, ErrNoSigner
	}
	if in == nil {
		return nil, &InvalidParamError{Message: "order input is required"}
	}

	makerDecimals, err := c.TokenDecimals(ctx, in.MakerToken)
	if err != nil {
		return nil, err
	}
	takerDecimals, err := c.TokenDecimals(ctx, in.TakerToken)
	if err != nil {
		return nil, err
	}

	making, err := ParseUnits(in.MakingAmount, int(makerDecimals))
	if err != nil {
		return nil, err
	}
	var taking *big.Int
	if in.TakingAmount != "" {
		taking, err = ParseUnits(in.TakingAmount, int(takerDecimals))
	} else {
		taking, err = TakingAmountAt(making, in.Price, int(makerDecimals), int(takerDecimals))
	}
	if err != nil {
		return nil, err
	}

	signed, err := c.builder.BuildSignedOrder(&chain.OrderData{
		MakerAsset:         &chain.ERC20Asset{Token: in.MakerToken},
		TakerAsset:         &chain.ERC20Asset{Token: in.TakerToken},
		MakingAmount:       making,
		TakingAmount:       taking,
		Receiver:           in.Receiver,
		AllowedSender:      in.AllowedSender,
		Expiration:         in.Expiration,
		Nonce:              in.Nonce,
		NoPartialFills:     in.NoPartialFills,
		AllowMultipleFills: in.AllowMultipleFills,
		Extension:          in.Extension,
	})
	if err != nil {
		return nil, err
	}
	hash, err := chain.HashOrder(c.builder.Domain(), signed.Order)
	if err != nil {
		return nil, err
	}
	return &PlacedOrder{SignedOrder: signed, Hash: hash}, nil
}

// PlaceOrder builds and signs an order and has the node verify that it is
// fillable. There is no order book: the signed order is handed to takers
// out of band.
func (c *Client) PlaceOrder(ctx context.Context, in *PlaceOrderInput) (*PlacedOrder, error) {
	order, err := c.BuildOrder(ctx, in)
	if err != nil {
		return nil, err
	}
	hash, err := c.apiClient.VerifyOrder(ctx, &server.OrderRequest{
		Order:     order.Order,
		Signature: order.Signature,
		Taker:     in.AllowedSender,
	})
	if err != nil {
		return nil, err
	}
	if hash != order.Hash {
		return nil, fmt.Errorf("node hashed order to %s, expected %s", hash.Hex(), order.Hash.Hex())
	}
	return order, nil
}

// PlaceOrdersBatch places several orders. A failure does not stop the rest.
func (c *Client) PlaceOrdersBatch(ctx context.Context, inputs []*PlaceOrderInput) []BatchOrderResult {
	results := make([]BatchOrderResult, len(inputs))
	for i, in := range inputs {
		order, err := c.PlaceOrder(ctx, in)
		results[i] = BatchOrderResult{Index: i, Order: order, Error: err}
	}
	return results
}

// SignOrderRFQ signs an RFQ order. The maker defaults to the client key.
func (c *Client) SignOrderRFQ(order *chain.OrderRFQ) ([]byte, error) {
	if c.builder == nil {
		return nil, ErrNoSigner
	}
	if order == nil {
		return nil, &InvalidParamError{Message: "order is required"}
	}
	if order.Maker == (common.Address{}) {
		order.Maker = c.Maker()
	}
	if order.Maker != c.Maker() {
		return nil, &InvalidParamError{Message: fmt.Sprintf("order maker %s is not the signer %s", order.Maker.Hex(), c.Maker().Hex())}
	}
	return c.builder.SignOrderRFQ(order)
}

func (c *Client) fillRequest(taker common.Address, order *chain.SignedOrder, opts *FillOptions) (*server.FillRequest, error) {
	if order == nil || order.Order == nil {
		return nil, &InvalidParamError{Message: "order is required"}
	}
	if opts == nil {
		opts = &FillOptions{}
	}
	if (opts.MakingAmount == nil) == (opts.TakingAmount == nil) {
		return nil, &InvalidParamError{Message: "exactly one of making and taking amount must be set"}
	}
	return &server.FillRequest{
		Taker:        taker,
		Order:        order.Order,
		Signature:    order.Signature,
		MakingAmount: server.NewAmount(opts.MakingAmount),
		TakingAmount: server.NewAmount(opts.TakingAmount),
		Threshold:    server.NewAmount(opts.Threshold),
		Target:       opts.Target,
		Interaction:  opts.Interaction,
		UnwrapNative: opts.UnwrapNative,
		Value:        server.NewAmount(opts.Value),
	}, nil
}

// FillOrder fills a signed order as taker
func (c *Client) FillOrder(ctx context.Context, taker common.Address, order *chain.SignedOrder, opts *FillOptions) (*server.FillResult, error) {
	req, err := c.fillRequest(taker, order, opts)
	if err != nil {
		return nil, err
	}
	return c.apiClient.FillOrder(ctx, req)
}

// SimulateFill reports what FillOrder would do without committing it
func (c *Client) SimulateFill(ctx context.Context, taker common.Address, order *chain.SignedOrder, opts *FillOptions) (*server.FillResult, error) {
	req, err := c.fillRequest(taker, order, opts)
	if err != nil {
		return nil, err
	}
	return c.apiClient.SimulateFill(ctx, req)
}

// CancelOrder cancels one of the maker's orders
func (c *Client) CancelOrder(ctx context.Context, order *chain.Order) (*server.TxResult, error) {
	if c.builder == nil {
		return nil, ErrNoSigner
	}
	if order == nil {
		return nil, &InvalidParamError{Message: "order is required"}
	}
	return c.apiClient.CancelOrder(ctx, &server.CancelRequest{Maker: c.Maker(), Order: order})
}

// CancelOrdersBatch cancels several orders. A failure does not stop the
// rest.
func (c *Client) CancelOrdersBatch(ctx context.Context, orders []*chain.Order) ([]BatchCancelResult, error) {
	if c.builder == nil {
		return nil, ErrNoSigner
	}
	results := make([]BatchCancelResult, 0, len(orders))
	for _, order := range orders {
		var res BatchCancelResult
		if order == nil {
			res.Error = &InvalidParamError{Message: "order is required"}
			results = append(results, res)
			continue
		}
		res.OrderHash, res.Error = chain.HashOrder(c.builder.Domain(), order)
		if res.Error == nil {
			var tx *server.TxResult
			if tx, res.Error = c.CancelOrder(ctx, order); tx != nil {
				res.Events = tx.Events
			}
		}
		results = append(results, res)
	}
	return results, nil
}

// CancelAllOrders increases the epoch of a series, voiding every order of
// the maker signed against the previous epoch.
func (c *Client) CancelAllOrders(ctx context.Context, series uint64) (uint64, error) {
	if c.builder == nil {
		return 0, ErrNoSigner
	}
	res, err := c.apiClient.IncreaseEpoch(ctx, c.Maker(), series)
	if err != nil {
		return 0, err
	}
	return res.Epoch, nil
}

// Balance returns the token balance of owner in human-readable units. The
// zero token address means native value.
func (c *Client) Balance(ctx context.Context, owner, token common.Address) (string, error) {
	res, err := c.apiClient.Balance(ctx, owner, token)
	if err != nil {
		return "", err
	}
	decimals := uint8(18)
	if token != (common.Address{}) {
		if decimals, err = c.TokenDecimals(ctx, token); err != nil {
			var ipe *InvalidParamError
			if !errors.As(err, &ipe) {
				return "", err
			}
			// Tokens the node does not list are shown in base units.
			decimals = 0
		}
	}
	return FormatUnits(res.Balance, int(decimals)), nil
}

func (c *Client) chainVerifier(ctx context.Context) (*chain.ContractCaller, *eng.Verifier, error) {
	c.callerMtx.Lock()
	defer c.callerMtx.Unlock()
	if c.verifier != nil {
		return c.contractCaller, c.verifier, nil
	}
	if c.rpcURL == "" {
		return nil, nil, &InvalidParamError{Message: "no rpc url configured"}
	}

	cc, err := chain.NewContractCaller(ctx, c.rpcURL)
	if err != nil {
		return nil, nil, err
	}
	chainID, err := cc.ChainID(ctx)
	if err != nil {
		cc.Close()
		return nil, nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	if chainID.Cmp(big.NewInt(c.chainID)) != 0 {
		cc.Close()
		return nil, nil, fmt.Errorf("rpc chain id %s, client is configured for %d", chainID, c.chainID)
	}
	v, err := eng.NewVerifier(ctx, cc, c.engine, nil, nil)
	if err != nil {
		cc.Close()
		return nil, nil, err
	}
	c.contractCaller, c.verifier = cc, v
	return cc, v, nil
}

// VerifyOnChain checks a signed order against the chain at RPCURL instead
// of lopd: signature, expiry, sender, predicate and the maker's funds and
// approval. Cancellations and epochs are not visible to it.
func (c *Client) VerifyOnChain(ctx context.Context, order *chain.SignedOrder, taker common.Address) (common.Hash, error) {
	if order == nil || order.Order == nil {
		return common.Hash{}, &InvalidParamError{Message: "order is required"}
	}
	cc, v, err := c.chainVerifier(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	hash, err := v.VerifyOrder(ctx, order.Order, order.Signature, taker)
	if err != nil {
		return hash, err
	}
	return hash, cc.CheckMakerFunds(ctx, order.Order, c.engine)
}
