package limitorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/kaifufi/limit-order-go/engine"
	"github.com/kaifufi/limit-order-go/server"
)

// APIClient handles HTTP requests to the lopd API
type APIClient struct {
	host   string
	client *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(host string, timeout time.Duration) *APIClient {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &APIClient{
		host: host,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// envelope mirrors server.Response with the result left raw.
type envelope struct {
	Code   int             `json:"code"`
	Msg    string          `json:"msg"`
	Kind   string          `json:"kind"`
	Result json.RawMessage `json:"result"`
}

// doRequest performs an HTTP request
func (c *APIClient) doRequest(ctx context.Context, method, endpoint string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	url := fmt.Sprintf("%s/api%s", c.host, endpoint)
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	return resp, nil
}

// decodeJSONResponse reads the response body, unwraps the envelope and
// decodes the result. A non-zero envelope code becomes an *APIError.
func (c *APIClient) decodeJSONResponse(resp *http.Response, result interface{}) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(bodyBytes, &env); err != nil {
		// Not an envelope at all, e.g. a proxy error page.
		bodyStr := string(bodyBytes)
		if len(bodyStr) > 200 {
			bodyStr = bodyStr[:200] + "..."
		}
		if resp.StatusCode != http.StatusOK {
			return &APIError{Status: resp.StatusCode, Code: resp.StatusCode, Message: bodyStr}
		}
		return fmt.Errorf("failed to decode JSON response: %w (body: %s)", err, bodyStr)
	}

	if env.Code != 0 || resp.StatusCode != http.StatusOK {
		code := env.Code
		if code == 0 {
			code = resp.StatusCode
		}
		msg := env.Msg
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Code: code, Kind: env.Kind, Message: msg}
	}

	if result == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, result); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

func (c *APIClient) do(ctx context.Context, method, endpoint string, body, result interface{}) error {
	resp, err := c.doRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.decodeJSONResponse(resp, result)
}

func (c *APIClient) get(ctx context.Context, endpoint string, result interface{}) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, result)
}

func (c *APIClient) post(ctx context.Context, endpoint string, body, result interface{}) error {
	return c.do(ctx, http.MethodPost, endpoint, body, result)
}

// Info fetches the chain id, engine address, clock and tokens of the node
func (c *APIClient) Info(ctx context.Context) (*server.Info, error) {
	var info server.Info
	if err := c.get(ctx, "/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Balance fetches the native balance of owner, or its token balance when
// token is not the zero address
func (c *APIClient) Balance(ctx context.Context, owner, token common.Address) (*server.BalanceResult, error) {
	endpoint := "/balance/" + owner.Hex()
	if token != (common.Address{}) {
		endpoint += "/" + token.Hex()
	}
	var res server.BalanceResult
	if err := c.get(ctx, endpoint, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// HashOrder returns the EIP712 hash of an order
func (c *APIClient) HashOrder(ctx context.Context, req *server.OrderRequest) (common.Hash, error) {
	var res server.HashResult
	err := c.post(ctx, "/orders/hash", req, &res)
	return res.OrderHash, err
}

// VerifyOrder runs the read-only checks of a fill by req.Taker
func (c *APIClient) VerifyOrder(ctx context.Context, req *server.OrderRequest) (common.Hash, error) {
	var res server.HashResult
	err := c.post(ctx, "/orders/verify", req, &res)
	return res.OrderHash, err
}

// HashOrderRFQ returns the EIP712 hash of an RFQ order
func (c *APIClient) HashOrderRFQ(ctx context.Context, order *server.RFQOrderRequest) (common.Hash, error) {
	var res server.HashResult
	err := c.post(ctx, "/rfq/hash", order, &res)
	return res.OrderHash, err
}

// FillOrder fills a standard order
func (c *APIClient) FillOrder(ctx context.Context, req *server.FillRequest) (*server.FillResult, error) {
	var res server.FillResult
	if err := c.post(ctx, "/fill", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SimulateFill runs a fill and reverts it
func (c *APIClient) SimulateFill(ctx context.Context, req *server.FillRequest) (*server.FillResult, error) {
	var res server.FillResult
	if err := c.post(ctx, "/fill/simulate", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// FillOrderRFQ fills an RFQ order
func (c *APIClient) FillOrderRFQ(ctx context.Context, req *server.RFQFillRequest) (*server.FillResult, error) {
	var res server.FillResult
	if err := c.post(ctx, "/rfq/fill", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CancelOrder cancels an order by value or by hash
func (c *APIClient) CancelOrder(ctx context.Context, req *server.CancelRequest) (*server.TxResult, error) {
	var res server.TxResult
	if err := c.post(ctx, "/cancel", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// BitsInvalidate invalidates nonces in a maker's bitmap word
func (c *APIClient) BitsInvalidate(ctx context.Context, req *server.BitsInvalidateRequest) (*server.TxResult, error) {
	var res server.TxResult
	if err := c.post(ctx, "/cancel/bits", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CancelOrderRFQ invalidates an RFQ id
func (c *APIClient) CancelOrderRFQ(ctx context.Context, req *server.RFQCancelRequest) (*server.TxResult, error) {
	var res server.TxResult
	if err := c.post(ctx, "/rfq/cancel", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// IncreaseEpoch bumps a series epoch by one
func (c *APIClient) IncreaseEpoch(ctx context.Context, maker common.Address, series uint64) (*server.EpochResult, error) {
	var res server.EpochResult
	if err := c.post(ctx, "/epoch/increase", &server.EpochRequest{Maker: maker, Series: series}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// AdvanceEpoch moves a series epoch forward by amount
func (c *APIClient) AdvanceEpoch(ctx context.Context, maker common.Address, series, amount uint64) (*server.EpochResult, error) {
	var res server.EpochResult
	req := &server.EpochRequest{Maker: maker, Series: series, Amount: amount}
	if err := c.post(ctx, "/epoch/advance", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Epoch fetches the current epoch of a maker's series
func (c *APIClient) Epoch(ctx context.Context, maker common.Address, series uint64) (uint64, error) {
	var res server.EpochResult
	err := c.get(ctx, fmt.Sprintf("/epoch/%s/%d", maker.Hex(), series), &res)
	return res.Epoch, err
}

// Remaining fetches the remaining amount of a touched order
func (c *APIClient) Remaining(ctx context.Context, maker common.Address, orderHash common.Hash) (*server.RemainingResult, error) {
	var res server.RemainingResult
	if err := c.get(ctx, "/remaining/"+maker.Hex()+"/"+orderHash.Hex(), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Bitmap fetches a word of the order bit invalidator
func (c *APIClient) Bitmap(ctx context.Context, maker common.Address, slot uint64) (*server.BitmapResult, error) {
	var res server.BitmapResult
	if err := c.get(ctx, fmt.Sprintf("/bitmap/%s/%d", maker.Hex(), slot), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// BitmapRFQ fetches a word of the RFQ invalidator
func (c *APIClient) BitmapRFQ(ctx context.Context, maker common.Address, slot uint64) (*server.BitmapResult, error) {
	var res server.BitmapResult
	if err := c.get(ctx, fmt.Sprintf("/rfq/bitmap/%s/%d", maker.Hex(), slot), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Call commits a call as a transaction
func (c *APIClient) Call(ctx context.Context, req *server.CallRequest) (*server.TxResult, error) {
	var res server.TxResult
	if err := c.post(ctx, "/call", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// StaticCall runs a read-only call and returns its output
func (c *APIClient) StaticCall(ctx context.Context, req *server.CallRequest) ([]byte, error) {
	var res hexutil.Bytes
	if err := c.post(ctx, "/static-call", req, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Simulate runs calls in order and reports each outcome without committing
func (c *APIClient) Simulate(ctx context.Context, req *server.SimulateRequest) ([]engine.SimulationResult, error) {
	var res []engine.SimulationResult
	if err := c.post(ctx, "/simulate", req, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Warp sets the node clock. Dev mode only.
func (c *APIClient) Warp(ctx context.Context, timestamp uint64) error {
	return c.post(ctx, "/dev/warp", &server.WarpRequest{Timestamp: timestamp}, nil)
}

// Fund credits native value, or mints token when it is set. Dev mode only.
func (c *APIClient) Fund(ctx context.Context, req *server.FundRequest) (*server.TxResult, error) {
	var res server.TxResult
	if err := c.post(ctx, "/dev/fund", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
