package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type callArgs struct {
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Input hexutil.Bytes  `json:"input"`
}

// fakeNode answers the handful of JSON-RPC methods ContractCaller uses.
func fakeNode(t *testing.T, calls *int) *httptest.Server {
	word := func(v int64) hexutil.Bytes {
		return common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		var result interface{}
		switch req.Method {
		case "eth_chainId":
			result = hexutil.Uint64(56)
		case "eth_getCode":
			var addr common.Address
			require.NoError(t, json.Unmarshal(req.Params[0], &addr))
			if addr == tokenA {
				result = hexutil.Bytes{0x60, 0x00}
			} else {
				result = hexutil.Bytes{}
			}
		case "eth_call":
			*calls++
			var args callArgs
			require.NoError(t, json.Unmarshal(req.Params[0], &args))
			data := args.Input
			if len(data) == 0 {
				data = args.Data
			}
			switch {
			case bytes.HasPrefix(data, erc20ABI.Methods["decimals"].ID):
				result = word(6)
			case bytes.HasPrefix(data, erc20ABI.Methods["balanceOf"].ID):
				result = word(1000)
			case bytes.HasPrefix(data, erc20ABI.Methods["allowance"].ID):
				result = word(5)
			default:
				result = hexutil.Bytes{}
			}
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
}

func TestContractCaller(t *testing.T) {
	var calls int
	srv := fakeNode(t, &calls)
	defer srv.Close()

	ctx := context.Background()
	cc, err := NewContractCaller(ctx, srv.URL)
	require.NoError(t, err)
	defer cc.Close()

	chainID, err := cc.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(56), chainID.Int64())

	hasCode, err := cc.HasCode(ctx, tokenA)
	require.NoError(t, err)
	assert.True(t, hasCode)
	hasCode, err = cc.HasCode(ctx, tokenB)
	require.NoError(t, err)
	assert.False(t, hasCode)

	decimals, err := cc.GetTokenDecimals(ctx, tokenA)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), decimals)
	_, err = cc.GetTokenDecimals(ctx, tokenA)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "decimals are cached")

	// balance 1000, allowance 5
	order := testOrder()
	order.MakingAmount = big.NewInt(5)
	assert.NoError(t, cc.CheckMakerFunds(ctx, order, proto))
	order.MakingAmount = big.NewInt(6)
	assert.Error(t, cc.CheckMakerFunds(ctx, order, proto))
}
