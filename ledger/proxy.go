package ledger

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/kaifufi/limit-order-go/chain"
	"github.com/kaifufi/limit-order-go/engine"
)

var proxyABI = mustParseABI(`[{
	"inputs": [
		{"name": "from", "type": "address"},
		{"name": "to", "type": "address"},
		{"name": "amount", "type": "uint256"},
		{"name": "tokenId", "type": "uint256"},
		{"name": "token", "type": "address"}
	],
	"name": "transferFrom721",
	"outputs": [],
	"type": "function"
}]`)

var proxySuffixArgs = abi.Arguments{{Type: mustType("uint256")}, {Type: mustType("address")}}

// ERC721Proxy moves ERC721 tokens through the custom asset calling
// convention. Only Engine may call it, and makers approve the proxy as
// their operator.
type ERC721Proxy struct {
	Address common.Address
	Engine  common.Address
}

// Asset returns a custom asset template moving token id through the proxy.
func (p *ERC721Proxy) Asset(token common.Address, id *big.Int) (*chain.CustomAsset, error) {
	suffix, err := proxySuffixArgs.Pack(id, token)
	if err != nil {
		return nil, err
	}
	a := &chain.CustomAsset{Proxy: p.Address, Suffix: suffix}
	copy(a.Selector[:], proxyABI.Methods["transferFrom721"].ID)
	return a, nil
}

// Run implements Contract.
func (p *ERC721Proxy) Run(ctx context.Context, l *Ledger, msg *engine.Message) ([]byte, error) {
	if msg.From != p.Engine {
		return nil, revert("proxy: caller %s is not the engine", msg.From.Hex())
	}
	_, args, err := decodeCall(&proxyABI, msg.Data)
	if err != nil {
		return nil, err
	}
	from, to := args[0].(common.Address), args[1].(common.Address)
	amount, id, token := args[2].(*big.Int), args[3].(*big.Int), args[4].(common.Address)
	if amount.Cmp(common.Big1) != 0 {
		return nil, revert("proxy: amount %s of a non-fungible token", amount)
	}
	data, err := erc721ABI.Pack("transferFrom", from, to, id)
	if err != nil {
		return nil, revert("proxy: %v", err)
	}
	_, err = l.Call(ctx, &engine.Message{From: p.Address, To: token, Data: data})
	return nil, err
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
