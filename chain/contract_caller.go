package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ContractCaller performs read-only calls against a live node. It serves as
// the state reader for off-chain order verification.
type ContractCaller struct {
	client *ethclient.Client

	decimalsMtx        sync.Mutex
	tokenDecimalsCache map[common.Address]uint8
}

// NewContractCaller creates a new ContractCaller instance
func NewContractCaller(ctx context.Context, rpcURL string) (*ContractCaller, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return NewContractCallerWithClient(client), nil
}

// NewContractCallerWithClient wraps an existing client
func NewContractCallerWithClient(client *ethclient.Client) *ContractCaller {
	return &ContractCaller{
		client:             client,
		tokenDecimalsCache: make(map[common.Address]uint8),
	}
}

// ChainID returns the chain id reported by the node
func (cc *ContractCaller) ChainID(ctx context.Context) (*big.Int, error) {
	return cc.client.ChainID(ctx)
}

// Timestamp returns the timestamp of the latest block
func (cc *ContractCaller) Timestamp(ctx context.Context) (uint64, error) {
	header, err := cc.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest header: %w", err)
	}
	return header.Time, nil
}

// HasCode reports whether addr is a contract
func (cc *ContractCaller) HasCode(ctx context.Context, addr common.Address) (bool, error) {
	code, err := cc.client.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("failed to get code at %s: %w", addr.Hex(), err)
	}
	return len(code) > 0, nil
}

// StaticCall executes a read-only call at the latest block
func (cc *ContractCaller) StaticCall(ctx context.Context, from, to common.Address, data []byte) ([]byte, error) {
	return cc.client.CallContract(ctx, ethereum.CallMsg{
		From: from,
		To:   &to,
		Data: data,
	}, nil)
}

func (cc *ContractCaller) callUint(ctx context.Context, to common.Address, data []byte) (*big.Int, error) {
	result, err := cc.StaticCall(ctx, common.Address{}, to, data)
	if err != nil {
		return nil, err
	}
	if len(result) < 32 {
		return nil, fmt.Errorf("short result from %s: %d bytes", to.Hex(), len(result))
	}
	return new(big.Int).SetBytes(result[:32]), nil
}

// GetTokenDecimals gets token decimals with caching
func (cc *ContractCaller) GetTokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	cc.decimalsMtx.Lock()
	decimals, ok := cc.tokenDecimalsCache[token]
	cc.decimalsMtx.Unlock()
	if ok {
		return decimals, nil
	}

	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	v, err := cc.callUint(ctx, token, data)
	if err != nil {
		return 0, fmt.Errorf("failed to get decimals of %s: %w", token.Hex(), err)
	}
	if !v.IsUint64() || v.Uint64() > 255 {
		return 0, fmt.Errorf("decimals of %s out of range: %s", token.Hex(), v)
	}
	decimals = uint8(v.Uint64())

	cc.decimalsMtx.Lock()
	cc.tokenDecimalsCache[token] = decimals
	cc.decimalsMtx.Unlock()
	return decimals, nil
}

// BalanceOf returns an ERC20 balance
func (cc *ContractCaller) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return cc.callUint(ctx, token, data)
}

// Allowance returns the ERC20 allowance owner granted to spender
func (cc *ContractCaller) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return cc.callUint(ctx, token, data)
}

// IsApprovedForAll checks ERC721 / ERC1155 operator approval
func (cc *ContractCaller) IsApprovedForAll(ctx context.Context, token, owner, operator common.Address) (bool, error) {
	data, err := erc1155ABI.Pack("isApprovedForAll", owner, operator)
	if err != nil {
		return false, err
	}
	v, err := cc.callUint(ctx, token, data)
	if err != nil {
		return false, err
	}
	return v.Sign() != 0, nil
}

// CheckMakerFunds verifies that an ERC20 maker asset is funded and approved
// to spender for the order's full making amount. Other asset kinds only have
// their operator approval checked.
func (cc *ContractCaller) CheckMakerFunds(ctx context.Context, order *Order, spender common.Address) error {
	switch asset := order.MakerAsset.(type) {
	case *ERC20Asset:
		balance, err := cc.BalanceOf(ctx, asset.Token, order.Maker)
		if err != nil {
			return err
		}
		if balance.Cmp(order.MakingAmount) < 0 {
			return fmt.Errorf("maker %s has %s of %s, order needs %s",
				order.Maker.Hex(), balance, asset.Token.Hex(), order.MakingAmount)
		}
		allowance, err := cc.Allowance(ctx, asset.Token, order.Maker, spender)
		if err != nil {
			return err
		}
		if allowance.Cmp(order.MakingAmount) < 0 {
			return fmt.Errorf("maker %s approved %s of %s, order needs %s",
				order.Maker.Hex(), allowance, asset.Token.Hex(), order.MakingAmount)
		}
	case *ERC721Asset, *ERC1155Asset:
		ok, err := cc.IsApprovedForAll(ctx, asset.Target(), order.Maker, spender)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("maker %s has not approved %s for %s",
				order.Maker.Hex(), spender.Hex(), asset.Target().Hex())
		}
	}
	return nil
}

// Close closes the underlying client
func (cc *ContractCaller) Close() {
	cc.client.Close()
}
