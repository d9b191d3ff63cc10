package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AssetKind identifies the calling convention of a transfer template.
type AssetKind uint8

const (
	AssetERC20 AssetKind = iota + 1
	AssetERC721
	AssetERC1155
	AssetCustom
)

// String returns the asset kind name
func (k AssetKind) String() string {
	switch k {
	case AssetERC20:
		return "erc20"
	case AssetERC721:
		return "erc721"
	case AssetERC1155:
		return "erc1155"
	case AssetCustom:
		return "custom"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Asset errors
var (
	ErrInvalidAsset  = errors.New("invalid asset encoding")
	ErrInvalidAmount = errors.New("invalid transfer amount")
)

// Asset is a transfer template. Build produces the call that moves amount
// units from one account to another.
type Asset interface {
	Kind() AssetKind
	Target() common.Address
	Build(from, to common.Address, amount *big.Int) (*Invocation, error)
	// Encode returns the canonical encoding kind(1) ++ target(20) ++ params.
	Encode() []byte
}

// ERC20Asset moves fungible tokens with transferFrom.
type ERC20Asset struct {
	Token common.Address
}

func (a *ERC20Asset) Kind() AssetKind        { return AssetERC20 }
func (a *ERC20Asset) Target() common.Address { return a.Token }

func (a *ERC20Asset) Build(from, to common.Address, amount *big.Int) (*Invocation, error) {
	data, err := erc20ABI.Pack("transferFrom", from, to, amount)
	if err != nil {
		return nil, err
	}
	return &Invocation{To: a.Token, Data: data}, nil
}

func (a *ERC20Asset) Encode() []byte {
	return assetHeader(AssetERC20, a.Token)
}

// ERC721Asset moves a single non-fungible token. The amount must be 1.
type ERC721Asset struct {
	Token   common.Address
	TokenID *big.Int
}

func (a *ERC721Asset) Kind() AssetKind        { return AssetERC721 }
func (a *ERC721Asset) Target() common.Address { return a.Token }

func (a *ERC721Asset) Build(from, to common.Address, amount *big.Int) (*Invocation, error) {
	if amount == nil || amount.Cmp(common.Big1) != 0 {
		return nil, fmt.Errorf("%w: erc721 amount must be 1, got %v", ErrInvalidAmount, amount)
	}
	data, err := erc721ABI.Pack("transferFrom", from, to, a.TokenID)
	if err != nil {
		return nil, err
	}
	return &Invocation{To: a.Token, Data: data}, nil
}

func (a *ERC721Asset) Encode() []byte {
	return append(assetHeader(AssetERC721, a.Token), common.LeftPadBytes(a.TokenID.Bytes(), 32)...)
}

// ERC1155Asset moves amount units of one token id.
type ERC1155Asset struct {
	Token common.Address
	ID    *big.Int
	Data  []byte
}

func (a *ERC1155Asset) Kind() AssetKind        { return AssetERC1155 }
func (a *ERC1155Asset) Target() common.Address { return a.Token }

func (a *ERC1155Asset) Build(from, to common.Address, amount *big.Int) (*Invocation, error) {
	data, err := erc1155ABI.Pack("safeTransferFrom", from, to, a.ID, amount, nonNil(a.Data))
	if err != nil {
		return nil, err
	}
	return &Invocation{To: a.Token, Data: data}, nil
}

func (a *ERC1155Asset) Encode() []byte {
	enc := append(assetHeader(AssetERC1155, a.Token), common.LeftPadBytes(a.ID.Bytes(), 32)...)
	return append(enc, a.Data...)
}

// CustomAsset calls a proxy with selector ++ from ++ to ++ amount ++ suffix,
// each of the three middle fields a 32-byte word.
type CustomAsset struct {
	Proxy    common.Address
	Selector [4]byte
	Suffix   []byte
}

func (a *CustomAsset) Kind() AssetKind        { return AssetCustom }
func (a *CustomAsset) Target() common.Address { return a.Proxy }

var transferArgs = abi.Arguments{{Type: addressType}, {Type: addressType}, {Type: uint256Type}}

func (a *CustomAsset) Build(from, to common.Address, amount *big.Int) (*Invocation, error) {
	args, err := transferArgs.Pack(from, to, amount)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, 4+len(args)+len(a.Suffix))
	data = append(data, a.Selector[:]...)
	data = append(data, args...)
	data = append(data, a.Suffix...)
	return &Invocation{To: a.Proxy, Data: data}, nil
}

func (a *CustomAsset) Encode() []byte {
	enc := append(assetHeader(AssetCustom, a.Proxy), a.Selector[:]...)
	return append(enc, a.Suffix...)
}

func assetHeader(kind AssetKind, target common.Address) []byte {
	enc := make([]byte, 0, 21)
	enc = append(enc, byte(kind))
	return append(enc, target.Bytes()...)
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// DecodeAsset parses the canonical asset encoding.
func DecodeAsset(b []byte) (Asset, error) {
	if len(b) < 21 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidAsset, len(b))
	}
	target := common.BytesToAddress(b[1:21])
	params := b[21:]
	switch AssetKind(b[0]) {
	case AssetERC20:
		if len(params) != 0 {
			return nil, fmt.Errorf("%w: erc20 takes no parameters", ErrInvalidAsset)
		}
		return &ERC20Asset{Token: target}, nil
	case AssetERC721:
		if len(params) != 32 {
			return nil, fmt.Errorf("%w: erc721 needs a token id", ErrInvalidAsset)
		}
		return &ERC721Asset{Token: target, TokenID: new(big.Int).SetBytes(params)}, nil
	case AssetERC1155:
		if len(params) < 32 {
			return nil, fmt.Errorf("%w: erc1155 needs a token id", ErrInvalidAsset)
		}
		return &ERC1155Asset{
			Token: target,
			ID:    new(big.Int).SetBytes(params[:32]),
			Data:  common.CopyBytes(params[32:]),
		}, nil
	case AssetCustom:
		if len(params) < 4 {
			return nil, fmt.Errorf("%w: custom asset needs a selector", ErrInvalidAsset)
		}
		a := &CustomAsset{Proxy: target, Suffix: common.CopyBytes(params[4:])}
		copy(a.Selector[:], params[:4])
		return a, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidAsset, b[0])
	}
}

// AssetJSON wraps an Asset for hex JSON transport.
type AssetJSON struct {
	Asset
}

// MarshalJSON encodes the asset as hex of its canonical encoding.
func (a AssetJSON) MarshalJSON() ([]byte, error) {
	if a.Asset == nil {
		return []byte("null"), nil
	}
	return json.Marshal(hexutil.Bytes(a.Encode()))
}

// UnmarshalJSON decodes a hex asset encoding.
func (a *AssetJSON) UnmarshalJSON(b []byte) error {
	var raw hexutil.Bytes
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	asset, err := DecodeAsset(raw)
	if err != nil {
		return err
	}
	a.Asset = asset
	return nil
}
