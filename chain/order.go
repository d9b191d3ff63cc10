package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

// Order errors
var (
	ErrInvalidOrder     = errors.New("invalid order")
	ErrInvalidTraits    = errors.New("invalid maker traits")
	ErrInvalidExtension = errors.New("invalid order extension")
)

// Order is a maker-signed limit order.
type Order struct {
	Salt         *big.Int
	Maker        common.Address
	Receiver     common.Address // zero means the maker
	MakerAsset   Asset
	TakerAsset   Asset
	MakingAmount *big.Int
	TakingAmount *big.Int
	Traits       MakerTraits
	Extension    Extension
}

// Validate checks that every required field is present.
func (o *Order) Validate() error {
	switch {
	case o == nil:
		return fmt.Errorf("%w: nil order", ErrInvalidOrder)
	case o.Salt == nil || o.Salt.Sign() < 0:
		return fmt.Errorf("%w: missing salt", ErrInvalidOrder)
	case o.Maker == (common.Address{}):
		return fmt.Errorf("%w: missing maker", ErrInvalidOrder)
	case o.MakerAsset == nil || o.TakerAsset == nil:
		return fmt.Errorf("%w: missing asset", ErrInvalidOrder)
	case o.MakingAmount == nil || o.MakingAmount.Sign() <= 0:
		return fmt.Errorf("%w: making amount must be positive", ErrInvalidOrder)
	case o.TakingAmount == nil || o.TakingAmount.Sign() <= 0:
		return fmt.Errorf("%w: taking amount must be positive", ErrInvalidOrder)
	}
	if o.Salt.BitLen() > 256 || o.MakingAmount.BitLen() > 256 || o.TakingAmount.BitLen() > 256 {
		return fmt.Errorf("%w: value wider than 256 bits", ErrInvalidOrder)
	}
	if err := validateTokenID(o.MakerAsset, "maker"); err != nil {
		return err
	}
	return validateTokenID(o.TakerAsset, "taker")
}

// validateTokenID checks the id carried by an ERC721 or ERC1155 template.
func validateTokenID(a Asset, side string) error {
	var id *big.Int
	switch a := a.(type) {
	case *ERC721Asset:
		id = a.TokenID
	case *ERC1155Asset:
		id = a.ID
	default:
		return nil
	}
	if id == nil {
		return fmt.Errorf("%w: missing %s token id", ErrInvalidOrder, side)
	}
	if id.Sign() < 0 || id.BitLen() > 256 {
		return fmt.Errorf("%w: %s token id is not a 256-bit word", ErrInvalidOrder, side)
	}
	return nil
}

// ReceiverOrMaker returns the address taker funds are paid to.
func (o *Order) ReceiverOrMaker() common.Address {
	if o.Receiver == (common.Address{}) {
		return o.Maker
	}
	return o.Receiver
}

type orderJSON struct {
	Salt         *math.HexOrDecimal256 `json:"salt"`
	Maker        common.Address        `json:"maker"`
	Receiver     common.Address        `json:"receiver"`
	MakerAsset   AssetJSON             `json:"makerAsset"`
	TakerAsset   AssetJSON             `json:"takerAsset"`
	MakingAmount *math.HexOrDecimal256 `json:"makingAmount"`
	TakingAmount *math.HexOrDecimal256 `json:"takingAmount"`
	MakerTraits  MakerTraits           `json:"makerTraits"`
	Extension    hexutil.Bytes         `json:"extension"`
}

// MarshalJSON encodes the order with hex assets and extension.
func (o *Order) MarshalJSON() ([]byte, error) {
	ext, err := o.Extension.Encode()
	if err != nil {
		return nil, err
	}
	return json.Marshal(&orderJSON{
		Salt:         (*math.HexOrDecimal256)(o.Salt),
		Maker:        o.Maker,
		Receiver:     o.Receiver,
		MakerAsset:   AssetJSON{o.MakerAsset},
		TakerAsset:   AssetJSON{o.TakerAsset},
		MakingAmount: (*math.HexOrDecimal256)(o.MakingAmount),
		TakingAmount: (*math.HexOrDecimal256)(o.TakingAmount),
		MakerTraits:  o.Traits,
		Extension:    ext,
	})
}

// UnmarshalJSON decodes an order produced by MarshalJSON.
func (o *Order) UnmarshalJSON(b []byte) error {
	var raw orderJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	ext, err := DecodeExtension(raw.Extension)
	if err != nil {
		return err
	}
	*o = Order{
		Salt:         (*big.Int)(raw.Salt),
		Maker:        raw.Maker,
		Receiver:     raw.Receiver,
		MakerAsset:   raw.MakerAsset.Asset,
		TakerAsset:   raw.TakerAsset.Asset,
		MakingAmount: (*big.Int)(raw.MakingAmount),
		TakingAmount: (*big.Int)(raw.TakingAmount),
		Traits:       raw.MakerTraits,
		Extension:    ext,
	}
	return nil
}

// Extension carries the optional variable-length order data. Getters and the
// permit are target(20) ++ payload.
type Extension struct {
	MakingAmountGetter []byte
	TakingAmountGetter []byte
	Predicate          []byte
	MakerPermit        []byte
}

var extensionArgs = abi.Arguments{{Type: bytesType}, {Type: bytesType}, {Type: bytesType}, {Type: bytesType}}

// IsEmpty reports whether no extension field is set.
func (e Extension) IsEmpty() bool {
	return len(e.MakingAmountGetter) == 0 && len(e.TakingAmountGetter) == 0 &&
		len(e.Predicate) == 0 && len(e.MakerPermit) == 0
}

// Encode returns the canonical encoding: nothing for an empty extension,
// otherwise abi.encode(bytes,bytes,bytes,bytes).
func (e Extension) Encode() ([]byte, error) {
	if e.IsEmpty() {
		return []byte{}, nil
	}
	return extensionArgs.Pack(nonNil(e.MakingAmountGetter), nonNil(e.TakingAmountGetter),
		nonNil(e.Predicate), nonNil(e.MakerPermit))
}

// Validate checks that every call-bearing field names a target.
func (e Extension) Validate() error {
	for name, f := range map[string][]byte{
		"making amount getter": e.MakingAmountGetter,
		"taking amount getter": e.TakingAmountGetter,
		"maker permit":         e.MakerPermit,
	} {
		if len(f) != 0 && len(f) < common.AddressLength {
			return fmt.Errorf("%w: %s shorter than an address", ErrInvalidExtension, name)
		}
	}
	return nil
}

// DecodeExtension parses an encoded extension.
func DecodeExtension(b []byte) (Extension, error) {
	if len(b) == 0 {
		return Extension{}, nil
	}
	vals, err := extensionArgs.Unpack(b)
	if err != nil {
		return Extension{}, fmt.Errorf("%w: %v", ErrInvalidExtension, err)
	}
	ext := Extension{
		MakingAmountGetter: vals[0].([]byte),
		TakingAmountGetter: vals[1].([]byte),
		Predicate:          vals[2].([]byte),
		MakerPermit:        vals[3].([]byte),
	}
	if ext.IsEmpty() {
		return Extension{}, fmt.Errorf("%w: empty extension must be encoded as no bytes", ErrInvalidExtension)
	}
	return ext, nil
}

// SplitCall splits target(20) ++ payload.
func SplitCall(b []byte) (common.Address, []byte, error) {
	if len(b) < common.AddressLength {
		return common.Address{}, nil, fmt.Errorf("%w: call shorter than an address", ErrInvalidExtension)
	}
	return common.BytesToAddress(b[:common.AddressLength]), b[common.AddressLength:], nil
}

// JoinCall builds target(20) ++ payload.
func JoinCall(target common.Address, payload []byte) []byte {
	out := make([]byte, 0, common.AddressLength+len(payload))
	out = append(out, target.Bytes()...)
	return append(out, payload...)
}

// OrderRFQ is a single-shot quote order over two ERC20 tokens.
type OrderRFQ struct {
	ID            uint64         `json:"id"`
	Expiration    uint64         `json:"expiration"`
	MakerAsset    common.Address `json:"makerAsset"`
	TakerAsset    common.Address `json:"takerAsset"`
	Maker         common.Address `json:"maker"`
	AllowedSender common.Address `json:"allowedSender"`
	MakingAmount  *big.Int       `json:"makingAmount"`
	TakingAmount  *big.Int       `json:"takingAmount"`
}

// Info packs the id into the low 64 bits and the expiration into the next 64.
func (o *OrderRFQ) Info() *big.Int {
	info := new(big.Int).SetUint64(o.Expiration)
	info.Lsh(info, 64)
	return info.Or(info, new(big.Int).SetUint64(o.ID))
}

// SplitRFQInfo unpacks an info word into id and expiration.
func SplitRFQInfo(info *big.Int) (id, expiration uint64) {
	mask := new(big.Int).SetUint64(^uint64(0))
	id = new(big.Int).And(info, mask).Uint64()
	expiration = new(big.Int).And(new(big.Int).Rsh(info, 64), mask).Uint64()
	return id, expiration
}

// Validate checks that every required field is present.
func (o *OrderRFQ) Validate() error {
	switch {
	case o == nil:
		return fmt.Errorf("%w: nil rfq order", ErrInvalidOrder)
	case o.Maker == (common.Address{}):
		return fmt.Errorf("%w: missing maker", ErrInvalidOrder)
	case o.MakerAsset == (common.Address{}) || o.TakerAsset == (common.Address{}):
		return fmt.Errorf("%w: missing asset", ErrInvalidOrder)
	case o.MakingAmount == nil || o.MakingAmount.Sign() <= 0:
		return fmt.Errorf("%w: making amount must be positive", ErrInvalidOrder)
	case o.TakingAmount == nil || o.TakingAmount.Sign() <= 0:
		return fmt.Errorf("%w: taking amount must be positive", ErrInvalidOrder)
	case o.MakingAmount.BitLen() > 256 || o.TakingAmount.BitLen() > 256:
		return fmt.Errorf("%w: value wider than 256 bits", ErrInvalidOrder)
	}
	return nil
}

// SignedOrder pairs an order with the maker's signature.
type SignedOrder struct {
	Order     *Order        `json:"order"`
	Signature hexutil.Bytes `json:"signature"`
}
