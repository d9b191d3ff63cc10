package chain

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// OrderData is the maker-facing description of an order to build.
type OrderData struct {
	MakerAsset         Asset
	TakerAsset         Asset
	MakingAmount       *big.Int
	TakingAmount       *big.Int
	Receiver           common.Address
	AllowedSender      common.Address
	Expiration         uint64
	Nonce              uint64
	Series             uint64
	NoPartialFills     bool
	AllowMultipleFills bool
	NeedCheckEpoch     bool
	UnwrapNative       bool
	Extension          Extension
	Salt               *big.Int // random when nil
}

// OrderBuilder builds and signs orders
type OrderBuilder struct {
	domain *EIP712Domain
	signer *ecdsa.PrivateKey
}

// NewOrderBuilder creates a new OrderBuilder
func NewOrderBuilder(verifyingContract common.Address, chainID int64, signer *ecdsa.PrivateKey) (*OrderBuilder, error) {
	if signer == nil {
		return nil, fmt.Errorf("signer key is required")
	}
	return &OrderBuilder{
		domain: NewEIP712Domain(big.NewInt(chainID), verifyingContract),
		signer: signer,
	}, nil
}

// Maker returns the address of the signing key
func (ob *OrderBuilder) Maker() common.Address {
	return crypto.PubkeyToAddress(ob.signer.PublicKey)
}

// Domain returns the EIP712 domain orders are signed under
func (ob *OrderBuilder) Domain() *EIP712Domain {
	return ob.domain
}

// BuildOrder builds an order from OrderData
func (ob *OrderBuilder) BuildOrder(data *OrderData) (*Order, error) {
	if err := ob.validateInputs(data); err != nil {
		return nil, err
	}

	salt := data.Salt
	if salt == nil {
		var err error
		if salt, err = generateSalt(); err != nil {
			return nil, err
		}
	}

	traits := MakerTraits{
		NoPartialFills:     data.NoPartialFills,
		AllowMultipleFills: data.AllowMultipleFills,
		NeedCheckEpoch:     data.NeedCheckEpoch,
		HasExtension:       !data.Extension.IsEmpty(),
		UnwrapNative:       data.UnwrapNative,
		Expiration:         data.Expiration,
		NonceOrEpoch:       data.Nonce,
		Series:             data.Series,
	}
	traits.SetAllowedSender(data.AllowedSender)

	return &Order{
		Salt:         salt,
		Maker:        ob.Maker(),
		Receiver:     data.Receiver,
		MakerAsset:   data.MakerAsset,
		TakerAsset:   data.TakerAsset,
		MakingAmount: new(big.Int).Set(data.MakingAmount),
		TakingAmount: new(big.Int).Set(data.TakingAmount),
		Traits:       traits,
		Extension:    data.Extension,
	}, nil
}

// BuildSignedOrder builds and signs an order
func (ob *OrderBuilder) BuildSignedOrder(data *OrderData) (*SignedOrder, error) {
	order, err := ob.BuildOrder(data)
	if err != nil {
		return nil, err
	}

	signature, err := ob.SignOrder(order)
	if err != nil {
		return nil, err
	}

	return &SignedOrder{
		Order:     order,
		Signature: signature,
	}, nil
}

// SignOrder signs the EIP712 digest of an order
func (ob *OrderBuilder) SignOrder(order *Order) ([]byte, error) {
	hash, err := HashOrder(ob.domain, order)
	if err != nil {
		return nil, err
	}
	return SignHash(hash, ob.signer)
}

// SignOrderRFQ signs an RFQ order and returns the compact r ++ vs signature
func (ob *OrderBuilder) SignOrderRFQ(order *OrderRFQ) ([]byte, error) {
	hash, err := HashOrderRFQ(ob.domain, order)
	if err != nil {
		return nil, err
	}
	sig, err := SignHash(hash, ob.signer)
	if err != nil {
		return nil, err
	}
	return ToCompact(sig)
}

var orderTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": {
		{Name: "salt", Type: "uint256"},
		{Name: "maker", Type: "address"},
		{Name: "receiver", Type: "address"},
		{Name: "makerAsset", Type: "bytes"},
		{Name: "takerAsset", Type: "bytes"},
		{Name: "makingAmount", Type: "uint256"},
		{Name: "takingAmount", Type: "uint256"},
		{Name: "makerTraits", Type: "uint256"},
		{Name: "extension", Type: "bytes"},
	},
}

// TypedData returns the order as eth_signTypedData_v4 input, for signing
// with an external wallet.
func (ob *OrderBuilder) TypedData(order *Order) (*apitypes.TypedData, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	ext, err := order.Extension.Encode()
	if err != nil {
		return nil, err
	}
	return &apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              ob.domain.Name,
			Version:           ob.domain.Version,
			ChainId:           math.NewHexOrDecimal256(ob.domain.ChainID.Int64()),
			VerifyingContract: ob.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"salt":         order.Salt.String(),
			"maker":        order.Maker.Hex(),
			"receiver":     order.Receiver.Hex(),
			"makerAsset":   hexutil.Encode(order.MakerAsset.Encode()),
			"takerAsset":   hexutil.Encode(order.TakerAsset.Encode()),
			"makingAmount": order.MakingAmount.String(),
			"takingAmount": order.TakingAmount.String(),
			"makerTraits":  order.Traits.Big().String(),
			"extension":    hexutil.Encode(ext),
		},
	}, nil
}

func (ob *OrderBuilder) validateInputs(data *OrderData) error {
	if data.MakerAsset == nil {
		return fmt.Errorf("makerAsset is required")
	}
	if data.TakerAsset == nil {
		return fmt.Errorf("takerAsset is required")
	}
	if data.MakingAmount == nil || data.MakingAmount.Sign() <= 0 {
		return fmt.Errorf("makingAmount must be positive")
	}
	if data.TakingAmount == nil || data.TakingAmount.Sign() <= 0 {
		return fmt.Errorf("takingAmount must be positive")
	}
	if data.Expiration > uint40Mask || data.Nonce > uint40Mask || data.Series > uint40Mask {
		return fmt.Errorf("expiration, nonce and series must fit in 40 bits")
	}
	if data.NeedCheckEpoch && !data.AllowMultipleFills {
		return fmt.Errorf("epoch checks require allowMultipleFills")
	}
	return data.Extension.Validate()
}

// generateSalt generates a random 96-bit salt
func generateSalt() (*big.Int, error) {
	limit := new(big.Int).Lsh(common.Big1, 96)
	salt, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}
