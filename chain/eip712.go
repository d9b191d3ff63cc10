package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EIP712 Domain constants
const (
	EIP712DomainName    = "Limit Order Protocol"
	EIP712DomainVersion = "4"
)

var (
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	addressType, _ = abi.NewType("address", "", nil)
	bytesType, _   = abi.NewType("bytes", "", nil)
)

// Pre-computed type hashes using keccak256
var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	EIP712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))

	OrderTypeHash = crypto.Keccak256Hash([]byte(
		"Order(uint256 salt,address maker,address receiver,bytes makerAsset,bytes takerAsset,uint256 makingAmount,uint256 takingAmount,uint256 makerTraits,bytes extension)",
	))

	OrderRFQTypeHash = crypto.Keccak256Hash([]byte(
		"OrderRFQ(uint256 info,address makerAsset,address takerAsset,address maker,address allowedSender,uint256 makingAmount,uint256 takingAmount)",
	))
)

// EIP712Domain represents the EIP712 domain separator data
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewEIP712Domain creates a new EIP712Domain with the standard values
func NewEIP712Domain(chainID *big.Int, verifyingContract common.Address) *EIP712Domain {
	return &EIP712Domain{
		Name:              EIP712DomainName,
		Version:           EIP712DomainVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}
}

var domainArgs = abi.Arguments{
	{Type: bytes32Type}, // typeHash
	{Type: bytes32Type}, // nameHash
	{Type: bytes32Type}, // versionHash
	{Type: uint256Type}, // chainId
	{Type: addressType}, // verifyingContract
}

// Hash computes the EIP712 domain separator hash
func (d *EIP712Domain) Hash() common.Hash {
	encoded, err := domainArgs.Pack(
		EIP712DomainTypeHash,
		crypto.Keccak256Hash([]byte(d.Name)),
		crypto.Keccak256Hash([]byte(d.Version)),
		d.ChainID,
		d.VerifyingContract,
	)
	if err != nil {
		panic("failed to encode domain separator: " + err.Error())
	}
	return crypto.Keccak256Hash(encoded)
}

// TypedDataHash computes keccak256("\x19\x01" ++ domainSeparator ++ structHash).
func (d *EIP712Domain) TypedDataHash(structHash common.Hash) common.Hash {
	data := make([]byte, 0, 2+32+32)
	data = append(data, 0x19, 0x01)
	data = append(data, d.Hash().Bytes()...)
	data = append(data, structHash.Bytes()...)
	return crypto.Keccak256Hash(data)
}

var orderArgs = abi.Arguments{
	{Type: bytes32Type}, // typeHash
	{Type: uint256Type}, // salt
	{Type: addressType}, // maker
	{Type: addressType}, // receiver
	{Type: bytes32Type}, // keccak256(makerAsset)
	{Type: bytes32Type}, // keccak256(takerAsset)
	{Type: uint256Type}, // makingAmount
	{Type: uint256Type}, // takingAmount
	{Type: uint256Type}, // makerTraits
	{Type: bytes32Type}, // keccak256(extension)
}

// StructHash computes the EIP712 struct hash of the order. Variable length
// fields are hashed before inclusion.
func (o *Order) StructHash() (common.Hash, error) {
	if err := o.Validate(); err != nil {
		return common.Hash{}, err
	}
	ext, err := o.Extension.Encode()
	if err != nil {
		return common.Hash{}, err
	}
	encoded, err := orderArgs.Pack(
		OrderTypeHash,
		o.Salt,
		o.Maker,
		o.Receiver,
		crypto.Keccak256Hash(o.MakerAsset.Encode()),
		crypto.Keccak256Hash(o.TakerAsset.Encode()),
		o.MakingAmount,
		o.TakingAmount,
		o.Traits.Big(),
		crypto.Keccak256Hash(ext),
	)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

var orderRFQArgs = abi.Arguments{
	{Type: bytes32Type}, // typeHash
	{Type: uint256Type}, // info
	{Type: addressType}, // makerAsset
	{Type: addressType}, // takerAsset
	{Type: addressType}, // maker
	{Type: addressType}, // allowedSender
	{Type: uint256Type}, // makingAmount
	{Type: uint256Type}, // takingAmount
}

// StructHash computes the EIP712 struct hash of the RFQ order.
func (o *OrderRFQ) StructHash() (common.Hash, error) {
	if err := o.Validate(); err != nil {
		return common.Hash{}, err
	}
	encoded, err := orderRFQArgs.Pack(
		OrderRFQTypeHash,
		o.Info(),
		o.MakerAsset,
		o.TakerAsset,
		o.Maker,
		o.AllowedSender,
		o.MakingAmount,
		o.TakingAmount,
	)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// HashOrder returns the digest a maker signs for the order.
func HashOrder(domain *EIP712Domain, order *Order) (common.Hash, error) {
	structHash, err := order.StructHash()
	if err != nil {
		return common.Hash{}, err
	}
	return domain.TypedDataHash(structHash), nil
}

// HashOrderRFQ returns the digest a maker signs for the RFQ order.
func HashOrderRFQ(domain *EIP712Domain, order *OrderRFQ) (common.Hash, error) {
	structHash, err := order.StructHash()
	if err != nil {
		return common.Hash{}, err
	}
	return domain.TypedDataHash(structHash), nil
}
