package chain

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/holiman/uint256"
)

// Maker traits bit positions.
const (
	noPartialFillsFlag     = 255
	allowMultipleFillsFlag = 254
	needCheckEpochFlag     = 250
	hasExtensionFlag       = 249
	unwrapNativeFlag       = 247

	seriesOffset       = 200
	nonceOrEpochOffset = 160
	expirationOffset   = 120

	uint40Mask = 1<<40 - 1
)

// MakerTraits is the decoded form of the packed makerTraits word.
type MakerTraits struct {
	NoPartialFills     bool
	AllowMultipleFills bool
	NeedCheckEpoch     bool
	HasExtension       bool
	UnwrapNative       bool
	// AllowedSender holds the low 80 bits of the only address allowed to fill.
	// All zero means anyone may fill.
	AllowedSender [10]byte
	Expiration    uint64
	NonceOrEpoch  uint64
	Series        uint64
}

// DecodeMakerTraits unpacks a makerTraits word.
func DecodeMakerTraits(word *uint256.Int) MakerTraits {
	var t MakerTraits
	if word == nil {
		return t
	}
	bit := func(n uint) bool {
		return new(uint256.Int).Rsh(word, n).Uint64()&1 == 1
	}
	field := func(offset uint) uint64 {
		return new(uint256.Int).Rsh(word, offset).Uint64() & uint40Mask
	}
	t.NoPartialFills = bit(noPartialFillsFlag)
	t.AllowMultipleFills = bit(allowMultipleFillsFlag)
	t.NeedCheckEpoch = bit(needCheckEpochFlag)
	t.HasExtension = bit(hasExtensionFlag)
	t.UnwrapNative = bit(unwrapNativeFlag)
	t.Series = field(seriesOffset)
	t.NonceOrEpoch = field(nonceOrEpochOffset)
	t.Expiration = field(expirationOffset)
	b := word.Bytes32()
	copy(t.AllowedSender[:], b[22:])
	return t
}

// Encode packs the traits into a single word. Numeric fields wider than 40
// bits are truncated.
func (t MakerTraits) Encode() *uint256.Int {
	var b [32]byte
	copy(b[22:], t.AllowedSender[:])
	word := new(uint256.Int).SetBytes(b[:])
	setBit := func(on bool, n uint) {
		if on {
			word.Or(word, new(uint256.Int).Lsh(uint256.NewInt(1), n))
		}
	}
	setField := func(v uint64, offset uint) {
		word.Or(word, new(uint256.Int).Lsh(uint256.NewInt(v&uint40Mask), offset))
	}
	setBit(t.NoPartialFills, noPartialFillsFlag)
	setBit(t.AllowMultipleFills, allowMultipleFillsFlag)
	setBit(t.NeedCheckEpoch, needCheckEpochFlag)
	setBit(t.HasExtension, hasExtensionFlag)
	setBit(t.UnwrapNative, unwrapNativeFlag)
	setField(t.Series, seriesOffset)
	setField(t.NonceOrEpoch, nonceOrEpochOffset)
	setField(t.Expiration, expirationOffset)
	return word
}

// Big returns the packed word as a big.Int.
func (t MakerTraits) Big() *big.Int {
	return t.Encode().ToBig()
}

// SetAllowedSender restricts the order to a single taker. The zero address
// removes the restriction.
func (t *MakerTraits) SetAllowedSender(taker common.Address) {
	copy(t.AllowedSender[:], taker[10:])
}

// IsPrivate reports whether the order is restricted to one taker.
func (t MakerTraits) IsPrivate() bool {
	return t.AllowedSender != [10]byte{}
}

// IsAllowedSender checks the low 80 bits of taker against the allowed sender.
func (t MakerTraits) IsAllowedSender(taker common.Address) bool {
	if !t.IsPrivate() {
		return true
	}
	var low [10]byte
	copy(low[:], taker[10:])
	return low == t.AllowedSender
}

// IsExpired reports whether the order expired before now. Zero never expires.
func (t MakerTraits) IsExpired(now uint64) bool {
	return t.Expiration != 0 && now > t.Expiration
}

// UseBitInvalidator reports whether the order is invalidated through the
// nonce bitmap rather than through remaining-amount bookkeeping.
func (t MakerTraits) UseBitInvalidator() bool {
	return !t.AllowMultipleFills
}

// MarshalJSON encodes the packed word as a hex quantity.
func (t MakerTraits) MarshalJSON() ([]byte, error) {
	return json.Marshal((*math.HexOrDecimal256)(t.Big()))
}

// UnmarshalJSON accepts the packed word as a hex or decimal string.
func (t *MakerTraits) UnmarshalJSON(b []byte) error {
	var v math.HexOrDecimal256
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	word, overflow := uint256.FromBig((*big.Int)(&v))
	if overflow || (*big.Int)(&v).Sign() < 0 {
		return ErrInvalidTraits
	}
	*t = DecodeMakerTraits(word)
	return nil
}
