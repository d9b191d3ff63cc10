package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BitInvalidator marks single-use nonces as consumed in 256-bit words keyed
// by (owner, nonce >> 8).
type BitInvalidator struct {
	store *store
	ns    namespace
}

func bitPosition(nonce uint64) (slot uint64, mask *uint256.Int) {
	return nonce >> 8, new(uint256.Int).Lsh(uint256.NewInt(1), uint(nonce&0xff))
}

// Word returns the raw bitmap word of a slot.
func (b *BitInvalidator) Word(owner common.Address, slot uint64) *uint256.Int {
	return b.store.load(b.ns, owner, uint64Key(slot))
}

// IsInvalidated reports whether a nonce's bit is set.
func (b *BitInvalidator) IsInvalidated(owner common.Address, nonce uint64) bool {
	slot, mask := bitPosition(nonce)
	return !new(uint256.Int).And(b.Word(owner, slot), mask).IsZero()
}

// CheckAndInvalidate sets the bit of nonce, failing with ErrInvalidatedOrder
// if it is already set.
func (b *BitInvalidator) CheckAndInvalidate(owner common.Address, nonce uint64) error {
	slot, mask := bitPosition(nonce)
	word := b.Word(owner, slot)
	if !new(uint256.Int).And(word, mask).IsZero() {
		return newError(ErrInvalidatedOrder, "nonce %d of %s already used", nonce, owner.Hex())
	}
	return b.store.save(b.ns, owner, uint64Key(slot), word.Or(word, mask))
}

// MassInvalidate sets the bit of nonce and every bit of additionalMask in the
// nonce's word, returning the slot and the new word. changed is false, and
// nothing is written, when every bit was already set.
func (b *BitInvalidator) MassInvalidate(owner common.Address, nonce uint64, additionalMask *uint256.Int) (slot uint64, word *uint256.Int, changed bool, err error) {
	slot, mask := bitPosition(nonce)
	if additionalMask != nil {
		mask.Or(mask, additionalMask)
	}
	word = b.Word(owner, slot)
	if new(uint256.Int).And(word, mask).Eq(mask) {
		return slot, word, false, nil
	}
	word.Or(word, mask)
	if err := b.store.save(b.ns, owner, uint64Key(slot), word); err != nil {
		return 0, nil, false, err
	}
	return slot, word, true, nil
}
