package engine

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// namespace separates the owner-scoped maps the engine keeps in its storage.
type namespace byte

const (
	nsRemaining namespace = iota + 1
	nsBitInvalidator
	nsRFQBitInvalidator
	nsEpoch
)

// store is the engine's view of its own storage on the host: a set of
// Map<Owner, Map<Key, uint256>> tables, one per namespace.
type store struct {
	host Host
	self common.Address
}

func slotKey(ns namespace, owner common.Address, key common.Hash) common.Hash {
	buf := make([]byte, 0, 1+common.AddressLength+common.HashLength)
	buf = append(buf, byte(ns))
	buf = append(buf, owner.Bytes()...)
	buf = append(buf, key.Bytes()...)
	return crypto.Keccak256Hash(buf)
}

func uint64Key(v uint64) common.Hash {
	var h common.Hash
	binary.BigEndian.PutUint64(h[24:], v)
	return h
}

func (s *store) load(ns namespace, owner common.Address, key common.Hash) *uint256.Int {
	v := s.host.GetState(s.self, slotKey(ns, owner, key))
	return new(uint256.Int).SetBytes(v.Bytes())
}

func (s *store) save(ns namespace, owner common.Address, key common.Hash, v *uint256.Int) error {
	return s.host.SetState(s.self, slotKey(ns, owner, key), common.Hash(v.Bytes32()))
}
