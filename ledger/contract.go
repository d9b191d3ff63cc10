package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	wordTrue   = common.LeftPadBytes([]byte{1}, 32)
	maxUint256 = math.MaxBig256
)

// decodeCall resolves the method a calldata selects and unpacks its
// arguments.
func decodeCall(a *abi.ABI, data []byte) (*abi.Method, []interface{}, error) {
	if len(data) < 4 {
		return nil, nil, revert("calldata of %d bytes has no selector", len(data))
	}
	method, err := a.MethodById(data[:4])
	if err != nil {
		return nil, nil, revert("%v", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, revert("%s: %v", method.Name, err)
	}
	return method, args, nil
}

// mappingSlot derives the storage slot of a named mapping entry.
func mappingSlot(name string, keys ...[]byte) common.Hash {
	parts := make([][]byte, 0, len(keys)+1)
	parts = append(parts, []byte(name))
	parts = append(parts, keys...)
	return crypto.Keccak256Hash(parts...)
}

func (l *Ledger) getUint(addr common.Address, slot common.Hash) *big.Int {
	return l.GetState(addr, slot).Big()
}

func (l *Ledger) setUint(addr common.Address, slot common.Hash, v *big.Int) error {
	if v.Sign() < 0 || v.BitLen() > 256 {
		return revert("value %s out of range", v)
	}
	return l.SetState(addr, slot, common.BigToHash(v))
}
