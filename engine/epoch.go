package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EpochManager keeps a monotonically increasing counter per (maker, series).
// Orders that check the epoch are only valid while their embedded nonce
// equals the current value.
type EpochManager struct {
	store *store
}

func seriesKey(series *uint256.Int) common.Hash {
	return common.Hash(series.Bytes32())
}

// Epoch returns the current epoch of a series.
func (m *EpochManager) Epoch(maker common.Address, series uint64) uint64 {
	return m.epochAt(maker, uint256.NewInt(series)).Uint64()
}

func (m *EpochManager) epochAt(maker common.Address, series *uint256.Int) *uint256.Int {
	return m.store.load(nsEpoch, maker, seriesKey(series))
}

// EpochEquals reports whether the series is at epoch.
func (m *EpochManager) EpochEquals(maker common.Address, series, epoch uint64) bool {
	return m.epochAt(maker, uint256.NewInt(series)).Eq(uint256.NewInt(epoch))
}

// Advance bumps a series by amount, which must be between 1 and 255.
func (m *EpochManager) Advance(maker common.Address, series uint64, amount uint64) (uint64, error) {
	if amount == 0 || amount > 255 {
		return 0, newError(ErrAdvanceEpochFailed, "advance by %d, must be 1 to 255", amount)
	}
	key := uint256.NewInt(series)
	epoch := m.epochAt(maker, key)
	epoch.Add(epoch, uint256.NewInt(amount))
	if err := m.store.save(nsEpoch, maker, seriesKey(key), epoch); err != nil {
		return 0, err
	}
	return epoch.Uint64(), nil
}
