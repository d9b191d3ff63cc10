package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRoundTrip(t *testing.T) {
	hash := common.HexToHash("0x1234")
	maker := common.HexToAddress("0x00000000000000000000000000000000000000ee")

	tests := []struct {
		name  string
		build func() (*types.Log, error)
		check func(t *testing.T, ev *Event)
	}{
		{EventOrderFilled, func() (*types.Log, error) {
			return OrderFilledLog(proto, hash, big.NewInt(5), big.NewInt(7))
		}, func(t *testing.T, ev *Event) {
			assert.Equal(t, hash, ev.OrderHash)
			assert.Equal(t, int64(5), ev.MakingAmount.Int64())
			assert.Equal(t, int64(7), ev.RemainingAmount.Int64())
		}},
		{EventOrderFilledRFQ, func() (*types.Log, error) {
			return OrderFilledRFQLog(proto, hash, big.NewInt(3))
		}, func(t *testing.T, ev *Event) {
			assert.Equal(t, hash, ev.OrderHash)
			assert.Equal(t, int64(3), ev.MakingAmount.Int64())
		}},
		{EventOrderCancelled, func() (*types.Log, error) {
			return OrderCancelledLog(proto, hash)
		}, func(t *testing.T, ev *Event) {
			assert.Equal(t, hash, ev.OrderHash)
		}},
		{EventBitInvalidatorUpdated, func() (*types.Log, error) {
			return BitInvalidatorUpdatedLog(proto, maker, big.NewInt(1), big.NewInt(0xff))
		}, func(t *testing.T, ev *Event) {
			assert.Equal(t, maker, ev.Maker)
			assert.Equal(t, int64(1), ev.SlotIndex.Int64())
			assert.Equal(t, int64(0xff), ev.SlotValue.Int64())
		}},
		{EventEpochIncreased, func() (*types.Log, error) {
			return EpochIncreasedLog(proto, maker, big.NewInt(2), big.NewInt(9))
		}, func(t *testing.T, ev *Event) {
			assert.Equal(t, maker, ev.Maker)
			assert.Equal(t, int64(2), ev.Series.Int64())
			assert.Equal(t, int64(9), ev.NewEpoch.Int64())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := tt.build()
			require.NoError(t, err)
			assert.Equal(t, proto, l.Address)
			ev, err := ParseEvent(l)
			require.NoError(t, err)
			assert.Equal(t, tt.name, ev.Name)
			tt.check(t, ev)
		})
	}

	_, err := ParseEvent(&types.Log{Topics: []common.Hash{hash}})
	assert.ErrorIs(t, err, ErrUnknownEvent)
}
