package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Event names
const (
	EventOrderFilled           = "OrderFilled"
	EventOrderFilledRFQ        = "OrderFilledRFQ"
	EventOrderCancelled        = "OrderCancelled"
	EventBitInvalidatorUpdated = "BitInvalidatorUpdated"
	EventEpochIncreased        = "EpochIncreased"
)

var ErrUnknownEvent = errors.New("unknown event")

// Event is a decoded protocol log.
type Event struct {
	Name            string         `json:"name"`
	Address         common.Address `json:"address"`
	BlockNumber     uint64         `json:"blockNumber"`
	Index           uint           `json:"logIndex"`
	OrderHash       common.Hash    `json:"orderHash,omitempty"`
	Maker           common.Address `json:"maker,omitempty"`
	MakingAmount    *big.Int       `json:"makingAmount,omitempty"`
	RemainingAmount *big.Int       `json:"remainingAmount,omitempty"`
	SlotIndex       *big.Int       `json:"slotIndex,omitempty"`
	SlotValue       *big.Int       `json:"slotValue,omitempty"`
	Series          *big.Int       `json:"series,omitempty"`
	NewEpoch        *big.Int       `json:"newEpoch,omitempty"`
}

func newLog(emitter common.Address, name string, topics []common.Hash, data ...interface{}) (*types.Log, error) {
	event := eventsABI.Events[name]
	packed, err := event.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return &types.Log{
		Address: emitter,
		Topics:  append([]common.Hash{event.ID}, topics...),
		Data:    packed,
	}, nil
}

// OrderFilledLog builds the settlement record of a fill.
func OrderFilledLog(emitter common.Address, orderHash common.Hash, making, remaining *big.Int) (*types.Log, error) {
	return newLog(emitter, EventOrderFilled, []common.Hash{orderHash}, making, remaining)
}

// OrderFilledRFQLog builds the settlement record of an RFQ fill.
func OrderFilledRFQLog(emitter common.Address, orderHash common.Hash, making *big.Int) (*types.Log, error) {
	return newLog(emitter, EventOrderFilledRFQ, nil, orderHash, making)
}

// OrderCancelledLog builds the record of a remaining-amount cancellation.
func OrderCancelledLog(emitter common.Address, orderHash common.Hash) (*types.Log, error) {
	return newLog(emitter, EventOrderCancelled, []common.Hash{orderHash})
}

// BitInvalidatorUpdatedLog builds the record of a bitmap cancellation.
func BitInvalidatorUpdatedLog(emitter, maker common.Address, slot, value *big.Int) (*types.Log, error) {
	return newLog(emitter, EventBitInvalidatorUpdated, []common.Hash{common.BytesToHash(maker.Bytes())}, slot, value)
}

// EpochIncreasedLog builds the record of an epoch bump.
func EpochIncreasedLog(emitter, maker common.Address, series, epoch *big.Int) (*types.Log, error) {
	return newLog(emitter, EventEpochIncreased, []common.Hash{common.BytesToHash(maker.Bytes())}, series, epoch)
}

// ParseEvent decodes a protocol log.
func ParseEvent(l *types.Log) (*Event, error) {
	if len(l.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	event, err := eventsABI.EventByID(l.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, l.Topics[0].Hex())
	}
	vals, err := event.Inputs.NonIndexed().Unpack(l.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", event.Name, err)
	}
	indexed := func(i int) (common.Hash, error) {
		if len(l.Topics) <= i {
			return common.Hash{}, fmt.Errorf("%s: missing topic %d", event.Name, i)
		}
		return l.Topics[i], nil
	}
	ev := &Event{
		Name:        event.Name,
		Address:     l.Address,
		BlockNumber: l.BlockNumber,
		Index:       l.Index,
	}
	switch event.Name {
	case EventOrderFilled:
		if ev.OrderHash, err = indexed(1); err != nil {
			return nil, err
		}
		ev.MakingAmount = vals[0].(*big.Int)
		ev.RemainingAmount = vals[1].(*big.Int)
	case EventOrderFilledRFQ:
		ev.OrderHash = common.Hash(vals[0].([32]byte))
		ev.MakingAmount = vals[1].(*big.Int)
	case EventOrderCancelled:
		if ev.OrderHash, err = indexed(1); err != nil {
			return nil, err
		}
	case EventBitInvalidatorUpdated, EventEpochIncreased:
		topic, err := indexed(1)
		if err != nil {
			return nil, err
		}
		ev.Maker = common.BytesToAddress(topic.Bytes())
		if event.Name == EventBitInvalidatorUpdated {
			ev.SlotIndex = vals[0].(*big.Int)
			ev.SlotValue = vals[1].(*big.Int)
		} else {
			ev.Series = vals[0].(*big.Int)
			ev.NewEpoch = vals[1].(*big.Int)
		}
	}
	return ev, nil
}
