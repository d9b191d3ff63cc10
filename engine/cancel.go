package engine

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/kaifufi/limit-order-go/chain"
)

// CancelOrder cancels an order on behalf of caller, who must be its maker.
// Cancelling an exhausted or cancelled order changes nothing and succeeds.
func (e *Engine) CancelOrder(ctx context.Context, caller common.Address, order *chain.Order) error {
	hash, err := e.HashOrder(order)
	if err != nil {
		return err
	}
	if caller != order.Maker {
		return newError(ErrAccessDenied, "%s is not the maker of order %s", caller.Hex(), hash.Hex())
	}
	return e.CancelOrderByHash(ctx, caller, order.Traits, hash)
}

// CancelOrderByHash cancels the order of maker with the given traits and
// hash. Bitmap orders have their nonce bit set; remaining-amount orders are
// marked exhausted.
func (e *Engine) CancelOrderByHash(ctx context.Context, maker common.Address, traits chain.MakerTraits, hash common.Hash) error {
	if err := e.enter(hash); err != nil {
		return err
	}
	defer e.exit(hash)

	return e.atomically(func() error {
		if traits.UseBitInvalidator() {
			return e.massInvalidate(maker, traits.NonceOrEpoch, nil)
		}
		raw := e.rawRemaining(maker, hash)
		if raw.Eq(uint256.NewInt(1)) {
			log.Debugf("Order %s of %s is already exhausted", hash, maker)
			return nil
		}
		if err := e.store.save(nsRemaining, maker, hash, uint256.NewInt(1)); err != nil {
			return err
		}
		log.Infof("Cancelled order %s of %s", hash, maker)
		return e.emit(chain.OrderCancelledLog(e.cfg.Address, hash))
	})
}

// BitsInvalidateForOrder sets the nonce bit of a bitmap order together with
// every bit of additionalMask in the same word.
func (e *Engine) BitsInvalidateForOrder(ctx context.Context, maker common.Address, traits chain.MakerTraits, additionalMask *big.Int) error {
	if !traits.UseBitInvalidator() {
		return newError(ErrOrderIsNotSuitableForMassInvalidation, "order allows multiple fills")
	}
	mask, err := maskWord(additionalMask)
	if err != nil {
		return err
	}
	return e.atomically(func() error {
		return e.massInvalidate(maker, traits.NonceOrEpoch, mask)
	})
}

func maskWord(mask *big.Int) (*uint256.Int, error) {
	if mask == nil {
		return nil, nil
	}
	word, overflow := uint256.FromBig(mask)
	if overflow || mask.Sign() < 0 {
		return nil, newError(ErrOrderIsNotSuitableForMassInvalidation, "mask is not a 256-bit word")
	}
	return word, nil
}

func (e *Engine) massInvalidate(maker common.Address, nonce uint64, mask *uint256.Int) error {
	slot, word, changed, err := e.bits.MassInvalidate(maker, nonce, mask)
	if err != nil || !changed {
		return err
	}
	log.Infof("Invalidated slot %d of %s: %s", slot, maker, word.Hex())
	return e.emit(chain.BitInvalidatorUpdatedLog(e.cfg.Address, maker, new(big.Int).SetUint64(slot), word.ToBig()))
}

// IncreaseEpoch advances a maker's series by one, invalidating every order
// of the series signed at the previous epoch.
func (e *Engine) IncreaseEpoch(ctx context.Context, maker common.Address, series uint64) (uint64, error) {
	return e.AdvanceEpoch(ctx, maker, series, 1)
}

// AdvanceEpoch advances a maker's series by amount, from 1 to 255.
func (e *Engine) AdvanceEpoch(ctx context.Context, maker common.Address, series, amount uint64) (uint64, error) {
	var epoch uint64
	err := e.atomically(func() error {
		var err error
		if epoch, err = e.epochs.Advance(maker, series, amount); err != nil {
			return err
		}
		log.Infof("Series %d of %s advanced to epoch %d", series, maker, epoch)
		return e.emit(chain.EpochIncreasedLog(e.cfg.Address, maker,
			new(big.Int).SetUint64(series), new(big.Int).SetUint64(epoch)))
	})
	if err != nil {
		return 0, err
	}
	return epoch, nil
}
