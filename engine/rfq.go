package engine

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kaifufi/limit-order-go/chain"
)

// RFQFillRequest describes a fill of an RFQ order.
type RFQFillRequest struct {
	Order *chain.OrderRFQ
	// Signature is r ++ vs for an EOA maker, or whatever the maker wallet
	// accepts through isValidSignature.
	Signature []byte
	// Amount is the driving amount. Zero fills the whole order.
	Amount         *big.Int
	AmountIsMaking bool
	// Target receives the maker asset. Zero means the taker.
	Target      common.Address
	Interaction *Interaction
}

// HashOrderRFQ returns the EIP712 digest of an RFQ order.
func (e *Engine) HashOrderRFQ(order *chain.OrderRFQ) (common.Hash, error) {
	hash, err := chain.HashOrderRFQ(e.domain, order)
	if err != nil {
		return common.Hash{}, wrapError(ErrInvalidOrder, err, "hash rfq order")
	}
	return hash, nil
}

// FillOrderRFQ fills an RFQ order on behalf of taker. The taker interaction
// may fill other orders; re-entering the same order fails.
func (e *Engine) FillOrderRFQ(ctx context.Context, taker common.Address, req *RFQFillRequest) (*FillResult, error) {
	if req == nil || req.Order == nil {
		return nil, newError(ErrInvalidOrder, "no rfq order")
	}
	hash, err := e.HashOrderRFQ(req.Order)
	if err != nil {
		return nil, err
	}
	if err := e.enter(hash); err != nil {
		return nil, err
	}
	defer e.exit(hash)

	var res *FillResult
	err = e.atomically(func() error {
		var err error
		res, err = e.fillRFQ(ctx, taker, hash, req)
		return err
	})
	if err != nil {
		log.Debugf("RFQ fill of order %s by %s failed: %v", hash, taker, err)
		return nil, err
	}
	log.Infof("Filled RFQ order %s by %s: making %s, taking %s", hash, taker, res.MakingAmount, res.TakingAmount)
	return res, nil
}

func (e *Engine) fillRFQ(ctx context.Context, taker common.Address, hash common.Hash, req *RFQFillRequest) (*FillResult, error) {
	order := req.Order
	if order.AllowedSender != (common.Address{}) && order.AllowedSender != taker {
		return nil, newError(ErrPrivateOrder, "rfq order %s is not open to %s", hash.Hex(), taker.Hex())
	}
	now, err := e.host.Timestamp(ctx)
	if err != nil {
		return nil, err
	}
	if order.Expiration != 0 && now > order.Expiration {
		return nil, newError(ErrOrderExpired, "rfq order %s expired at %d", hash.Hex(), order.Expiration)
	}
	if err := e.rfqBits.CheckAndInvalidate(order.Maker, order.ID); err != nil {
		return nil, err
	}
	if err := validateSignature(ctx, e.host, e.cfg.Address, order.Maker, hash, req.Signature, signatureCompact); err != nil {
		return nil, err
	}

	making, taking, err := rfqAmounts(order, orZero(req.Amount), req.AmountIsMaking)
	if err != nil {
		return nil, err
	}

	recipient := req.Target
	if recipient == (common.Address{}) {
		recipient = taker
	}
	makerAsset := &chain.ERC20Asset{Token: order.MakerAsset}
	if err := e.transfer(ctx, makerAsset, order.Maker, recipient, making, ErrTransferFromMakerToTakerFailed); err != nil {
		return nil, err
	}
	if req.Interaction != nil && req.Interaction.Target != (common.Address{}) {
		remaining := new(big.Int).Sub(order.MakingAmount, making)
		if err := e.interact(ctx, req.Interaction, hash, order.Maker, taker, making, taking, remaining); err != nil {
			return nil, err
		}
	}
	takerAsset := &chain.ERC20Asset{Token: order.TakerAsset}
	if err := e.transfer(ctx, takerAsset, taker, order.Maker, taking, ErrTransferFromTakerToMakerFailed); err != nil {
		return nil, err
	}

	if err := e.emit(chain.OrderFilledRFQLog(e.cfg.Address, hash, making)); err != nil {
		return nil, err
	}
	return &FillResult{
		OrderHash:    hash,
		MakingAmount: making,
		TakingAmount: taking,
		Remaining:    new(big.Int),
	}, nil
}

func rfqAmounts(order *chain.OrderRFQ, amount *big.Int, isMaking bool) (making, taking *big.Int, err error) {
	switch {
	case amount.Sign() < 0:
		return nil, nil, newError(ErrSwapWithZeroAmount, "negative amount")
	case amount.Sign() == 0:
		making = new(big.Int).Set(order.MakingAmount)
		taking = new(big.Int).Set(order.TakingAmount)
	case isMaking:
		if amount.Cmp(order.MakingAmount) > 0 {
			return nil, nil, newError(ErrMakingAmountExceeded, "making %s of %s", amount, order.MakingAmount)
		}
		making = new(big.Int).Set(amount)
		taking = GetTakingAmount(order.MakingAmount, order.TakingAmount, making)
	default:
		if amount.Cmp(order.TakingAmount) > 0 {
			return nil, nil, newError(ErrTakingAmountExceeded, "taking %s of %s", amount, order.TakingAmount)
		}
		taking = new(big.Int).Set(amount)
		making = GetMakingAmount(order.MakingAmount, order.TakingAmount, taking)
	}
	if making.Sign() == 0 || taking.Sign() == 0 {
		return nil, nil, newError(ErrSwapWithZeroAmount, "making %s, taking %s", making, taking)
	}
	return making, taking, nil
}

// CancelOrderRFQ sets the bit of an RFQ order id, plus any bits of
// additionalMask in the same word.
func (e *Engine) CancelOrderRFQ(ctx context.Context, maker common.Address, id uint64, additionalMask *big.Int) error {
	mask, err := maskWord(additionalMask)
	if err != nil {
		return err
	}
	return e.atomically(func() error {
		slot, word, changed, err := e.rfqBits.MassInvalidate(maker, id, mask)
		if err != nil || !changed {
			return err
		}
		log.Infof("Invalidated RFQ slot %d of %s: %s", slot, maker, word.Hex())
		return e.emit(chain.BitInvalidatorUpdatedLog(e.cfg.Address, maker, new(big.Int).SetUint64(slot), word.ToBig()))
	})
}

// InvalidatorForOrderRFQ returns the raw RFQ bitmap word of a maker's slot.
func (e *Engine) InvalidatorForOrderRFQ(maker common.Address, slot uint64) *big.Int {
	return e.rfqBits.Word(maker, slot).ToBig()
}
