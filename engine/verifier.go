package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kaifufi/limit-order-go/chain"
)

// Verifier runs the read-only checks of a fill against any Reader, such as a
// chain.ContractCaller on a live node. It cannot see invalidation state, so
// a verified order may still be cancelled or exhausted.
type Verifier struct {
	reader     Reader
	domain     *chain.EIP712Domain
	predicates *predicateEvaluator
	epochs     EpochReader
}

// NewVerifier creates a Verifier for orders signed for the engine at
// address. epochs and custom may be nil.
func NewVerifier(ctx context.Context, r Reader, address common.Address, epochs EpochReader, custom CustomPredicate) (*Verifier, error) {
	if address == (common.Address{}) {
		return nil, errors.New("engine address is required")
	}
	chainID, err := r.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	return &Verifier{
		reader: r,
		domain: chain.NewEIP712Domain(chainID, address),
		predicates: &predicateEvaluator{
			reader: r,
			self:   address,
			epochs: epochs,
			custom: custom,
		},
		epochs: epochs,
	}, nil
}

// VerifyOrder checks an order's extension, sender restriction, expiry,
// epoch, signature and predicate, returning the order hash.
func (v *Verifier) VerifyOrder(ctx context.Context, order *chain.Order, sig []byte, taker common.Address) (common.Hash, error) {
	hash, err := chain.HashOrder(v.domain, order)
	if err != nil {
		return common.Hash{}, wrapError(ErrInvalidOrder, err, "hash order")
	}
	traits := order.Traits
	if err := checkExtension(order); err != nil {
		return hash, err
	}
	if !traits.IsAllowedSender(taker) {
		return hash, newError(ErrPrivateOrder, "order %s is not open to %s", hash.Hex(), taker.Hex())
	}
	now, err := v.reader.Timestamp(ctx)
	if err != nil {
		return hash, err
	}
	if traits.IsExpired(now) {
		return hash, newError(ErrOrderExpired, "order %s expired at %d", hash.Hex(), traits.Expiration)
	}
	if traits.NeedCheckEpoch {
		if traits.UseBitInvalidator() {
			return hash, newError(ErrEpochManagerAndBitInvalidatorsAreIncompatible, "order %s", hash.Hex())
		}
		if v.epochs != nil {
			epoch, err := v.epochs.EpochAt(order.Maker, new(big.Int).SetUint64(traits.Series))
			if err != nil {
				return hash, err
			}
			if epoch.Cmp(new(big.Int).SetUint64(traits.NonceOrEpoch)) != 0 {
				return hash, newError(ErrWrongSeriesNonce, "order %s has epoch %d, series %d is at %s", hash.Hex(),
					traits.NonceOrEpoch, traits.Series, epoch)
			}
		}
	}
	if err := validateSignature(ctx, v.reader, v.predicates.self, order.Maker, hash, sig, signatureFull); err != nil {
		return hash, err
	}
	if predicate := order.Extension.Predicate; len(predicate) != 0 {
		ok, err := v.predicates.check(ctx, predicate)
		if err != nil {
			return hash, err
		}
		if !ok {
			return hash, newError(ErrPredicateIsNotTrue, "order %s", hash.Hex())
		}
	}
	return hash, nil
}

// Verifier returns a Verifier over the engine's host and epochs.
func (e *Engine) Verifier() *Verifier {
	return &Verifier{
		reader:     e.host,
		domain:     e.domain,
		predicates: e.predicates(),
		epochs:     e.epochs,
	}
}
