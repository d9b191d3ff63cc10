package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/kaifufi/limit-order-go/chain"
)

// Config configures an Engine.
type Config struct {
	// Address is the engine's own account. It is the verifying contract of
	// order signatures, the spender makers approve and the owner of the
	// engine's storage on the host.
	Address common.Address
	// WrappedNative is the ERC20 native value is wrapped into. Zero disables
	// native value handling.
	WrappedNative common.Address
	// CustomPredicate evaluates predicates with unknown selectors. When nil
	// they are static-called on Address, whose code on a ledger is Query.
	CustomPredicate CustomPredicate
}

// Engine verifies and settles signed limit orders on a Host.
type Engine struct {
	host    Host
	cfg     Config
	domain  *chain.EIP712Domain
	store   *store
	bits    *BitInvalidator
	rfqBits *BitInvalidator
	epochs  *EpochManager

	inFlightMtx sync.Mutex
	inFlight    map[common.Hash]struct{}
}

// New creates an Engine bound to host.
func New(ctx context.Context, host Host, cfg *Config) (*Engine, error) {
	if cfg == nil || cfg.Address == (common.Address{}) {
		return nil, errors.New("engine address is required")
	}
	chainID, err := host.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	s := &store{host: host, self: cfg.Address}
	return &Engine{
		host:     host,
		cfg:      *cfg,
		domain:   chain.NewEIP712Domain(chainID, cfg.Address),
		store:    s,
		bits:     &BitInvalidator{store: s, ns: nsBitInvalidator},
		rfqBits:  &BitInvalidator{store: s, ns: nsRFQBitInvalidator},
		epochs:   &EpochManager{store: s},
		inFlight: make(map[common.Hash]struct{}),
	}, nil
}

// Address returns the engine's account.
func (e *Engine) Address() common.Address {
	return e.cfg.Address
}

// Domain returns the EIP712 domain orders are signed under.
func (e *Engine) Domain() *chain.EIP712Domain {
	return e.domain
}

// Interaction is a taker callback run between the two transfers of a fill.
type Interaction struct {
	Target common.Address `json:"target"`
	Data   []byte         `json:"data"`
}

// FillRequest describes a fill of a standard order.
type FillRequest struct {
	Order     *chain.Order
	Signature []byte
	// Exactly one of MakingAmount and TakingAmount is non-zero, unless both
	// equal the order's amounts for a full fill.
	MakingAmount *big.Int
	TakingAmount *big.Int
	// Threshold is the maximum taking amount of a making-driven fill or the
	// minimum making amount of a taking-driven fill. Zero disables it.
	Threshold *big.Int
	// Target receives the maker asset. Zero means the taker.
	Target          common.Address
	Interaction     *Interaction
	TakerPermit     []byte // target(20) ++ calldata
	SkipMakerPermit bool
	// UnwrapNative pays a wrapped-native maker asset out as native value.
	UnwrapNative bool
	// Value is native value attached by the taker, wrapped to pay a
	// wrapped-native taker asset.
	Value *big.Int
}

// FillResult is the outcome of a successful fill.
type FillResult struct {
	OrderHash    common.Hash `json:"orderHash"`
	MakingAmount *big.Int    `json:"makingAmount"`
	TakingAmount *big.Int    `json:"takingAmount"`
	Remaining    *big.Int    `json:"remaining"`
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// HashOrder returns the EIP712 digest of an order.
func (e *Engine) HashOrder(order *chain.Order) (common.Hash, error) {
	hash, err := chain.HashOrder(e.domain, order)
	if err != nil {
		return common.Hash{}, wrapError(ErrInvalidOrder, err, "hash order")
	}
	return hash, nil
}

// enter marks an order hash as in flight for the duration of an operation.
func (e *Engine) enter(hash common.Hash) error {
	e.inFlightMtx.Lock()
	defer e.inFlightMtx.Unlock()
	if _, found := e.inFlight[hash]; found {
		return newError(ErrReentrancyDetected, "order %s is already being processed", hash.Hex())
	}
	e.inFlight[hash] = struct{}{}
	return nil
}

func (e *Engine) exit(hash common.Hash) {
	e.inFlightMtx.Lock()
	delete(e.inFlight, hash)
	e.inFlightMtx.Unlock()
}

// atomically runs fn in a host snapshot that is reverted if fn fails.
func (e *Engine) atomically(fn func() error) error {
	snap := e.host.Snapshot()
	if err := fn(); err != nil {
		e.host.RevertToSnapshot(snap)
		return err
	}
	return nil
}

// FillOrder fills a standard order on behalf of taker. All effects are
// reverted if any step fails.
func (e *Engine) FillOrder(ctx context.Context, taker common.Address, req *FillRequest) (*FillResult, error) {
	if req == nil || req.Order == nil {
		return nil, newError(ErrInvalidOrder, "no order")
	}
	hash, err := e.HashOrder(req.Order)
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
		res, err = e.fill(ctx, taker, hash, req)
		return err
	})
	if err != nil {
		log.Debugf("Fill of order %s by %s failed: %v", hash, taker, err)
		return nil, err
	}
	log.Infof("Filled order %s by %s: making %s, taking %s, remaining %s",
		hash, taker, res.MakingAmount, res.TakingAmount, res.Remaining)
	return res, nil
}

func (e *Engine) fill(ctx context.Context, taker common.Address, hash common.Hash, req *FillRequest) (*FillResult, error) {
	order := req.Order
	traits := order.Traits

	if err := checkExtension(order); err != nil {
		return nil, err
	}
	value := orZero(req.Value)
	if value.Sign() < 0 {
		return nil, newError(ErrInvalidMsgValue, "negative value")
	}
	if value.Sign() > 0 {
		if err := e.receiveValue(ctx, taker, value); err != nil {
			return nil, err
		}
	}

	if !traits.IsAllowedSender(taker) {
		return nil, newError(ErrPrivateOrder, "order %s is not open to %s", hash.Hex(), taker.Hex())
	}
	now, err := e.host.Timestamp(ctx)
	if err != nil {
		return nil, err
	}
	if traits.IsExpired(now) {
		return nil, newError(ErrOrderExpired, "order %s expired at %d", hash.Hex(), traits.Expiration)
	}
	if traits.NeedCheckEpoch {
		if traits.UseBitInvalidator() {
			return nil, newError(ErrEpochManagerAndBitInvalidatorsAreIncompatible, "order %s", hash.Hex())
		}
		if !e.epochs.EpochEquals(order.Maker, traits.Series, traits.NonceOrEpoch) {
			return nil, newError(ErrWrongSeriesNonce, "order %s has epoch %d, series %d is at %d", hash.Hex(),
				traits.NonceOrEpoch, traits.Series, e.epochs.Epoch(order.Maker, traits.Series))
		}
	}

	// Capacity. An order with stored remaining capacity was validated when
	// that capacity was established.
	remaining := new(big.Int).Set(order.MakingAmount)
	firstFill := true
	if traits.UseBitInvalidator() {
		if e.bits.IsInvalidated(order.Maker, traits.NonceOrEpoch) {
			return nil, newError(ErrInvalidatedOrder, "nonce %d of order %s already used", traits.NonceOrEpoch, hash.Hex())
		}
	} else {
		raw := e.rawRemaining(order.Maker, hash)
		switch {
		case raw.IsZero():
		case raw.Eq(uint256.NewInt(1)):
			return nil, newError(ErrInvalidatedOrder, "order %s is exhausted or cancelled", hash.Hex())
		default:
			remaining = raw.SubUint64(raw, 1).ToBig()
			firstFill = false
		}
	}
	if firstFill {
		if err := validateSignature(ctx, e.host, e.cfg.Address, order.Maker, hash, req.Signature, signatureFull); err != nil {
			return nil, err
		}
	}

	if predicate := order.Extension.Predicate; len(predicate) != 0 {
		ok, err := e.predicates().check(ctx, predicate)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, newError(ErrPredicateIsNotTrue, "order %s", hash.Hex())
		}
	}

	making, taking, err := e.resolveAmounts(ctx, req, remaining)
	if err != nil {
		return nil, err
	}

	newRemaining := new(big.Int).Sub(remaining, making)
	if traits.UseBitInvalidator() {
		if err := e.bits.CheckAndInvalidate(order.Maker, traits.NonceOrEpoch); err != nil {
			return nil, err
		}
	} else {
		stored, _ := uint256.FromBig(newRemaining)
		if err := e.store.save(nsRemaining, order.Maker, hash, stored.AddUint64(stored, 1)); err != nil {
			return nil, err
		}
	}

	if permit := order.Extension.MakerPermit; firstFill && len(permit) != 0 && !req.SkipMakerPermit {
		if err := e.permit(ctx, permit, order.Maker); err != nil {
			return nil, err
		}
	}

	recipient := req.Target
	if recipient == (common.Address{}) {
		recipient = taker
	}
	if req.UnwrapNative {
		err = e.transferUnwrapped(ctx, order.MakerAsset, order.Maker, recipient, making, ErrTransferFromMakerToTakerFailed)
	} else {
		err = e.transfer(ctx, order.MakerAsset, order.Maker, recipient, making, ErrTransferFromMakerToTakerFailed)
	}
	if err != nil {
		return nil, err
	}

	if req.Interaction != nil && req.Interaction.Target != (common.Address{}) {
		if err := e.interact(ctx, req.Interaction, hash, order.Maker, taker, making, taking, newRemaining); err != nil {
			return nil, err
		}
	}

	if len(req.TakerPermit) != 0 {
		if err := e.permit(ctx, req.TakerPermit, taker); err != nil {
			return nil, err
		}
	}
	if err := e.payMaker(ctx, order, taker, taking, value); err != nil {
		return nil, err
	}

	if err := e.emit(chain.OrderFilledLog(e.cfg.Address, hash, making, newRemaining)); err != nil {
		return nil, err
	}
	return &FillResult{
		OrderHash:    hash,
		MakingAmount: making,
		TakingAmount: taking,
		Remaining:    newRemaining,
	}, nil
}

func checkExtension(order *chain.Order) error {
	ext := order.Extension
	switch {
	case order.Traits.HasExtension && ext.IsEmpty():
		return newError(ErrMissingOrderExtension, "maker traits reference an extension")
	case !order.Traits.HasExtension && !ext.IsEmpty():
		return newError(ErrExtensionInvalid, "extension supplied but not flagged in maker traits")
	}
	if err := ext.Validate(); err != nil {
		return wrapError(ErrExtensionInvalid, err, "order extension")
	}
	return nil
}

// resolveAmounts turns the requested amounts into the making and taking
// amounts of this fill.
func (e *Engine) resolveAmounts(ctx context.Context, req *FillRequest, remaining *big.Int) (making, taking *big.Int, err error) {
	order := req.Order
	making = new(big.Int).Set(orZero(req.MakingAmount))
	taking = new(big.Int).Set(orZero(req.TakingAmount))
	threshold := orZero(req.Threshold)
	quote := &AmountQuote{Order: order, Remaining: remaining}

	makingDriven := true
	switch {
	case making.Sign() == 0 && taking.Sign() == 0:
		return nil, nil, newError(ErrSwapWithZeroAmount, "no amount requested")
	case making.Sign() < 0 || taking.Sign() < 0:
		return nil, nil, newError(ErrSwapWithZeroAmount, "negative amount requested")
	case making.Sign() != 0 && taking.Sign() != 0:
		if making.Cmp(order.MakingAmount) != 0 || taking.Cmp(order.TakingAmount) != 0 {
			return nil, nil, newError(ErrOnlyOneAmountShouldBeZero, "making %s and taking %s", making, taking)
		}
	case making.Sign() != 0:
		if taking, err = quote.TakingAmount(ctx, e.host, e.cfg.Address, making); err != nil {
			return nil, nil, err
		}
	default:
		makingDriven = false
		if making, err = quote.MakingAmount(ctx, e.host, e.cfg.Address, taking); err != nil {
			return nil, nil, err
		}
	}

	if making.Cmp(remaining) > 0 {
		return nil, nil, newError(ErrMakingAmountExceeded, "making %s, remaining %s", making, remaining)
	}
	if order.Traits.NoPartialFills && making.Cmp(order.MakingAmount) != 0 {
		return nil, nil, newError(ErrPartialFillNotAllowed, "making %s of %s", making, order.MakingAmount)
	}
	if threshold.Sign() > 0 {
		if makingDriven && taking.Cmp(threshold) > 0 {
			return nil, nil, newError(ErrTakingAmountTooHigh, "taking %s, threshold %s", taking, threshold)
		}
		if !makingDriven && making.Cmp(threshold) < 0 {
			return nil, nil, newError(ErrMakingAmountTooLow, "making %s, threshold %s", making, threshold)
		}
	}
	if making.Sign() == 0 || taking.Sign() == 0 {
		return nil, nil, newError(ErrSwapWithZeroAmount, "making %s, taking %s", making, taking)
	}
	return making, taking, nil
}

func (e *Engine) predicates() *predicateEvaluator {
	return &predicateEvaluator{
		reader: e.host,
		self:   e.cfg.Address,
		epochs: e.epochs,
		custom: e.cfg.CustomPredicate,
	}
}

func (e *Engine) rawRemaining(maker common.Address, hash common.Hash) *uint256.Int {
	return e.store.load(nsRemaining, maker, hash)
}

// RawRemaining returns the stored remaining value: zero for an untouched
// order, one for an exhausted or cancelled order, remaining+1 otherwise.
func (e *Engine) RawRemaining(maker common.Address, hash common.Hash) *big.Int {
	return e.rawRemaining(maker, hash).ToBig()
}

// Remaining returns the remaining making amount of a touched order.
func (e *Engine) Remaining(maker common.Address, hash common.Hash) (*big.Int, error) {
	raw := e.rawRemaining(maker, hash)
	if raw.IsZero() {
		return nil, newError(ErrUnknownOrder, "order %s has not been filled or cancelled", hash.Hex())
	}
	return raw.SubUint64(raw, 1).ToBig(), nil
}

// BitInvalidatorForOrder returns the raw bitmap word of a maker's slot.
func (e *Engine) BitInvalidatorForOrder(maker common.Address, slot uint64) *big.Int {
	return e.bits.Word(maker, slot).ToBig()
}

// Epoch returns the current epoch of a maker's series.
func (e *Engine) Epoch(maker common.Address, series uint64) uint64 {
	return e.epochs.Epoch(maker, series)
}

// EpochEquals reports whether a maker's series is at epoch.
func (e *Engine) EpochEquals(maker common.Address, series, epoch uint64) bool {
	return e.epochs.EpochEquals(maker, series, epoch)
}

// CheckPredicate evaluates an encoded predicate against current state.
func (e *Engine) CheckPredicate(ctx context.Context, predicate []byte) (bool, error) {
	return e.predicates().check(ctx, predicate)
}
