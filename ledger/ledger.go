package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/kaifufi/limit-order-go/engine"
)

const maxCallDepth = 64

// Ledger errors
var (
	ErrWriteProtection     = errors.New("write protection")
	ErrInsufficientBalance = errors.New("insufficient balance for transfer")
	ErrNoContract          = errors.New("no contract at address")
	ErrCallDepth           = errors.New("max call depth exceeded")
	ErrRevert              = errors.New("execution reverted")
)

func revert(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrRevert, fmt.Sprintf(format, args...))
}

// Contract is account code implemented in Go. Run executes a call after
// msg.Value has been credited to the contract. A returned error reverts
// every effect of the call.
type Contract interface {
	Run(ctx context.Context, l *Ledger, msg *engine.Message) ([]byte, error)
}

// ContractFunc adapts a function to Contract.
type ContractFunc func(ctx context.Context, l *Ledger, msg *engine.Message) ([]byte, error)

// Run calls f.
func (f ContractFunc) Run(ctx context.Context, l *Ledger, msg *engine.Message) ([]byte, error) {
	return f(ctx, l, msg)
}

// Config configures a Ledger.
type Config struct {
	ChainID *big.Int
	// Timestamp is the initial clock of a fresh ledger.
	Timestamp uint64
	// DB persists committed state. Nil keeps state in memory only.
	DB *BoltDB
}

// Ledger is an in-process account ledger with Go contracts and journaled
// storage. It implements engine.Host.
//
// Host methods do not lock. They must run inside Transact, Simulate or,
// for reads without calls, View.
type Ledger struct {
	mtx       sync.RWMutex
	chainID   *big.Int
	time      uint64
	block     uint64
	balances  map[common.Address]*big.Int
	storage   map[common.Address]map[common.Hash]common.Hash
	contracts map[common.Address]Contract
	journal   journal
	logs      []*types.Log
	static    int
	depth     int

	db            *BoltDB
	dirtyStorage  map[common.Address]map[common.Hash]struct{}
	dirtyBalances map[common.Address]struct{}

	subMtx  sync.Mutex
	subs    map[uint64]chan *types.Log
	nextSub uint64
}

var _ engine.Host = (*Ledger)(nil)

// New creates a Ledger, restoring committed state from cfg.DB when set.
func New(cfg *Config) (*Ledger, error) {
	if cfg == nil || cfg.ChainID == nil {
		return nil, errors.New("chain id is required")
	}
	l := &Ledger{
		chainID:       new(big.Int).Set(cfg.ChainID),
		time:          cfg.Timestamp,
		balances:      make(map[common.Address]*big.Int),
		storage:       make(map[common.Address]map[common.Hash]common.Hash),
		contracts:     make(map[common.Address]Contract),
		db:            cfg.DB,
		dirtyStorage:  make(map[common.Address]map[common.Hash]struct{}),
		dirtyBalances: make(map[common.Address]struct{}),
		subs:          make(map[uint64]chan *types.Log),
	}
	if l.db == nil {
		return l, nil
	}
	st, err := l.db.load()
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger state: %w", err)
	}
	if st.chainID != nil && st.chainID.Cmp(l.chainID) != 0 {
		return nil, fmt.Errorf("database holds chain %s, not %s", st.chainID, l.chainID)
	}
	if st.time > 0 {
		l.time = st.time
	}
	l.block = st.block
	l.balances = st.balances
	l.storage = st.storage
	log.Infof("Restored ledger at block %d, time %d: %d accounts with balance, %d with storage",
		l.block, l.time, len(l.balances), len(l.storage))
	return l, nil
}

// Deploy installs code at addr, replacing any previous code.
func (l *Ledger) Deploy(addr common.Address, c Contract) {
	l.mtx.Lock()
	l.contracts[addr] = c
	l.mtx.Unlock()
	log.Debugf("Deployed %T at %s", c, addr)
}

// BlockNumber returns the number of committed transactions.
func (l *Ledger) BlockNumber() uint64 {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return l.block
}

// Now returns the ledger clock.
func (l *Ledger) Now() uint64 {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return l.time
}

// Warp sets the ledger clock.
func (l *Ledger) Warp(t uint64) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.time = t
	if l.db != nil {
		return l.db.apply(&changeSet{chainID: l.chainID, time: l.time, block: l.block})
	}
	return nil
}

// Transact runs fn as one transaction. If fn fails, or its changes cannot be
// persisted, every state change it made is reverted. Otherwise the logs it
// emitted are returned and published to subscribers.
func (l *Ledger) Transact(fn func() error) ([]*types.Log, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	l.logs = l.logs[:0]
	snap := l.Snapshot()
	if err := fn(); err != nil {
		l.RevertToSnapshot(snap)
		l.journal.reset()
		return nil, err
	}
	l.block++
	if err := l.flush(); err != nil {
		l.block--
		l.RevertToSnapshot(snap)
		l.journal.reset()
		l.logs = l.logs[:0]
		return nil, err
	}
	logs := make([]*types.Log, len(l.logs))
	txHash := crypto.Keccak256Hash(l.chainID.Bytes(), new(big.Int).SetUint64(l.block).Bytes())
	for i, lg := range l.logs {
		lg.BlockNumber = l.block
		lg.TxHash = txHash
		lg.Index = uint(i)
		logs[i] = lg
	}
	l.logs = l.logs[:0]
	l.journal.reset()
	l.publish(logs)
	return logs, nil
}

// Simulate runs fn against current state and reverts everything it did.
func (l *Ledger) Simulate(fn func() error) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	n := len(l.logs)
	snap := l.Snapshot()
	err := fn()
	l.RevertToSnapshot(snap)
	l.journal.reset()
	l.logs = l.logs[:n]
	return err
}

// View runs fn under the read lock. fn may read state but must not make
// calls.
func (l *Ledger) View(fn func() error) error {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return fn()
}

// ChainID implements engine.Reader.
func (l *Ledger) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(l.chainID), nil
}

// Timestamp implements engine.Reader.
func (l *Ledger) Timestamp(context.Context) (uint64, error) {
	return l.time, nil
}

// HasCode implements engine.Reader.
func (l *Ledger) HasCode(_ context.Context, addr common.Address) (bool, error) {
	return l.contracts[addr] != nil, nil
}

// StaticCall implements engine.Reader. Any write attempted by the callee
// fails with ErrWriteProtection.
func (l *Ledger) StaticCall(ctx context.Context, from, to common.Address, data []byte) ([]byte, error) {
	l.static++
	defer func() { l.static-- }()
	return l.Call(ctx, &engine.Message{From: from, To: to, Data: data})
}

// Call implements engine.Host.
func (l *Ledger) Call(ctx context.Context, msg *engine.Message) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.depth >= maxCallDepth {
		return nil, ErrCallDepth
	}
	snap := l.Snapshot()
	ret, err := l.call(ctx, msg)
	if err != nil {
		l.RevertToSnapshot(snap)
		return nil, err
	}
	return ret, nil
}

func (l *Ledger) call(ctx context.Context, msg *engine.Message) ([]byte, error) {
	if v := msg.Value; v != nil && v.Sign() != 0 {
		if err := l.transferValue(msg.From, msg.To, v); err != nil {
			return nil, err
		}
	}
	c := l.contracts[msg.To]
	if c == nil {
		if len(msg.Data) != 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoContract, msg.To.Hex())
		}
		return nil, nil
	}
	l.depth++
	defer func() { l.depth-- }()
	return c.Run(ctx, l, msg)
}

// GetState implements engine.Host.
func (l *Ledger) GetState(addr common.Address, key common.Hash) common.Hash {
	return l.storage[addr][key]
}

// SetState implements engine.Host.
func (l *Ledger) SetState(addr common.Address, key, value common.Hash) error {
	if l.static > 0 {
		return ErrWriteProtection
	}
	l.journal.append(storageChange{addr: addr, key: key, prev: l.GetState(addr, key)})
	l.setStorage(addr, key, value)
	return nil
}

// AddLog implements engine.Host.
func (l *Ledger) AddLog(lg *types.Log) error {
	if l.static > 0 {
		return ErrWriteProtection
	}
	l.journal.append(addLogChange{})
	l.logs = append(l.logs, lg)
	return nil
}

// Snapshot implements engine.Host.
func (l *Ledger) Snapshot() int {
	return l.journal.snapshot()
}

// RevertToSnapshot implements engine.Host.
func (l *Ledger) RevertToSnapshot(id int) {
	l.journal.revertToSnapshot(l, id)
}

// Balance returns the native balance of addr.
func (l *Ledger) Balance(addr common.Address) *big.Int {
	if b := l.balances[addr]; b != nil {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Fund credits native value to addr out of thin air.
func (l *Ledger) Fund(addr common.Address, amount *big.Int) error {
	if l.static > 0 {
		return ErrWriteProtection
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative amount %s", amount)
	}
	l.journal.append(balanceChange{addr: addr, prev: l.Balance(addr)})
	l.setBalance(addr, new(big.Int).Add(l.Balance(addr), amount))
	return nil
}

func (l *Ledger) transferValue(from, to common.Address, amount *big.Int) error {
	if l.static > 0 {
		return ErrWriteProtection
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative value %s", amount)
	}
	fromBal := l.Balance(from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal, amount)
	}
	l.journal.append(balanceChange{addr: from, prev: fromBal})
	l.setBalance(from, new(big.Int).Sub(fromBal, amount))
	toBal := l.Balance(to)
	l.journal.append(balanceChange{addr: to, prev: toBal})
	l.setBalance(to, new(big.Int).Add(toBal, amount))
	return nil
}

func (l *Ledger) setStorage(addr common.Address, key, value common.Hash) {
	slots := l.storage[addr]
	if slots == nil {
		slots = make(map[common.Hash]common.Hash)
		l.storage[addr] = slots
	}
	if value == (common.Hash{}) {
		delete(slots, key)
	} else {
		slots[key] = value
	}
	dirty := l.dirtyStorage[addr]
	if dirty == nil {
		dirty = make(map[common.Hash]struct{})
		l.dirtyStorage[addr] = dirty
	}
	dirty[key] = struct{}{}
}

func (l *Ledger) setBalance(addr common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		delete(l.balances, addr)
	} else {
		l.balances[addr] = amount
	}
	l.dirtyBalances[addr] = struct{}{}
}

// flush writes every slot and balance touched since the last flush.
func (l *Ledger) flush() error {
	defer func() {
		l.dirtyStorage = make(map[common.Address]map[common.Hash]struct{})
		l.dirtyBalances = make(map[common.Address]struct{})
	}()
	if l.db == nil {
		return nil
	}
	cs := &changeSet{chainID: l.chainID, time: l.time, block: l.block}
	for addr, keys := range l.dirtyStorage {
		for key := range keys {
			cs.storage = append(cs.storage, storageEntry{addr: addr, key: key, value: l.GetState(addr, key)})
		}
	}
	for addr := range l.dirtyBalances {
		cs.balances = append(cs.balances, balanceEntry{addr: addr, amount: l.Balance(addr)})
	}
	if err := l.db.apply(cs); err != nil {
		return fmt.Errorf("failed to persist block %d: %w", l.block, err)
	}
	return nil
}

// Subscribe returns a channel receiving every committed log, and a function
// that ends the subscription. Logs are dropped for a subscriber whose buffer
// is full.
func (l *Ledger) Subscribe(buffer int) (<-chan *types.Log, func()) {
	ch := make(chan *types.Log, buffer)
	l.subMtx.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.subMtx.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.subMtx.Lock()
			delete(l.subs, id)
			l.subMtx.Unlock()
			close(ch)
		})
	}
}

func (l *Ledger) publish(logs []*types.Log) {
	if len(logs) == 0 {
		return
	}
	l.subMtx.Lock()
	defer l.subMtx.Unlock()
	for id, ch := range l.subs {
		for _, lg := range logs {
			select {
			case ch <- lg:
			default:
				log.Warnf("Subscriber %d is full, dropping log %d of block %d", id, lg.Index, lg.BlockNumber)
			}
		}
	}
}
