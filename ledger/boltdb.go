package ledger

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.etcd.io/bbolt"
)

var (
	metaBucket     = []byte("meta")
	storageBucket  = []byte("storage")
	balancesBucket = []byte("balances")
	chainIDKey     = []byte("chainid")
	timeKey        = []byte("time")
	blockKey       = []byte("block")
)

// BoltDB persists committed ledger state in a bbolt file.
type BoltDB struct {
	*bbolt.DB
}

// NewBoltDB opens or creates the database at path.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	bdb := &BoltDB{DB: db}
	if err := bdb.makeTopLevelBuckets([][]byte{metaBucket, storageBucket, balancesBucket}); err != nil {
		db.Close()
		return nil, err
	}
	return bdb, nil
}

func (db *BoltDB) makeTopLevelBuckets(buckets [][]byte) error {
	return db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

type storageEntry struct {
	addr  common.Address
	key   common.Hash
	value common.Hash
}

type balanceEntry struct {
	addr   common.Address
	amount *big.Int
}

// changeSet is the state written by one commit.
type changeSet struct {
	chainID  *big.Int
	time     uint64
	block    uint64
	storage  []storageEntry
	balances []balanceEntry
}

func storageKey(addr common.Address, key common.Hash) []byte {
	k := make([]byte, 0, common.AddressLength+common.HashLength)
	k = append(k, addr.Bytes()...)
	return append(k, key.Bytes()...)
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// apply writes a change set in a single bbolt transaction. Zero values are
// deleted.
func (db *BoltDB) apply(cs *changeSet) error {
	return db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if err := meta.Put(chainIDKey, cs.chainID.Bytes()); err != nil {
			return err
		}
		if err := meta.Put(timeKey, uint64Bytes(cs.time)); err != nil {
			return err
		}
		if err := meta.Put(blockKey, uint64Bytes(cs.block)); err != nil {
			return err
		}

		storage := tx.Bucket(storageBucket)
		for _, e := range cs.storage {
			k := storageKey(e.addr, e.key)
			var err error
			if e.value == (common.Hash{}) {
				err = storage.Delete(k)
			} else {
				err = storage.Put(k, e.value.Bytes())
			}
			if err != nil {
				return err
			}
		}

		balances := tx.Bucket(balancesBucket)
		for _, e := range cs.balances {
			var err error
			if e.amount.Sign() == 0 {
				err = balances.Delete(e.addr.Bytes())
			} else {
				err = balances.Put(e.addr.Bytes(), e.amount.Bytes())
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

type dbState struct {
	chainID  *big.Int
	time     uint64
	block    uint64
	storage  map[common.Address]map[common.Hash]common.Hash
	balances map[common.Address]*big.Int
}

// load reads the complete committed state.
func (db *BoltDB) load() (*dbState, error) {
	st := &dbState{
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		balances: make(map[common.Address]*big.Int),
	}
	return st, db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if v := meta.Get(chainIDKey); v != nil {
			st.chainID = new(big.Int).SetBytes(v)
		}
		if v := meta.Get(timeKey); len(v) == 8 {
			st.time = binary.BigEndian.Uint64(v)
		}
		if v := meta.Get(blockKey); len(v) == 8 {
			st.block = binary.BigEndian.Uint64(v)
		}

		err := tx.Bucket(storageBucket).ForEach(func(k, v []byte) error {
			if len(k) != common.AddressLength+common.HashLength {
				return fmt.Errorf("malformed storage key %x", k)
			}
			addr := common.BytesToAddress(k[:common.AddressLength])
			slots := st.storage[addr]
			if slots == nil {
				slots = make(map[common.Hash]common.Hash)
				st.storage[addr] = slots
			}
			slots[common.BytesToHash(k[common.AddressLength:])] = common.BytesToHash(v)
			return nil
		})
		if err != nil {
			return err
		}

		return tx.Bucket(balancesBucket).ForEach(func(k, v []byte) error {
			if len(k) != common.AddressLength {
				return fmt.Errorf("malformed balance key %x", k)
			}
			st.balances[common.BytesToAddress(k)] = new(big.Int).SetBytes(v)
			return nil
		})
	})
}
