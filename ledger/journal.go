package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// journalEntry is a modification that can be undone.
type journalEntry interface {
	revert(l *Ledger)
}

type revision struct {
	id           int
	journalIndex int
}

// journal records state modifications since the start of a transaction so
// that any snapshot taken in between can be restored.
type journal struct {
	entries        []journalEntry
	validRevisions []revision
	nextRevisionID int
}

func (j *journal) append(entry journalEntry) {
	j.entries = append(j.entries, entry)
}

func (j *journal) snapshot() int {
	id := j.nextRevisionID
	j.nextRevisionID++
	j.validRevisions = append(j.validRevisions, revision{id, len(j.entries)})
	return id
}

// revertToSnapshot undoes every entry recorded after snapshot id and drops
// the snapshots taken after it.
func (j *journal) revertToSnapshot(l *Ledger, id int) {
	idx := -1
	for i := len(j.validRevisions) - 1; i >= 0; i-- {
		if j.validRevisions[i].id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		panic(fmt.Errorf("revision id %v cannot be reverted", id))
	}
	index := j.validRevisions[idx].journalIndex
	for i := len(j.entries) - 1; i >= index; i-- {
		j.entries[i].revert(l)
	}
	j.entries = j.entries[:index]
	j.validRevisions = j.validRevisions[:idx]
}

func (j *journal) reset() {
	j.entries = j.entries[:0]
	j.validRevisions = j.validRevisions[:0]
}

type (
	storageChange struct {
		addr common.Address
		key  common.Hash
		prev common.Hash
	}
	balanceChange struct {
		addr common.Address
		prev *big.Int
	}
	addLogChange struct{}
)

func (ch storageChange) revert(l *Ledger) {
	l.setStorage(ch.addr, ch.key, ch.prev)
}

func (ch balanceChange) revert(l *Ledger) {
	l.setBalance(ch.addr, ch.prev)
}

func (ch addLogChange) revert(l *Ledger) {
	l.logs = l.logs[:len(l.logs)-1]
}
