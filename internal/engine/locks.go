package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/example/ledger-core/internal/ledger"
)

// accountLock is a one-slot channel acting as a mutex that can be waited on
// with a context. refs counts holders and waiters so the table entry can be
// evicted once nobody references the account anymore.
type accountLock struct {
	ch   chan struct{}
	refs int
}

// accountLocks serializes movements per account. A movement that cannot
// acquire its ordering within the deadline fails with ErrOperationTimeout
// instead of blocking forever. Entries are reference-counted and removed on
// the last release, so the table does not grow with every account ever
// moved.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*accountLock)}
}

func (al *accountLocks) ref(accountID string) *accountLock {
	al.mu.Lock()
	defer al.mu.Unlock()

	l, ok := al.locks[accountID]
	if !ok {
		l = &accountLock{ch: make(chan struct{}, 1)}
		al.locks[accountID] = l
	}
	l.refs++
	return l
}

func (al *accountLocks) unref(accountID string) {
	al.mu.Lock()
	defer al.mu.Unlock()

	l := al.locks[accountID]
	l.refs--
	if l.refs == 0 {
		delete(al.locks, accountID)
	}
}

// acquire takes the locks for every given account in ascending identifier
// order, so two transfers between the same pair acquire in the same order
// and cannot deadlock. On success the returned release function must be
// called exactly once; on failure nothing is held.
func (al *accountLocks) acquire(ctx context.Context, accountIDs ...string) (release func(), err error) {
	ids := make([]string, len(accountIDs))
	copy(ids, accountIDs)
	sort.Strings(ids)

	type taken struct {
		id   string
		lock *accountLock
	}
	var held []taken
	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].lock.ch
			al.unref(held[i].id)
		}
	}

	for _, id := range ids {
		l := al.ref(id)
		select {
		case l.ch <- struct{}{}:
			held = append(held, taken{id: id, lock: l})
		case <-ctx.Done():
			al.unref(id)
			releaseHeld()
			return nil, ledger.ErrOperationTimeout
		}
	}
	return releaseHeld, nil
}
