package kdb

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// keyedMutex hands out one mutex per document key. Entries are never
// removed; the key space is bounded by the number of stored documents.
type keyedMutex struct {
	locks *xsync.MapOf[string, *sync.Mutex]
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: xsync.NewMapOf[string, *sync.Mutex]()}
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	m, _ := k.locks.LoadOrCompute(key, func() *sync.Mutex { return &sync.Mutex{} })
	m.Lock()
	return m.Unlock
}

// withKey runs fn holding the store lock shared and the per-document lock
// for key exclusively. Callers must not nest withKey, withShared or withExclusive.
func (db *DB) withKey(key string, fn func() error) error {
	db.store.RLock()
	defer db.store.RUnlock()
	unlock := db.keys.lock(key)
	defer unlock()
	return fn()
}

// withShared runs fn with the store lock held shared; used by read-only scans.
func (db *DB) withShared(fn func() error) error {
	db.store.RLock()
	defer db.store.RUnlock()
	return fn()
}

// withExclusive runs fn with no other document operation in flight.
func (db *DB) withExclusive(fn func() error) error {
	db.store.Lock()
	defer db.store.Unlock()
	return fn()
}
