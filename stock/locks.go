package stock

import (
	"sort"
	"sync"
)

// PartLocks hands out one exclusive mutex per part.
// A stock-out holds its part's lock from the availability check until commit,
// so two writers on the same part can never both pass the check against the
// same baseline. Entries are reference counted and dropped when idle.
type PartLocks struct {
	mu    sync.Mutex
	locks map[PartID]*partLock
}

type partLock struct {
	mu   sync.Mutex
	refs int
}

func NewPartLocks() *PartLocks {
	return &PartLocks{locks: make(map[PartID]*partLock)}
}

// Lock acquires the locks for all given parts and returns the release func.
// Parts are locked in sorted order so multi-part callers cannot deadlock.
func (pl *PartLocks) Lock(ids ...PartID) (unlock func()) {
	ids = uniqueSorted(ids)

	held := make([]*partLock, 0, len(ids))
	for _, id := range ids {
		l := pl.acquire(id)
		l.mu.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			pl.release(ids[i])
		}
	}
}

func (pl *PartLocks) acquire(id PartID) *partLock {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	l, ok := pl.locks[id]
	if !ok {
		l = &partLock{}
		pl.locks[id] = l
	}
	l.refs++
	return l
}

func (pl *PartLocks) release(id PartID) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	l := pl.locks[id]
	l.refs--
	if l.refs == 0 {
		delete(pl.locks, id)
	}
}

func uniqueSorted(ids []PartID) []PartID {
	out := append([]PartID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}
		out[n] = id
		n++
	}
	return out[:n]
}
