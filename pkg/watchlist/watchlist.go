// Package watchlist implements the bounded CommandName→Threshold store that
// the control channel mutates and the probe adapters read on every event.
// Reads must be wait-free from the probe side (§4.3); this is achieved with
// an atomic copy-on-write snapshot: writers build a new map and swap a
// pointer, readers always dereference a complete, immutable map with no
// locking and no risk of observing a partially-built update.
package watchlist

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tripwire/ratewatch/pkg/wire"
)

// DefaultCapacity is MAX_PROCESS_COUNT from §3: the compile-time bound on
// the number of distinct watchlist entries.
const DefaultCapacity = 512

// Watchlist is a bounded map from command name to threshold vector. Control
// operations (Set, Remove, Clear) are serialized by a coarse mutex, matching
// §4.3's "user-space control calls are serialized"; Get is lock-free and
// safe to call concurrently with any number of in-flight control calls.
type Watchlist struct {
	capacity int
	mu       sync.Mutex // serializes writers only
	snapshot atomic.Pointer[map[string]wire.Threshold]
}

// New creates an empty Watchlist bounded at capacity entries.
func New(capacity int) *Watchlist {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	w := &Watchlist{capacity: capacity}
	empty := make(map[string]wire.Threshold)
	w.snapshot.Store(&empty)
	return w
}

// Get returns the threshold configured for name and whether an entry exists.
// Called from the probe adapter on every event; allocates nothing and never
// blocks, tolerating a stale read across a concurrent Set/Remove/Clear.
func (w *Watchlist) Get(name string) (wire.Threshold, bool) {
	m := *w.snapshot.Load()
	th, ok := m[name]
	return th, ok
}

// Set inserts or replaces the threshold for name. It fails if the store is
// at capacity and name is not already present, matching §4.3's "fails if
// the store is full and the key is absent". Calling Set twice for the same
// name replaces the prior value (idempotent in the sense §8 requires).
func (w *Watchlist) Set(name string, th wire.Threshold) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	old := *w.snapshot.Load()
	_, exists := old[name]
	if !exists && len(old) >= w.capacity {
		return fmt.Errorf("watchlist: at capacity (%d entries), cannot add %q", w.capacity, name)
	}

	next := make(map[string]wire.Threshold, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[name] = th

	w.snapshot.Store(&next)
	return nil
}

// Remove deletes name from the store. It is a no-op if name is absent.
func (w *Watchlist) Remove(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	old := *w.snapshot.Load()
	if _, ok := old[name]; !ok {
		return
	}

	next := make(map[string]wire.Threshold, len(old)-1)
	for k, v := range old {
		if k != name {
			next[k] = v
		}
	}
	w.snapshot.Store(&next)
}

// Clear removes every entry. Calling Clear on an already-empty store is a
// no-op producing the same observable state, satisfying §8's
// "clear_monitor() followed by clear_monitor()" idempotence requirement.
func (w *Watchlist) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()

	old := *w.snapshot.Load()
	if len(old) == 0 {
		return
	}
	empty := make(map[string]wire.Threshold)
	w.snapshot.Store(&empty)
}

// Len returns the current entry count. Intended for diagnostics and tests,
// not for the probe hot path.
func (w *Watchlist) Len() int {
	return len(*w.snapshot.Load())
}
