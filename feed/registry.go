package feed

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/bartke/accountstream/account"
)

type entry struct {
	last      account.Sequence
	seen      bool
	callbacks []account.Callback
}

// Registry tracks, per subscribed account, the last accepted sequence number
// and the callbacks registered for it. All methods are safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[account.Key]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[account.Key]*entry)}
}

// Register appends callbacks to key and resets its sequence state, so the
// next update for key is accepted whatever its sequence number.
func (r *Registry) Register(key account.Key, callbacks ...account.Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}
	e.callbacks = append(e.callbacks, callbacks...)
	e.last = account.NoSequence
	e.seen = false
}

// CurrentKeys returns the set of registered keys.
func (r *Registry) CurrentKeys() mapset.Set[account.Key] {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := mapset.NewThreadUnsafeSetWithSize[account.Key](len(r.entries))
	for k := range r.entries {
		keys.Add(k)
	}
	return keys
}

// Accept records seq for key if it is newer than anything accepted since the
// key was last registered. Duplicates, regressions and unknown keys are
// rejected.
func (r *Registry) Accept(key account.Key, seq account.Sequence) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return false
	}
	if e.seen && seq <= e.last {
		return false
	}
	e.last = seq
	e.seen = true
	return true
}

// CallbacksFor returns the callbacks for key in registration order.
func (r *Registry) CallbacksFor(key account.Key) []account.Callback {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return nil
	}
	out := make([]account.Callback, len(e.callbacks))
	copy(out, e.callbacks)
	return out
}

// LastSequence returns the last accepted sequence for key and whether one
// has been accepted since registration.
func (r *Registry) LastSequence(key account.Key) (account.Sequence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok || !e.seen {
		return account.NoSequence, false
	}
	return e.last, true
}

// Has reports whether key is registered.
func (r *Registry) Has(key account.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
