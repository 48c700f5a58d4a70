package state

import (
	"errors"
	"sync"
	"time"

	lru "github.com/patrickmn/go-cache"
)

// ErrAbandoned is the result of an entry whose last owner left before the load settled.
var ErrAbandoned = errors.New("script load abandoned")

// LoadState is the lifecycle of a single injected script tag.
type LoadState int

const (
	Unloaded LoadState = iota
	Loading
	Loaded
	Failed
)

func (s LoadState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return "unloaded"
	}
}

func (s LoadState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Entry tracks the load of one script tag. It settles exactly once.
type Entry struct {
	key  string
	done chan struct{}

	mu      sync.Mutex
	state   LoadState
	err     error
	owners  map[string]struct{}
	started time.Time
	settled time.Time
}

func newEntry(key string) *Entry {
	return &Entry{
		key:     key,
		done:    make(chan struct{}),
		state:   Loading,
		owners:  make(map[string]struct{}),
		started: time.Now(),
	}
}

func (e *Entry) Key() string {
	return e.key
}

// Done is closed once the entry settles.
func (e *Entry) Done() <-chan struct{} {
	return e.done
}

// Err returns the settle error. It is nil while loading and after a successful load.
func (e *Entry) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Entry) State() LoadState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Entry) settle(to LoadState, err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Loading {
		return false
	}
	e.state = to
	e.err = err
	e.settled = time.Now()
	close(e.done)
	return true
}

func (e *Entry) join(owner string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.owners[owner] = struct{}{}
}

func (e *Entry) leave(owner string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.owners, owner)
	return len(e.owners)
}

// Registry maps a key (the challenge version) to the entry tracking its script tag.
type Registry struct {
	mu sync.Mutex
	// entries is a go-cache store imported as lru; it is not an LRU.
	// Nothing expires or is evicted: an entry leaves only through remove,
	// once its last owner releases it or its load fails. Items feeds
	// Snapshot. mu serializes the read, create and delete sequences that
	// go-cache does not make atomic.
	entries *lru.Cache
}

func NewRegistry() *Registry {
	return &Registry{
		entries: lru.New(lru.NoExpiration, 0),
	}
}

// Acquire joins owner to the entry for key, creating it when none exists.
// When the registry has no entry but present reports the tag is already in
// the document, the new entry is recorded as loaded and nobody owns it.
// created is true only when the caller is responsible for injecting the tag.
func (r *Registry) Acquire(key, owner string, present func() bool) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.entries.Get(key); ok {
		e := v.(*Entry)
		e.join(owner)
		return e, false
	}

	e := newEntry(key)
	r.entries.Set(key, e, lru.NoExpiration)
	if present != nil && present() {
		e.settle(Loaded, nil)
		return e, false
	}

	e.join(owner)
	return e, true
}

// Complete settles e. A failed entry is dropped so a later Acquire starts over;
// drop, when non-nil, runs under the registry lock right after. It reports
// false when e had already settled or was abandoned.
func (r *Registry) Complete(e *Entry, err error, drop func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	to := Loaded
	if err != nil {
		to = Failed
	}
	if !e.settle(to, err) {
		return false
	}
	if err != nil {
		r.remove(e)
		if drop != nil {
			drop()
		}
	}
	return true
}

// Release removes owner from e. When the last owner leaves while the load is
// still outstanding the entry is dropped, drop runs under the registry lock,
// and Release returns true.
func (r *Registry) Release(e *Entry, owner string, drop func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.leave(owner) > 0 {
		return false
	}
	if !e.settle(Unloaded, ErrAbandoned) {
		return false
	}
	r.remove(e)
	if drop != nil {
		drop()
	}
	return true
}

// Get returns the load state for key.
func (r *Registry) Get(key string) LoadState {
	v, ok := r.entries.Get(key)
	if !ok {
		return Unloaded
	}
	return v.(*Entry).State()
}

func (r *Registry) Snapshot() State {
	return GetState(r.entries.Items())
}

// remove drops e only if it is still the current entry for its key.
func (r *Registry) remove(e *Entry) {
	v, ok := r.entries.Get(e.key)
	if ok && v.(*Entry) == e {
		r.entries.Delete(e.key)
	}
}

// ScriptEntry is the serializable view of an Entry.
type ScriptEntry struct {
	State   LoadState `json:"state"`
	Owners  int       `json:"owners"`
	Error   string    `json:"error,omitempty"`
	Started int64     `json:"started"`           // Unix timestamp in nanoseconds
	Settled int64     `json:"settled,omitempty"` // 0 while loading
}

type State struct {
	Scripts map[string]ScriptEntry `json:"scripts"`
}

func GetState(items map[string]lru.Item) State {
	state := State{
		Scripts: make(map[string]ScriptEntry, len(items)),
	}

	for k, v := range items {
		e, ok := v.Object.(*Entry)
		if !ok {
			continue
		}
		e.mu.Lock()
		se := ScriptEntry{
			State:   e.state,
			Owners:  len(e.owners),
			Started: e.started.UnixNano(),
		}
		if e.err != nil {
			se.Error = e.err.Error()
		}
		if !e.settled.IsZero() {
			se.Settled = e.settled.UnixNano()
		}
		e.mu.Unlock()
		state.Scripts[k] = se
	}

	return state
}
