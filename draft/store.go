package draft

import (
	"errors"
	"fmt"

	"github.com/delaneyj/draftparty/optimize"
	"github.com/delaneyj/draftparty/produce"
)

var (
	ErrNoProvider      = errors.New("draft: mutate with no mounted provider")
	ErrProviderMounted = errors.New("draft: a provider is already mounted")
	ErrReaderClosed    = errors.New("draft: reader already closed")
)

type storeState uint8

const (
	stateUninitialized storeState = iota
	stateReady
)

// Recipe edits a mutable-looking draft of the current snapshot in place.
// Returning an error aborts the mutation; the store is left unchanged.
type Recipe func(d *produce.Draft) error

// Store holds the current immutable snapshot and everything needed to get it
// to readers: the active provider, the selector optimizer, and the subscribed
// reader bindings. One Store per independent state instance; nothing lives in
// package globals. Not safe for concurrent use; the host framework schedules
// all operations cooperatively on one goroutine.
type Store struct {
	state    storeState
	current  any
	provider *Provider
	queue    *optimize.Queue
	readers  []*Reader
	pending  []Recipe
	buffered bool
	equals   EqualityFunc

	batchDepth int
	batchOld   any
	batchDirty bool
}

type Option func(*Store)

// WithBufferedMutations switches the mutate-before-mount policy from a hard
// error to enqueue-and-drain: recipes accepted while no provider is mounted
// run in call order the moment one mounts.
func WithBufferedMutations() Option {
	return func(s *Store) { s.buffered = true }
}

// WithEquality replaces the default reference-equality change detection.
func WithEquality(eq EqualityFunc) Option {
	return func(s *Store) { s.equals = eq }
}

// New creates an independent state instance seeded with base.
func New(base any, opts ...Option) *Store {
	s := &Store{
		current: base,
		queue:   optimize.NewQueue(),
		equals:  RefEquality,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current snapshot.
func (s *Store) State() any {
	return s.current
}

// Mutate runs recipe against a draft of the current snapshot. A recipe that
// changes nothing observable leaves the snapshot reference identical and
// broadcasts nothing. While no provider is mounted this fails (or buffers,
// under WithBufferedMutations). Broadcasts are delivered to every reader
// before Mutate returns, except inside a batch.
func (s *Store) Mutate(recipe Recipe) error {
	if s.state != stateReady {
		if s.buffered {
			s.pending = append(s.pending, recipe)
			return nil
		}
		return fmt.Errorf("%w; mount a Provider before mutating", ErrNoProvider)
	}
	return s.apply(recipe)
}

func (s *Store) apply(recipe Recipe) error {
	old := s.current
	next, err := produce.Produce(old, recipe)
	if err != nil {
		return err
	}
	if produce.SameRef(next, old) {
		return nil
	}
	s.current = next
	if s.batchDepth > 0 {
		s.batchDirty = true
		return nil
	}
	s.broadcast(old, next)
	return nil
}

// Mutator binds a parameterized recipe to the store.
func (s *Store) Mutator(fn func(d *produce.Draft, args ...any) error) func(args ...any) error {
	return func(args ...any) error {
		return s.Mutate(func(d *produce.Draft) error {
			return fn(d, args...)
		})
	}
}

func (s *Store) StartBatch() {
	if s.batchDepth == 0 {
		s.batchOld = s.current
		s.batchDirty = false
	}
	s.batchDepth++
}

func (s *Store) EndBatch() {
	s.batchDepth--
	if s.batchDepth == 0 && s.batchDirty {
		old := s.batchOld
		s.batchOld = nil
		s.batchDirty = false
		s.broadcast(old, s.current)
	}
}

// Batch coalesces every mutation inside fn into a single broadcast against
// the pre-batch snapshot.
func (s *Store) Batch(fn func()) {
	s.StartBatch()
	defer s.EndBatch()
	fn()
}

// SelectorBit reports the flag currently assigned to sel,
// optimize.UnoptimizedBit when it has none.
func (s *Store) SelectorBit(sel *Selector) uint32 {
	return s.queue.Bit(sel)
}

// SelectorRefCount reports how many subscribed readers reference sel.
func (s *Store) SelectorRefCount(sel *Selector) int {
	return s.queue.RefCount(sel)
}
