// Package job tracks the lifecycle of story generation requests.
//
// Jobs live in memory only; the durable part of a run (script draft, finished
// story) is persisted elsewhere. After a restart, preview state is
// reconstructed from the persisted draft by the orchestrator.
package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tbleier/fabelwerk/pkg/fault"
)

// State is the phase a generation job is in.
type State string

// Job states. A job moves waiting_for_script -> preview -> generating_audio
// -> done; error is reachable from any non-terminal state.
const (
	StateWaitingForScript State = "waiting_for_script"
	StatePreview          State = "preview"
	StateGeneratingAudio  State = "generating_audio"
	StateDone             State = "done"
	StateError            State = "error"
)

// Terminal reports whether no further transition can leave the state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// DefaultTTL is how long a job record stays around after its last update.
const DefaultTTL = 30 * time.Minute

// Snapshot is a copy of a job's externally visible fields.
type Snapshot struct {
	ID        string
	State     State
	Progress  string
	Error     string
	UpdatedAt time.Time
}

type record struct {
	state     State
	progress  string
	err       string
	updatedAt time.Time
	watchers  []chan Snapshot
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the retention window for finished and stale jobs.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithClock injects the time source. Tests use this to control expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store is an in-memory job registry safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*record
	ttl  time.Duration
	now  func() time.Time
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		jobs: make(map[string]*record),
		ttl:  DefaultTTL,
		now:  time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create registers a new job in the waiting state.
func (s *Store) Create(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = &record{state: StateWaitingForScript, updatedAt: s.now()}
}

// CreateIfAbsent registers the job in the given state only when no record
// exists yet and reports whether it inserted one. An existing record is left
// untouched whatever its state, so racing callers can never reset a state
// another caller already moved forward.
func (s *Store) CreateIfAbsent(id string, state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; ok {
		return false
	}
	s.jobs[id] = &record{state: state, updatedAt: s.now()}
	return true
}

// Get returns a snapshot of the job, or fault.ErrNotFound.
func (s *Store) Get(id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.jobs[id]
	if !ok {
		return Snapshot{}, fault.NotFoundf("job %s not found", id)
	}
	return snapshotLocked(id, r), nil
}

// Set moves the job to state unconditionally and clears its progress text.
func (s *Store) Set(id string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.jobs[id]
	if !ok {
		r = &record{}
		s.jobs[id] = r
	}
	r.state = state
	r.progress = ""
	r.updatedAt = s.now()
	s.notifyLocked(id, r)
}

// Transition moves the job from exactly `from` to `to`. It fails with
// fault.ErrValidation when the job is in any other state, which makes a
// double confirm (or a confirm after completion) a no-op race-free.
func (s *Store) Transition(id string, from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.jobs[id]
	if !ok {
		return fault.NotFoundf("job %s not found", id)
	}
	if r.state != from {
		return fault.Validationf("job %s is %s, not %s", id, r.state, from)
	}
	r.state = to
	r.progress = ""
	r.updatedAt = s.now()
	s.notifyLocked(id, r)
	return nil
}

// Progress updates the job's human-readable progress text.
func (s *Store) Progress(id, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.jobs[id]
	if !ok {
		return
	}
	r.progress = text
	r.updatedAt = s.now()
	s.notifyLocked(id, r)
}

// Fail moves the job to the error state with a message for the caller.
func (s *Store) Fail(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.jobs[id]
	if !ok {
		r = &record{}
		s.jobs[id] = r
	}
	r.state = StateError
	r.err = err.Error()
	r.updatedAt = s.now()
	s.notifyLocked(id, r)
}

// Watch subscribes to state and progress changes for a job. The returned
// channel closes when the job reaches a terminal state or cancel is called.
// The current snapshot is delivered first.
func (s *Store) Watch(id string) (<-chan Snapshot, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.jobs[id]
	if !ok {
		return nil, nil, fault.NotFoundf("job %s not found", id)
	}

	ch := make(chan Snapshot, 8)
	ch <- snapshotLocked(id, r)
	if r.state.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}
	r.watchers = append(r.watchers, ch)

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, ok := s.jobs[id]
		if !ok {
			return
		}
		for i, w := range rec.watchers {
			if w == ch {
				rec.watchers = append(rec.watchers[:i], rec.watchers[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel, nil
}

// Sweep runs expiry in the background until ctx is done. Interval defaults
// to a tenth of the TTL.
func (s *Store) Sweep(ctx context.Context) {
	interval := s.ttl / 10
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.expire(); n > 0 {
				slog.Debug("expired stale jobs", "count", n)
			}
		}
	}
}

// expire drops jobs whose last update is older than the TTL and returns how
// many were removed. In-flight jobs heartbeat via Progress, so only stuck or
// abandoned records age out.
func (s *Store) expire() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.ttl)
	n := 0
	for id, r := range s.jobs {
		if r.updatedAt.Before(cutoff) {
			for _, w := range r.watchers {
				close(w)
			}
			delete(s.jobs, id)
			n++
		}
	}
	return n
}

// Len reports the number of live job records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func snapshotLocked(id string, r *record) Snapshot {
	return Snapshot{
		ID:        id,
		State:     r.state,
		Progress:  r.progress,
		Error:     r.err,
		UpdatedAt: r.updatedAt,
	}
}

// notifyLocked pushes the current snapshot to all watchers, dropping updates
// for slow consumers rather than blocking state changes. Terminal states
// close the watcher channels.
func (s *Store) notifyLocked(id string, r *record) {
	snap := snapshotLocked(id, r)
	for _, w := range r.watchers {
		select {
		case w <- snap:
		default:
		}
	}
	if r.state.Terminal() {
		for _, w := range r.watchers {
			close(w)
		}
		r.watchers = nil
	}
}
