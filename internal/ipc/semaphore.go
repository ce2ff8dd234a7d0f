// Package ipc models the synchronization primitives of the simulated kernel.
// Processes are identified by pid and never block a goroutine: a failed Wait
// parks the pid on the semaphore queue and a later Signal reports which pid
// was woken. The caller decides how to resume it.
package ipc

import (
	"io"
	"log/slog"
	"sort"

	"github.com/orizon-lang/kernelsim/internal/errors"
)

type options struct {
	logger *slog.Logger
}

// Option configures the primitives of this package.
type Option func(*options)

// WithLogger routes wait, signal and meal events to logger at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Semaphore is a counting semaphore. A negative count is the number of
// parked processes.
type Semaphore struct {
	name    string
	count   int
	waiting []int
	logger  *slog.Logger
}

// NewSemaphore creates a semaphore with the given initial count.
func NewSemaphore(name string, initial int, opts ...Option) (*Semaphore, error) {
	if initial < 0 {
		return nil, errors.InvalidConfig("semaphore."+name, "initial count must not be negative")
	}
	return &Semaphore{
		name:   name,
		count:  initial,
		logger: buildOptions(opts).logger,
	}, nil
}

// Name returns the semaphore name.
func (s *Semaphore) Name() string { return s.name }

// Count returns the current count.
func (s *Semaphore) Count() int { return s.count }

// Waiting returns the parked pids in wake-up order.
func (s *Semaphore) Waiting() []int {
	return append([]int(nil), s.waiting...)
}

// Wait decrements the count. It reports false when pid has to block, in
// which case pid is parked until a Signal wakes it.
func (s *Semaphore) Wait(pid int) bool {
	s.count--
	if s.count < 0 {
		s.waiting = append(s.waiting, pid)
		s.logger.Debug("process blocked", "semaphore", s.name, "pid", pid, "count", s.count)
		return false
	}
	s.logger.Debug("process passed", "semaphore", s.name, "pid", pid, "count", s.count)
	return true
}

// TryWait decrements the count only when that does not block.
func (s *Semaphore) TryWait(pid int) bool {
	if s.count <= 0 {
		return false
	}
	return s.Wait(pid)
}

// Signal increments the count and returns the pid it woke, if any.
func (s *Semaphore) Signal() (int, bool) {
	s.count++
	if s.count <= 0 && len(s.waiting) > 0 {
		pid := s.waiting[0]
		s.waiting = s.waiting[1:]
		s.logger.Debug("process woken", "semaphore", s.name, "pid", pid, "count", s.count)
		return pid, true
	}
	s.logger.Debug("signal", "semaphore", s.name, "count", s.count)
	return 0, false
}

// ============================================================================
// Registry
// ============================================================================

// SemaphoreState describes one named semaphore.
type SemaphoreState struct {
	Name    string `json:"name"`
	Count   int    `json:"count"`
	Waiting []int  `json:"waiting,omitempty"`
}

// Registry holds the named semaphores of a simulation.
type Registry struct {
	sems map[string]*Semaphore
	opts []Option
}

// NewRegistry creates an empty registry. opts apply to every semaphore it
// creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{sems: make(map[string]*Semaphore), opts: opts}
}

// Create adds a semaphore. Names are unique.
func (r *Registry) Create(name string, initial int) (*Semaphore, error) {
	if _, dup := r.sems[name]; dup {
		return nil, errors.InvalidConfig("semaphore."+name, "already exists")
	}
	s, err := NewSemaphore(name, initial, r.opts...)
	if err != nil {
		return nil, err
	}
	r.sems[name] = s
	return s, nil
}

// Get returns the named semaphore.
func (r *Registry) Get(name string) (*Semaphore, bool) {
	s, ok := r.sems[name]
	return s, ok
}

// States returns every semaphore ordered by name.
func (r *Registry) States() []SemaphoreState {
	out := make([]SemaphoreState, 0, len(r.sems))
	for _, s := range r.sems {
		out = append(out, SemaphoreState{Name: s.name, Count: s.count, Waiting: s.Waiting()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
