// Package kernel drives the memory simulation: it schedules processes on a
// single simulated CPU and turns every tick they execute into page
// references, heap requests and disk requests against the memory core.
package kernel

import (
	"fmt"
	"slices"
	"strings"

	"github.com/orizon-lang/kernelsim/internal/errors"
)

// ============================================================================
// CPU Scheduler
// ============================================================================

// Scheduler orders ready processes. Quantum is the longest slice a process
// runs before it is preempted; zero runs it to completion.
type Scheduler interface {
	Push(p *Process)
	Next() *Process
	Len() int
	Quantum() int
	Name() string
}

// NewScheduler returns the scheduler for policy "fifo", "rr" or "sjf".
func NewScheduler(policy string, quantum int) (Scheduler, error) {
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case "fifo", "fcfs":
		return NewFIFOScheduler(), nil
	case "rr", "round-robin":
		if quantum < 1 {
			return nil, errors.InvalidConfig("scheduler.quantum", "must be at least 1 for round-robin")
		}
		return NewRoundRobinScheduler(quantum), nil
	case "sjf":
		return NewSJFScheduler(), nil
	default:
		return nil, errors.InvalidConfig("scheduler.policy", fmt.Sprintf("unknown policy %q", policy))
	}
}

// FIFOScheduler runs processes to completion in arrival order.
type FIFOScheduler struct {
	queue []*Process
}

func NewFIFOScheduler() *FIFOScheduler { return &FIFOScheduler{} }

func (s *FIFOScheduler) Push(p *Process) { s.queue = append(s.queue, p) }

func (s *FIFOScheduler) Next() *Process {
	if len(s.queue) == 0 {
		return nil
	}
	p := s.queue[0]
	s.queue = s.queue[1:]
	return p
}

func (s *FIFOScheduler) Len() int     { return len(s.queue) }
func (s *FIFOScheduler) Quantum() int { return 0 }
func (s *FIFOScheduler) Name() string { return "FIFO" }

// RoundRobinScheduler preempts after a fixed quantum and requeues at the back.
type RoundRobinScheduler struct {
	FIFOScheduler
	quantum int
}

func NewRoundRobinScheduler(quantum int) *RoundRobinScheduler {
	return &RoundRobinScheduler{quantum: quantum}
}

func (s *RoundRobinScheduler) Quantum() int { return s.quantum }
func (s *RoundRobinScheduler) Name() string { return fmt.Sprintf("RR(q=%d)", s.quantum) }

// SJFScheduler is non-preemptive shortest-job-first: the ready process with
// the least remaining burst runs next, ties going to the earlier arrival and
// then the lower pid.
type SJFScheduler struct {
	ready []*Process
}

func NewSJFScheduler() *SJFScheduler { return &SJFScheduler{} }

func (s *SJFScheduler) Push(p *Process) { s.ready = append(s.ready, p) }

func (s *SJFScheduler) Next() *Process {
	if len(s.ready) == 0 {
		return nil
	}
	best := 0
	for i, p := range s.ready[1:] {
		if shorter(p, s.ready[best]) {
			best = i + 1
		}
	}
	p := s.ready[best]
	s.ready = slices.Delete(s.ready, best, best+1)
	return p
}

func shorter(a, b *Process) bool {
	if a.Remaining != b.Remaining {
		return a.Remaining < b.Remaining
	}
	if a.Arrival != b.Arrival {
		return a.Arrival < b.Arrival
	}
	return a.PID < b.PID
}

func (s *SJFScheduler) Len() int     { return len(s.ready) }
func (s *SJFScheduler) Quantum() int { return 0 }
func (s *SJFScheduler) Name() string { return "SJF" }
