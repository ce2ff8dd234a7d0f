// Package disk simulates disk-head scheduling: pending cylinder requests are
// ordered by a Scheduler and served by a Simulator that records head
// movement.
package disk

import (
	"fmt"
	"slices"
	"strings"

	"github.com/orizon-lang/kernelsim/internal/errors"
)

// Request is a pending access to a cylinder.
type Request struct {
	PID       int    `json:"pid"`
	Cylinder  int    `json:"cylinder"`
	Timestamp uint64 `json:"timestamp"`
}

// Scheduler orders pending requests. Next removes and returns the request to
// serve with the head at position.
type Scheduler interface {
	Add(req Request)
	Next(position int) (Request, bool)
	Len() int
	Name() string
}

// Direction is the sweep direction of the elevator policies.
type Direction int

const (
	Up Direction = iota
	Down
)

func (d Direction) String() string {
	if d == Down {
		return "down"
	}
	return "up"
}

// ParseDirection parses "up" or "down". The empty string selects Up.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "up":
		return Up, nil
	case "down":
		return Down, nil
	default:
		return Up, errors.InvalidConfig("disk.direction", fmt.Sprintf("unknown direction %q", s))
	}
}

// Policies lists the accepted scheduler names.
var Policies = []string{"fcfs", "sstf", "scan", "cscan"}

// New returns an empty scheduler for the named policy.
func New(policy string, dir Direction) (Scheduler, error) {
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case "fcfs", "fifo":
		return NewFCFS(), nil
	case "sstf":
		return NewSSTF(), nil
	case "scan", "elevator":
		return NewSCAN(dir), nil
	case "cscan", "c-scan":
		return NewCSCAN(dir), nil
	default:
		return nil, errors.InvalidConfig("disk.policy", fmt.Sprintf("unknown policy %q", policy))
	}
}

// ============================================================================
// FCFS
// ============================================================================

// FCFS serves requests in arrival order.
type FCFS struct {
	queue []Request
}

func NewFCFS() *FCFS { return &FCFS{} }

func (s *FCFS) Add(req Request) { s.queue = append(s.queue, req) }

func (s *FCFS) Next(int) (Request, bool) {
	if len(s.queue) == 0 {
		return Request{}, false
	}
	req := s.queue[0]
	s.queue = s.queue[1:]
	return req, true
}

func (s *FCFS) Len() int     { return len(s.queue) }
func (s *FCFS) Name() string { return "FCFS" }

// ============================================================================
// SSTF
// ============================================================================

// SSTF serves the request closest to the head. Equal distances go to the
// request queued first.
type SSTF struct {
	pending []Request
}

func NewSSTF() *SSTF { return &SSTF{} }

func (s *SSTF) Add(req Request) { s.pending = append(s.pending, req) }

func (s *SSTF) Next(position int) (Request, bool) {
	if len(s.pending) == 0 {
		return Request{}, false
	}
	best := 0
	for i := 1; i < len(s.pending); i++ {
		if distance(s.pending[i].Cylinder, position) < distance(s.pending[best].Cylinder, position) {
			best = i
		}
	}
	req := s.pending[best]
	s.pending = slices.Delete(s.pending, best, best+1)
	return req, true
}

func (s *SSTF) Len() int     { return len(s.pending) }
func (s *SSTF) Name() string { return "SSTF" }

// ============================================================================
// SCAN and C-SCAN
// ============================================================================

// sorted keeps pending requests ordered by cylinder, then arrival.
type sorted struct {
	pending []Request
}

func (s *sorted) Add(req Request) {
	i, _ := slices.BinarySearchFunc(s.pending, req.Cylinder, func(r Request, cyl int) int {
		if r.Cylinder <= cyl {
			return -1
		}
		return 1
	})
	s.pending = slices.Insert(s.pending, i, req)
}

func (s *sorted) Len() int { return len(s.pending) }

// above returns the first request at or above position.
func (s *sorted) above(position int) int {
	for i, r := range s.pending {
		if r.Cylinder >= position {
			return i
		}
	}
	return -1
}

// below returns the first request of the highest cylinder at or below
// position.
func (s *sorted) below(position int) int {
	idx := -1
	for i := len(s.pending) - 1; i >= 0; i-- {
		if s.pending[i].Cylinder > position {
			continue
		}
		if idx >= 0 && s.pending[i].Cylinder != s.pending[idx].Cylinder {
			break
		}
		idx = i
	}
	return idx
}

func (s *sorted) take(i int) Request {
	req := s.pending[i]
	s.pending = slices.Delete(s.pending, i, i+1)
	return req
}

// SCAN sweeps the head in one direction and reverses once no request lies
// ahead of it.
type SCAN struct {
	sorted
	dir Direction
}

func NewSCAN(dir Direction) *SCAN { return &SCAN{dir: dir} }

func (s *SCAN) Next(position int) (Request, bool) {
	if len(s.pending) == 0 {
		return Request{}, false
	}
	for range 2 {
		idx := s.below(position)
		if s.dir == Up {
			idx = s.above(position)
		}
		if idx >= 0 {
			return s.take(idx), true
		}
		s.dir = 1 - s.dir
	}
	return Request{}, false
}

// Direction returns the current sweep direction.
func (s *SCAN) Direction() Direction { return s.dir }
func (s *SCAN) Name() string         { return "SCAN" }

// CSCAN sweeps in one direction only and wraps to the far end once no
// request lies ahead of the head.
type CSCAN struct {
	sorted
	dir Direction
}

func NewCSCAN(dir Direction) *CSCAN { return &CSCAN{dir: dir} }

func (s *CSCAN) Next(position int) (Request, bool) {
	if len(s.pending) == 0 {
		return Request{}, false
	}
	if s.dir == Up {
		if idx := s.above(position); idx >= 0 {
			return s.take(idx), true
		}
		return s.take(0), true
	}
	if idx := s.below(position); idx >= 0 {
		return s.take(idx), true
	}
	return s.take(s.below(s.pending[len(s.pending)-1].Cylinder)), true
}

func (s *CSCAN) Name() string { return "C-SCAN" }

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
