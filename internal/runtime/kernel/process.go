package kernel

import (
	"fmt"
	"slices"

	"github.com/orizon-lang/kernelsim/internal/config"
)

// ProcessState represents the lifecycle state of a simulated process.
type ProcessState int

const (
	StateNew ProcessState = iota
	StateReady
	StateRunning
	StateTerminated
)

func (s ProcessState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ProcessState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ProcessState) UnmarshalText(text []byte) error {
	for st := StateNew; st <= StateTerminated; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown process state %q", text)
}

// heapHold is a live heap block and the executed-tick count at which it is
// released; -1 holds it until termination.
type heapHold struct {
	addr   uint64
	freeAt int
}

// Process is a simulated process. Each CPU tick it executes touches its next
// page reference.
type Process struct {
	PID        int
	Arrival    uint64
	Burst      int
	Remaining  int
	References []int
	Heap       []config.HeapRequest // ordered by issue tick
	Disk       []int

	State    ProcessState
	Start    uint64
	Finish   uint64
	Started  bool
	Executed int

	heapNext     int
	held         []heapHold
	heapFailures int
	thrashing    int
}

// NewProcess creates a process from its configuration.
func NewProcess(pc config.ProcessConfig) *Process {
	heap := slices.Clone(pc.Heap)
	slices.SortStableFunc(heap, func(a, b config.HeapRequest) int { return a.At - b.At })

	burst := pc.EffectiveBurst()
	return &Process{
		PID:        pc.PID,
		Arrival:    pc.Arrival,
		Burst:      burst,
		Remaining:  burst,
		References: slices.Clone(pc.References),
		Heap:       heap,
		Disk:       slices.Clone(pc.Disk),
		State:      StateNew,
	}
}

// NextReference returns the page touched by the next tick.
func (p *Process) NextReference() int {
	return p.References[p.Executed%len(p.References)]
}

// Done reports whether the process has used its whole burst.
func (p *Process) Done() bool {
	return p.Remaining <= 0
}

// Turnaround returns finish minus arrival, or zero while running.
func (p *Process) Turnaround() uint64 {
	if p.State != StateTerminated {
		return 0
	}
	return p.Finish - p.Arrival
}

// Waiting returns the time spent ready but not running.
func (p *Process) Waiting() uint64 {
	t := p.Turnaround()
	if t < uint64(p.Burst) {
		return 0
	}
	return t - uint64(p.Burst)
}

// Response returns the delay between arrival and first dispatch.
func (p *Process) Response() uint64 {
	if !p.Started {
		return 0
	}
	return p.Start - p.Arrival
}

// dueHeap returns the heap requests issued at the current tick.
func (p *Process) dueHeap() []config.HeapRequest {
	start := p.heapNext
	for p.heapNext < len(p.Heap) && p.Heap[p.heapNext].At <= p.Executed {
		p.heapNext++
	}
	return p.Heap[start:p.heapNext]
}

// dueFrees removes and returns the held blocks released at the current tick.
func (p *Process) dueFrees() []uint64 {
	var addrs []uint64
	kept := p.held[:0]
	for _, h := range p.held {
		if h.freeAt >= 0 && h.freeAt <= p.Executed {
			addrs = append(addrs, h.addr)
			continue
		}
		kept = append(kept, h)
	}
	p.held = kept
	return addrs
}
