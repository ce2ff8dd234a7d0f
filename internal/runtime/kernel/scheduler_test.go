package kernel

import (
	stderrors "errors"
	"testing"

	"github.com/orizon-lang/kernelsim/internal/config"
	"github.com/orizon-lang/kernelsim/internal/errors"
)

func proc(pid int, arrival uint64, burst int) *Process {
	return NewProcess(config.ProcessConfig{PID: pid, Arrival: arrival, Burst: burst, References: []int{0}})
}

func drain(s Scheduler) []int {
	var pids []int
	for p := s.Next(); p != nil; p = s.Next() {
		pids = append(pids, p.PID)
	}
	return pids
}

func TestFIFOSchedulerOrder(t *testing.T) {
	s := NewFIFOScheduler()
	s.Push(proc(1, 0, 5))
	s.Push(proc(2, 0, 3))
	s.Push(proc(3, 0, 2))

	if got := drain(s); len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("expected [1 2 3]; got %v", got)
	}
	if s.Next() != nil || s.Quantum() != 0 {
		t.Fatal("expected an empty run-to-completion scheduler")
	}
}

func TestSJFSchedulerTies(t *testing.T) {
	s := NewSJFScheduler()
	s.Push(proc(4, 2, 3))
	s.Push(proc(2, 1, 3))
	s.Push(proc(3, 1, 3))
	s.Push(proc(1, 0, 9))
	s.Push(proc(5, 5, 1))

	exp := []int{5, 2, 3, 4, 1}
	got := drain(s)
	for i := range exp {
		if got[i] != exp[i] {
			t.Fatalf("expected %v; got %v", exp, got)
		}
	}
}

func TestNewScheduler(t *testing.T) {
	for _, name := range config.SchedulerPolicies {
		if _, err := NewScheduler(name, 1); err != nil {
			t.Errorf("NewScheduler(%q): %v", name, err)
		}
	}
	if s, _ := NewScheduler("rr", 4); s.Quantum() != 4 {
		t.Fatalf("expected quantum 4; got %d", s.Quantum())
	}
	if _, err := NewScheduler("rr", 0); !stderrors.Is(err, errors.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig; got %v", err)
	}
	if _, err := NewScheduler("lottery", 1); !stderrors.Is(err, errors.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig; got %v", err)
	}
}

func TestNewProcess(t *testing.T) {
	p := NewProcess(config.ProcessConfig{
		PID:        9,
		References: []int{4, 5},
		Heap:       []config.HeapRequest{{Size: 8, At: 1}, {Size: 16, At: 0}},
	})

	if p.Burst != 2 || p.Remaining != 2 || p.State != StateNew {
		t.Fatalf("unexpected process %+v", p)
	}
	if p.Heap[0].Size != 16 {
		t.Fatalf("expected heap requests ordered by tick; got %+v", p.Heap)
	}
	if due := p.dueHeap(); len(due) != 1 || due[0].Size != 16 {
		t.Fatalf("expected only the tick 0 request; got %+v", due)
	}

	if p.NextReference() != 4 {
		t.Fatal("expected first reference 4")
	}
	p.Executed = 3
	if p.NextReference() != 5 {
		t.Fatal("expected references to wrap")
	}
}
