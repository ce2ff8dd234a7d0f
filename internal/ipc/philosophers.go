package ipc

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/orizon-lang/kernelsim/internal/errors"
)

// PhilosopherState is the state of one diner.
type PhilosopherState int

const (
	Thinking PhilosopherState = iota
	Hungry
	Eating
)

func (s PhilosopherState) String() string {
	switch s {
	case Thinking:
		return "thinking"
	case Hungry:
		return "hungry"
	case Eating:
		return "eating"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s PhilosopherState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Philosopher is one diner at the table.
type Philosopher struct {
	ID     int              `json:"id"`
	State  PhilosopherState `json:"state"`
	Meals  int              `json:"meals"`
	Hunger int              `json:"hunger"` // steps spent hungry since the last meal
}

// DiningSummary is the outcome of a dining simulation.
type DiningSummary struct {
	Steps    int     `json:"steps"`
	Meals    []int   `json:"meals"`
	Total    int     `json:"total"`
	Average  float64 `json:"average"`
	Min      int     `json:"min"`
	Max      int     `json:"max"`
	Starving []int   `json:"starving,omitempty"`
}

// Table runs the dining philosophers in discrete steps with one binary
// semaphore per fork. Every philosopher but the last picks up the left fork
// first and the last one picks up the right fork first, so no cycle of
// waits can form. A philosopher that cannot get its second fork puts the
// first one back.
type Table struct {
	philosophers []Philosopher
	forks        []*Semaphore
	steps        int
	logger       *slog.Logger
}

// NewTable seats n philosophers, n >= 2.
func NewTable(n int, opts ...Option) (*Table, error) {
	if n < 2 {
		return nil, errors.InvalidConfig("philosophers", "at least two philosophers are required")
	}
	t := &Table{
		philosophers: make([]Philosopher, n),
		forks:        make([]*Semaphore, n),
		logger:       buildOptions(opts).logger,
	}
	for i := range t.philosophers {
		t.philosophers[i] = Philosopher{ID: i}
		fork, err := NewSemaphore(fmt.Sprintf("fork_%d", i), 1, opts...)
		if err != nil {
			return nil, err
		}
		t.forks[i] = fork
	}
	return t, nil
}

// forkOrder returns the fork indices of philosopher id in pick-up order.
func (t *Table) forkOrder(id int) (first, second int) {
	left, right := id, (id+1)%len(t.forks)
	if id == len(t.philosophers)-1 {
		return right, left
	}
	return left, right
}

// Step advances the table by one step. Philosophers that ate in the
// previous step put their forks down and think; everyone else tries to eat,
// the longest-hungry first.
func (t *Table) Step() {
	t.steps++

	var candidates []int
	for i := range t.philosophers {
		p := &t.philosophers[i]
		if p.State == Eating {
			first, second := t.forkOrder(i)
			t.forks[second].Signal()
			t.forks[first].Signal()
			p.State = Thinking
			continue
		}
		p.State = Hungry
		candidates = append(candidates, i)
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return t.philosophers[candidates[a]].Hunger > t.philosophers[candidates[b]].Hunger
	})

	for _, id := range candidates {
		p := &t.philosophers[id]
		if t.tryEat(id) {
			p.State = Eating
			p.Meals++
			p.Hunger = 0
			t.logger.Debug("philosopher eating", "id", id, "step", t.steps, "meals", p.Meals)
			continue
		}
		p.Hunger++
	}
}

func (t *Table) tryEat(id int) bool {
	first, second := t.forkOrder(id)
	if !t.forks[first].TryWait(id) {
		return false
	}
	if !t.forks[second].TryWait(id) {
		t.forks[first].Signal()
		return false
	}
	return true
}

// Simulate runs steps steps and summarizes the meals.
func (t *Table) Simulate(steps int) DiningSummary {
	for i := 0; i < steps; i++ {
		t.Step()
	}
	return t.Summary()
}

// Philosophers returns the current state of every diner.
func (t *Table) Philosophers() []Philosopher {
	return append([]Philosopher(nil), t.philosophers...)
}

// ForkHolders returns, per fork, the philosopher holding it or -1.
func (t *Table) ForkHolders() []int {
	holders := make([]int, len(t.forks))
	for i := range holders {
		holders[i] = -1
	}
	for id, p := range t.philosophers {
		if p.State != Eating {
			continue
		}
		first, second := t.forkOrder(id)
		holders[first], holders[second] = id, id
	}
	return holders
}

// CheckInvariants verifies that every fork is held by at most one eating
// philosopher and that fork counts agree with the diners' states.
func (t *Table) CheckInvariants() error {
	held := make([]int, len(t.forks))
	for id, p := range t.philosophers {
		if p.State != Eating {
			continue
		}
		first, second := t.forkOrder(id)
		held[first]++
		held[second]++
	}
	for i, f := range t.forks {
		if held[i] > 1 {
			return errors.InvalidState("fork %d held by %d philosophers", i, held[i])
		}
		if f.Count() != 1-held[i] {
			return errors.InvalidState("fork %d count %d with %d holders", i, f.Count(), held[i])
		}
	}
	return nil
}

// Summary returns the meal statistics so far. Philosophers that never ate
// are listed as starving.
func (t *Table) Summary() DiningSummary {
	s := DiningSummary{Steps: t.steps, Meals: make([]int, len(t.philosophers))}
	for i, p := range t.philosophers {
		s.Meals[i] = p.Meals
		s.Total += p.Meals
		if i == 0 || p.Meals < s.Min {
			s.Min = p.Meals
		}
		if p.Meals > s.Max {
			s.Max = p.Meals
		}
		if p.Meals == 0 {
			s.Starving = append(s.Starving, p.ID)
		}
	}
	s.Average = float64(s.Total) / float64(len(t.philosophers))
	return s
}
