package disk

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Move is one head movement recorded by the simulator.
type Move struct {
	From     int `json:"from"`
	To       int `json:"to"`
	Distance int `json:"distance"`
	PID      int `json:"pid"`
}

// Stats summarizes served requests.
type Stats struct {
	Policy        string  `json:"policy"`
	Start         int     `json:"start"`
	Position      int     `json:"position"`
	Served        int     `json:"served"`
	TotalMovement int     `json:"total_movement"`
	AverageSeek   float64 `json:"average_seek"`
}

// Simulator moves a disk head through the requests handed out by a Scheduler.
type Simulator struct {
	start    int
	position int
	served   int
	movement int
	history  []Move
	policy   string
	logger   *slog.Logger
}

// NewSimulator creates a simulator with the head at start.
func NewSimulator(start int, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Simulator{start: start, position: start, logger: logger}
}

// ServeAll serves every pending request of s and returns the number served.
func (sim *Simulator) ServeAll(s Scheduler) int {
	sim.policy = s.Name()
	n := 0
	for s.Len() > 0 {
		req, ok := s.Next(sim.position)
		if !ok {
			break
		}
		sim.serve(req)
		n++
	}
	return n
}

func (sim *Simulator) serve(req Request) {
	d := distance(req.Cylinder, sim.position)
	sim.history = append(sim.history, Move{From: sim.position, To: req.Cylinder, Distance: d, PID: req.PID})
	sim.logger.Debug("disk request served", "pid", req.PID, "from", sim.position, "to", req.Cylinder, "distance", d)

	sim.movement += d
	sim.position = req.Cylinder
	sim.served++
}

// Position returns the current head position.
func (sim *Simulator) Position() int { return sim.position }

// TotalMovement returns the cylinders travelled so far.
func (sim *Simulator) TotalMovement() int { return sim.movement }

// History returns a copy of the recorded moves.
func (sim *Simulator) History() []Move {
	return append([]Move(nil), sim.history...)
}

// AverageSeek returns the mean movement per served request.
func (sim *Simulator) AverageSeek() float64 {
	if sim.served == 0 {
		return 0
	}
	return float64(sim.movement) / float64(sim.served)
}

// Stats returns a summary of the simulation so far.
func (sim *Simulator) Stats() Stats {
	return Stats{
		Policy:        sim.policy,
		Start:         sim.start,
		Position:      sim.position,
		Served:        sim.served,
		TotalMovement: sim.movement,
		AverageSeek:   sim.AverageSeek(),
	}
}

// Reset clears the history and moves the head to start.
func (sim *Simulator) Reset(start int) {
	sim.start = start
	sim.position = start
	sim.served = 0
	sim.movement = 0
	sim.history = nil
}

// Render draws each recorded move on a track of cylinders [0, maxCylinder]:
// O marks the origin, X the target and - the cylinders crossed.
func (sim *Simulator) Render(w io.Writer, maxCylinder int) error {
	for _, m := range sim.history {
		lo, hi := min(m.From, m.To), max(m.From, m.To)
		var b strings.Builder
		for cyl := 0; cyl <= maxCylinder; cyl++ {
			switch {
			case cyl == m.From:
				b.WriteByte('O')
			case cyl == m.To:
				b.WriteByte('X')
			case cyl > lo && cyl < hi:
				b.WriteByte('-')
			default:
				b.WriteByte(' ')
			}
		}
		if _, err := fmt.Fprintf(w, "|%s| %d -> %d\n", b.String(), m.From, m.To); err != nil {
			return err
		}
	}
	return nil
}
