package kernel

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/orizon-lang/kernelsim/internal/allocator"
	"github.com/orizon-lang/kernelsim/internal/config"
	"github.com/orizon-lang/kernelsim/internal/disk"
	"github.com/orizon-lang/kernelsim/internal/errors"
	"github.com/orizon-lang/kernelsim/internal/paging"
	"github.com/orizon-lang/kernelsim/internal/snapshot"
	"github.com/orizon-lang/kernelsim/internal/workload"
)

// ============================================================================
// Kernel
// ============================================================================

// ThrashingEvent records a reference the working-set policy could not serve.
// The reference was retried under global LRU.
type ThrashingEvent struct {
	Tick   uint64 `json:"tick"`
	PID    int    `json:"pid"`
	Page   int    `json:"page"`
	Window uint64 `json:"window"`
}

// HeapFailure records a heap request the allocator rejected.
type HeapFailure struct {
	Tick  uint64 `json:"tick"`
	PID   int    `json:"pid"`
	Size  uint64 `json:"size"`
	Error string `json:"error"`
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the logger shared by the kernel and the memory core.
func WithLogger(logger *slog.Logger) Option {
	return func(k *Kernel) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithTickDelay slows the simulation down so that it can be observed while
// it runs.
func WithTickDelay(d time.Duration) Option {
	return func(k *Kernel) { k.tickDelay = d }
}

// Kernel owns the memory core and serializes every access to it. Run drives
// the simulation; the inspection methods may be called concurrently.
type Kernel struct {
	mu sync.Mutex

	policy    paging.Policy
	frames    *paging.FrameManager
	heap      *allocator.BuddyAllocator
	sched     Scheduler
	diskQueue disk.Scheduler
	diskSim   *disk.Simulator

	procs   []*Process
	byPID   map[int]*Process
	pending []*Process // not yet arrived, by arrival
	clock   uint64
	running *Process
	started bool
	done    bool

	thrashing    []ThrashingEvent
	heapFailures []HeapFailure

	tickDelay time.Duration
	logger    *slog.Logger
}

// New builds a kernel for cfg. Processes are generated from the workload
// section when cfg lists none; cfg itself is not modified.
func New(cfg *config.SimConfig, opts ...Option) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	run := *cfg
	workload.Populate(&run)

	k := &Kernel{
		byPID:  make(map[int]*Process, len(run.Processes)),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(k)
	}

	var err error
	if k.policy, err = run.PagingPolicy(); err != nil {
		return nil, err
	}
	if k.frames, err = paging.NewFrameManager(run.Frames, paging.WithLogger(k.logger)); err != nil {
		return nil, err
	}
	if k.heap, err = allocator.NewBuddyAllocator(run.Buddy.TotalSize, run.Buddy.MinBlockSize, allocator.WithLogger(k.logger)); err != nil {
		return nil, err
	}
	if k.sched, err = NewScheduler(run.Scheduler.Policy, run.Scheduler.Quantum); err != nil {
		return nil, err
	}
	dir, err := disk.ParseDirection(run.Disk.Direction)
	if err != nil {
		return nil, err
	}
	if k.diskQueue, err = disk.New(run.Disk.Policy, dir); err != nil {
		return nil, err
	}
	k.diskSim = disk.NewSimulator(run.Disk.Start, k.logger)

	for _, pc := range run.Processes {
		p := NewProcess(pc)
		k.procs = append(k.procs, p)
		k.byPID[p.PID] = p
	}
	k.pending = append([]*Process(nil), k.procs...)
	sort.SliceStable(k.pending, func(i, j int) bool { return k.pending[i].Arrival < k.pending[j].Arrival })

	return k, nil
}

// Run executes the simulation to completion and returns its report. Disk
// requests queued during the run are served once the CPU work is finished.
// Run must not be called more than once.
func (k *Kernel) Run(ctx context.Context) (*Report, error) {
	k.mu.Lock()
	if k.started {
		k.mu.Unlock()
		return nil, errors.InvalidState("simulation already ran")
	}
	k.started = true
	k.mu.Unlock()

	k.logger.Info("simulation started", "processes", len(k.procs), "policy", k.policy.String(), "scheduler", k.sched.Name())

	for {
		p, ok := k.dispatch()
		if !ok {
			break
		}

		slice := k.sched.Quantum()
		if slice == 0 {
			slice = p.Remaining
		}
		for i := 0; i < slice && !p.Done(); i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := k.tick(p); err != nil {
				return nil, err
			}
			if err := k.wait(ctx); err != nil {
				return nil, err
			}
		}
		if err := k.release(p); err != nil {
			return nil, err
		}
	}

	k.mu.Lock()
	served := k.diskSim.ServeAll(k.diskQueue)
	k.done = true
	k.mu.Unlock()

	k.logger.Info("simulation finished", "ticks", k.clock, "disk_requests", served)
	return k.Report(), nil
}

func (k *Kernel) wait(ctx context.Context) error {
	if k.tickDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(k.tickDelay):
		return nil
	}
}

// admit moves every process that has arrived by the current tick to the
// ready queue. Must be called with k.mu held.
func (k *Kernel) admit() {
	for len(k.pending) > 0 && k.pending[0].Arrival <= k.clock {
		p := k.pending[0]
		k.pending = k.pending[1:]
		p.State = StateReady
		k.sched.Push(p)
		k.logger.Debug("process admitted", "pid", p.PID, "tick", k.clock)
	}
}

// dispatch picks the next process to run, idling the CPU until the next
// arrival when nothing is ready.
func (k *Kernel) dispatch() (*Process, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.admit()
	if k.sched.Len() == 0 {
		if len(k.pending) == 0 {
			return nil, false
		}
		k.clock = k.pending[0].Arrival
		k.admit()
	}

	p := k.sched.Next()
	p.State = StateRunning
	k.running = p
	if !p.Started {
		p.Started = true
		p.Start = k.clock
		k.frames.CreatePageTable(p.PID)
		for _, cyl := range p.Disk {
			k.diskQueue.Add(disk.Request{PID: p.PID, Cylinder: cyl, Timestamp: k.clock})
		}
	}
	k.logger.Debug("process dispatched", "pid", p.PID, "tick", k.clock, "remaining", p.Remaining)
	return p, true
}

// tick executes one CPU tick of p: due heap requests are issued, the next
// page is referenced and due heap blocks are released.
func (k *Kernel) tick(p *Process) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, req := range p.dueHeap() {
		addr, err := k.heap.Alloc(p.PID, req.Size)
		if err != nil {
			if !stderrors.Is(err, errors.ErrOutOfMemory) {
				return err
			}
			p.heapFailures++
			k.heapFailures = append(k.heapFailures, HeapFailure{Tick: k.clock, PID: p.PID, Size: req.Size, Error: err.Error()})
			k.logger.Warn("heap request failed", "pid", p.PID, "size", req.Size, "error", err)
			continue
		}
		freeAt := -1
		if req.FreeAfter > 0 {
			freeAt = p.Executed + req.FreeAfter
		}
		p.held = append(p.held, heapHold{addr: addr, freeAt: freeAt})
	}

	page := p.NextReference()
	thrashed, err := accessWithFallback(k.frames, k.policy, p.PID, page)
	if err != nil {
		return fmt.Errorf("pid %d page %d: %w", p.PID, page, err)
	}
	if thrashed {
		p.thrashing++
		k.thrashing = append(k.thrashing, ThrashingEvent{Tick: k.clock, PID: p.PID, Page: page, Window: k.policy.Window()})
		k.logger.Warn("working set thrashing, fell back to LRU", "pid", p.PID, "page", page, "tick", k.clock)
	}

	p.Executed++
	p.Remaining--
	k.clock++

	for _, addr := range p.dueFrees() {
		if err := k.heap.Free(addr); err != nil {
			return err
		}
	}
	return nil
}

// release requeues a preempted process or tears down a finished one.
func (k *Kernel) release(p *Process) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.running = nil
	if !p.Done() {
		k.admit()
		p.State = StateReady
		k.sched.Push(p)
		return nil
	}

	p.State = StateTerminated
	p.Finish = k.clock
	p.held = nil
	freed, err := k.heap.FreeProcess(p.PID)
	if err != nil {
		return err
	}
	frames := k.frames.RemoveProcess(p.PID)
	k.logger.Info("process terminated", "pid", p.PID, "tick", k.clock, "frames_released", frames, "blocks_released", freed)
	return nil
}

// accessWithFallback references page under policy. When the working-set
// policy finds no evictable frame the reference is retried under global LRU
// and thrashed is true.
func accessWithFallback(fm *paging.FrameManager, policy paging.Policy, pid, page int) (thrashed bool, err error) {
	_, err = fm.AccessPage(policy, pid, page)
	if stderrors.Is(err, errors.ErrThrashing) {
		_, err = fm.AccessPage(paging.LRU(), pid, page)
		return true, err
	}
	return false, err
}

// ============================================================================
// Inspection
// ============================================================================

// ProcessReport summarizes one process.
type ProcessReport struct {
	PID          int          `json:"pid"`
	State        ProcessState `json:"state"`
	Arrival      uint64       `json:"arrival"`
	Burst        int          `json:"burst"`
	Executed     int          `json:"executed"`
	Start        uint64       `json:"start"`
	Finish       uint64       `json:"finish"`
	Turnaround   uint64       `json:"turnaround"`
	Waiting      uint64       `json:"waiting"`
	Response     uint64       `json:"response"`
	Faults       uint64       `json:"faults"`
	Hits         uint64       `json:"hits"`
	Thrashing    int          `json:"thrashing"`
	HeapFailures int          `json:"heap_failures"`
}

// Report is the outcome of a simulation.
type Report struct {
	Policy            string           `json:"policy"`
	Scheduler         string           `json:"scheduler"`
	Ticks             uint64           `json:"ticks"`
	Paging            paging.Stats     `json:"paging"`
	Heap              allocator.Stats  `json:"heap"`
	Disk              disk.Stats       `json:"disk"`
	DiskMoves         []disk.Move      `json:"disk_moves"`
	Processes         []ProcessReport  `json:"processes"`
	Thrashing         []ThrashingEvent `json:"thrashing,omitempty"`
	HeapFailures      []HeapFailure    `json:"heap_failures,omitempty"`
	AverageTurnaround float64          `json:"average_turnaround"`
	AverageWaiting    float64          `json:"average_waiting"`
	AverageResponse   float64          `json:"average_response"`
}

// View is a point-in-time copy of the memory core for live inspection.
type View struct {
	Tick      uint64            `json:"tick"`
	Running   int               `json:"running,omitempty"`
	Finished  bool              `json:"finished"`
	Policy    string            `json:"policy"`
	Paging    paging.Stats      `json:"paging"`
	Heap      allocator.Stats   `json:"heap"`
	Frames    []paging.Frame    `json:"frames"`
	Blocks    []allocator.Block `json:"blocks"`
	Processes []ProcessReport   `json:"processes"`
	Thrashing int               `json:"thrashing"`
}

// Report returns the simulation report. It may be called while Run is in
// progress, in which case it describes the run so far.
func (k *Kernel) Report() *Report {
	k.mu.Lock()
	defer k.mu.Unlock()

	r := &Report{
		Policy:       k.policy.String(),
		Scheduler:    k.sched.Name(),
		Ticks:        k.clock,
		Paging:       k.frames.Stats(),
		Heap:         k.heap.Stats(),
		Disk:         k.diskSim.Stats(),
		DiskMoves:    k.diskSim.History(),
		Processes:    k.processReports(),
		Thrashing:    append([]ThrashingEvent(nil), k.thrashing...),
		HeapFailures: append([]HeapFailure(nil), k.heapFailures...),
	}

	var finished int
	for _, p := range r.Processes {
		if p.State != StateTerminated {
			continue
		}
		finished++
		r.AverageTurnaround += float64(p.Turnaround)
		r.AverageWaiting += float64(p.Waiting)
		r.AverageResponse += float64(p.Response)
	}
	if finished > 0 {
		r.AverageTurnaround /= float64(finished)
		r.AverageWaiting /= float64(finished)
		r.AverageResponse /= float64(finished)
	}
	return r
}

// Inspect returns a consistent copy of the live state.
func (k *Kernel) Inspect() View {
	k.mu.Lock()
	defer k.mu.Unlock()

	v := View{
		Tick:      k.clock,
		Finished:  k.done,
		Policy:    k.policy.String(),
		Paging:    k.frames.Stats(),
		Heap:      k.heap.Stats(),
		Frames:    k.frames.Frames(),
		Blocks:    k.heap.Blocks(),
		Processes: k.processReports(),
		Thrashing: len(k.thrashing),
	}
	if k.running != nil {
		v.Running = k.running.PID
	}
	return v
}

// Process returns the report of a single process.
func (k *Kernel) Process(pid int) (ProcessReport, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.byPID[pid]; !ok {
		return ProcessReport{}, false
	}
	for _, r := range k.processReports() {
		if r.PID == pid {
			return r, true
		}
	}
	return ProcessReport{}, false
}

// Snapshot captures the memory core for persistence.
func (k *Kernel) Snapshot() *snapshot.Snapshot {
	k.mu.Lock()
	defer k.mu.Unlock()
	return snapshot.New(k.policy, k.frames.Snapshot(), k.heap.Snapshot())
}

func (k *Kernel) processReports() []ProcessReport {
	out := make([]ProcessReport, 0, len(k.procs))
	for _, p := range k.procs {
		ps := k.frames.ProcessStats(p.PID)
		out = append(out, ProcessReport{
			PID:          p.PID,
			State:        p.State,
			Arrival:      p.Arrival,
			Burst:        p.Burst,
			Executed:     p.Executed,
			Start:        p.Start,
			Finish:       p.Finish,
			Turnaround:   p.Turnaround(),
			Waiting:      p.Waiting(),
			Response:     p.Response(),
			Faults:       ps.Faults,
			Hits:         ps.Hits,
			Thrashing:    p.thrashing,
			HeapFailures: p.heapFailures,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}
