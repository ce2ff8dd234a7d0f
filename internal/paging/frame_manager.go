package paging

import (
	"io"
	"log/slog"
	"sort"

	"github.com/orizon-lang/kernelsim/internal/errors"
)

// ============================================================================
// Physical frames
// ============================================================================

// Frame is one slot of the physical frame pool.
type Frame struct {
	Num      int    `json:"frame_num"`
	PID      int    `json:"pid"`
	Page     int    `json:"page"`
	Occupied bool   `json:"occupied"`
	LoadTime uint64 `json:"load_time"`
}

// FrameInfo describes current frame occupancy for display and debugging.
type FrameInfo = Frame

// Stats are the cumulative paging counters.
type Stats struct {
	Faults        uint64  `json:"faults"`
	Hits          uint64  `json:"hits"`
	HitRate       float64 `json:"hit_rate"`
	TotalAccesses uint64  `json:"total_accesses"`
	Evictions     uint64  `json:"evictions"`
}

// ProcessStats are the paging counters of a single process.
type ProcessStats struct {
	Faults uint64 `json:"faults"`
	Hits   uint64 `json:"hits"`
}

// Option configures a FrameManager.
type Option func(*FrameManager)

// WithLogger routes eviction and binding events to logger at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(fm *FrameManager) {
		if logger != nil {
			fm.logger = logger
		}
	}
}

// FrameManager owns the physical frame pool and all page tables.
type FrameManager struct {
	frames    []Frame
	loadOrder []int // occupied frame numbers, oldest load first
	tables    map[int]*PageTable
	processes map[int]*ProcessStats

	clock     uint64
	faults    uint64
	hits      uint64
	evictions uint64

	logger *slog.Logger
}

// NewFrameManager creates a pool of n frames. A pool needs at least one frame.
func NewFrameManager(n int, opts ...Option) (*FrameManager, error) {
	if n < 1 {
		return nil, errors.InvalidConfig("frames", "frame pool needs at least one frame")
	}

	fm := newFrameManager(n)
	for _, opt := range opts {
		opt(fm)
	}
	return fm, nil
}

func newFrameManager(n int) *FrameManager {
	frames := make([]Frame, n)
	for i := range frames {
		frames[i] = Frame{Num: i}
	}

	return &FrameManager{
		frames:    frames,
		loadOrder: make([]int, 0, n),
		tables:    make(map[int]*PageTable),
		processes: make(map[int]*ProcessStats),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// CreatePageTable registers pid. Existing tables are left untouched.
func (fm *FrameManager) CreatePageTable(pid int) {
	if _, ok := fm.tables[pid]; !ok {
		fm.tables[pid] = NewPageTable(pid)
	}
}

// PageTable returns the page table of pid, if any.
func (fm *FrameManager) PageTable(pid int) (*PageTable, bool) {
	pt, ok := fm.tables[pid]
	return pt, ok
}

// Size returns the number of frames in the pool.
func (fm *FrameManager) Size() int { return len(fm.frames) }

// Clock returns the logical time of the last access.
func (fm *FrameManager) Clock() uint64 { return fm.clock }

// AccessPage resolves a reference by pid to page under policy and returns the
// frame holding it. Misses are resolved internally by loading the page into a
// free frame or a victim chosen by policy. The only failure is ErrThrashing,
// returned by the working-set policy when every frame is inside the window; in
// that case no state is changed.
func (fm *FrameManager) AccessPage(policy Policy, pid, page int) (int, error) {
	now := fm.clock + 1
	pt := fm.tables[pid]

	if pt != nil {
		if frame, ok := pt.resident(page); ok {
			fm.clock = now
			pt.Access(page, now)
			fm.hits++
			fm.processStats(pid).Hits++
			return frame, nil
		}
	}

	frame, evict := fm.freeFrame(), false
	if frame == NoFrame {
		var err error
		if frame, err = fm.selectVictim(policy, now, pid, page); err != nil {
			return NoFrame, err
		}
		evict = true
	}

	// Commit: nothing below can fail.
	fm.clock = now
	if pt == nil {
		pt = NewPageTable(pid)
		fm.tables[pid] = pt
	}
	pt.Access(page, now)
	fm.faults++
	fm.processStats(pid).Faults++

	if evict {
		fm.evict(frame)
	}
	fm.bind(frame, pid, page, now)
	return frame, nil
}

func (fm *FrameManager) freeFrame() int {
	for i := range fm.frames {
		if !fm.frames[i].Occupied {
			return i
		}
	}
	return NoFrame
}

func (fm *FrameManager) selectVictim(policy Policy, now uint64, pid, page int) (int, error) {
	switch policy.kind {
	case PolicyFIFO:
		if len(fm.loadOrder) == 0 {
			return NoFrame, errors.InvalidState("load-order queue empty with %d occupied frames", len(fm.frames))
		}
		return fm.loadOrder[0], nil
	case PolicyLRU:
		return fm.leastRecentlyUsed(func(uint64) bool { return true }), nil
	case PolicyWorkingSet:
		victim := fm.leastRecentlyUsed(func(last uint64) bool {
			return now-last > policy.window
		})
		if victim == NoFrame {
			return NoFrame, errors.Thrashing(pid, page, policy.window)
		}
		return victim, nil
	default:
		return NoFrame, errors.InvalidConfig("policy", policy.String())
	}
}

// leastRecentlyUsed scans every frame and returns the evictable one with the
// oldest owning entry. Ties go to the lowest frame number.
func (fm *FrameManager) leastRecentlyUsed(evictable func(lastAccess uint64) bool) int {
	victim := NoFrame
	var oldest uint64
	for i := range fm.frames {
		f := &fm.frames[i]
		if !f.Occupied {
			continue
		}
		pt, ok := fm.tables[f.PID]
		if !ok {
			continue
		}
		last, ok := pt.lastAccess(f.Page)
		if !ok || !evictable(last) {
			continue
		}
		if victim == NoFrame || last < oldest {
			victim, oldest = i, last
		}
	}
	return victim
}

func (fm *FrameManager) evict(frame int) {
	old := fm.frames[frame]
	if pt, ok := fm.tables[old.PID]; ok {
		pt.Invalidate(old.Page)
	}
	fm.dequeue(frame)
	fm.evictions++

	fm.logger.Debug("page evicted", "frame", frame, "pid", old.PID, "page", old.Page, "loaded", old.LoadTime)
}

func (fm *FrameManager) bind(frame, pid, page int, now uint64) {
	fm.frames[frame] = Frame{
		Num:      frame,
		PID:      pid,
		Page:     page,
		Occupied: true,
		LoadTime: now,
	}
	fm.loadOrder = append(fm.loadOrder, frame)
	fm.tables[pid].Map(page, frame, now)

	fm.logger.Debug("page loaded", "frame", frame, "pid", pid, "page", page, "time", now)
}

func (fm *FrameManager) dequeue(frame int) {
	for i, f := range fm.loadOrder {
		if f == frame {
			fm.loadOrder = append(fm.loadOrder[:i], fm.loadOrder[i+1:]...)
			return
		}
	}
}

func (fm *FrameManager) processStats(pid int) *ProcessStats {
	ps, ok := fm.processes[pid]
	if !ok {
		ps = &ProcessStats{}
		fm.processes[pid] = ps
	}
	return ps
}

// RemoveProcess releases every frame owned by pid and drops its page table.
// Its counters remain available through ProcessStats. It returns the number
// of frames released.
func (fm *FrameManager) RemoveProcess(pid int) int {
	released := 0
	for i := range fm.frames {
		if fm.frames[i].Occupied && fm.frames[i].PID == pid {
			fm.frames[i] = Frame{Num: i}
			fm.dequeue(i)
			released++
		}
	}
	delete(fm.tables, pid)

	if released > 0 {
		fm.logger.Debug("process frames released", "pid", pid, "frames", released)
	}
	return released
}

// ============================================================================
// Reporting
// ============================================================================

// Stats returns the cumulative hit and fault counters.
func (fm *FrameManager) Stats() Stats {
	total := fm.hits + fm.faults
	var rate float64
	if total > 0 {
		rate = float64(fm.hits) / float64(total) * 100
	}
	return Stats{
		Faults:        fm.faults,
		Hits:          fm.hits,
		HitRate:       rate,
		TotalAccesses: total,
		Evictions:     fm.evictions,
	}
}

// ProcessStats returns the counters of pid.
func (fm *FrameManager) ProcessStats(pid int) ProcessStats {
	if ps, ok := fm.processes[pid]; ok {
		return *ps
	}
	return ProcessStats{}
}

// ResetStats zeroes the hit, fault and eviction counters. Frames, page tables
// and the clock are kept.
func (fm *FrameManager) ResetStats() {
	fm.hits, fm.faults, fm.evictions = 0, 0, 0
	fm.processes = make(map[int]*ProcessStats)
}

// Frames returns the current occupancy of every frame.
func (fm *FrameManager) Frames() []FrameInfo {
	out := make([]FrameInfo, len(fm.frames))
	copy(out, fm.frames)
	return out
}

// PIDs returns the registered process identifiers in ascending order.
func (fm *FrameManager) PIDs() []int {
	pids := make([]int, 0, len(fm.tables))
	for pid := range fm.tables {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}
