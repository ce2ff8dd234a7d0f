package paging

import (
	"sort"

	"github.com/orizon-lang/kernelsim/internal/errors"
)

// State is the primary state of a FrameManager. Derived structures such as
// the load-order queue are not part of it and are rebuilt by Restore.
type State struct {
	Frames    []Frame              `json:"frames"`
	Tables    []TableState         `json:"page_tables"`
	Processes map[int]ProcessStats `json:"processes,omitempty"`
	Clock     uint64               `json:"clock"`
	Faults    uint64               `json:"faults"`
	Hits      uint64               `json:"hits"`
	Evictions uint64               `json:"evictions"`
}

// TableState is the serialized form of a PageTable.
type TableState struct {
	PID     int          `json:"pid"`
	Entries []EntryState `json:"entries"`
}

// EntryState is the serialized form of a PageTableEntry.
type EntryState struct {
	Page int `json:"page"`
	PageTableEntry
}

// Snapshot captures the primary state. Output is ordered by pid and page so
// that equal managers produce equal snapshots.
func (fm *FrameManager) Snapshot() State {
	st := State{
		Frames:    fm.Frames(),
		Tables:    make([]TableState, 0, len(fm.tables)),
		Processes: make(map[int]ProcessStats, len(fm.processes)),
		Clock:     fm.clock,
		Faults:    fm.faults,
		Hits:      fm.hits,
		Evictions: fm.evictions,
	}

	for _, pid := range fm.PIDs() {
		pt := fm.tables[pid]
		ts := TableState{PID: pid, Entries: make([]EntryState, 0, len(pt.entries))}
		for page, entry := range pt.entries {
			ts.Entries = append(ts.Entries, EntryState{Page: page, PageTableEntry: *entry})
		}
		sort.Slice(ts.Entries, func(i, j int) bool { return ts.Entries[i].Page < ts.Entries[j].Page })
		st.Tables = append(st.Tables, ts)
	}

	for pid, ps := range fm.processes {
		st.Processes[pid] = *ps
	}
	return st
}

// Restore rebuilds a FrameManager from st. The frame/page back-references are
// verified and the load-order queue is recomputed from frame load times.
func Restore(st State, opts ...Option) (*FrameManager, error) {
	if len(st.Frames) < 1 {
		return nil, errors.InvalidState("snapshot has no frames")
	}

	fm := newFrameManager(len(st.Frames))
	for _, opt := range opts {
		opt(fm)
	}
	fm.clock, fm.faults, fm.hits, fm.evictions = st.Clock, st.Faults, st.Hits, st.Evictions

	for _, ts := range st.Tables {
		if _, dup := fm.tables[ts.PID]; dup {
			return nil, errors.InvalidState("duplicate page table for pid %d", ts.PID)
		}
		pt := NewPageTable(ts.PID)
		for _, es := range ts.Entries {
			entry := es.PageTableEntry
			if entry.LastAccess > st.Clock {
				return nil, errors.InvalidState("pid %d page %d accessed at %d after clock %d", ts.PID, es.Page, entry.LastAccess, st.Clock)
			}
			if !entry.Valid {
				entry.Frame = NoFrame
			}
			pt.entries[es.Page] = &entry
		}
		fm.tables[ts.PID] = pt
	}

	for i, f := range st.Frames {
		if f.Num != i {
			return nil, errors.InvalidState("frame %d recorded as %d", i, f.Num)
		}
		if !f.Occupied {
			fm.frames[i] = Frame{Num: i}
			continue
		}
		if f.LoadTime > st.Clock {
			return nil, errors.InvalidState("frame %d loaded at %d after clock %d", i, f.LoadTime, st.Clock)
		}
		pt, ok := fm.tables[f.PID]
		if !ok {
			return nil, errors.InvalidState("frame %d owned by unknown pid %d", i, f.PID)
		}
		if frame, ok := pt.resident(f.Page); !ok || frame != i {
			return nil, errors.InvalidState("frame %d not referenced by pid %d page %d", i, f.PID, f.Page)
		}
		fm.frames[i] = f
	}

	for pid, pt := range fm.tables {
		for page, entry := range pt.entries {
			if !entry.Valid {
				continue
			}
			if entry.Frame < 0 || entry.Frame >= len(fm.frames) {
				return nil, errors.InvalidState("pid %d page %d mapped to missing frame %d", pid, page, entry.Frame)
			}
			f := fm.frames[entry.Frame]
			if !f.Occupied || f.PID != pid || f.Page != page {
				return nil, errors.InvalidState("pid %d page %d not owner of frame %d", pid, page, entry.Frame)
			}
		}
	}

	for pid, ps := range st.Processes {
		ps := ps
		fm.processes[pid] = &ps
	}

	for i := range fm.frames {
		if fm.frames[i].Occupied {
			fm.loadOrder = append(fm.loadOrder, i)
		}
	}
	sort.SliceStable(fm.loadOrder, func(a, b int) bool {
		return fm.frames[fm.loadOrder[a]].LoadTime < fm.frames[fm.loadOrder[b]].LoadTime
	})
	return fm, nil
}
