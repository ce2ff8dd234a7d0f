package paging

import "sort"

// NoFrame marks a page table entry that is not bound to a frame.
const NoFrame = -1

// PageTableEntry describes one virtual page of a process.
type PageTableEntry struct {
	Frame      int    `json:"frame"`
	Valid      bool   `json:"valid"`
	LastAccess uint64 `json:"last_access"`
}

// ResidentPage is a page currently mapped to a frame.
type ResidentPage struct {
	Page       int    `json:"page"`
	Frame      int    `json:"frame"`
	LastAccess uint64 `json:"last_access"`
}

// PageTable maps the virtual pages of one process to frames. Entries are
// created on first reference and survive eviction so that replacement
// policies keep their recency data.
type PageTable struct {
	PID     int
	entries map[int]*PageTableEntry
}

// NewPageTable creates an empty page table for pid.
func NewPageTable(pid int) *PageTable {
	return &PageTable{
		PID:     pid,
		entries: make(map[int]*PageTableEntry),
	}
}

// Access records a reference to page at time and returns its frame if the
// page is resident. A page seen for the first time gets an invalid entry.
func (pt *PageTable) Access(page int, time uint64) (int, bool) {
	entry, ok := pt.entries[page]
	if !ok {
		pt.entries[page] = &PageTableEntry{Frame: NoFrame, LastAccess: time}
		return NoFrame, false
	}

	entry.LastAccess = time
	if !entry.Valid {
		return NoFrame, false
	}
	return entry.Frame, true
}

// Map binds page to frame.
func (pt *PageTable) Map(page, frame int, time uint64) {
	pt.entries[page] = &PageTableEntry{
		Frame:      frame,
		Valid:      true,
		LastAccess: time,
	}
}

// Invalidate unbinds page from its frame, keeping its last access time.
func (pt *PageTable) Invalidate(page int) {
	if entry, ok := pt.entries[page]; ok {
		entry.Valid = false
		entry.Frame = NoFrame
	}
}

// Entry returns a copy of the entry for page.
func (pt *PageTable) Entry(page int) (PageTableEntry, bool) {
	entry, ok := pt.entries[page]
	if !ok {
		return PageTableEntry{}, false
	}
	return *entry, true
}

// Len returns the number of pages ever referenced.
func (pt *PageTable) Len() int { return len(pt.entries) }

// ValidPages returns the resident pages ordered by page number.
func (pt *PageTable) ValidPages() []ResidentPage {
	pages := make([]ResidentPage, 0, len(pt.entries))
	for page, entry := range pt.entries {
		if entry.Valid {
			pages = append(pages, ResidentPage{Page: page, Frame: entry.Frame, LastAccess: entry.LastAccess})
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Page < pages[j].Page })
	return pages
}

func (pt *PageTable) lastAccess(page int) (uint64, bool) {
	entry, ok := pt.entries[page]
	if !ok {
		return 0, false
	}
	return entry.LastAccess, true
}

func (pt *PageTable) resident(page int) (int, bool) {
	entry, ok := pt.entries[page]
	if !ok || !entry.Valid {
		return NoFrame, false
	}
	return entry.Frame, true
}
