package allocator

import (
	"slices"

	"github.com/orizon-lang/kernelsim/internal/errors"
)

// State is the serializable state of a BuddyAllocator. The address index is
// derived from Blocks on restore.
type State struct {
	TotalSize             uint64  `json:"total_size"`
	MinBlockSize          uint64  `json:"min_block_size"`
	Blocks                []Block `json:"blocks"`
	TotalAllocations      uint64  `json:"total_allocations"`
	TotalDeallocations    uint64  `json:"total_deallocations"`
	InternalFragmentation uint64  `json:"internal_fragmentation"`
}

// Snapshot captures the allocator state.
func (b *BuddyAllocator) Snapshot() State {
	return State{
		TotalSize:             b.totalSize,
		MinBlockSize:          b.minBlockSize,
		Blocks:                slices.Clone(b.blocks),
		TotalAllocations:      b.totalAllocations,
		TotalDeallocations:    b.totalDeallocations,
		InternalFragmentation: b.internalFragmentation,
	}
}

// Restore rebuilds an allocator from st and verifies its invariants.
func Restore(st State, opts ...Option) (*BuddyAllocator, error) {
	config := defaultConfig(st.TotalSize, st.MinBlockSize)
	for _, opt := range opts {
		opt(config)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	b := newBuddyAllocator(config)
	b.blocks = slices.Clone(st.Blocks)
	b.totalAllocations = st.TotalAllocations
	b.totalDeallocations = st.TotalDeallocations
	b.internalFragmentation = st.InternalFragmentation

	for _, blk := range b.blocks {
		if blk.State == Allocated {
			b.allocated[blk.Address] = blk
		}
	}

	if err := b.CheckInvariants(); err != nil {
		return nil, err
	}
	if b.totalDeallocations > b.totalAllocations {
		return nil, errors.InvalidState("%d deallocations exceed %d allocations", b.totalDeallocations, b.totalAllocations)
	}
	return b, nil
}
