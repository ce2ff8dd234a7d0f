// Package allocator provides a power-of-two buddy allocator for simulated
// heap requests.
//
// The managed range [0, TotalSize) is kept as an address-ordered list of leaf
// blocks with no gaps or overlaps. A request is rounded up to the next power
// of two no smaller than MinBlockSize and served first-fit, splitting larger
// blocks in halves as needed; freeing a block merges it with its buddy at
// address^size for as long as the buddy is free and of equal size.
package allocator

import (
	"io"
	"log/slog"
	"math/bits"
	"slices"
	"sort"

	"github.com/orizon-lang/kernelsim/internal/errors"
)

// ============================================================================
// Configuration
// ============================================================================

// Config holds allocator construction parameters.
type Config struct {
	TotalSize    uint64
	MinBlockSize uint64
	Logger       *slog.Logger
}

// Option configures an allocator.
type Option func(*Config)

// WithLogger routes allocation events to logger at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

func defaultConfig(totalSize, minBlockSize uint64) *Config {
	return &Config{
		TotalSize:    totalSize,
		MinBlockSize: minBlockSize,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (c *Config) validate() error {
	if !isPowerOfTwo(c.TotalSize) {
		return errors.InvalidSize(c.TotalSize, c.TotalSize)
	}
	if !isPowerOfTwo(c.MinBlockSize) || c.MinBlockSize > c.TotalSize {
		return errors.InvalidSize(c.MinBlockSize, c.TotalSize)
	}
	return nil
}

// ============================================================================
// Buddy allocator
// ============================================================================

// Stats provides allocation statistics.
type Stats struct {
	TotalSize             uint64  `json:"total_size"`
	FreeBytes             uint64  `json:"free_bytes"`
	AllocatedBytes        uint64  `json:"allocated_bytes"`
	FreeBlocks            int     `json:"free_blocks"`
	AllocatedBlocks       int     `json:"allocated_blocks"`
	TotalAllocations      uint64  `json:"total_allocations"`
	TotalDeallocations    uint64  `json:"total_deallocations"`
	InternalFragmentation uint64  `json:"internal_fragmentation_bytes"`
	ExternalFragmentation float64 `json:"external_fragmentation_pct"`
}

// BuddyAllocator serves variable-size requests from one power-of-two range.
// It is not safe for concurrent use.
type BuddyAllocator struct {
	totalSize    uint64
	minBlockSize uint64

	blocks    []Block          // leaf blocks ordered by address
	allocated map[uint64]Block // live allocations by address

	totalAllocations      uint64
	totalDeallocations    uint64
	internalFragmentation uint64

	logger *slog.Logger
}

// NewBuddyAllocator creates an allocator managing totalSize bytes. Both sizes
// must be powers of two and minBlockSize must not exceed totalSize.
func NewBuddyAllocator(totalSize, minBlockSize uint64, opts ...Option) (*BuddyAllocator, error) {
	config := defaultConfig(totalSize, minBlockSize)
	for _, opt := range opts {
		opt(config)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	alloc := newBuddyAllocator(config)
	alloc.blocks = []Block{{Address: 0, Size: totalSize, State: Free}}
	return alloc, nil
}

func newBuddyAllocator(config *Config) *BuddyAllocator {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &BuddyAllocator{
		totalSize:    config.TotalSize,
		minBlockSize: config.MinBlockSize,
		allocated:    make(map[uint64]Block),
		logger:       logger,
	}
}

// TotalSize returns the size of the managed range.
func (b *BuddyAllocator) TotalSize() uint64 { return b.totalSize }

// MinBlockSize returns the smallest block the allocator hands out.
func (b *BuddyAllocator) MinBlockSize() uint64 { return b.minBlockSize }

// Alloc reserves a block of at least size bytes for pid and returns its
// address. It fails with ErrInvalidSize for zero or oversized requests and
// with ErrOutOfMemory when no free block is large enough.
func (b *BuddyAllocator) Alloc(pid int, size uint64) (uint64, error) {
	if size == 0 || size > b.totalSize {
		return 0, errors.InvalidSize(size, b.totalSize)
	}

	requested := nextPowerOfTwo(max(size, b.minBlockSize))

	idx := -1
	for i := range b.blocks {
		if b.blocks[i].State == Free && b.blocks[i].Size >= requested {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, errors.OutOfMemory(requested, b.LargestFreeBlock())
	}

	for b.blocks[idx].Size > requested {
		b.split(idx)
	}

	blk := &b.blocks[idx]
	blk.State = Allocated
	blk.PID = pid
	blk.Requested = size
	b.allocated[blk.Address] = *blk

	b.totalAllocations++
	b.internalFragmentation += requested - size

	b.logger.Debug("block allocated", "pid", pid, "size", size, "block", requested, "address", blk.Address)
	return blk.Address, nil
}

// split replaces the block at idx with its two halves; the lower half keeps
// the index.
func (b *BuddyAllocator) split(idx int) {
	blk := b.blocks[idx]
	half := blk.Size / 2

	b.blocks[idx] = Block{Address: blk.Address, Size: half, State: Free}
	b.blocks = slices.Insert(b.blocks, idx+1, Block{Address: blk.Address + half, Size: half, State: Free})
}

// Free releases the allocation at address and coalesces it with free buddies.
// It fails with ErrNotAllocated, leaving the allocator unchanged, when address
// is not a live allocation.
func (b *BuddyAllocator) Free(address uint64) error {
	if _, ok := b.allocated[address]; !ok {
		return errors.NotAllocated(address)
	}
	idx := b.indexOf(address)
	if idx < 0 || b.blocks[idx].State != Allocated {
		return errors.InvalidState("allocation index points at address 0x%x outside the block list", address)
	}

	delete(b.allocated, address)
	pid := b.blocks[idx].PID
	size := b.blocks[idx].Size
	b.blocks[idx] = Block{Address: address, Size: size, State: Free}

	for b.blocks[idx].Size < b.totalSize {
		blk := b.blocks[idx]
		buddy := buddyOf(blk.Address, blk.Size)

		j := idx + 1
		if buddy < blk.Address {
			j = idx - 1
		}
		if j < 0 || j >= len(b.blocks) {
			break
		}
		other := b.blocks[j]
		if other.Address != buddy || other.Size != blk.Size || other.State != Free {
			break
		}

		lo := min(idx, j)
		b.blocks[lo] = Block{Address: min(blk.Address, buddy), Size: blk.Size * 2, State: Free}
		b.blocks = slices.Delete(b.blocks, lo+1, lo+2)
		idx = lo
	}

	b.totalDeallocations++

	b.logger.Debug("block freed", "pid", pid, "address", address, "size", size, "merged", b.blocks[idx].Size)
	return nil
}

// FreeProcess releases every live allocation owned by pid, lowest address
// first, and returns how many were released.
func (b *BuddyAllocator) FreeProcess(pid int) (int, error) {
	var addrs []uint64
	for addr, blk := range b.allocated {
		if blk.PID == pid {
			addrs = append(addrs, addr)
		}
	}
	slices.Sort(addrs)

	for i, addr := range addrs {
		if err := b.Free(addr); err != nil {
			return i, err
		}
	}
	return len(addrs), nil
}

func (b *BuddyAllocator) indexOf(address uint64) int {
	i := sort.Search(len(b.blocks), func(i int) bool { return b.blocks[i].Address >= address })
	if i < len(b.blocks) && b.blocks[i].Address == address {
		return i
	}
	return -1
}

// ============================================================================
// Reporting
// ============================================================================

// Blocks returns a copy of the block list in address order.
func (b *BuddyAllocator) Blocks() []Block {
	return slices.Clone(b.blocks)
}

// Allocation returns the live allocation at address.
func (b *BuddyAllocator) Allocation(address uint64) (Block, bool) {
	blk, ok := b.allocated[address]
	return blk, ok
}

// LargestFreeBlock returns the size of the largest free block, or zero.
func (b *BuddyAllocator) LargestFreeBlock() uint64 {
	var largest uint64
	for _, blk := range b.blocks {
		if blk.State == Free && blk.Size > largest {
			largest = blk.Size
		}
	}
	return largest
}

// Stats returns current usage and cumulative counters. Internal fragmentation
// accumulates over every allocation ever served.
func (b *BuddyAllocator) Stats() Stats {
	st := Stats{
		TotalSize:             b.totalSize,
		TotalAllocations:      b.totalAllocations,
		TotalDeallocations:    b.totalDeallocations,
		InternalFragmentation: b.internalFragmentation,
	}

	var largest uint64
	for _, blk := range b.blocks {
		switch blk.State {
		case Free:
			st.FreeBlocks++
			st.FreeBytes += blk.Size
			largest = max(largest, blk.Size)
		case Allocated:
			st.AllocatedBlocks++
			st.AllocatedBytes += blk.Size
		}
	}

	if st.FreeBytes > 0 {
		st.ExternalFragmentation = (1 - float64(largest)/float64(st.FreeBytes)) * 100
	}
	return st
}

// CheckInvariants verifies that the blocks tile [0, TotalSize) exactly, that
// every block is a power of two aligned to its size and that the allocation
// index matches the allocated blocks.
func (b *BuddyAllocator) CheckInvariants() error {
	var next uint64
	allocated := 0
	for i, blk := range b.blocks {
		if blk.Address != next {
			return errors.InvalidState("block %d starts at 0x%x, expected 0x%x", i, blk.Address, next)
		}
		if !isPowerOfTwo(blk.Size) || blk.Size < b.minBlockSize {
			return errors.InvalidState("block %d has invalid size %d", i, blk.Size)
		}
		if blk.Address%blk.Size != 0 {
			return errors.InvalidState("block %d at 0x%x not aligned to %d", i, blk.Address, blk.Size)
		}
		switch blk.State {
		case Allocated:
			allocated++
			if idx, ok := b.allocated[blk.Address]; !ok || idx.Size != blk.Size {
				return errors.InvalidState("allocated block at 0x%x missing from index", blk.Address)
			}
		case Free:
		default:
			return errors.InvalidState("leaf block at 0x%x in state %s", blk.Address, blk.State)
		}
		next = blk.End()
	}
	if next != b.totalSize {
		return errors.InvalidState("blocks cover %d bytes of %d", next, b.totalSize)
	}
	if allocated != len(b.allocated) {
		return errors.InvalidState("index holds %d allocations, block list %d", len(b.allocated), allocated)
	}
	return nil
}

// Utility functions.

func isPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// nextPowerOfTwo rounds n up to a power of two. n must be non-zero.
func nextPowerOfTwo(n uint64) uint64 {
	if isPowerOfTwo(n) {
		return n
	}
	return 1 << bits.Len64(n)
}

func buddyOf(address, size uint64) uint64 {
	return address ^ size
}
