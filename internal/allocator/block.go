package allocator

import (
	"fmt"
	"math/bits"
)

// BlockState is the state of a block in the buddy tree.
type BlockState int

const (
	Free BlockState = iota
	Allocated
	// Split marks an interior block whose halves are tracked separately. It
	// never appears in the leaf list returned by Blocks.
	Split
)

func (s BlockState) String() string {
	switch s {
	case Free:
		return "free"
	case Allocated:
		return "allocated"
	case Split:
		return "split"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s BlockState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *BlockState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "free":
		*s = Free
	case "allocated":
		*s = Allocated
	case "split":
		*s = Split
	default:
		return fmt.Errorf("unknown block state %q", text)
	}
	return nil
}

// Block is a power-of-two region of the managed range. PID and Requested are
// only meaningful for allocated blocks.
type Block struct {
	Address   uint64     `json:"address"`
	Size      uint64     `json:"size"`
	State     BlockState `json:"state"`
	PID       int        `json:"pid,omitempty"`
	Requested uint64     `json:"requested,omitempty"`
}

// Buddy returns the address of the block's merge partner.
func (blk Block) Buddy() uint64 {
	return buddyOf(blk.Address, blk.Size)
}

// End returns the first address past the block.
func (blk Block) End() uint64 {
	return blk.Address + blk.Size
}

// Order returns the block size as a power of two of minBlockSize: order 0
// is one minimum block, order k spans 2^k of them.
func (blk Block) Order(minBlockSize uint64) int {
	return bits.Len64(blk.Size/minBlockSize) - 1
}

// Waste returns the bytes lost to rounding for an allocated block.
func (blk Block) Waste() uint64 {
	if blk.State != Allocated {
		return 0
	}
	return blk.Size - blk.Requested
}
