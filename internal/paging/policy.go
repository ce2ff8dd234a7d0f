// Package paging implements a fixed physical-frame pool shared by per-process
// page tables, with FIFO, LRU and Working-Set page replacement.
//
// The FrameManager is a plain value owned by its caller. It performs no
// internal locking and never blocks: every AccessPage call either resolves to
// a frame index or fails with a typed error without mutating any state.
package paging

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/orizon-lang/kernelsim/internal/errors"
)

// PolicyKind identifies a page replacement algorithm.
type PolicyKind int

const (
	PolicyFIFO PolicyKind = iota
	PolicyLRU
	PolicyWorkingSet
)

// Policy selects the victim frame when the pool is full.
type Policy struct {
	kind   PolicyKind
	window uint64
}

// FIFO evicts the frame that was loaded earliest.
func FIFO() Policy { return Policy{kind: PolicyFIFO} }

// LRU evicts the frame whose page was referenced least recently.
func LRU() Policy { return Policy{kind: PolicyLRU} }

// WorkingSet evicts the least recently used frame among those whose page has
// not been referenced within the last window ticks.
func WorkingSet(window uint64) Policy {
	return Policy{kind: PolicyWorkingSet, window: window}
}

// Kind returns the replacement algorithm.
func (p Policy) Kind() PolicyKind { return p.kind }

// Window returns the working-set window; zero for other policies.
func (p Policy) Window() uint64 { return p.window }

func (p Policy) String() string {
	switch p.kind {
	case PolicyFIFO:
		return "fifo"
	case PolicyLRU:
		return "lru"
	case PolicyWorkingSet:
		return fmt.Sprintf("ws:%d", p.window)
	default:
		return fmt.Sprintf("policy(%d)", int(p.kind))
	}
}

// ParsePolicy parses "fifo", "lru" or "ws:<window>" (also "working-set:<window>").
func ParsePolicy(s string) (Policy, error) {
	name, arg, hasArg := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	switch name {
	case "fifo":
		if hasArg {
			break
		}
		return FIFO(), nil
	case "lru":
		if hasArg {
			break
		}
		return LRU(), nil
	case "ws", "working-set", "workingset":
		if !hasArg {
			return Policy{}, errors.InvalidConfig("policy", "working-set policy requires a window, e.g. ws:4")
		}
		window, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return Policy{}, errors.InvalidConfig("policy", fmt.Sprintf("bad working-set window %q", arg))
		}
		return WorkingSet(window), nil
	}
	return Policy{}, errors.InvalidConfig("policy", fmt.Sprintf("unknown replacement policy %q", s))
}
