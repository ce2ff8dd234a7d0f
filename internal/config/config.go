// Package config loads and validates simulation configurations.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/orizon-lang/kernelsim/internal/disk"
	"github.com/orizon-lang/kernelsim/internal/errors"
	"github.com/orizon-lang/kernelsim/internal/paging"
)

// SimConfig describes one simulation run.
type SimConfig struct {
	Frames    int             `json:"frames"`
	Policy    string          `json:"policy"`
	Buddy     BuddyConfig     `json:"buddy"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Disk      DiskConfig      `json:"disk"`
	Workload  WorkloadConfig  `json:"workload"`
	Processes []ProcessConfig `json:"processes,omitempty"`
	LogLevel  string          `json:"log_level"`
}

// BuddyConfig sizes the heap allocator.
type BuddyConfig struct {
	TotalSize    uint64 `json:"total_size"`
	MinBlockSize uint64 `json:"min_block_size"`
}

// SchedulerConfig selects the CPU scheduler.
type SchedulerConfig struct {
	Policy  string `json:"policy"`
	Quantum int    `json:"quantum"`
}

// DiskConfig selects the disk-head scheduler.
type DiskConfig struct {
	Policy    string `json:"policy"`
	Start     int    `json:"start"`
	Cylinders int    `json:"cylinders"`
	Direction string `json:"direction"`
}

// WorkloadConfig parameterizes generated processes. It is only used when
// Processes is empty.
type WorkloadConfig struct {
	Processes    int     `json:"processes"`
	References   int     `json:"references"`
	Pages        int     `json:"pages"`
	Locality     float64 `json:"locality"`
	HeapRequests int     `json:"heap_requests"`
	MaxHeap      uint64  `json:"max_heap"`
	DiskRequests int     `json:"disk_requests"`
}

// ProcessConfig describes one process. Burst defaults to the number of
// references; tick i of the process touches References[i%len(References)].
type ProcessConfig struct {
	PID        int           `json:"pid"`
	Arrival    uint64        `json:"arrival"`
	Burst      int           `json:"burst,omitempty"`
	References []int         `json:"references"`
	Heap       []HeapRequest `json:"heap,omitempty"`
	Disk       []int         `json:"disk,omitempty"`
}

// EffectiveBurst returns Burst, or the number of references when Burst is
// zero.
func (p ProcessConfig) EffectiveBurst() int {
	if p.Burst > 0 {
		return p.Burst
	}
	return len(p.References)
}

// HeapRequest is issued once the process has executed At ticks and freed
// FreeAfter ticks later. A zero FreeAfter holds the block until the process
// terminates.
type HeapRequest struct {
	Size      uint64 `json:"size"`
	At        int    `json:"at"`
	FreeAfter int    `json:"free_after,omitempty"`
}

// SchedulerPolicies lists the accepted CPU scheduler names.
var SchedulerPolicies = []string{"fifo", "rr", "sjf"}

// Default returns the configuration used when no file is given.
func Default() *SimConfig {
	return &SimConfig{
		Frames: 4,
		Policy: "lru",
		Buddy: BuddyConfig{
			TotalSize:    1024,
			MinBlockSize: 64,
		},
		Scheduler: SchedulerConfig{
			Policy:  "rr",
			Quantum: 2,
		},
		Disk: DiskConfig{
			Policy:    "scan",
			Start:     50,
			Cylinders: 200,
			Direction: "up",
		},
		Workload: WorkloadConfig{
			Processes:    3,
			References:   20,
			Pages:        8,
			Locality:     0.8,
			HeapRequests: 2,
			MaxHeap:      256,
			DiskRequests: 2,
		},
		LogLevel: "warn",
	}
}

// Load reads path over Default and validates the result. Unknown fields are
// rejected.
func Load(path string) (*SimConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg := Default()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path as indented JSON.
func (c *SimConfig) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// PagingPolicy returns the parsed replacement policy.
func (c *SimConfig) PagingPolicy() (paging.Policy, error) {
	return paging.ParsePolicy(c.Policy)
}

// ParseLogLevel maps "debug", "info", "warn" and "error" to a slog level.
// The empty string selects warn.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// Validate checks every field and returns the first problem as an
// ErrInvalidConfig error.
func (c *SimConfig) Validate() error {
	if c.Frames < 1 {
		return errors.InvalidConfig("frames", "must be at least 1")
	}
	if _, err := c.PagingPolicy(); err != nil {
		return err
	}

	if !isPowerOfTwo(c.Buddy.TotalSize) {
		return errors.InvalidConfig("buddy.total_size", "must be a power of two")
	}
	if !isPowerOfTwo(c.Buddy.MinBlockSize) || c.Buddy.MinBlockSize > c.Buddy.TotalSize {
		return errors.InvalidConfig("buddy.min_block_size", "must be a power of two no larger than total_size")
	}

	if !slices.Contains(SchedulerPolicies, strings.ToLower(c.Scheduler.Policy)) {
		return errors.InvalidConfig("scheduler.policy", fmt.Sprintf("unknown policy %q", c.Scheduler.Policy))
	}
	if strings.EqualFold(c.Scheduler.Policy, "rr") && c.Scheduler.Quantum < 1 {
		return errors.InvalidConfig("scheduler.quantum", "must be at least 1 for round-robin")
	}

	if _, err := disk.New(c.Disk.Policy, disk.Up); err != nil {
		return err
	}
	if _, err := disk.ParseDirection(c.Disk.Direction); err != nil {
		return err
	}
	if c.Disk.Cylinders < 1 {
		return errors.InvalidConfig("disk.cylinders", "must be at least 1")
	}
	if c.Disk.Start < 0 || c.Disk.Start >= c.Disk.Cylinders {
		return errors.InvalidConfig("disk.start", fmt.Sprintf("must lie in [0, %d)", c.Disk.Cylinders))
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return errors.InvalidConfig("log_level", err.Error())
	}

	if len(c.Processes) == 0 {
		return c.validateWorkload()
	}
	return c.validateProcesses()
}

func (c *SimConfig) validateWorkload() error {
	w := c.Workload
	switch {
	case w.Processes < 1:
		return errors.InvalidConfig("workload.processes", "must be at least 1 when no processes are listed")
	case w.References < 1:
		return errors.InvalidConfig("workload.references", "must be at least 1")
	case w.Pages < 1:
		return errors.InvalidConfig("workload.pages", "must be at least 1")
	case w.Locality < 0 || w.Locality > 1:
		return errors.InvalidConfig("workload.locality", "must lie in [0, 1]")
	case w.HeapRequests < 0 || w.DiskRequests < 0:
		return errors.InvalidConfig("workload", "request counts must not be negative")
	case w.HeapRequests > 0 && (w.MaxHeap == 0 || w.MaxHeap > c.Buddy.TotalSize):
		return errors.InvalidConfig("workload.max_heap", "must lie in [1, buddy.total_size]")
	}
	return nil
}

func (c *SimConfig) validateProcesses() error {
	seen := make(map[int]bool, len(c.Processes))
	for i, p := range c.Processes {
		field := func(name string) string { return fmt.Sprintf("processes[%d].%s", i, name) }

		if p.PID <= 0 {
			return errors.InvalidConfig(field("pid"), fmt.Sprintf("pid %d must be positive", p.PID))
		}
		if seen[p.PID] {
			return errors.InvalidConfig(field("pid"), fmt.Sprintf("duplicate pid %d", p.PID))
		}
		seen[p.PID] = true

		if len(p.References) == 0 {
			return errors.InvalidConfig(field("references"), "must not be empty")
		}
		for _, page := range p.References {
			if page < 0 {
				return errors.InvalidConfig(field("references"), fmt.Sprintf("negative page %d", page))
			}
		}
		if p.Burst < 0 {
			return errors.InvalidConfig(field("burst"), "must not be negative")
		}
		for _, h := range p.Heap {
			if h.Size == 0 || h.Size > c.Buddy.TotalSize {
				return errors.InvalidConfig(field("heap"), fmt.Sprintf("size %d outside [1, %d]", h.Size, c.Buddy.TotalSize))
			}
			if h.At < 0 || h.At >= p.EffectiveBurst() || h.FreeAfter < 0 {
				return errors.InvalidConfig(field("heap"), fmt.Sprintf("request at tick %d outside burst %d", h.At, p.EffectiveBurst()))
			}
		}
		for _, cyl := range p.Disk {
			if cyl < 0 || cyl >= c.Disk.Cylinders {
				return errors.InvalidConfig(field("disk"), fmt.Sprintf("cylinder %d outside [0, %d)", cyl, c.Disk.Cylinders))
			}
		}
	}
	return nil
}

func isPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}
