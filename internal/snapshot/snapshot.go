// Package snapshot persists simulator state as versioned JSON files.
//
// Only primary state is written: the FIFO load-order queue and the allocator's
// address index are rebuilt when a snapshot is restored.
package snapshot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	semver "github.com/Masterminds/semver/v3"

	"github.com/orizon-lang/kernelsim/internal/allocator"
	"github.com/orizon-lang/kernelsim/internal/errors"
	"github.com/orizon-lang/kernelsim/internal/paging"
)

const (
	// FormatVersion is written into every new snapshot.
	FormatVersion = "1.1.0"
	// Compatibility is the range of format versions Load accepts.
	Compatibility = ">= 1.0.0, < 2.0.0"
)

// Snapshot is the persisted state of one simulation.
type Snapshot struct {
	FormatVersion string          `json:"format_version"`
	CreatedAt     time.Time       `json:"created_at"`
	Policy        string          `json:"policy"`
	Paging        paging.State    `json:"paging"`
	Heap          allocator.State `json:"heap"`
}

// New captures a snapshot of the given states.
func New(policy paging.Policy, p paging.State, h allocator.State) *Snapshot {
	return &Snapshot{
		FormatVersion: FormatVersion,
		CreatedAt:     time.Now().UTC(),
		Policy:        policy.String(),
		Paging:        p,
		Heap:          h,
	}
}

// CheckVersion reports ErrIncompatibleFormat unless the snapshot's format
// version satisfies Compatibility.
func (s *Snapshot) CheckVersion() error {
	v, err := semver.NewVersion(s.FormatVersion)
	if err != nil {
		return errors.IncompatibleFormat(s.FormatVersion, Compatibility)
	}
	c, err := semver.NewConstraint(Compatibility)
	if err != nil {
		return fmt.Errorf("invalid compatibility constraint: %w", err)
	}
	if !c.Check(v) {
		return errors.IncompatibleFormat(s.FormatVersion, Compatibility)
	}
	return nil
}

// Restore rebuilds the frame manager and allocator recorded in s.
func (s *Snapshot) Restore(logger *slog.Logger) (*paging.FrameManager, *allocator.BuddyAllocator, paging.Policy, error) {
	policy, err := paging.ParsePolicy(s.Policy)
	if err != nil {
		return nil, nil, paging.Policy{}, err
	}

	var pagingOpts []paging.Option
	var heapOpts []allocator.Option
	if logger != nil {
		pagingOpts = append(pagingOpts, paging.WithLogger(logger))
		heapOpts = append(heapOpts, allocator.WithLogger(logger))
	}

	fm, err := paging.Restore(s.Paging, pagingOpts...)
	if err != nil {
		return nil, nil, paging.Policy{}, fmt.Errorf("failed to restore paging state: %w", err)
	}
	heap, err := allocator.Restore(s.Heap, heapOpts...)
	if err != nil {
		return nil, nil, paging.Policy{}, fmt.Errorf("failed to restore heap state: %w", err)
	}
	return fm, heap, policy, nil
}

// Save writes s to path. The file is replaced atomically while holding an
// exclusive lock on path's lock file.
func Save(path string, s *Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	unlock, err := acquire(path, true)
	if err != nil {
		return err
	}
	defer unlock()

	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot at path under a shared lock and checks its format
// version.
func Load(path string) (*Snapshot, error) {
	unlock, err := acquire(path, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	if err := s.CheckVersion(); err != nil {
		return nil, err
	}
	return &s, nil
}

func acquire(path string, exclusive bool) (func(), error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := lockFile(f, exclusive); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	return func() {
		unlockFile(f)
		f.Close()
	}, nil
}
