package snapshot

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/orizon-lang/kernelsim/internal/allocator"
	"github.com/orizon-lang/kernelsim/internal/errors"
	"github.com/orizon-lang/kernelsim/internal/paging"
)

func buildState(t *testing.T) (*paging.FrameManager, *allocator.BuddyAllocator) {
	t.Helper()
	fm, err := paging.NewFrameManager(3)
	if err != nil {
		t.Fatal(err)
	}
	for _, page := range []int{1, 2, 3, 1, 4} {
		if _, err := fm.AccessPage(paging.FIFO(), 1, page); err != nil {
			t.Fatal(err)
		}
	}
	heap, err := allocator.NewBuddyAllocator(1024, 64)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := heap.Alloc(1, 100); err != nil {
		t.Fatal(err)
	}
	return fm, heap
}

func TestSaveLoadRestore(t *testing.T) {
	fm, heap := buildState(t)
	path := filepath.Join(t.TempDir(), "state.json")

	if err := Save(path, New(paging.FIFO(), fm.Snapshot(), heap.Snapshot())); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.FormatVersion != FormatVersion || s.Policy != "fifo" {
		t.Fatalf("unexpected header %+v", s)
	}

	gotFM, gotHeap, policy, err := s.Restore(nil)
	if err != nil {
		t.Fatal(err)
	}
	if policy.Kind() != paging.PolicyFIFO {
		t.Fatalf("expected fifo policy; got %v", policy)
	}
	if !reflect.DeepEqual(gotFM.Frames(), fm.Frames()) || gotFM.Stats() != fm.Stats() {
		t.Fatal("restored frame manager differs")
	}
	if gotHeap.Stats() != heap.Stats() {
		t.Fatalf("restored heap differs: %+v vs %+v", gotHeap.Stats(), heap.Stats())
	}

	// the rebuilt FIFO queue makes the same choice as the live manager
	exp, _ := fm.AccessPage(paging.FIFO(), 1, 9)
	got, _ := gotFM.AccessPage(paging.FIFO(), 1, 9)
	if exp != got {
		t.Fatalf("expected frame %d; got %d", exp, got)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestSaveOverwrites(t *testing.T) {
	fm, heap := buildState(t)
	path := filepath.Join(t.TempDir(), "state.json")

	if err := Save(path, New(paging.LRU(), fm.Snapshot(), heap.Snapshot())); err != nil {
		t.Fatal(err)
	}
	if err := Save(path, New(paging.WorkingSet(4), fm.Snapshot(), heap.Snapshot())); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Policy != "ws:4" {
		t.Fatalf("expected the second save to win; got %q", s.Policy)
	}
}

func TestCheckVersion(t *testing.T) {
	specs := []struct {
		version string
		ok      bool
	}{
		{"1.0.0", true},
		{"1.1.0", true},
		{"1.9.3", true},
		{"0.9.0", false},
		{"2.0.0", false},
		{"not-a-version", false},
	}

	for _, spec := range specs {
		err := (&Snapshot{FormatVersion: spec.version}).CheckVersion()
		switch {
		case spec.ok && err != nil:
			t.Errorf("%s: unexpected error %v", spec.version, err)
		case !spec.ok && !stderrors.Is(err, errors.ErrIncompatibleFormat):
			t.Errorf("%s: expected ErrIncompatibleFormat; got %v", spec.version, err)
		}
	}
}

func TestLoadRejectsIncompatibleVersion(t *testing.T) {
	fm, heap := buildState(t)
	path := filepath.Join(t.TempDir(), "state.json")

	s := New(paging.LRU(), fm.Snapshot(), heap.Snapshot())
	s.FormatVersion = "2.0.0"
	if err := Save(path, s); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !stderrors.Is(err, errors.ErrIncompatibleFormat) {
		t.Fatalf("expected ErrIncompatibleFormat; got %v", err)
	}
}

func TestRestoreRejectsCorruptState(t *testing.T) {
	fm, heap := buildState(t)
	s := New(paging.LRU(), fm.Snapshot(), heap.Snapshot())
	s.Heap.Blocks = s.Heap.Blocks[1:]

	if _, _, _, err := s.Restore(nil); !stderrors.Is(err, errors.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState; got %v", err)
	}
}
