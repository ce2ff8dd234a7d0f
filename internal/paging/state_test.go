package paging

import (
	"encoding/json"
	stderrors "errors"
	"reflect"
	"testing"

	"github.com/orizon-lang/kernelsim/internal/errors"
)

func TestSnapshotRestore(t *testing.T) {
	fm, _ := NewFrameManager(3)
	accessAll(t, fm, FIFO(), 1, 1, 2, 3, 1)
	accessAll(t, fm, FIFO(), 2, 8)

	data, err := json.Marshal(fm.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatal(err)
	}

	restored, err := Restore(st)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(restored.Snapshot(), fm.Snapshot()) {
		t.Fatalf("restored snapshot differs:\n%+v\n%+v", restored.Snapshot(), fm.Snapshot())
	}
	if !reflect.DeepEqual(restored.loadOrder, fm.loadOrder) {
		t.Fatalf("expected rebuilt load order %v; got %v", fm.loadOrder, restored.loadOrder)
	}

	// both managers must make the same FIFO decision next
	exp, _ := fm.AccessPage(FIFO(), 2, 9)
	got, _ := restored.AccessPage(FIFO(), 2, 9)
	if exp != got {
		t.Fatalf("expected restored manager to evict frame %d; evicted %d", exp, got)
	}
}

func TestRestoreRejectsInconsistentState(t *testing.T) {
	fm, _ := NewFrameManager(2)
	accessAll(t, fm, LRU(), 1, 1, 2)

	specs := []struct {
		name   string
		mutate func(*State)
	}{
		{"NoFrames", func(st *State) { st.Frames = nil }},
		{"FrameNumber", func(st *State) { st.Frames[1].Num = 0 }},
		{"UnknownOwner", func(st *State) { st.Frames[0].PID = 42 }},
		{"WrongPage", func(st *State) { st.Frames[0].Page = 2 }},
		{"FutureLoad", func(st *State) { st.Frames[0].LoadTime = st.Clock + 1 }},
		{"DanglingEntry", func(st *State) { st.Frames[1] = Frame{Num: 1} }},
		{"FutureAccess", func(st *State) { st.Tables[0].Entries[0].LastAccess = st.Clock + 1000 }},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			st := fm.Snapshot()
			spec.mutate(&st)
			if _, err := Restore(st); !stderrors.Is(err, errors.ErrInvalidState) {
				t.Fatalf("expected ErrInvalidState; got %v", err)
			}
		})
	}
}
