package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/orizon-lang/kernelsim/internal/config"
	"github.com/orizon-lang/kernelsim/internal/ipc"
	"github.com/orizon-lang/kernelsim/internal/runtime/kernel"
)

func TestParseHeapOp(t *testing.T) {
	tests := []struct {
		in      string
		want    heapOp
		wantErr bool
	}{
		{in: "alloc:1:64", want: heapOp{alloc: true, pid: 1, size: 64}},
		{in: "alloc:2:0x100", want: heapOp{alloc: true, pid: 2, size: 256}},
		{in: "free:0", want: heapOp{}},
		{in: "free:0x80", want: heapOp{address: 128}},
		{in: "alloc:1", wantErr: true},
		{in: "alloc:x:64", wantErr: true},
		{in: "alloc:1:-4", wantErr: true},
		{in: "free:", wantErr: true},
		{in: "resize:1:2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseHeapOp(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseInts(t *testing.T) {
	got, err := parseInts("1,2, 3 4")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 || got[0] != 1 || got[3] != 4 {
		t.Fatalf("unexpected %v", got)
	}
	if got, _ := parseInts(""); len(got) != 0 {
		t.Fatalf("expected no numbers, got %v", got)
	}
	if _, err := parseInts("1,a"); err == nil {
		t.Fatal("expected error for a non-number")
	}
}

func TestSimFlagsApply(t *testing.T) {
	sf := simFlags{policy: "ws:3", frames: 6}
	cfg, err := sf.apply(config.Default())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Policy != "ws:3" || cfg.Frames != 6 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}

	sf = simFlags{policy: "clock"}
	if _, err := sf.apply(config.Default()); err == nil {
		t.Fatal("expected an unknown policy to be rejected")
	}
}

func TestPrintReport(t *testing.T) {
	cfg := config.Default()
	cfg.Processes = []config.ProcessConfig{{PID: 7, References: []int{0, 1}}}
	k, err := kernel.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	report, err := k.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	printReport(&buf, report)
	out := buf.String()
	for _, want := range []string{"Policy: lru", "2 accesses", "PID", "Average turnaround"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestParseIPCOp(t *testing.T) {
	tests := []struct {
		in      string
		want    ipcOp
		wantErr bool
	}{
		{in: "produce:1:a", want: ipcOp{kind: "produce", pid: 1, item: "a"}},
		{in: "consume:2", want: ipcOp{kind: "consume", pid: 2}},
		{in: "wait:mutex:3", want: ipcOp{kind: "wait", pid: 3, name: "mutex"}},
		{in: "signal:mutex", want: ipcOp{kind: "signal", name: "mutex"}},
		{in: "produce:1", wantErr: true},
		{in: "consume:x", wantErr: true},
		{in: "wait::3", wantErr: true},
		{in: "signal:", wantErr: true},
		{in: "lock:mutex", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseIPCOp(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseSemInit(t *testing.T) {
	name, count, err := parseSemInit("slots=4")
	if err != nil || name != "slots" || count != 4 {
		t.Fatalf("got %q %d %v", name, count, err)
	}
	for _, in := range []string{"slots", "=1", "slots=x"} {
		if _, _, err := parseSemInit(in); err == nil {
			t.Errorf("expected %q to be rejected", in)
		}
	}
}

func TestReplayBuffer(t *testing.T) {
	ops, err := parseIPCOps([]string{"consume:2", "produce:1:a", "produce:1:b", "produce:3:c", "consume:2"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := ipc.NewBuffer(1)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := replayBuffer(&buf, b, ops); err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		`consume pid=2: blocked`,
		`produce pid=1 "a"`,
		`  woke consumer pid=2 -> "a"`,
		`produce pid=1 "b"`,
		`produce pid=3 "c": blocked`,
		`consume pid=2 -> "b"`,
	}, "\n") + "\n"
	if buf.String() != want {
		t.Fatalf("unexpected trace:\n%s\nwant:\n%s", buf.String(), want)
	}

	st := b.Stats()
	if st.Produced != 3 || st.Consumed != 2 || len(st.BlockedProducers) != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if items := b.Items(); len(items) != 1 || items[0] != "c" {
		t.Fatalf("expected the parked item to be buffered; got %v", items)
	}

	if err := replayBuffer(&buf, b, []ipcOp{{kind: "signal", name: "mutex"}}); err == nil {
		t.Fatal("expected a semaphore operation to be rejected")
	}
}

func TestReplaySems(t *testing.T) {
	r := ipc.NewRegistry()
	if _, err := r.Create("mutex", 1); err != nil {
		t.Fatal(err)
	}
	ops, err := parseIPCOps([]string{"wait:mutex:1", "wait:mutex:2", "signal:mutex"})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := replaySems(&buf, r, ops); err != nil {
		t.Fatal(err)
	}
	want := "wait mutex pid=1\nwait mutex pid=2: blocked\nsignal mutex -> woke pid=2\n"
	if buf.String() != want {
		t.Fatalf("unexpected trace:\n%s", buf.String())
	}
	if st := r.States(); len(st) != 1 || st[0].Count != 0 || len(st[0].Waiting) != 0 {
		t.Fatalf("unexpected states %+v", st)
	}

	if err := replaySems(&buf, r, []ipcOp{{kind: "wait", name: "full", pid: 1}}); err == nil {
		t.Fatal("expected an unknown semaphore to be rejected")
	}
}

func TestIPCCmdRequiresMode(t *testing.T) {
	if err := ipcCmd(nil); err == nil || !strings.Contains(err.Error(), "Usage:") {
		t.Fatalf("expected usage error, got %v", err)
	}
	if err := ipcCmd([]string{"mailbox"}); err == nil {
		t.Fatal("expected an unknown mode to be rejected")
	}
}

func TestSnapshotCmdRequiresFile(t *testing.T) {
	if err := snapshotCmd(nil); err == nil || !strings.Contains(err.Error(), "insufficient arguments") {
		t.Fatalf("expected usage error, got %v", err)
	}
}
