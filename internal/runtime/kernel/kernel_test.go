package kernel

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/orizon-lang/kernelsim/internal/config"
	"github.com/orizon-lang/kernelsim/internal/errors"
	"github.com/orizon-lang/kernelsim/internal/paging"
)

func testConfig(policy, sched string, procs ...config.ProcessConfig) *config.SimConfig {
	cfg := config.Default()
	cfg.Frames = 3
	cfg.Policy = policy
	cfg.Scheduler = config.SchedulerConfig{Policy: sched, Quantum: 2}
	cfg.Disk = config.DiskConfig{Policy: "fcfs", Start: 53, Cylinders: 200}
	cfg.Processes = procs
	return cfg
}

func runKernel(t *testing.T, cfg *config.SimConfig) (*Kernel, *Report) {
	t.Helper()
	k, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	report, err := k.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return k, report
}

func processByPID(t *testing.T, r *Report, pid int) ProcessReport {
	t.Helper()
	for _, p := range r.Processes {
		if p.PID == pid {
			return p
		}
	}
	t.Fatalf("pid %d missing from report", pid)
	return ProcessReport{}
}

func TestRunSingleProcessFIFO(t *testing.T) {
	k, r := runKernel(t, testConfig("fifo", "fifo", config.ProcessConfig{PID: 1, References: []int{1, 2, 3, 4}}))

	if r.Paging.Faults != 4 || r.Paging.Hits != 0 || r.Paging.Evictions != 1 {
		t.Fatalf("unexpected paging stats %+v", r.Paging)
	}
	p := processByPID(t, r, 1)
	if p.State != StateTerminated || p.Finish != 4 || p.Faults != 4 {
		t.Fatalf("unexpected process report %+v", p)
	}

	// termination releases every frame
	for _, f := range k.Inspect().Frames {
		if f.Occupied {
			t.Fatalf("frame %d still occupied after termination", f.Num)
		}
	}
	if !k.Inspect().Finished {
		t.Fatal("expected the view to report a finished run")
	}
}

func TestRoundRobinTimes(t *testing.T) {
	_, r := runKernel(t, testConfig("lru", "rr",
		config.ProcessConfig{PID: 1, Burst: 3, References: []int{1}},
		config.ProcessConfig{PID: 2, Burst: 3, References: []int{2}},
	))

	specs := []struct {
		pid                                   int
		start, finish, turnaround, wait, resp uint64
	}{
		{1, 0, 5, 5, 2, 0},
		{2, 2, 6, 6, 3, 2},
	}
	for _, spec := range specs {
		p := processByPID(t, r, spec.pid)
		if p.Start != spec.start || p.Finish != spec.finish || p.Turnaround != spec.turnaround ||
			p.Waiting != spec.wait || p.Response != spec.resp {
			t.Errorf("pid %d: unexpected times %+v", spec.pid, p)
		}
	}
	if r.Ticks != 6 || r.AverageTurnaround != 5.5 || r.AverageWaiting != 2.5 {
		t.Fatalf("unexpected totals: ticks %d turnaround %v waiting %v", r.Ticks, r.AverageTurnaround, r.AverageWaiting)
	}
	if r.Scheduler != "RR(q=2)" {
		t.Fatalf("unexpected scheduler name %q", r.Scheduler)
	}
}

func TestSJFOrder(t *testing.T) {
	_, r := runKernel(t, testConfig("lru", "sjf",
		config.ProcessConfig{PID: 1, Burst: 5, References: []int{1}},
		config.ProcessConfig{PID: 2, Arrival: 1, Burst: 2, References: []int{2}},
		config.ProcessConfig{PID: 3, Arrival: 1, Burst: 1, References: []int{3}},
	))

	for pid, finish := range map[int]uint64{1: 5, 3: 6, 2: 8} {
		if p := processByPID(t, r, pid); p.Finish != finish {
			t.Errorf("pid %d: expected finish %d; got %d", pid, finish, p.Finish)
		}
	}
}

func TestIdleUntilArrival(t *testing.T) {
	_, r := runKernel(t, testConfig("lru", "fifo", config.ProcessConfig{PID: 7, Arrival: 10, References: []int{1, 2}}))

	p := processByPID(t, r, 7)
	if p.Start != 10 || p.Finish != 12 || p.Response != 0 || p.Waiting != 0 {
		t.Fatalf("unexpected times %+v", p)
	}
}

func TestHeapRequests(t *testing.T) {
	_, r := runKernel(t, testConfig("lru", "fifo", config.ProcessConfig{
		PID:        1,
		References: []int{1, 1, 1, 1},
		Heap: []config.HeapRequest{
			{Size: 1000, At: 2},
			{Size: 100, At: 0, FreeAfter: 2},
			{Size: 64, At: 1},
		},
	}))

	if r.Heap.TotalAllocations != 2 || r.Heap.TotalDeallocations != 2 {
		t.Fatalf("unexpected heap counters %+v", r.Heap)
	}
	if r.Heap.AllocatedBlocks != 0 || r.Heap.FreeBlocks != 1 {
		t.Fatalf("expected the heap to be fully coalesced; got %+v", r.Heap)
	}
	if len(r.HeapFailures) != 1 || r.HeapFailures[0].Size != 1000 || r.HeapFailures[0].Tick != 2 {
		t.Fatalf("unexpected heap failures %+v", r.HeapFailures)
	}
	if p := processByPID(t, r, 1); p.HeapFailures != 1 {
		t.Fatalf("expected one failure on pid 1; got %+v", p)
	}
	if r.Heap.InternalFragmentation != 28 {
		t.Fatalf("expected 28 bytes of internal fragmentation; got %d", r.Heap.InternalFragmentation)
	}
}

func TestWorkingSetThrashingFallsBackToLRU(t *testing.T) {
	cfg := testConfig("ws:10", "fifo", config.ProcessConfig{PID: 1, References: []int{1, 2, 3}})
	cfg.Frames = 2
	_, r := runKernel(t, cfg)

	if len(r.Thrashing) != 1 {
		t.Fatalf("expected one thrashing event; got %+v", r.Thrashing)
	}
	ev := r.Thrashing[0]
	if ev.PID != 1 || ev.Page != 3 || ev.Window != 10 || ev.Tick != 2 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if r.Paging.Faults != 3 || r.Paging.TotalAccesses != 3 || r.Paging.Evictions != 1 {
		t.Fatalf("fallback must count the reference once: %+v", r.Paging)
	}
}

func TestDiskRequestsServedAtEnd(t *testing.T) {
	_, r := runKernel(t, testConfig("lru", "fifo",
		config.ProcessConfig{PID: 1, References: []int{1}, Disk: []int{98, 183}},
		config.ProcessConfig{PID: 2, References: []int{2}, Disk: []int{37}},
	))

	if r.Disk.Served != 3 || r.Disk.TotalMovement != 45+85+146 {
		t.Fatalf("unexpected disk stats %+v", r.Disk)
	}
	if len(r.DiskMoves) != 3 || r.DiskMoves[2].PID != 2 {
		t.Fatalf("unexpected disk moves %+v", r.DiskMoves)
	}
}

func TestGeneratedWorkload(t *testing.T) {
	cfg := config.Default()
	k, r := runKernel(t, cfg)

	if len(cfg.Processes) != 0 {
		t.Fatal("expected New to leave the caller's config untouched")
	}
	if len(r.Processes) != cfg.Workload.Processes {
		t.Fatalf("expected %d processes; got %d", cfg.Workload.Processes, len(r.Processes))
	}

	var ticks uint64
	for _, p := range r.Processes {
		if p.State != StateTerminated {
			t.Fatalf("pid %d not terminated", p.PID)
		}
		ticks += uint64(p.Burst)
	}
	if r.Paging.TotalAccesses != ticks {
		t.Fatalf("expected one reference per tick (%d); got %d", ticks, r.Paging.TotalAccesses)
	}
	if r.Heap.AllocatedBlocks != 0 {
		t.Fatalf("expected every heap block released; got %+v", r.Heap)
	}
	if _, ok := k.Process(1); !ok {
		t.Fatal("expected pid 1 to be known")
	}
}

func TestRunTwiceFails(t *testing.T) {
	k, _ := runKernel(t, testConfig("lru", "fifo", config.ProcessConfig{PID: 1, References: []int{1}}))
	if _, err := k.Run(context.Background()); !stderrors.Is(err, errors.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState; got %v", err)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	k, err := New(testConfig("lru", "fifo", config.ProcessConfig{PID: 1, References: []int{1, 2, 3}}))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := k.Run(ctx); !stderrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled; got %v", err)
	}
}

func TestInspectDuringRun(t *testing.T) {
	cfg := testConfig("lru", "rr",
		config.ProcessConfig{PID: 1, References: []int{1, 2, 3, 4, 5}},
		config.ProcessConfig{PID: 2, References: []int{5, 4, 3, 2, 1}},
	)
	k, err := New(cfg, WithTickDelay(time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			v := k.Inspect()
			if len(v.Frames) != 3 {
				t.Errorf("expected 3 frames; got %d", len(v.Frames))
				return
			}
		}
	}()

	r, err := k.Run(context.Background())
	close(stop)
	wg.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if r.Ticks != 10 {
		t.Fatalf("expected 10 ticks; got %d", r.Ticks)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Frames = 0
	if _, err := New(cfg); !stderrors.Is(err, errors.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig; got %v", err)
	}
}

func TestCompare(t *testing.T) {
	refs := []int{1, 2, 3, 4, 1, 2, 5, 1, 2, 3, 4, 5}
	results, err := Compare(3, refs, []paging.Policy{paging.FIFO(), paging.LRU(), paging.WorkingSet(2)})
	if err != nil {
		t.Fatal(err)
	}

	if results[0].Policy != "fifo" || results[0].Stats.Faults != 9 {
		t.Errorf("expected 9 FIFO faults; got %+v", results[0])
	}
	if results[1].Policy != "lru" || results[1].Stats.Faults != 10 {
		t.Errorf("expected 10 LRU faults; got %+v", results[1])
	}
	for _, res := range results {
		if res.Stats.TotalAccesses != uint64(len(refs)) || len(res.Resident) != 3 {
			t.Errorf("%s: unexpected result %+v", res.Policy, res)
		}
	}
}
