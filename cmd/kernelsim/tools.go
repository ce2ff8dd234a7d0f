package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/orizon-lang/kernelsim/internal/allocator"
	"github.com/orizon-lang/kernelsim/internal/cli"
	"github.com/orizon-lang/kernelsim/internal/config"
	"github.com/orizon-lang/kernelsim/internal/disk"
	"github.com/orizon-lang/kernelsim/internal/workload"
)

// ============================================================================
// buddy
// ============================================================================

// heapOp is one replayed allocator operation.
type heapOp struct {
	alloc   bool
	pid     int
	size    uint64
	address uint64
}

func parseHeapOp(s string) (heapOp, error) {
	parts := strings.Split(s, ":")
	switch {
	case parts[0] == "alloc" && len(parts) == 3:
		pid, err := strconv.Atoi(parts[1])
		if err != nil {
			return heapOp{}, fmt.Errorf("invalid pid in %q", s)
		}
		size, err := strconv.ParseUint(parts[2], 0, 64)
		if err != nil {
			return heapOp{}, fmt.Errorf("invalid size in %q", s)
		}
		return heapOp{alloc: true, pid: pid, size: size}, nil
	case parts[0] == "free" && len(parts) == 2:
		addr, err := strconv.ParseUint(parts[1], 0, 64)
		if err != nil {
			return heapOp{}, fmt.Errorf("invalid address in %q", s)
		}
		return heapOp{address: addr}, nil
	}
	return heapOp{}, fmt.Errorf("unknown operation %q (want alloc:<pid>:<size> or free:<addr>)", s)
}

func buddyCmd(args []string) error {
	fs := flag.NewFlagSet("buddy", flag.ExitOnError)
	total := fs.Uint64("total", 1024, "total managed bytes (power of two)")
	minBlock := fs.Uint64("min", 64, "minimum block size (power of two)")
	keepGoing := fs.Bool("k", false, "continue after a failed operation")
	debug := fs.Bool("debug", false, "log splits and merges")
	_ = fs.Parse(args)

	ops := make([]heapOp, 0, fs.NArg())
	for _, arg := range fs.Args() {
		op, err := parseHeapOp(arg)
		if err != nil {
			return err
		}
		ops = append(ops, op)
	}

	logger := cli.NewLogger(os.Stderr, false, *debug)
	b, err := allocator.NewBuddyAllocator(*total, *minBlock, allocator.WithLogger(logger.Slog()))
	if err != nil {
		return err
	}

	for _, op := range ops {
		if op.alloc {
			addr, err := b.Alloc(op.pid, op.size)
			if err != nil {
				if !*keepGoing {
					return err
				}
				fmt.Printf("alloc pid=%d size=%d: %v\n", op.pid, op.size, err)
				continue
			}
			fmt.Printf("alloc pid=%d size=%d -> %#x\n", op.pid, op.size, addr)
			continue
		}
		if err := b.Free(op.address); err != nil {
			if !*keepGoing {
				return err
			}
			fmt.Printf("free %#x: %v\n", op.address, err)
			continue
		}
		fmt.Printf("free %#x\n", op.address)
	}

	fmt.Println()
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tEND\tSIZE\tORDER\tSTATE\tPID\tREQUESTED")
	for _, blk := range b.Blocks() {
		fmt.Fprintf(tw, "%#x\t%#x\t%d\t%d\t%s\t", blk.Address, blk.End(), blk.Size, blk.Order(b.MinBlockSize()), blk.State)
		if blk.State == allocator.Allocated {
			fmt.Fprintf(tw, "%d\t%d\n", blk.PID, blk.Requested)
		} else {
			fmt.Fprintln(tw, "-\t-")
		}
	}
	tw.Flush()

	st := b.Stats()
	fmt.Printf("\n%d/%d bytes allocated, internal fragmentation %d bytes, external %.2f%%\n",
		st.AllocatedBytes, st.TotalSize, st.InternalFragmentation, st.ExternalFragmentation)
	return b.CheckInvariants()
}

// ============================================================================
// disk
// ============================================================================

func diskCmd(args []string) error {
	fs := flag.NewFlagSet("disk", flag.ExitOnError)
	policy := fs.String("policy", "scan", "head scheduling policy ("+strings.Join(disk.Policies, ", ")+")")
	start := fs.Int("start", 53, "initial head cylinder")
	cylinders := fs.Int("cylinders", 200, "number of cylinders")
	direction := fs.String("direction", "up", "initial sweep direction for scan policies (up, down)")
	visualize := fs.Bool("visualize", false, "draw the head movement")
	all := fs.Bool("all", false, "compare every policy")
	n := fs.Int("n", 8, "number of generated requests when none are given")
	_ = fs.Parse(args)

	dir, err := disk.ParseDirection(*direction)
	if err != nil {
		return err
	}
	if *start < 0 || *start >= *cylinders {
		return fmt.Errorf("start cylinder %d outside [0, %d)", *start, *cylinders)
	}

	var reqs []int
	for _, arg := range fs.Args() {
		cyl, err := parseInts(arg)
		if err != nil {
			return err
		}
		reqs = append(reqs, cyl...)
	}
	if len(reqs) == 0 {
		reqs = workload.DiskRequests(*n, *cylinders)
	}
	for _, c := range reqs {
		if c < 0 || c >= *cylinders {
			return fmt.Errorf("cylinder %d outside [0, %d)", c, *cylinders)
		}
	}

	policies := []string{*policy}
	if *all {
		policies = disk.Policies
	}

	fmt.Printf("Requests: %v   start: %d\n", reqs, *start)
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "POLICY\tMOVEMENT\tAVG SEEK\tORDER")
	var sims []*disk.Simulator
	for _, name := range policies {
		s, err := disk.New(name, dir)
		if err != nil {
			return err
		}
		for i, c := range reqs {
			s.Add(disk.Request{Cylinder: c, Timestamp: uint64(i)})
		}
		sim := disk.NewSimulator(*start, nil)
		sim.ServeAll(s)
		sims = append(sims, sim)

		order := make([]string, 0, len(reqs))
		for _, m := range sim.History() {
			order = append(order, strconv.Itoa(m.To))
		}
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%s\n", s.Name(), sim.TotalMovement(), sim.AverageSeek(), strings.Join(order, " "))
	}
	tw.Flush()

	if *visualize {
		for i, sim := range sims {
			fmt.Printf("\n%s\n", strings.ToUpper(policies[i]))
			if err := sim.Render(os.Stdout, *cylinders-1); err != nil {
				return err
			}
		}
	}
	return nil
}

// ============================================================================
// gen
// ============================================================================

func genCmd(args []string) error {
	def := config.Default()
	fs := flag.NewFlagSet("gen", flag.ExitOnError)
	processes := fs.Int("processes", def.Workload.Processes, "number of processes")
	references := fs.Int("references", def.Workload.References, "page references per process")
	pages := fs.Int("pages", def.Workload.Pages, "virtual pages per process")
	locality := fs.Float64("locality", def.Workload.Locality, "probability of staying in the working window")
	heap := fs.Int("heap", def.Workload.HeapRequests, "heap requests per process")
	diskReqs := fs.Int("disk", def.Workload.DiskRequests, "disk requests per process")
	out := fs.String("o", "", "output file (stdout when empty)")
	_ = fs.Parse(args)

	cfg := config.Default()
	cfg.Workload.Processes = *processes
	cfg.Workload.References = *references
	cfg.Workload.Pages = *pages
	cfg.Workload.Locality = *locality
	cfg.Workload.HeapRequests = *heap
	cfg.Workload.DiskRequests = *diskReqs
	if err := cfg.Validate(); err != nil {
		return err
	}

	workload.Populate(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if *out == "" {
		return writeJSON(os.Stdout, cfg)
	}
	if err := cfg.Save(*out); err != nil {
		return err
	}
	fmt.Printf("Wrote %d processes to %s\n", len(cfg.Processes), *out)
	return nil
}
