package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/kernelsim/internal/cli"
	"github.com/orizon-lang/kernelsim/internal/config"
	"github.com/orizon-lang/kernelsim/internal/paging"
	"github.com/orizon-lang/kernelsim/internal/runtime/kernel"
	"github.com/orizon-lang/kernelsim/internal/snapshot"
	"github.com/orizon-lang/kernelsim/internal/statsrv"
	"github.com/orizon-lang/kernelsim/internal/workload"
)

func runCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var sf simFlags
	sf.register(fs)
	jsonOutput := fs.Bool("json", false, "print the report as JSON")
	snapshotPath := fs.String("snapshot", "", "write the final memory state to this file")
	timeout := fs.Duration("timeout", 0, "optional timeout (e.g., 30s)")
	_ = fs.Parse(args)

	cfg, err := sf.load()
	if err != nil {
		return err
	}
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	k, err := kernel.New(cfg, kernel.WithLogger(sf.logger(cfg).Slog()))
	if err != nil {
		return err
	}
	report, err := k.Run(ctx)
	if err != nil {
		return err
	}

	if *snapshotPath != "" {
		if err := snapshot.Save(*snapshotPath, k.Snapshot()); err != nil {
			return err
		}
	}
	if *jsonOutput {
		return writeJSON(os.Stdout, report)
	}
	printReport(os.Stdout, report)
	return nil
}

func printReport(w io.Writer, r *kernel.Report) {
	fmt.Fprintf(w, "Policy: %s   Scheduler: %s   Ticks: %d\n\n", r.Policy, r.Scheduler, r.Ticks)

	fmt.Fprintf(w, "Paging: %d accesses, %d hits, %d faults, %d evictions, hit rate %.2f%%\n",
		r.Paging.TotalAccesses, r.Paging.Hits, r.Paging.Faults, r.Paging.Evictions, r.Paging.HitRate)
	if len(r.Thrashing) > 0 {
		fmt.Fprintf(w, "Thrashing: %d references fell back to LRU\n", len(r.Thrashing))
	}
	fmt.Fprintf(w, "Heap: %d allocations, %d frees, %d failures, internal fragmentation %d bytes, external %.2f%%\n",
		r.Heap.TotalAllocations, r.Heap.TotalDeallocations, len(r.HeapFailures),
		r.Heap.InternalFragmentation, r.Heap.ExternalFragmentation)
	fmt.Fprintf(w, "Disk (%s): %d requests, %d cylinders moved, %.2f average seek\n\n",
		r.Disk.Policy, r.Disk.Served, r.Disk.TotalMovement, r.Disk.AverageSeek)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tARRIVAL\tBURST\tSTART\tFINISH\tTURNAROUND\tWAITING\tRESPONSE\tFAULTS\tHITS")
	for _, p := range r.Processes {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			p.PID, p.Arrival, p.Burst, p.Start, p.Finish, p.Turnaround, p.Waiting, p.Response, p.Faults, p.Hits)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nAverage turnaround %.2f, waiting %.2f, response %.2f\n",
		r.AverageTurnaround, r.AverageWaiting, r.AverageResponse)
}

func compareCmd(args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	frames := fs.Int("frames", 3, "number of physical frames")
	refsFlag := fs.String("refs", "", "comma-separated page references (generated when empty)")
	window := fs.Uint64("window", 3, "working-set window")
	n := fs.Int("n", 30, "length of a generated reference string")
	pages := fs.Int("pages", 8, "page space of a generated reference string")
	locality := fs.Float64("locality", 0.8, "locality of a generated reference string")
	jsonOutput := fs.Bool("json", false, "print results as JSON")
	_ = fs.Parse(args)

	refs, err := parseInts(*refsFlag)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		refs = workload.ReferenceString(*n, *pages, *locality)
	}

	results, err := kernel.Compare(*frames, refs, kernel.DefaultPolicies(*window))
	if err != nil {
		return err
	}
	if *jsonOutput {
		return writeJSON(os.Stdout, map[string]interface{}{"references": refs, "results": results})
	}

	fmt.Printf("References (%d): %v\n\n", len(refs), refs)
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "POLICY\tFAULTS\tHITS\tHIT RATE\tEVICTIONS\tTHRASHING\tRESIDENT")
	for _, res := range results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f%%\t%d\t%d\t%v\n",
			res.Policy, res.Stats.Faults, res.Stats.Hits, res.Stats.HitRate, res.Stats.Evictions, res.Thrashing, res.Resident)
	}
	return tw.Flush()
}

func serveCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var sf simFlags
	sf.register(fs)
	addr := fs.String("addr", "127.0.0.1:4433", "UDP address to serve HTTP/3 on")
	certFile := fs.String("cert", "", "TLS certificate (self-signed when empty)")
	keyFile := fs.String("key", "", "TLS private key")
	tick := fs.Duration("tick", 200*time.Millisecond, "wall-clock delay per simulated tick")
	linger := fs.Bool("linger", true, "keep serving after the simulation finishes")
	_ = fs.Parse(args)

	cfg, err := sf.load()
	if err != nil {
		return err
	}
	logger := sf.logger(cfg)

	tlsCfg, err := statsrv.TLSConfig(*certFile, *keyFile, []string{"127.0.0.1", "localhost"})
	if err != nil {
		return err
	}

	k, err := kernel.New(cfg, kernel.WithLogger(logger.Slog()), kernel.WithTickDelay(*tick))
	if err != nil {
		return err
	}
	srv := statsrv.NewServer(*addr, tlsCfg, statsrv.NewHandler(k, logger.Slog()), statsrv.WithServerLogger(logger.Slog()))

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()

	g.Go(func() error {
		return srv.Serve(serveCtx, func(bound net.Addr) {
			fmt.Printf("Serving stats on https://%s (HTTP/3)\n", bound)
		})
	})
	g.Go(func() error {
		report, err := k.Run(gctx)
		if err != nil {
			return err
		}
		printReport(os.Stdout, report)
		if !*linger {
			stopServing()
		}
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func watchCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	var sf simFlags
	sf.register(fs)
	_ = fs.Parse(args)

	if sf.configPath == "" {
		return fmt.Errorf("watch requires --config")
	}
	cfg, err := sf.load()
	if err != nil {
		return err
	}
	logger := sf.logger(cfg)

	simulate := func(cfg *config.SimConfig) {
		k, err := kernel.New(cfg, kernel.WithLogger(logger.Slog()))
		if err != nil {
			logger.Error("invalid config: %v", err)
			return
		}
		report, err := k.Run(ctx)
		if err != nil {
			logger.Error("simulation failed: %v", err)
			return
		}
		fmt.Printf("=== %s ===\n", time.Now().Format("15:04:05"))
		printReport(os.Stdout, report)
	}

	simulate(cfg)
	err = config.Watch(ctx, sf.configPath,
		func(next *config.SimConfig) {
			next, err := sf.apply(next)
			if err != nil {
				logger.Error("invalid config: %v", err)
				return
			}
			simulate(next)
		},
		func(err error) { logger.Warn("reload failed: %v", err) },
		config.WithWatchLogger(logger.Slog()),
	)
	if err == context.Canceled {
		return nil
	}
	return err
}

func snapshotCmd(args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "print the restored state as JSON")
	_ = fs.Parse(args)
	if err := cli.ValidateArgs(fs.Args(), 1, "kernelsim snapshot [--json] <file>"); err != nil {
		return err
	}

	s, err := snapshot.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	fm, heap, policy, err := s.Restore(nil)
	if err != nil {
		return err
	}
	if err := heap.CheckInvariants(); err != nil {
		return err
	}

	if *jsonOutput {
		return writeJSON(os.Stdout, map[string]interface{}{
			"format_version": s.FormatVersion,
			"created_at":     s.CreatedAt,
			"policy":         policy.String(),
			"paging":         fm.Stats(),
			"frames":         fm.Frames(),
			"heap":           heap.Stats(),
			"blocks":         heap.Blocks(),
		})
	}

	fmt.Printf("Snapshot format %s, created %s, policy %s\n", s.FormatVersion, s.CreatedAt.Format(time.RFC3339), policy)
	st := fm.Stats()
	fmt.Printf("Paging: clock %d, %d hits, %d faults, hit rate %.2f%%\n", fm.Clock(), st.Hits, st.Faults, st.HitRate)
	printFrames(os.Stdout, fm.Frames())
	hs := heap.Stats()
	fmt.Printf("Heap: %d/%d bytes allocated in %d blocks\n", hs.AllocatedBytes, hs.TotalSize, hs.AllocatedBlocks)
	return nil
}

func printFrames(w io.Writer, frames []paging.Frame) {
	var b strings.Builder
	for _, f := range frames {
		if f.Occupied {
			fmt.Fprintf(&b, "[%d: pid %d page %d] ", f.Num, f.PID, f.Page)
		} else {
			fmt.Fprintf(&b, "[%d: free] ", f.Num)
		}
	}
	fmt.Fprintln(w, strings.TrimSpace(b.String()))
}
