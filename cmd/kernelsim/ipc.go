package main

import (
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/orizon-lang/kernelsim/internal/cli"
	"github.com/orizon-lang/kernelsim/internal/errors"
	"github.com/orizon-lang/kernelsim/internal/ipc"
)

const ipcUsage = "kernelsim ipc <philosophers|buffer|sem> [flags] [ops...]"

func ipcCmd(args []string) error {
	if err := cli.ValidateArgs(args, 1, ipcUsage); err != nil {
		return err
	}
	switch args[0] {
	case "philosophers":
		return philosophersCmd(args[1:])
	case "buffer":
		return bufferCmd(args[1:])
	case "sem":
		return semCmd(args[1:])
	}
	return fmt.Errorf("unknown ipc mode %q\nUsage: %s", args[0], ipcUsage)
}

// ipcOp is one replayed synchronization operation.
type ipcOp struct {
	kind string
	pid  int
	name string
	item string
}

func parseIPCOp(s string) (ipcOp, error) {
	parts := strings.Split(s, ":")
	pidAt := func(i int) (int, error) {
		pid, err := strconv.Atoi(parts[i])
		if err != nil {
			return 0, fmt.Errorf("invalid pid in %q", s)
		}
		return pid, nil
	}
	switch {
	case parts[0] == "produce" && len(parts) == 3:
		pid, err := pidAt(1)
		return ipcOp{kind: "produce", pid: pid, item: parts[2]}, err
	case parts[0] == "consume" && len(parts) == 2:
		pid, err := pidAt(1)
		return ipcOp{kind: "consume", pid: pid}, err
	case parts[0] == "wait" && len(parts) == 3 && parts[1] != "":
		pid, err := pidAt(2)
		return ipcOp{kind: "wait", pid: pid, name: parts[1]}, err
	case parts[0] == "signal" && len(parts) == 2 && parts[1] != "":
		return ipcOp{kind: "signal", name: parts[1]}, nil
	}
	return ipcOp{}, fmt.Errorf("unknown operation %q (want produce:<pid>:<item>, consume:<pid>, wait:<sem>:<pid> or signal:<sem>)", s)
}

func parseIPCOps(args []string) ([]ipcOp, error) {
	ops := make([]ipcOp, 0, len(args))
	for _, arg := range args {
		op, err := parseIPCOp(arg)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// ============================================================================
// philosophers
// ============================================================================

func philosophersCmd(args []string) error {
	fs := flag.NewFlagSet("ipc philosophers", flag.ExitOnError)
	n := fs.Int("n", 5, "number of philosophers")
	steps := fs.Int("steps", 20, "steps to simulate")
	trace := fs.Bool("trace", false, "print the fork holders after every step")
	jsonOutput := fs.Bool("json", false, "print the summary as JSON")
	debug := fs.Bool("debug", false, "log semaphore operations")
	_ = fs.Parse(args)

	logger := cli.NewLogger(os.Stderr, false, *debug)
	table, err := ipc.NewTable(*n, ipc.WithLogger(logger.Slog()))
	if err != nil {
		return err
	}
	for i := 0; i < *steps; i++ {
		table.Step()
		if err := table.CheckInvariants(); err != nil {
			return err
		}
		if *trace && !*jsonOutput {
			fmt.Printf("step %3d  forks %v\n", i+1, table.ForkHolders())
		}
	}

	sum := table.Summary()
	if *jsonOutput {
		return writeJSON(os.Stdout, map[string]interface{}{
			"summary":      sum,
			"philosophers": table.Philosophers(),
		})
	}
	fmt.Printf("%d philosophers, %d steps, %d meals (average %.2f, min %d, max %d)\n",
		len(sum.Meals), sum.Steps, sum.Total, sum.Average, sum.Min, sum.Max)
	if len(sum.Starving) > 0 {
		fmt.Printf("Starving: %v\n", sum.Starving)
	}
	return nil
}

// ============================================================================
// buffer
// ============================================================================

func bufferCmd(args []string) error {
	fs := flag.NewFlagSet("ipc buffer", flag.ExitOnError)
	capacity := fs.Int("capacity", 4, "buffer capacity")
	jsonOutput := fs.Bool("json", false, "print the final state as JSON")
	debug := fs.Bool("debug", false, "log semaphore operations")
	_ = fs.Parse(args)

	ops, err := parseIPCOps(fs.Args())
	if err != nil {
		return err
	}
	logger := cli.NewLogger(os.Stderr, false, *debug)
	b, err := ipc.NewBuffer(*capacity, ipc.WithLogger(logger.Slog()))
	if err != nil {
		return err
	}

	out := io.Writer(os.Stdout)
	if *jsonOutput {
		out = io.Discard
	}
	if err := replayBuffer(out, b, ops); err != nil {
		return err
	}
	if *jsonOutput {
		return writeJSON(os.Stdout, map[string]interface{}{
			"stats":      b.Stats(),
			"items":      b.Items(),
			"deliveries": b.Deliveries(),
		})
	}
	st := b.Stats()
	fmt.Fprintf(out, "\n%d/%d slots used, %d produced, %d consumed, items %v\n",
		st.Len, st.Capacity, st.Produced, st.Consumed, b.Items())
	if len(st.BlockedProducers) > 0 || len(st.BlockedConsumers) > 0 {
		fmt.Fprintf(out, "Blocked producers %v, consumers %v\n", st.BlockedProducers, st.BlockedConsumers)
	}
	return nil
}

// replayBuffer applies ops to b. Blocking is reported, not treated as a
// failure; a parked process is completed by a later operation.
func replayBuffer(w io.Writer, b *ipc.Buffer, ops []ipcOp) error {
	for _, op := range ops {
		before := len(b.Deliveries())
		switch op.kind {
		case "produce":
			err := b.Produce(op.pid, op.item)
			switch {
			case stderrors.Is(err, errors.ErrBlocked):
				fmt.Fprintf(w, "produce pid=%d %q: blocked\n", op.pid, op.item)
			case err != nil:
				return err
			default:
				fmt.Fprintf(w, "produce pid=%d %q\n", op.pid, op.item)
			}
		case "consume":
			item, err := b.Consume(op.pid)
			switch {
			case stderrors.Is(err, errors.ErrBlocked):
				fmt.Fprintf(w, "consume pid=%d: blocked\n", op.pid)
				continue
			case err != nil:
				return err
			default:
				fmt.Fprintf(w, "consume pid=%d -> %q\n", op.pid, item)
				before++
			}
		default:
			return fmt.Errorf("%s is not a buffer operation", op.kind)
		}
		// deliveries to processes woken by this operation
		for _, d := range b.Deliveries()[before:] {
			fmt.Fprintf(w, "  woke consumer pid=%d -> %q\n", d.PID, d.Item)
		}
	}
	return nil
}

// ============================================================================
// sem
// ============================================================================

// semInits collects repeated -init name=count flags.
type semInits []string

func (s *semInits) String() string { return strings.Join(*s, ",") }

func (s *semInits) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func parseSemInit(s string) (string, int, error) {
	name, count, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return "", 0, fmt.Errorf("invalid semaphore %q (want name=count)", s)
	}
	n, err := strconv.Atoi(count)
	if err != nil {
		return "", 0, fmt.Errorf("invalid count in %q", s)
	}
	return name, n, nil
}

func semCmd(args []string) error {
	fs := flag.NewFlagSet("ipc sem", flag.ExitOnError)
	var inits semInits
	fs.Var(&inits, "init", "create a semaphore, name=count (repeatable)")
	jsonOutput := fs.Bool("json", false, "print the final state as JSON")
	debug := fs.Bool("debug", false, "log semaphore operations")
	_ = fs.Parse(args)

	ops, err := parseIPCOps(fs.Args())
	if err != nil {
		return err
	}
	logger := cli.NewLogger(os.Stderr, false, *debug)
	r := ipc.NewRegistry(ipc.WithLogger(logger.Slog()))
	for _, def := range inits {
		name, count, err := parseSemInit(def)
		if err != nil {
			return err
		}
		if _, err := r.Create(name, count); err != nil {
			return err
		}
	}

	out := io.Writer(os.Stdout)
	if *jsonOutput {
		out = io.Discard
	}
	if err := replaySems(out, r, ops); err != nil {
		return err
	}
	if *jsonOutput {
		return writeJSON(os.Stdout, r.States())
	}

	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEMAPHORE\tCOUNT\tWAITING")
	for _, st := range r.States() {
		fmt.Fprintf(tw, "%s\t%d\t%v\n", st.Name, st.Count, st.Waiting)
	}
	return tw.Flush()
}

func replaySems(w io.Writer, r *ipc.Registry, ops []ipcOp) error {
	for _, op := range ops {
		if op.kind != "wait" && op.kind != "signal" {
			return fmt.Errorf("%s is not a semaphore operation", op.kind)
		}
		s, ok := r.Get(op.name)
		if !ok {
			return fmt.Errorf("unknown semaphore %q", op.name)
		}
		if op.kind == "wait" {
			if s.Wait(op.pid) {
				fmt.Fprintf(w, "wait %s pid=%d\n", op.name, op.pid)
			} else {
				fmt.Fprintf(w, "wait %s pid=%d: blocked\n", op.name, op.pid)
			}
			continue
		}
		if pid, woke := s.Signal(); woke {
			fmt.Fprintf(w, "signal %s -> woke pid=%d\n", op.name, pid)
		} else {
			fmt.Fprintf(w, "signal %s\n", op.name)
		}
	}
	return nil
}
