// Package main provides the kernelsim CLI: it runs memory-management
// simulations, compares replacement policies, replays allocator and disk
// traces and serves live statistics.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/orizon-lang/kernelsim/internal/cli"
	"github.com/orizon-lang/kernelsim/internal/config"
)

const toolName = "kernelsim"

var commands = []cli.CommandInfo{
	{
		Name:        "run",
		Usage:       "kernelsim run [--config sim.json] [--policy lru] [--frames 4] [--snapshot out.json]",
		Description: "Run a full simulation and print its report",
		Examples:    []string{"kernelsim run --config sim.json --policy ws:3", "kernelsim run --json"},
		Flags: []cli.FlagInfo{
			{Name: "config", Usage: "simulation config file", Default: "built-in defaults"},
			{Name: "policy", Usage: "override the replacement policy (fifo, lru, ws:<window>)"},
			{Name: "frames", Usage: "override the number of physical frames"},
			{Name: "snapshot", Usage: "write the final memory state to this file"},
			{Name: "json", Usage: "print the report as JSON"},
		},
	},
	{
		Name:        "compare",
		Usage:       "kernelsim compare [--frames 3] [--refs 1,2,3,4] [--window 3]",
		Description: "Replay one reference string under every replacement policy",
		Examples:    []string{"kernelsim compare --frames 3 --refs 1,2,3,4,1,2,5,1,2,3,4,5"},
	},
	{
		Name:        "buddy",
		Usage:       "kernelsim buddy [--total 1024] [--min 64] alloc:<pid>:<size> free:<addr> ...",
		Description: "Replay allocator operations and print the block list",
		Examples:    []string{"kernelsim buddy alloc:1:64 alloc:2:64 free:0"},
	},
	{
		Name:        "disk",
		Usage:       "kernelsim disk [--policy scan] [--start 53] [--cylinders 200] <cylinder> ...",
		Description: "Serve disk requests with a head-scheduling policy",
		Examples:    []string{"kernelsim disk --all 98 183 37 122 14 124 65 67"},
	},
	{
		Name:        "gen",
		Usage:       "kernelsim gen [--processes 3] [--references 20] [-o sim.json]",
		Description: "Generate a config with synthetic processes",
	},
	{
		Name:        "serve",
		Usage:       "kernelsim serve [--config sim.json] [--addr 127.0.0.1:4433] [--tick 200ms]",
		Description: "Run a simulation while serving live stats over HTTP/3",
	},
	{
		Name:        "watch",
		Usage:       "kernelsim watch --config sim.json",
		Description: "Re-run the simulation whenever the config file changes",
	},
	{
		Name:        "snapshot",
		Usage:       "kernelsim snapshot <file>",
		Description: "Restore a snapshot, verify it and print its state",
	},
	{
		Name:        "ipc",
		Usage:       ipcUsage,
		Description: "Replay semaphores, a bounded buffer or the dining philosophers",
		Examples: []string{
			"kernelsim ipc philosophers -n 5 -steps 20 -trace",
			"kernelsim ipc buffer -capacity 1 consume:2 produce:1:a produce:1:b produce:3:c consume:2",
			"kernelsim ipc sem -init mutex=1 wait:mutex:1 wait:mutex:2 signal:mutex",
		},
	},
	{
		Name:        "version",
		Usage:       "kernelsim version [--json]",
		Description: "Show version information",
	},
}

func main() {
	if len(os.Args) < 2 {
		usage()
		cli.ExitWithCode(1, "")
	}

	sub := os.Args[1]
	args := os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch sub {
	case "help", "-h", "--help":
		if len(args) > 0 {
			if cmd, ok := cli.FindCommand(commands, args[0]); ok {
				cli.PrintCommandUsage(os.Stdout, toolName, cmd)
				return
			}
		}
		usage()
	case "version", "-v", "--version":
		fs := flag.NewFlagSet("version", flag.ExitOnError)
		jsonOutput := fs.Bool("json", false, "output in JSON format")
		_ = fs.Parse(args)
		cli.PrintVersion(os.Stdout, toolName, *jsonOutput)
	case "run":
		err = runCmd(ctx, args)
	case "compare":
		err = compareCmd(args)
	case "buddy":
		err = buddyCmd(args)
	case "disk":
		err = diskCmd(args)
	case "gen":
		err = genCmd(args)
	case "serve":
		err = serveCmd(ctx, args)
	case "watch":
		err = watchCmd(ctx, args)
	case "snapshot":
		err = snapshotCmd(args)
	case "ipc":
		err = ipcCmd(args)
	default:
		usage()
		cli.ExitWithCode(2, "unknown subcommand: %s", sub)
	}

	cli.HandleError(err)
}

func usage() {
	cli.PrintUsage(os.Stdout, toolName, commands)
}

// ============================================================================
// Shared flags
// ============================================================================

// simFlags are the flags shared by the commands that run a simulation.
type simFlags struct {
	configPath string
	policy     string
	frames     int
	verbose    bool
	debug      bool
}

func (f *simFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "simulation config file (JSON)")
	fs.StringVar(&f.policy, "policy", "", "override the replacement policy (fifo, lru, ws:<window>)")
	fs.IntVar(&f.frames, "frames", 0, "override the number of physical frames")
	fs.BoolVar(&f.verbose, "verbose", false, "log simulation progress")
	fs.BoolVar(&f.debug, "debug", false, "log every allocation and eviction")
}

// load returns the configuration selected by the flags.
func (f *simFlags) load() (*config.SimConfig, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}
	return f.apply(cfg)
}

func (f *simFlags) apply(cfg *config.SimConfig) (*config.SimConfig, error) {
	if f.policy != "" {
		cfg.Policy = f.policy
	}
	if f.frames > 0 {
		cfg.Frames = f.frames
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// logger builds the CLI logger; -debug and -verbose take precedence over the
// configured level.
func (f *simFlags) logger(cfg *config.SimConfig) *cli.Logger {
	if f.debug || f.verbose {
		return cli.NewLogger(os.Stderr, f.verbose, f.debug)
	}
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelWarn
	}
	return cli.NewLoggerWithLevel(os.Stderr, level)
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, field := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", field)
		}
		out = append(out, n)
	}
	return out, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
