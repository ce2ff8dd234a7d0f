package config

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/orizon-lang/kernelsim/internal/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.json")

	cfg := Default()
	cfg.Policy = "ws:3"
	cfg.Processes = []ProcessConfig{{
		PID:        1,
		References: []int{1, 2, 3},
		Heap:       []HeapRequest{{Size: 100, At: 1, FreeAfter: 2}},
		Disk:       []int{10, 190},
	}}
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg, loaded) {
		t.Fatalf("round trip mismatch:\n%+v\n%+v", cfg, loaded)
	}
	if p, _ := loaded.PagingPolicy(); p.String() != "ws:3" {
		t.Fatalf("unexpected policy %v", p)
	}
}

func TestLoadKeepsDefaultsForOmittedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.json")
	writeFile(t, path, `{"frames": 8, "disk": {"policy": "sstf", "cylinders": 100, "start": 10}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Frames != 8 || cfg.Policy != "lru" || cfg.Buddy.TotalSize != 1024 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Disk.Policy != "sstf" || cfg.Disk.Cylinders != 100 {
		t.Fatalf("unexpected disk config %+v", cfg.Disk)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.json")
	writeFile(t, path, `{"frames": 4, "swap": true}`)

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "swap") {
		t.Fatalf("expected unknown field error; got %v", err)
	}
}

func TestValidate(t *testing.T) {
	specs := []struct {
		name   string
		mutate func(*SimConfig)
	}{
		{"Frames", func(c *SimConfig) { c.Frames = 0 }},
		{"Policy", func(c *SimConfig) { c.Policy = "clock" }},
		{"BuddyTotal", func(c *SimConfig) { c.Buddy.TotalSize = 1000 }},
		{"BuddyMin", func(c *SimConfig) { c.Buddy.MinBlockSize = 2048 }},
		{"Scheduler", func(c *SimConfig) { c.Scheduler.Policy = "mlfq" }},
		{"Quantum", func(c *SimConfig) { c.Scheduler.Quantum = 0 }},
		{"DiskPolicy", func(c *SimConfig) { c.Disk.Policy = "look" }},
		{"DiskStart", func(c *SimConfig) { c.Disk.Start = 200 }},
		{"Direction", func(c *SimConfig) { c.Disk.Direction = "left" }},
		{"LogLevel", func(c *SimConfig) { c.LogLevel = "loud" }},
		{"Locality", func(c *SimConfig) { c.Workload.Locality = 1.5 }},
		{"MaxHeap", func(c *SimConfig) { c.Workload.MaxHeap = 4096 }},
		{"NonPositivePID", func(c *SimConfig) {
			c.Processes = []ProcessConfig{{PID: 0, References: []int{1}}}
		}},
		{"NegativePID", func(c *SimConfig) {
			c.Processes = []ProcessConfig{{PID: 1, References: []int{1}}, {PID: -3, References: []int{2}}}
		}},
		{"DuplicatePID", func(c *SimConfig) {
			c.Processes = []ProcessConfig{{PID: 1, References: []int{1}}, {PID: 1, References: []int{2}}}
		}},
		{"EmptyReferences", func(c *SimConfig) { c.Processes = []ProcessConfig{{PID: 1}} }},
		{"HeapSize", func(c *SimConfig) {
			c.Processes = []ProcessConfig{{PID: 1, References: []int{1}, Heap: []HeapRequest{{Size: 0}}}}
		}},
		{"HeapAfterBurst", func(c *SimConfig) {
			c.Processes = []ProcessConfig{{PID: 1, References: []int{1, 2}, Heap: []HeapRequest{{Size: 8, At: 2}}}}
		}},
		{"DiskCylinder", func(c *SimConfig) {
			c.Processes = []ProcessConfig{{PID: 1, References: []int{1}, Disk: []int{500}}}
		}},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			cfg := Default()
			spec.mutate(cfg)
			if err := cfg.Validate(); !stderrors.Is(err, errors.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig; got %v", err)
			}
		})
	}

	t.Run("QuantumIgnoredOutsideRR", func(t *testing.T) {
		cfg := Default()
		cfg.Scheduler = SchedulerConfig{Policy: "sjf"}
		if err := cfg.Validate(); err != nil {
			t.Fatal(err)
		}
	})
}

func TestParseLogLevel(t *testing.T) {
	specs := map[string]slog.Level{
		"":        slog.LevelWarn,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, exp := range specs {
		got, err := ParseLogLevel(in)
		if err != nil || got != exp {
			t.Errorf("ParseLogLevel(%q) = %v, %v; expected %v", in, got, err, exp)
		}
	}
	if _, err := ParseLogLevel("loud"); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.json")
	if err := Default().Save(path); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	w, err := NewWatcher(path, WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	changes := make(chan *SimConfig, 4)
	failures := make(chan error, 64)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx,
			func(c *SimConfig) { changes <- c },
			func(err error) { failures <- err })
	}()

	writeFile(t, path, `{"frames": 0}`)
	select {
	case <-failures:
	case c := <-changes:
		t.Fatalf("invalid config delivered: %+v", c)
	case <-ctx.Done():
		t.Fatal("timed out waiting for reload error")
	}

	writeFile(t, path, `{"frames": 16}`)
	for reloaded := false; !reloaded; {
		select {
		case c := <-changes:
			if c.Frames != 16 {
				t.Fatalf("expected 16 frames; got %d", c.Frames)
			}
			reloaded = true
		case <-failures:
			// a reload may observe the file mid-write
		case <-ctx.Done():
			t.Fatal("timed out waiting for reload")
		}
	}

	cancel()
	if err := <-done; !stderrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled; got %v", err)
	}
}
