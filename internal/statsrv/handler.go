// Package statsrv exposes a running simulation read-only over HTTP/3.
package statsrv

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/orizon-lang/kernelsim/internal/allocator"
	"github.com/orizon-lang/kernelsim/internal/paging"
	"github.com/orizon-lang/kernelsim/internal/runtime/kernel"
)

// Source provides consistent views of the simulation. *kernel.Kernel
// implements it.
type Source interface {
	Inspect() kernel.View
}

// Summary is the body of GET /stats.
type Summary struct {
	Tick      uint64          `json:"tick"`
	Running   int             `json:"running,omitempty"`
	Finished  bool            `json:"finished"`
	Policy    string          `json:"policy"`
	Paging    paging.Stats    `json:"paging"`
	Heap      allocator.Stats `json:"heap"`
	Thrashing int             `json:"thrashing"`
}

// NewHandler returns the routes served for src.
func NewHandler(src Source, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &handler{src: src, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	mux.HandleFunc("GET /stats", h.stats)
	mux.HandleFunc("GET /frames", h.frames)
	mux.HandleFunc("GET /blocks", h.blocks)
	mux.HandleFunc("GET /processes", h.processes)
	mux.HandleFunc("GET /processes/{pid}", h.process)
	return mux
}

type handler struct {
	src    Source
	logger *slog.Logger
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	v := h.src.Inspect()
	h.writeJSON(w, http.StatusOK, Summary{
		Tick:      v.Tick,
		Running:   v.Running,
		Finished:  v.Finished,
		Policy:    v.Policy,
		Paging:    v.Paging,
		Heap:      v.Heap,
		Thrashing: v.Thrashing,
	})
}

func (h *handler) frames(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.src.Inspect().Frames)
}

func (h *handler) blocks(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.src.Inspect().Blocks)
}

func (h *handler) processes(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.src.Inspect().Processes)
}

func (h *handler) process(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.Atoi(r.PathValue("pid"))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid pid"})
		return
	}
	for _, p := range h.src.Inspect().Processes {
		if p.PID == pid {
			h.writeJSON(w, http.StatusOK, p)
			return
		}
	}
	h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown pid"})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}
