// Package workload generates synthetic processes: page reference strings
// with locality of reference, heap request traces and disk requests.
package workload

import (
	"github.com/NebulousLabs/fastrand"

	"github.com/orizon-lang/kernelsim/internal/config"
)

// ReferenceString returns n page numbers in [0, pages). With probability
// locality a reference falls inside a working window of pages/4 pages that
// slides forward as the string progresses; otherwise it is uniform over the
// whole page space.
func ReferenceString(n, pages int, locality float64) []int {
	if n <= 0 || pages <= 0 {
		return nil
	}

	window := max(1, pages/4)
	phase := max(1, n/pages)
	threshold := int(locality * 1000)

	refs := make([]int, n)
	base := fastrand.Intn(pages)
	for i := range refs {
		if i > 0 && i%phase == 0 {
			base = (base + 1) % pages
		}
		if fastrand.Intn(1000) < threshold {
			refs[i] = (base + fastrand.Intn(window)) % pages
		} else {
			refs[i] = fastrand.Intn(pages)
		}
	}
	return refs
}

// HeapTrace returns n heap requests of 1 to maxSize bytes issued within a
// burst of the given length. Roughly one request in four is held until the
// process terminates.
func HeapTrace(n int, maxSize uint64, burst int) []config.HeapRequest {
	if n <= 0 || maxSize == 0 || burst <= 0 {
		return nil
	}
	heap := make([]config.HeapRequest, n)
	for i := range heap {
		heap[i] = config.HeapRequest{
			Size: 1 + fastrand.Uint64n(maxSize),
			At:   fastrand.Intn(burst),
		}
		if fastrand.Intn(4) != 0 {
			heap[i].FreeAfter = 1 + fastrand.Intn(burst)
		}
	}
	return heap
}

// DiskRequests returns n cylinders in [0, cylinders).
func DiskRequests(n, cylinders int) []int {
	if n <= 0 || cylinders <= 0 {
		return nil
	}
	disk := make([]int, n)
	for i := range disk {
		disk[i] = fastrand.Intn(cylinders)
	}
	return disk
}

// Generate builds the processes described by w. PIDs start at 1 and arrivals
// are spread zero to two ticks apart.
func Generate(w config.WorkloadConfig, cylinders int) []config.ProcessConfig {
	procs := make([]config.ProcessConfig, 0, w.Processes)
	var arrival uint64
	for i := 0; i < w.Processes; i++ {
		refs := ReferenceString(w.References, w.Pages, w.Locality)
		procs = append(procs, config.ProcessConfig{
			PID:        i + 1,
			Arrival:    arrival,
			References: refs,
			Heap:       HeapTrace(w.HeapRequests, w.MaxHeap, len(refs)),
			Disk:       DiskRequests(w.DiskRequests, cylinders),
		})
		arrival += uint64(fastrand.Intn(3))
	}
	return procs
}

// Populate fills cfg.Processes from its workload section when no processes
// are listed.
func Populate(cfg *config.SimConfig) {
	if len(cfg.Processes) > 0 {
		return
	}
	cfg.Processes = Generate(cfg.Workload, cfg.Disk.Cylinders)
}
