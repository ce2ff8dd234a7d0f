package kernel

import (
	"github.com/orizon-lang/kernelsim/internal/paging"
)

// PolicyResult is the outcome of replaying one reference string under one
// replacement policy.
type PolicyResult struct {
	Policy    string       `json:"policy"`
	Stats     paging.Stats `json:"stats"`
	Thrashing int          `json:"thrashing"`
	Resident  []int        `json:"resident"` // page held by each frame, -1 if free
}

// DefaultPolicies returns FIFO, LRU and a working set of the given window.
func DefaultPolicies(window uint64) []paging.Policy {
	return []paging.Policy{paging.FIFO(), paging.LRU(), paging.WorkingSet(window)}
}

// Compare replays refs as a single process on a fresh pool of frames for each
// policy. Working-set references that find no evictable frame fall back to
// LRU, as in a full simulation.
func Compare(frames int, refs []int, policies []paging.Policy, opts ...paging.Option) ([]PolicyResult, error) {
	results := make([]PolicyResult, 0, len(policies))
	for _, policy := range policies {
		fm, err := paging.NewFrameManager(frames, opts...)
		if err != nil {
			return nil, err
		}

		res := PolicyResult{Policy: policy.String()}
		for _, page := range refs {
			thrashed, err := accessWithFallback(fm, policy, 1, page)
			if err != nil {
				return nil, err
			}
			if thrashed {
				res.Thrashing++
			}
		}

		res.Stats = fm.Stats()
		for _, f := range fm.Frames() {
			page := paging.NoFrame
			if f.Occupied {
				page = f.Page
			}
			res.Resident = append(res.Resident, page)
		}
		results = append(results, res)
	}
	return results, nil
}
