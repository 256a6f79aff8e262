package dedup

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// VisitedSet tracks normalized page URLs. The exact map is authoritative
// and feeds the checkpoint; the optional bloom filter fronts it as a cheap
// negative cache for very large crawls.
type VisitedSet struct {
	mu    sync.Mutex
	exact map[string]struct{}
	bloom *bloom.BloomFilter
}

// NewVisitedSet creates a VisitedSet. With useBloom the filter is sized for
// expectedItems at a 1% false positive rate.
func NewVisitedSet(useBloom bool, expectedItems uint) *VisitedSet {
	vs := &VisitedSet{exact: make(map[string]struct{})}
	if useBloom {
		if expectedItems == 0 {
			expectedItems = 100000
		}
		vs.bloom = bloom.NewWithEstimates(expectedItems, 0.01)
	}
	return vs
}

// CheckAndAdd marks the URL visited. Returns true when the URL is new.
// The check and the insert are one atomic step, so two workers racing on
// the same URL cannot both see it as new.
func (vs *VisitedSet) CheckAndAdd(normalizedURL string) bool {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if vs.bloom != nil && !vs.bloom.TestString(normalizedURL) {
		vs.bloom.AddString(normalizedURL)
		vs.exact[normalizedURL] = struct{}{}
		return true
	}
	if _, seen := vs.exact[normalizedURL]; seen {
		return false
	}
	vs.exact[normalizedURL] = struct{}{}
	if vs.bloom != nil {
		vs.bloom.AddString(normalizedURL)
	}
	return true
}

// Contains reports whether the URL was already visited.
func (vs *VisitedSet) Contains(normalizedURL string) bool {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.bloom != nil && !vs.bloom.TestString(normalizedURL) {
		return false
	}
	_, seen := vs.exact[normalizedURL]
	return seen
}

// Len returns the number of visited URLs.
func (vs *VisitedSet) Len() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.exact)
}

// Snapshot returns a copy of the visited URLs for checkpointing.
func (vs *VisitedSet) Snapshot() []string {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	out := make([]string, 0, len(vs.exact))
	for u := range vs.exact {
		out = append(out, u)
	}
	return out
}

// Restore seeds the set from a checkpoint.
func (vs *VisitedSet) Restore(urls []string) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	for _, u := range urls {
		vs.exact[u] = struct{}{}
		if vs.bloom != nil {
			vs.bloom.AddString(u)
		}
	}
}
