// Package index provides the concurrent, ordered in-memory mapping from
// key to value that backs point lookups and prefix scans.
package index

import (
	"strings"
	"sync"

	"github.com/google/btree"
)

// degree is the B-tree branching factor. 32 is the value google/btree's own
// docs use as a reasonable default; there's nothing spec-mandated about it.
const degree = 32

// entry is the unit stored in the tree, ordered by Key.
type entry struct {
	key   string
	value []byte
}

func less(a, b entry) bool {
	return a.key < b.key
}

// Pair is one (key, value) result from a prefix scan.
type Pair struct {
	Key   string
	Value []byte
}

// Index is a concurrent, ordered key-value map. Point lookups take only a
// shared (read) lock; Put takes an exclusive lock for the duration of the
// tree mutation. Backing the map with a B-tree instead of a plain Go map
// is what makes PrefixScan sub-linear in the total key count: it walks the
// tree from the first key >= prefix instead of scanning every key.
type Index struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[entry]
}

// New returns an empty Index.
func New() *Index {
	return &Index{tree: btree.NewG(degree, less)}
}

// Put replaces any prior binding for key. Concurrent Gets observe either
// the old value or the new one in full, never a partial write, because the
// value slice is copied in and the swap happens under the tree's lock.
func (ix *Index) Put(key string, value []byte) {
	stored := append([]byte(nil), value...)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.tree.ReplaceOrInsert(entry{key: key, value: stored})
}

// Get returns the current binding for key, or (nil, false) if absent.
func (ix *Index) Get(key string) ([]byte, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	e, ok := ix.tree.Get(entry{key: key})
	if !ok {
		return nil, false
	}
	return append([]byte(nil), e.value...), true
}

// Len returns the current number of bindings.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tree.Len()
}

// PrefixScan returns up to maxResults bindings whose keys begin with
// prefix, in ascending lexicographic order. maxResults <= 0 means no
// limit. An empty prefix matches every key, so PrefixScan("", n) returns
// the first n keys overall.
//
// The whole scan runs under a single shared lock, so the result is a
// snapshot of a single moment rather than a live, resumable cursor — which
// is one of the two shapes the spec allows (the other being a restartable
// cursor held across yields, which this package's locking discipline
// doesn't support).
func (ix *Index) PrefixScan(prefix string, maxResults int) []Pair {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var results []Pair
	ix.tree.AscendGreaterOrEqual(entry{key: prefix}, func(e entry) bool {
		if !strings.HasPrefix(e.key, prefix) {
			return false
		}
		results = append(results, Pair{Key: e.key, Value: append([]byte(nil), e.value...)})
		return maxResults <= 0 || len(results) < maxResults
	})
	return results
}
