package discovery

import (
	"sort"
	"strings"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
)

// Packages merges a configured package list with the packages already stored,
// drops blanks and duplicates, and shuffles the result deterministically from
// seed so repeated syncs do not always hit the remote in the same order.
func Packages(static, known []string, seed uint64) Source {
	seen := make(map[string]struct{}, len(static)+len(known))
	names := make([]string, 0, len(static)+len(known))
	for _, list := range [][]string{static, known} {
		for _, raw := range list {
			name := strings.TrimSpace(raw)
			if name == "" {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	shuffle(names, seed)

	keys := make([]catalog.EntityKey, len(names))
	for i, name := range names {
		keys[i] = catalog.Package(name)
	}
	return &sliceSource{keys: keys}
}

// shuffle is a forward Fisher-Yates driven by a 64-bit LCG.
func shuffle(names []string, seed uint64) {
	state := seed
	n := len(names)
	for i := 0; i < n; i++ {
		state = state*6364136223846793005 + 1442695040888963407
		j := i + int(state%uint64(n-i))
		names[i], names[j] = names[j], names[i]
	}
}
