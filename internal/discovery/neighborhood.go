package discovery

import (
	"sort"
	"strconv"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
)

type span struct {
	prefix string
	width  int
	lo, hi uint64
}

// Neighborhood yields every identifier within delta of a known one. Each known
// id is split into its non-numeric prefix and numeric suffix; the suffix width
// is preserved and the lower bound clamps at zero. Overlapping windows are
// merged so every candidate is produced once. Ids without a numeric suffix are
// ignored.
func Neighborhood(known []string, delta uint64) Source {
	groups := make(map[string][]span)
	var order []string
	for _, id := range known {
		prefix, digits := splitNumeric(id)
		if digits == "" {
			continue
		}
		n, err := strconv.ParseUint(digits, 10, 64)
		if err != nil {
			continue
		}
		s := span{prefix: prefix, width: len(digits), lo: satSub(n, delta), hi: satAdd(n, delta)}
		group := prefix + "\x00" + strconv.Itoa(s.width)
		if _, ok := groups[group]; !ok {
			order = append(order, group)
		}
		groups[group] = append(groups[group], s)
	}
	sort.Strings(order)

	src := &neighborhoodSource{}
	for _, g := range order {
		src.spans = append(src.spans, mergeSpans(groups[g])...)
	}
	for _, s := range src.spans {
		src.remaining += int(s.hi - s.lo + 1)
	}
	return src
}

func mergeSpans(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool { return spans[i].lo < spans[j].lo })
	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if last.hi == ^uint64(0) || s.lo <= last.hi+1 {
			if s.hi > last.hi {
				last.hi = s.hi
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

type neighborhoodSource struct {
	spans     []span
	cur       uint64
	started   bool
	remaining int
}

func (n *neighborhoodSource) Next() (catalog.EntityKey, bool) {
	for len(n.spans) > 0 {
		s := n.spans[0]
		if !n.started {
			n.cur = s.lo
			n.started = true
		}
		v := n.cur
		if v == s.hi {
			n.spans = n.spans[1:]
			n.started = false
		} else {
			n.cur++
		}
		n.remaining--
		return catalog.AppID(formatID(s.prefix, v, s.width)), true
	}
	return catalog.EntityKey{}, false
}

func (n *neighborhoodSource) Len() int {
	return n.remaining
}

// splitNumeric separates the trailing run of digits from the rest of id.
func splitNumeric(id string) (prefix, digits string) {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	return id[:i], id[i:]
}

func satSub(n, d uint64) uint64 {
	if d > n {
		return 0
	}
	return n - d
}

func satAdd(n, d uint64) uint64 {
	if n+d < n {
		return ^uint64(0)
	}
	return n + d
}
