// Package discovery produces candidate entity keys for the batch scheduler.
//
// A Source is pulled lazily so unbounded generators never materialize their
// candidates. Sources are not safe for concurrent use; the scheduler pulls from
// a single goroutine.
package discovery

import (
	"strings"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
)

// Unbounded is the Len of a source that never runs dry.
const Unbounded = -1

// Source yields candidates until exhausted.
type Source interface {
	// Next returns the next candidate, or false once the source is exhausted.
	Next() (catalog.EntityKey, bool)
	// Len is the number of candidates left, or Unbounded.
	Len() int
}

// Slice yields a fixed list of keys in order.
func Slice(keys ...catalog.EntityKey) Source {
	out := make([]catalog.EntityKey, len(keys))
	copy(out, keys)
	return &sliceSource{keys: out}
}

// Strings classifies each raw value with catalog.ParseKey and yields the
// non-blank ones.
func Strings(raw ...string) Source {
	keys := make([]catalog.EntityKey, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		keys = append(keys, catalog.ParseKey(r))
	}
	return &sliceSource{keys: keys}
}

type sliceSource struct {
	keys []catalog.EntityKey
	pos  int
}

func (s *sliceSource) Next() (catalog.EntityKey, bool) {
	if s.pos >= len(s.keys) {
		return catalog.EntityKey{}, false
	}
	k := s.keys[s.pos]
	s.pos++
	return k, true
}

func (s *sliceSource) Len() int {
	return len(s.keys) - s.pos
}

// Chain drains each source in turn.
func Chain(sources ...Source) Source {
	return &chainSource{sources: sources}
}

type chainSource struct {
	sources []Source
}

func (c *chainSource) Next() (catalog.EntityKey, bool) {
	for len(c.sources) > 0 {
		if k, ok := c.sources[0].Next(); ok {
			return k, true
		}
		c.sources = c.sources[1:]
	}
	return catalog.EntityKey{}, false
}

func (c *chainSource) Len() int {
	total := 0
	for _, s := range c.sources {
		n := s.Len()
		if n == Unbounded {
			return Unbounded
		}
		total += n
	}
	return total
}

// Dedupe drops keys the wrapped source already produced. Len reports the
// upstream count, which is an upper bound.
func Dedupe(src Source) Source {
	return &dedupeSource{src: src, seen: make(map[catalog.EntityKey]struct{})}
}

type dedupeSource struct {
	src  Source
	seen map[catalog.EntityKey]struct{}
}

func (d *dedupeSource) Next() (catalog.EntityKey, bool) {
	for {
		k, ok := d.src.Next()
		if !ok {
			return catalog.EntityKey{}, false
		}
		if _, dup := d.seen[k]; dup {
			continue
		}
		d.seen[k] = struct{}{}
		return k, true
	}
}

func (d *dedupeSource) Len() int {
	return d.src.Len()
}
