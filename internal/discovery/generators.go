package discovery

import (
	"fmt"
	"strconv"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
)

// Defaults for the identifier spaces observed on the remote.
const (
	DefaultSequentialPrefix = "C576588020785"
	DefaultSequentialStart  = 2000000
	DefaultSequentialEnd    = 6390000
	DefaultSequentialWidth  = 7

	DefaultRandomPrefix = "C69175"
	DefaultRandomBase   = 59067092904725
	DefaultRandomSpan   = 85170011059280 - DefaultRandomBase

	DefaultNeighborhoodDelta = 1000
)

// Sequential walks Prefix + zero-padded numbers from Start to End inclusive.
type Sequential struct {
	Prefix string
	Start  uint64
	End    uint64
	Width  int

	next uint64
	done bool
	init bool
}

// NewSequential builds a sequential range source.
func NewSequential(prefix string, start, end uint64, width int) *Sequential {
	return &Sequential{Prefix: prefix, Start: start, End: end, Width: width}
}

// Next returns the next identifier in the range.
func (s *Sequential) Next() (catalog.EntityKey, bool) {
	if !s.init {
		s.init = true
		s.next = s.Start
		s.done = s.Start > s.End
	}
	if s.done {
		return catalog.EntityKey{}, false
	}
	n := s.next
	if n == s.End {
		s.done = true
	} else {
		s.next++
	}
	return catalog.AppID(formatID(s.Prefix, n, s.Width)), true
}

// Len reports the identifiers left in the range.
func (s *Sequential) Len() int {
	if !s.init {
		if s.Start > s.End {
			return 0
		}
		return int(s.End - s.Start + 1)
	}
	if s.done {
		return 0
	}
	return int(s.End - s.next + 1)
}

// Random samples Base + x for x uniformly-ish in [0, Span) using a linear
// congruential generator. It never runs dry.
type Random struct {
	Prefix string
	Base   uint64
	Span   uint64
	Seed   uint64

	state  uint64
	seeded bool
}

// NewRandom builds a random sampling source.
func NewRandom(prefix string, base, span, seed uint64) *Random {
	return &Random{Prefix: prefix, Base: base, Span: span, Seed: seed}
}

func (r *Random) step() uint64 {
	if !r.seeded {
		r.state = r.Seed
		r.seeded = true
	}
	r.state = r.state*1664525 + 1013904223
	return r.state
}

// Next returns the next sampled identifier.
func (r *Random) Next() (catalog.EntityKey, bool) {
	if r.Span == 0 {
		return catalog.EntityKey{}, false
	}
	n := r.Base + r.step()%r.Span
	return catalog.AppID(r.Prefix + strconv.FormatUint(n, 10)), true
}

// Len is Unbounded unless Span is zero.
func (r *Random) Len() int {
	if r.Span == 0 {
		return 0
	}
	return Unbounded
}

func formatID(prefix string, n uint64, width int) string {
	return fmt.Sprintf("%s%0*d", prefix, width, n)
}
