// Package rating decides whether a rating lookup is worth issuing for a document.
package rating

import (
	"strings"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
)

// DefaultSkipPrefixes lists package prefixes whose pages never carry a comment card.
var DefaultSkipPrefixes = []string{"com.atomicservice"}

// Predicate reports whether the rating for doc should be fetched.
type Predicate interface {
	ShouldFetch(doc *catalog.RawDocument) bool
}

// Func adapts a plain function to Predicate.
type Func func(doc *catalog.RawDocument) bool

// ShouldFetch calls f.
func (f Func) ShouldFetch(doc *catalog.RawDocument) bool {
	return f(doc)
}

// Always fetches a rating for every document.
var Always Predicate = Func(func(*catalog.RawDocument) bool { return true })

// PrefixSkip skips documents whose package name starts with any of the prefixes.
type PrefixSkip struct {
	prefixes []string
}

// NewPrefixSkip builds a PrefixSkip. With no prefixes it uses DefaultSkipPrefixes.
func NewPrefixSkip(prefixes ...string) *PrefixSkip {
	cleaned := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, DefaultSkipPrefixes...)
	}
	return &PrefixSkip{prefixes: cleaned}
}

// ShouldFetch implements Predicate.
func (p *PrefixSkip) ShouldFetch(doc *catalog.RawDocument) bool {
	if doc == nil {
		return false
	}
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(doc.PkgName, prefix) {
			return false
		}
	}
	return true
}
