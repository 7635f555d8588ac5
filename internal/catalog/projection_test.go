package catalog

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInfoSameContentIgnoresCreatedAt(t *testing.T) {
	t.Parallel()

	doc, err := DecodeDocument([]byte(minimalDocument))
	require.NoError(t, err)

	a := doc.Info()
	b := doc.Info()
	a.CreatedAt = time.Unix(100, 0)
	b.CreatedAt = time.Unix(200, 0)
	require.True(t, a.SameContent(b))

	b.Name = "Renamed"
	require.False(t, a.SameContent(b))
}

func TestInfoSameContentComparesAnnotations(t *testing.T) {
	t.Parallel()

	doc, err := DecodeDocument([]byte(minimalDocument))
	require.NoError(t, err)

	listed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	a := doc.Info()
	a.ListedAt = &listed
	a.Comment = json.RawMessage(`{"note": "x", "n": 1}`)

	b := doc.Info()
	sameInstant := listed.In(time.FixedZone("UTC+8", 8*3600))
	b.ListedAt = &sameInstant
	b.Comment = json.RawMessage(`{"n":1,"note":"x"}`)
	require.True(t, a.SameContent(b))

	b.Comment = nil
	require.False(t, a.SameContent(b))
}

func TestMetricSameContent(t *testing.T) {
	t.Parallel()

	doc, err := DecodeDocument([]byte(minimalDocument))
	require.NoError(t, err)

	a := doc.Metric()
	b := doc.Metric()
	b.CreatedAt = time.Now()
	require.True(t, a.SameContent(b))

	b.Version = "1.1"
	require.False(t, a.SameContent(b))
}

func TestSanitizeDropsNul(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ab", sanitize("a\x00b"))
	require.Equal(t, "ok", sanitize("ok\xff"))
}
