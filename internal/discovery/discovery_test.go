package discovery

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
)

func drain(t *testing.T, src Source, limit int) []string {
	t.Helper()
	var out []string
	for i := 0; i < limit; i++ {
		k, ok := src.Next()
		if !ok {
			break
		}
		out = append(out, k.Value)
	}
	return out
}

func TestSequential(t *testing.T) {
	t.Parallel()
	src := NewSequential("C576588020785", 2000000, 2000003, 7)
	require.Equal(t, 4, src.Len())

	got := drain(t, src, 10)
	require.Equal(t, []string{
		"C5765880207852000000",
		"C5765880207852000001",
		"C5765880207852000002",
		"C5765880207852000003",
	}, got)
	require.Equal(t, 0, src.Len())
	_, ok := src.Next()
	require.False(t, ok)
}

func TestSequentialPadsAndHandlesEmptyRange(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{"C0000009", "C0000010"}, drain(t, NewSequential("C", 9, 10, 7), 5))

	empty := NewSequential("C", 5, 4, 7)
	require.Equal(t, 0, empty.Len())
	require.Empty(t, drain(t, empty, 5))
}

func TestSequentialLenAfterPartialDrain(t *testing.T) {
	t.Parallel()
	src := NewSequential("C", 1, 10, 2)
	drain(t, src, 3)
	require.Equal(t, 7, src.Len())
}

func TestRandomIsDeterministicAndInRange(t *testing.T) {
	t.Parallel()
	const base, span = 1000, 50
	a := NewRandom("C69175", base, span, 42)
	b := NewRandom("C69175", base, span, 42)
	require.Equal(t, Unbounded, a.Len())

	first := drain(t, a, 200)
	require.Equal(t, first, drain(t, b, 200))
	require.Len(t, first, 200)
	for _, id := range first {
		require.Equal(t, catalog.KindAppID, catalog.ParseKey(id).Kind)
		require.Equal(t, "C69175", id[:6])
		n, err := strconv.ParseUint(id[6:], 10, 64)
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, uint64(base))
		require.Less(t, n, uint64(base+span))
	}

	var state uint64 = 42*1664525 + 1013904223
	require.Equal(t, "C69175"+strconv.FormatUint(base+state%span, 10), first[0])
}

func TestRandomZeroSpanIsEmpty(t *testing.T) {
	t.Parallel()
	src := NewRandom("C", 10, 0, 1)
	require.Equal(t, 0, src.Len())
	_, ok := src.Next()
	require.False(t, ok)
}

func TestNeighborhood(t *testing.T) {
	t.Parallel()
	src := Neighborhood([]string{"C0000005"}, 2)
	require.Equal(t, 5, src.Len())
	require.Equal(t, []string{"C0000003", "C0000004", "C0000005", "C0000006", "C0000007"}, drain(t, src, 10))
	require.Equal(t, 0, src.Len())
}

func TestNeighborhoodClampsAndMerges(t *testing.T) {
	t.Parallel()
	src := Neighborhood([]string{"C001", "C003", "C100", "bad-id", "C003"}, 2)
	// [0,3] and [1,5] merge into [0,5]; [98,102] stays separate.
	require.Equal(t, 11, src.Len())
	require.Equal(t, []string{
		"C000", "C001", "C002", "C003", "C004", "C005",
		"C098", "C099", "C100", "C101", "C102",
	}, drain(t, src, 20))
}

func TestNeighborhoodKeepsPrefixesApart(t *testing.T) {
	t.Parallel()
	src := Neighborhood([]string{"C69175100", "C5765880207852000000"}, 1)
	got := drain(t, src, 10)
	require.ElementsMatch(t, []string{
		"C69175099", "C69175100", "C69175101",
		"C5765880207851999999", "C5765880207852000000", "C5765880207852000001",
	}, got)
}

func TestSplitNumeric(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, prefix, digits string
	}{
		{"C576588020785123", "C", "576588020785123"},
		{"com.example", "com.example", ""},
		{"A1B22", "A1B", "22"},
		{"", "", ""},
	}
	for _, tc := range tests {
		p, d := splitNumeric(tc.in)
		require.Equal(t, tc.prefix, p, tc.in)
		require.Equal(t, tc.digits, d, tc.in)
	}
}

func TestPackagesMergesAndShufflesDeterministically(t *testing.T) {
	t.Parallel()
	static := []string{" com.b ", "com.a", "", "com.c"}
	known := []string{"com.a", "com.d"}

	first := drain(t, Packages(static, known, 7), 10)
	second := drain(t, Packages(static, known, 7), 10)
	require.Equal(t, first, second)
	require.ElementsMatch(t, []string{"com.a", "com.b", "com.c", "com.d"}, first)

	k, ok := Packages([]string{"com.x"}, nil, 1).Next()
	require.True(t, ok)
	require.Equal(t, catalog.Package("com.x"), k)
}

func TestShuffleMatchesLCG(t *testing.T) {
	t.Parallel()
	names := []string{"a", "b", "c"}
	shuffle(names, 0)

	want := []string{"a", "b", "c"}
	var state uint64
	for i := 0; i < 3; i++ {
		state = state*6364136223846793005 + 1442695040888963407
		j := i + int(state%uint64(3-i))
		want[i], want[j] = want[j], want[i]
	}
	require.Equal(t, want, names)
}

func TestChainAndDedupe(t *testing.T) {
	t.Parallel()
	src := Dedupe(Chain(
		Strings("C1", "com.a", " "),
		Slice(catalog.AppID("C1"), catalog.AppID("C2")),
	))
	require.Equal(t, 4, src.Len())

	var got []catalog.EntityKey
	for {
		k, ok := src.Next()
		if !ok {
			break
		}
		got = append(got, k)
	}
	require.Equal(t, []catalog.EntityKey{
		catalog.AppID("C1"),
		catalog.Package("com.a"),
		catalog.AppID("C2"),
	}, got)
}

func TestChainUnboundedLen(t *testing.T) {
	t.Parallel()
	src := Chain(Slice(catalog.AppID("C1")), NewRandom("C", 1, 10, 1))
	require.Equal(t, Unbounded, src.Len())
}
