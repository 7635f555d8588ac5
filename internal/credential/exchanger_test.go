package credential

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
)

func TestHTTPExchanger_Exchange(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "null_1714564800000", r.Header.Get("Interface-Code"))
		require.Equal(t, "ingest-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`"abc123"`))
	}))
	defer srv.Close()

	clock := &fakeClock{now: time.UnixMilli(1714564800000)}
	ex := NewHTTPExchanger(srv.Client(), srv.URL, "ingest-test", clock)

	token, err := ex.Exchange(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc123", token)
}

func TestHTTPExchanger_Status(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(strings.Repeat("x", 1024)))
	}))
	defer srv.Close()

	ex := NewHTTPExchanger(srv.Client(), srv.URL, "", &fakeClock{})
	_, err := ex.Exchange(context.Background())

	var remoteErr *catalog.RemoteError
	require.True(t, errors.As(err, &remoteErr))
	require.Equal(t, http.StatusServiceUnavailable, remoteErr.Status)
	require.Len(t, remoteErr.Body, 512)
}

func TestHTTPExchanger_HungServerBoundedByManager(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	clock := &fakeClock{now: time.UnixMilli(1714564800000)}
	m := NewManager(
		NewHTTPExchanger(srv.Client(), srv.URL, "", clock),
		&fakeIdentities{},
		clock,
		&fakeSleeper{},
		Config{Attempts: 1, Timeout: 50 * time.Millisecond},
		nil,
	)

	start := time.Now()
	_, err := m.Refresh(context.WithoutCancel(context.Background()))
	require.ErrorIs(t, err, catalog.ErrCredentialsUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second)
}
