package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
	"github.com/JakeFAU/appgallery-ingest/internal/credential"
)

type staticCreds struct {
	cred credential.Credential
	err  error
}

func (s staticCreds) Current(context.Context) (credential.Credential, error) {
	return s.cred, s.err
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type noSleep struct {
	mu    sync.Mutex
	count int
}

func (s *noSleep) Sleep(ctx context.Context, _ time.Duration) error {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	return ctx.Err()
}

type recordingWaiter struct {
	mu        sync.Mutex
	endpoints []string
}

func (w *recordingWaiter) Wait(_ context.Context, endpoint string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.endpoints = append(w.endpoints, endpoint)
	return nil
}

var testNow = time.UnixMilli(1714564800000)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *noSleep, *recordingWaiter) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	sleeper := &noSleep{}
	waiter := &recordingWaiter{}
	c := NewClient(
		srv.Client(),
		Config{BaseURL: srv.URL + "/", UserAgent: "ingest-test"},
		staticCreds{cred: credential.Credential{Token: "tok", Identity: "ident"}},
		waiter,
		NewExponentialRetryPolicy(3, time.Millisecond, time.Millisecond),
		fixedClock{now: testNow},
		sleeper,
		nil,
	)
	return c, sleeper, waiter
}

func TestFetchEntity_ByAppID(t *testing.T) {
	t.Parallel()

	client, _, waiter := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/webedge/appinfo", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "ingest-test", r.Header.Get("User-Agent"))
		require.Equal(t, "tok_"+strconv.FormatInt(testNow.UnixMilli(), 10), r.Header.Get("interface-code"))
		require.Equal(t, "ident", r.Header.Get("identity-id"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, map[string]string{"appId": "C100", "locale": "zh_CN"}, body)

		_, _ = w.Write([]byte(`{"appId":"C100","pkgName":"com.example.app","name":"Example","AG-TraceId":"abc"}`))
	})

	doc, err := client.FetchEntity(context.Background(), catalog.AppID("C100"), "")
	require.NoError(t, err)
	require.Equal(t, "C100", doc.AppID)
	require.Equal(t, "com.example.app", doc.PkgName)
	require.NotContains(t, string(doc.Raw), "AG-TraceId")
	require.Equal(t, []string{EndpointEntity}, waiter.endpoints)
}

func TestFetchEntity_ByPackage(t *testing.T) {
	t.Parallel()

	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "com.example.app", body["pkgName"])
		require.Equal(t, "en_US", body["locale"])
		_, _ = w.Write([]byte(`{"appId":"C7","pkgName":"com.example.app"}`))
	})

	doc, err := client.FetchEntity(context.Background(), catalog.Package("com.example.app"), "en_US")
	require.NoError(t, err)
	require.Equal(t, "C7", doc.AppID)
}

func TestFetchEntity_EmptyBody(t *testing.T) {
	t.Parallel()

	var calls int
	var mu sync.Mutex
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	_, err := client.FetchEntity(context.Background(), catalog.AppID("C404"), "")
	var remoteErr *catalog.RemoteError
	require.True(t, errors.As(err, &remoteErr))
	require.True(t, remoteErr.Empty())
	require.Equal(t, 1, calls, "empty bodies are not retried")
}

func TestFetchEntity_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	client, sleeper, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream"))
			return
		}
		_, _ = w.Write([]byte(`{"appId":"C1"}`))
	})

	doc, err := client.FetchEntity(context.Background(), catalog.AppID("C1"), "")
	require.NoError(t, err)
	require.Equal(t, "C1", doc.AppID)
	require.Equal(t, 3, calls)
	require.Equal(t, 2, sleeper.count)
}

func TestFetchEntity_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("denied"))
	})

	_, err := client.FetchEntity(context.Background(), catalog.AppID("C1"), "")
	var remoteErr *catalog.RemoteError
	require.True(t, errors.As(err, &remoteErr))
	require.Equal(t, http.StatusForbidden, remoteErr.Status)
	require.Equal(t, "denied", remoteErr.Body)
	require.Equal(t, 1, calls)
}

func TestFetchEntity_DecodeError(t *testing.T) {
	t.Parallel()

	client, _, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"pkgName":"no id"}`))
	})

	_, err := client.FetchEntity(context.Background(), catalog.AppID("C1"), "")
	var decodeErr *catalog.DecodeError
	require.True(t, errors.As(err, &decodeErr))
}

func TestFetchEntity_CredentialsUnavailable(t *testing.T) {
	t.Parallel()

	c := NewClient(nil, Config{BaseURL: "http://127.0.0.1:1"},
		staticCreds{err: fmt.Errorf("%w: boom", catalog.ErrCredentialsUnavailable)},
		nil, NewExponentialRetryPolicy(0, 0, 0), fixedClock{}, &noSleep{}, nil)

	_, err := c.FetchEntity(context.Background(), catalog.AppID("C1"), "")
	require.ErrorIs(t, err, catalog.ErrCredentialsUnavailable)
}

func TestFetchEntity_InvalidKey(t *testing.T) {
	t.Parallel()

	client, _, _ := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected")
	})
	_, err := client.FetchEntity(context.Background(), catalog.AppID(" "), "")
	require.Error(t, err)
}

func pageDetail(t *testing.T, cards ...map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"pages": []any{
			map[string]any{"data": map[string]any{"cardlist": map[string]any{"layoutData": cards}}},
		},
	})
	require.NoError(t, err)
	return body
}

func TestFetchRating(t *testing.T) {
	t.Parallel()

	starInfo := `{"averageRating":"4.5","oneStarRatingCount":1,"fiveStarRatingCount":9,"totalStarRatingCount":10}`
	client, _, waiter := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/harmony/page-detail", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "webAgAppDetail|C55", req["pageId"])
		require.EqualValues(t, 1, req["pageNum"])
		require.EqualValues(t, 100, req["pageSize"])
		require.Equal(t, "", req["zone"])

		_, _ = w.Write(pageDetail(t,
			map[string]any{"type": "fl.card.banner", "data": []any{map[string]any{}}},
			map[string]any{"type": "fl.card.comment", "data": []any{map[string]any{"starInfo": starInfo}}},
		))
	})

	rating, err := client.FetchRating(context.Background(), "C55")
	require.NoError(t, err)
	require.Equal(t, "4.5", rating.AverageRating.String())
	require.EqualValues(t, 10, rating.TotalStarRatingCount)
	require.Equal(t, []string{EndpointRating}, waiter.endpoints)
}

func TestFetchRating_NoCommentCard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body func(t *testing.T) []byte
	}{
		{name: "no pages", body: func(*testing.T) []byte { return []byte(`{"pages":[]}`) }},
		{name: "no comment card", body: func(t *testing.T) []byte {
			return pageDetail(t, map[string]any{"type": "fl.card.banner", "data": []any{}})
		}},
		{name: "comment card without data", body: func(t *testing.T) []byte {
			return pageDetail(t, map[string]any{"type": "fl.card.comment", "data": []any{}})
		}},
		{name: "comment card without starInfo", body: func(t *testing.T) []byte {
			return pageDetail(t, map[string]any{"type": "fl.card.comment", "data": []any{map[string]any{"other": 1}}})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client, _, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write(tt.body(t))
			})
			_, err := client.FetchRating(context.Background(), "C1")
			require.ErrorIs(t, err, catalog.ErrRatingUnavailable)
		})
	}
}

func TestFetchRating_MalformedStarInfo(t *testing.T) {
	t.Parallel()

	client, _, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(pageDetail(t, map[string]any{
			"type": "fl.card.comment",
			"data": []any{map[string]any{"starInfo": "{not json"}},
		}))
	})

	_, err := client.FetchRating(context.Background(), "C1")
	var decodeErr *catalog.DecodeError
	require.True(t, errors.As(err, &decodeErr))
}

type hangingCreds struct{}

func (hangingCreds) Current(ctx context.Context) (credential.Credential, error) {
	<-ctx.Done()
	return credential.Credential{}, ctx.Err()
}

func TestFetchEntity_TimeoutCoversCredentialWait(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"appId":"C1"}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(
		srv.Client(),
		Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond},
		hangingCreds{},
		nil,
		NewExponentialRetryPolicy(3, time.Millisecond, time.Millisecond),
		fixedClock{now: testNow},
		&noSleep{},
		nil,
	)

	done := make(chan error, 1)
	go func() {
		_, err := c.FetchEntity(context.WithoutCancel(context.Background()), catalog.AppID("C1"), "")
		done <- err
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("FetchEntity blocked past its timeout while waiting for credentials")
	}
}
