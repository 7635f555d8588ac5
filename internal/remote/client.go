// Package remote talks to the app-store JSON API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
	"github.com/JakeFAU/appgallery-ingest/internal/credential"
	"github.com/JakeFAU/appgallery-ingest/internal/metrics"
)

const (
	// DefaultBaseURL is the API root that both lookups hang off.
	DefaultBaseURL = "https://web-drcn.hispace.dbankcloud.com/edge"
	// DefaultLocale is sent when neither the caller nor the config chooses one.
	DefaultLocale = "zh_CN"
	// DefaultTimeout bounds a single HTTP exchange.
	DefaultTimeout = 15 * time.Second

	// EndpointEntity labels entity lookups in metrics and pacing.
	EndpointEntity = "appinfo"
	// EndpointRating labels rating lookups in metrics and pacing.
	EndpointRating = "page-detail"

	commentCardType = "fl.card.comment"
	maxBodyBytes    = 8 << 20
)

// CredentialSource supplies the headers for each request.
type CredentialSource interface {
	Current(ctx context.Context) (credential.Credential, error)
}

// Waiter paces outbound requests per endpoint.
type Waiter interface {
	Wait(ctx context.Context, endpoint string) error
}

// Config holds client settings.
type Config struct {
	BaseURL   string
	UserAgent string
	Locale    string
	Timeout   time.Duration
}

// Client fetches entity documents and ratings.
type Client struct {
	http    *http.Client
	cfg     Config
	creds   CredentialSource
	limiter Waiter
	retry   RetryPolicy
	clock   catalog.Clock
	sleeper catalog.Sleeper
	logger  *zap.Logger
}

// NewClient wires a Client. limiter and retry may be nil.
func NewClient(
	httpClient *http.Client,
	cfg Config,
	creds CredentialSource,
	limiter Waiter,
	retry RetryPolicy,
	clock catalog.Clock,
	sleeper catalog.Sleeper,
	logger *zap.Logger,
) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Locale == "" {
		cfg.Locale = DefaultLocale
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:    httpClient,
		cfg:     cfg,
		creds:   creds,
		limiter: limiter,
		retry:   retry,
		clock:   clock,
		sleeper: sleeper,
		logger:  logger.Named("remote"),
	}
}

// Locale returns the configured default locale.
func (c *Client) Locale() string {
	return c.cfg.Locale
}

// FetchEntity looks up one entity by app id or package name.
func (c *Client) FetchEntity(ctx context.Context, key catalog.EntityKey, locale string) (*catalog.RawDocument, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("fetch entity: %w", err)
	}
	if locale == "" {
		locale = c.cfg.Locale
	}
	payload := map[string]string{
		key.RequestField(): key.Value,
		"locale":           locale,
	}
	body, err := c.post(ctx, EndpointEntity, "/webedge/appinfo", payload)
	if err != nil {
		return nil, err
	}
	doc, err := catalog.DecodeDocument(body)
	if err != nil {
		return nil, fmt.Errorf("fetch entity %s: %w", key, err)
	}
	return doc, nil
}

type pageDetailRequest struct {
	PageID   string `json:"pageId"`
	PageNum  int    `json:"pageNum"`
	PageSize int    `json:"pageSize"`
	Zone     string `json:"zone"`
}

type pageDetailResponse struct {
	Pages []struct {
		Data struct {
			Cardlist struct {
				LayoutData []struct {
					Type string            `json:"type"`
					Data []json.RawMessage `json:"data"`
				} `json:"layoutData"`
			} `json:"cardlist"`
		} `json:"data"`
	} `json:"pages"`
}

// FetchRating loads the star distribution from the detail page layout.
// It returns catalog.ErrRatingUnavailable when the layout has no comment card.
func (c *Client) FetchRating(ctx context.Context, appID string) (*catalog.RatingDocument, error) {
	if strings.TrimSpace(appID) == "" {
		return nil, errors.New("fetch rating: app id is required")
	}
	payload := pageDetailRequest{
		PageID:   "webAgAppDetail|" + appID,
		PageNum:  1,
		PageSize: 100,
	}
	body, err := c.post(ctx, EndpointRating, "/harmony/page-detail", payload)
	if err != nil {
		return nil, err
	}
	starInfo, err := extractStarInfo(body)
	if err != nil {
		return nil, fmt.Errorf("fetch rating %s: %w", appID, err)
	}
	rating, err := catalog.DecodeRating(starInfo)
	if err != nil {
		return nil, fmt.Errorf("fetch rating %s: %w", appID, err)
	}
	return rating, nil
}

func extractStarInfo(body []byte) ([]byte, error) {
	var page pageDetailResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, &catalog.DecodeError{What: "page detail", Err: err}
	}
	if len(page.Pages) == 0 {
		return nil, catalog.ErrRatingUnavailable
	}
	for _, card := range page.Pages[0].Data.Cardlist.LayoutData {
		if card.Type != commentCardType {
			continue
		}
		if len(card.Data) == 0 {
			return nil, catalog.ErrRatingUnavailable
		}
		var entry struct {
			StarInfo *string `json:"starInfo"`
		}
		if err := json.Unmarshal(card.Data[0], &entry); err != nil {
			return nil, &catalog.DecodeError{What: "comment card", Err: err}
		}
		if entry.StarInfo == nil || strings.TrimSpace(*entry.StarInfo) == "" {
			return nil, catalog.ErrRatingUnavailable
		}
		return []byte(*entry.StarInfo), nil
	}
	return nil, catalog.ErrRatingUnavailable
}

func (c *Client) post(ctx context.Context, endpoint, path string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", endpoint, err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := c.retry.Backoff(attempt)
			c.logger.Debug("retrying request",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(lastErr),
			)
			if err := c.sleeper.Sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("%s: %w", endpoint, err)
			}
		}
		start := time.Now()
		body, err := c.do(ctx, endpoint, path, encoded)
		metrics.ObserveRemoteRequest(endpoint, err, time.Since(start))
		if err == nil {
			return body, nil
		}
		lastErr = err
		if c.retry == nil || !c.retry.ShouldRetry(err, attempt+1) {
			return nil, err
		}
	}
}

func (c *Client) do(ctx context.Context, endpoint, path string, encoded []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, endpoint); err != nil {
			return nil, fmt.Errorf("%s: %w", endpoint, err)
		}
	}
	// The timeout also covers waiting for a credential refresh.
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cred, err := c.creds.Current(reqCtx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	cred.Apply(req.Header, c.clock.Now())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s body: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || len(bytes.TrimSpace(body)) == 0 {
		return nil, catalog.NewRemoteError(resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}
