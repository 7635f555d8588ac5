package credential

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
)

// DefaultTokenURL is the remote endpoint that issues interface codes.
const DefaultTokenURL = "https://web-drcn.hispace.dbankcloud.com/edge/webedge/getInterfaceCode"

// HTTPExchanger fetches tokens over HTTP.
type HTTPExchanger struct {
	client    *http.Client
	url       string
	userAgent string
	clock     catalog.Clock
}

// NewHTTPExchanger creates an HTTPExchanger. An empty url uses DefaultTokenURL.
func NewHTTPExchanger(client *http.Client, url, userAgent string, clock catalog.Clock) *HTTPExchanger {
	if client == nil {
		client = http.DefaultClient
	}
	if url == "" {
		url = DefaultTokenURL
	}
	return &HTTPExchanger{client: client, url: url, userAgent: userAgent, clock: clock}
}

// Exchange performs one token request. The body is the token, optionally quoted.
func (e *HTTPExchanger) Exchange(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Interface-Code", "null_"+strconv.FormatInt(e.clock.Now().UnixMilli(), 10))
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", catalog.NewRemoteError(resp.StatusCode, body)
	}
	return strings.Trim(strings.TrimSpace(string(body)), `"`), nil
}
