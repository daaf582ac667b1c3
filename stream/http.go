package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	fetchTimeout = 15 * time.Second
	maxBodyBytes = 4 << 20
)

// HTTPClient wraps http.Client with cookie/user-agent injection and status mapping.
type HTTPClient struct {
	client    *http.Client
	cookies   string
	userAgent string
}

// NewHTTPClient creates an HTTP client sending the optional cookie header
// and user agent on every request.
func NewHTTPClient(cookies, userAgent string) *HTTPClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &HTTPClient{
		client:    &http.Client{Transport: transport},
		cookies:   cookies,
		userAgent: userAgent,
	}
}

// Get fetches a URL and returns the body as a string.
func (h *HTTPClient) Get(ctx context.Context, url string) (string, error) {
	b, err := h.GetBytes(ctx, url)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// GetBytes fetches a URL and returns the body as bytes. Bodies larger than
// a few megabytes are truncated; playlists and channel pages never get close.
func (h *HTTPClient) GetBytes(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	for _, pair := range strings.Split(h.cookies, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok {
			req.AddCookie(&http.Cookie{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("Cf-Mitigated") == "challenge":
		return nil, ErrBlocked
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if bytes.Contains(b, []byte("<title>Just a moment...</title>")) {
		return nil, ErrBlocked
	}
	return b, nil
}
