package feed

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// browserUA is sent on every request. The public quote endpoints reject
// requests without a browser-looking User-Agent.
const browserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Session holds the cookie+crumb pair the quote API requires and
// transparently renews it. All methods are safe for concurrent use.
//
// Auth flow: hit the bootstrap page to collect a session cookie, then
// exchange the cookie for a crumb token. The crumb rides along as a
// query parameter on every data request. When the server answers 401 or
// 403 the pair has expired; the request is retried exactly once after a
// renewal, and a second failure surfaces to the caller.
type Session struct {
	mu           sync.Mutex
	hc           *http.Client
	base         string
	bootstrapURL string
	crumbPath    string
	cookie       string
	crumb        string

	// OnRenewal is invoked after every auth renewal, for metrics.
	OnRenewal func()
}

// SessionConfig configures a Session. Zero fields use production
// defaults; tests point everything at an httptest server.
type SessionConfig struct {
	BaseURL      string
	BootstrapURL string // page that issues the session cookie
	CrumbPath    string // path (on BaseURL) that returns the crumb
	Timeout      time.Duration
}

const (
	defaultBaseURL      = "https://query2.finance.yahoo.com"
	defaultBootstrapURL = "https://fc.yahoo.com"
	defaultCrumbPath    = "/v1/test/getcrumb"
)

func NewSession(cfg SessionConfig) *Session {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.BootstrapURL == "" {
		cfg.BootstrapURL = defaultBootstrapURL
	}
	if cfg.CrumbPath == "" {
		cfg.CrumbPath = defaultCrumbPath
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Session{
		hc:           &http.Client{Timeout: cfg.Timeout},
		base:         strings.TrimRight(cfg.BaseURL, "/"),
		bootstrapURL: cfg.BootstrapURL,
		crumbPath:    cfg.CrumbPath,
	}
}

// authenticate refreshes the cookie+crumb pair. Callers hold s.mu.
func (s *Session) authenticate(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.bootstrapURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", browserUA)
	resp, err := s.hc.Do(req)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	var parts []string
	for _, c := range resp.Cookies() {
		parts = append(parts, c.Name+"="+c.Value)
	}
	if len(parts) == 0 {
		return fmt.Errorf("bootstrap: no session cookie issued")
	}
	cookie := strings.Join(parts, "; ")

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, s.base+s.crumbPath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Cookie", cookie)
	resp, err = s.hc.Do(req)
	if err != nil {
		return fmt.Errorf("crumb: %w", err)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("crumb: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("crumb: status %d", resp.StatusCode)
	}
	crumb := strings.TrimSpace(string(body))
	if crumb == "" || strings.Contains(crumb, "<") {
		return fmt.Errorf("crumb: unusable token %q", crumb)
	}

	s.cookie = cookie
	s.crumb = crumb
	log.Printf("[feed] session renewed")
	if s.OnRenewal != nil {
		s.OnRenewal()
	}
	return nil
}

// ensure makes sure a cookie+crumb pair exists, returning the current
// pair.
func (s *Session) ensure(ctx context.Context) (cookie, crumb string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cookie == "" || s.crumb == "" {
		if err := s.authenticate(ctx); err != nil {
			return "", "", err
		}
	}
	return s.cookie, s.crumb, nil
}

// renewIfStale re-authenticates unless another goroutine already did so
// since we read stale.
func (s *Session) renewIfStale(ctx context.Context, stale string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.crumb != stale {
		return nil
	}
	return s.authenticate(ctx)
}

// Get performs an authenticated GET of path (relative to the base URL)
// with the given query, retrying once through a renewal on 401/403.
// The caller owns the response body.
func (s *Session) Get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	cookie, crumb, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.do(ctx, path, query, cookie, crumb)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return resp, nil
	}

	// Expired pair: renew once and retry.
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if err := s.renewIfStale(ctx, crumb); err != nil {
		return nil, fmt.Errorf("renew after %d: %w", resp.StatusCode, err)
	}
	s.mu.Lock()
	cookie, crumb = s.cookie, s.crumb
	s.mu.Unlock()
	return s.do(ctx, path, query, cookie, crumb)
}

func (s *Session) do(ctx context.Context, path string, query url.Values, cookie, crumb string) (*http.Response, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("crumb", crumb)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cookie", cookie)
	return s.hc.Do(req)
}
