// Package article scrapes the newest article from the upstream list
// page. It is the fallback digest source when the persistence service
// does not maintain a latest-article row.
package article

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/hayden/internal/httpkit"
	"github.com/nugget/hayden/internal/persistence"
)

// DefaultTimeout is the HTTP request timeout for the list page.
const DefaultTimeout = 30 * time.Second

// DefaultMaxBytes is the maximum response body size (5 MB).
const DefaultMaxBytes int64 = 5 * 1024 * 1024

// BrowserUserAgent is sent instead of Hayden's own agent string; the
// upstream site serves an empty shell to unknown clients.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Scraper downloads the list page and extracts its first entry.
type Scraper struct {
	client   *http.Client
	pageURL  string
	maxBytes int64
	logger   *slog.Logger
}

// New creates a Scraper for the given list page URL.
func New(pageURL string, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{
		client: httpkit.NewClient(
			httpkit.WithTimeout(DefaultTimeout),
			httpkit.WithUserAgent(BrowserUserAgent),
			httpkit.WithLogger(logger),
		),
		pageURL:  pageURL,
		maxBytes: DefaultMaxBytes,
		logger:   logger,
	}
}

// LatestArticle fetches the list page and returns its first article,
// or nil when the page has no article list.
func (s *Scraper) LatestArticle(ctx context.Context) (*persistence.Article, error) {
	base, err := url.Parse(s.pageURL)
	if err != nil {
		return nil, fmt.Errorf("article: invalid url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("article: invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.7")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("article: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("article: %s returned %d: %s", s.pageURL, resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("article: failed to read response: %w", err)
	}

	a, err := extractFirst(string(body), base)
	if err != nil {
		return nil, fmt.Errorf("article: %w", err)
	}
	if a == nil {
		s.logger.Warn("article list not found on page", "url", s.pageURL)
		return nil, nil
	}

	s.logger.Debug("article scraped", "title", a.Title, "url", a.URL)
	return a, nil
}

// resolve turns a relative href into an absolute URL on base's host.
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
