package parser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"TournamentScanner/internal/domain"
	"TournamentScanner/internal/ports"
	"TournamentScanner/internal/scanner"
)

const (
	DefaultBaseURL   = "https://chess-calendar.eu/index.php"
	DefaultUserAgent = "ChessTournamentScraper/1.0"

	maxPageBytes = 8 << 20
)

// HTTPFetcher downloads calendar pages with a plain GET request.
type HTTPFetcher struct {
	client    *http.Client
	baseURL   string
	userAgent string
	timeout   time.Duration
	logger    *slog.Logger
}

var (
	_ ports.PageFetcher = (*HTTPFetcher)(nil)
	_ scanner.Variant   = (*HTTPFetcher)(nil)
)

// NewHTTPFetcher wires an HTTP client; empty values fall back to the public calendar defaults.
func NewHTTPFetcher(client *http.Client, baseURL, userAgent string, timeout time.Duration, log *slog.Logger) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &HTTPFetcher{client: client, baseURL: baseURL, userAgent: userAgent, timeout: timeout, logger: log}
}

// Name identifies the variant inside the registry.
func (f *HTTPFetcher) Name() string {
	return "static"
}

// Fetch downloads one listing page.
func (f *HTTPFetcher) Fetch(ctx context.Context, page domain.PageKey) ([]byte, error) {
	pageURL, err := BuildPageURL(f.baseURL, page)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	if f.logger != nil {
		f.logger.Debug("fetch page", "page", page.String(), "url", pageURL)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	return body, nil
}

// BuildPageURL produces "<base>?page=<YYYY-M>&all_new=".
func BuildPageURL(base string, page domain.PageKey) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid calendar url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("page", page.String())
	query.Set("all_new", "")
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
