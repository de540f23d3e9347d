package parser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"TournamentScanner/internal/domain"
	"TournamentScanner/internal/ports"
	"TournamentScanner/internal/scanner"
)

// BrowserFetcher renders calendar pages in headless Chrome so listings built
// by client-side scripts are present in the returned markup.
type BrowserFetcher struct {
	baseURL   string
	remoteURL string
	userAgent string
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
}

var (
	_ ports.PageFetcher = (*BrowserFetcher)(nil)
	_ scanner.Variant   = (*BrowserFetcher)(nil)
)

// NewBrowserFetcher prepares a lazily started browser. An empty remoteURL
// launches a local Chrome through the rod launcher. Every tab identifies
// itself with userAgent, DefaultUserAgent when empty.
func NewBrowserFetcher(baseURL, remoteURL, userAgent string, timeout time.Duration, log *slog.Logger) *BrowserFetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &BrowserFetcher{baseURL: baseURL, remoteURL: remoteURL, userAgent: userAgent, timeout: timeout, logger: log}
}

// Name identifies the variant inside the registry.
func (b *BrowserFetcher) Name() string {
	return "browser"
}

// Fetch opens the page, waits for it to load and returns the rendered HTML.
func (b *BrowserFetcher) Fetch(ctx context.Context, page domain.PageKey) ([]byte, error) {
	pageURL, err := BuildPageURL(b.baseURL, page)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	browser, err := b.connect()
	if err != nil {
		return nil, err
	}

	tab, err := browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	// Closed outside ctx so a timed-out fetch does not leak the tab.
	defer func() { _ = tab.Context(context.Background()).Close() }()

	override := proto.NetworkSetUserAgentOverride{UserAgent: b.userAgent}
	if err := override.Call(tab); err != nil {
		return nil, fmt.Errorf("set user agent: %w", err)
	}
	if err := tab.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}

	if err := tab.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}

	html, err := tab.HTML()
	if err != nil {
		return nil, fmt.Errorf("read rendered page: %w", err)
	}
	return []byte(html), nil
}

func (b *BrowserFetcher) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		return b.browser, nil
	}

	// The browser outlives a single fetch, so it is not bound to the request context.
	controlURL := b.remoteURL
	if controlURL == "" {
		u, err := launcher.New().Headless(true).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect chrome: %w", err)
	}

	if b.logger != nil {
		b.logger.Info("browser connected", "remote", b.remoteURL != "")
	}
	b.browser = browser
	return browser, nil
}

// Close shuts the browser down if it was started.
func (b *BrowserFetcher) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	if err != nil {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}
