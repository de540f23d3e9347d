package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"TournamentScanner/internal/domain"
	"TournamentScanner/internal/ports"
)

const (
	DefaultEndpoint  = "https://nominatim.openstreetmap.org/search"
	DefaultUserAgent = "ChessTournamentScraper/1.0"

	// MinInterval is the provider's usage-policy floor between requests.
	MinInterval = time.Second
)

// Nominatim resolves "city, country" queries against an OSM Nominatim endpoint.
// Calls are spaced at least interval apart across the whole process.
type Nominatim struct {
	endpoint  string
	userAgent string
	timeout   time.Duration
	client    *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

var _ ports.Geocoder = (*Nominatim)(nil)

// Options configures a Nominatim resolver.
type Options struct {
	Endpoint  string
	UserAgent string
	Timeout   time.Duration

	// Interval between calls; values below MinInterval are raised unless
	// AllowFastInterval is set.
	Interval          time.Duration
	AllowFastInterval bool
	Client            *http.Client
	Logger            *slog.Logger
}

// NewNominatim builds a resolver from options.
func NewNominatim(opts Options) *Nominatim {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Interval < MinInterval && !opts.AllowFastInterval {
		opts.Interval = MinInterval
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	return &Nominatim{
		endpoint:  opts.Endpoint,
		userAgent: opts.UserAgent,
		timeout:   opts.Timeout,
		client:    opts.Client,
		limiter:   rate.NewLimiter(rate.Every(opts.Interval), 1),
		logger:    opts.Logger,
	}
}

type place struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Resolve returns the best match for the location. Any failure leaves the
// location unresolved; it never aborts the caller.
func (n *Nominatim) Resolve(ctx context.Context, city, country string) (domain.Coordinates, bool) {
	query := Query(city, country)
	if query == "" {
		return domain.Coordinates{}, false
	}

	coords, err := n.lookup(ctx, query)
	if err != nil {
		n.warn("geocoding failed", "query", query, "error", err)
		return domain.Coordinates{}, false
	}
	if coords == nil {
		n.debug("no geocoding match", "query", query)
		return domain.Coordinates{}, false
	}
	return *coords, true
}

func (n *Nominatim) lookup(ctx context.Context, query string) (*domain.Coordinates, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	endpoint, err := url.Parse(n.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid geocoder endpoint %s: %w", n.endpoint, err)
	}
	q := endpoint.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", "1")
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoder returned %s", resp.Status)
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(places) == 0 {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(places[0].Lat), 64)
	if err != nil {
		return nil, fmt.Errorf("parse latitude %q: %w", places[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(places[0].Lon), 64)
	if err != nil {
		return nil, fmt.Errorf("parse longitude %q: %w", places[0].Lon, err)
	}
	return &domain.Coordinates{Latitude: lat, Longitude: lon}, nil
}

// Query builds the free-text "city, country" query, omitting empty parts.
func Query(city, country string) string {
	parts := make([]string, 0, 2)
	for _, p := range []string{city, country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func (n *Nominatim) debug(msg string, args ...any) {
	if n.logger != nil {
		n.logger.Debug(msg, args...)
	}
}

func (n *Nominatim) warn(msg string, args ...any) {
	if n.logger != nil {
		n.logger.Warn(msg, args...)
	}
}
