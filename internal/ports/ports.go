package ports

import (
	"context"
	"io"
	"iter"
	"time"

	"TournamentScanner/internal/domain"
)

// PageFetcher retrieves the raw markup of one calendar page. It does not retry.
type PageFetcher interface {
	Fetch(ctx context.Context, page domain.PageKey) ([]byte, error)
}

// ListingParser splits page markup into raw listings in document order.
type ListingParser interface {
	Parse(markup io.Reader) (iter.Seq[domain.RawListing], error)
}

// Geocoder resolves free-text locations. ok is false when the location stays unresolved.
type Geocoder interface {
	Resolve(ctx context.Context, city, country string) (coords domain.Coordinates, ok bool)
}

// UpsertResult tells whether a record was stored or already known.
type UpsertResult int

const (
	UpsertInserted UpsertResult = iota + 1
	UpsertConflict
)

// TournamentRepository persists tournaments keyed by (name, start date).
type TournamentRepository interface {
	Ping(ctx context.Context) error
	IdentityKeys(ctx context.Context) ([]domain.IdentityKey, error)
	Exists(ctx context.Context, key domain.IdentityKey) (bool, error)
	Upsert(ctx context.Context, t domain.Tournament) (UpsertResult, error)
	Stats(ctx context.Context) (domain.StoreStats, error)
	Nearby(ctx context.Context, lat, lon, radiusKm float64, from time.Time) ([]domain.NearbyTournament, error)
	Close() error
}

// Flusher is implemented by repositories that buffer writes until flushed.
type Flusher interface {
	Flush() error
}

// Notifier publishes the run report to an outbound channel.
type Notifier interface {
	PublishReport(ctx context.Context, report string) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
