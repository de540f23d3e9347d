package usecase

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"TournamentScanner/internal/domain"
	"TournamentScanner/internal/ports"
)

const defaultPersistTimeout = 10 * time.Second

// PipelineDeps wires all driven adapters into the ingestion pipeline.
type PipelineDeps struct {
	Fetcher    ports.PageFetcher
	Parser     ports.ListingParser
	Geocoder   ports.Geocoder
	Repository ports.TournamentRepository
	Notifier   ports.Notifier
	Logger     *slog.Logger

	// Prefetch fetches the next page while the current one is enriched.
	Prefetch       bool
	PersistTimeout time.Duration

	// Now stamps run statistics; defaults to time.Now.
	Now func() time.Time
}

// Pipeline implements the tournament-ingestion workflow:
// fetch -> parse -> normalize -> dedup -> geocode -> persist.
type Pipeline struct {
	fetcher        ports.PageFetcher
	parser         ports.ListingParser
	geocoder       ports.Geocoder
	repository     ports.TournamentRepository
	notifier       ports.Notifier
	logger         *slog.Logger
	prefetch       bool
	persistTimeout time.Duration
	now            func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.PersistTimeout <= 0 {
		deps.PersistTimeout = defaultPersistTimeout
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{
		fetcher:        deps.Fetcher,
		parser:         deps.Parser,
		geocoder:       deps.Geocoder,
		repository:     deps.Repository,
		notifier:       deps.Notifier,
		logger:         deps.Logger,
		prefetch:       deps.Prefetch,
		persistTimeout: deps.PersistTimeout,
		now:            deps.Now,
	}
}

type fetchedPage struct {
	key  domain.PageKey
	body []byte
	err  error
}

// Run ingests every page yielded by pages, evaluating relevance against
// referenceDate. Page and record failures are counted, never returned; an
// error means the run could not start (storage unreachable) or ctx ended.
func (p *Pipeline) Run(ctx context.Context, pages iter.Seq[domain.PageKey], referenceDate time.Time) (RunStats, error) {
	stats := RunStats{StartedAt: p.now()}

	if p.fetcher == nil || p.parser == nil || p.repository == nil {
		return stats, fmt.Errorf("pipeline is missing fetcher, parser or repository")
	}

	loadCtx, cancel := context.WithTimeout(ctx, p.persistTimeout)
	index, err := LoadDedupIndex(loadCtx, p.repository)
	cancel()
	if err != nil {
		return stats, err
	}
	p.logger.Info("run started", "known_tournaments", index.Len(), "reference_date", referenceDate.Format(domain.DateLayout))

	for page := range p.pageStream(ctx, pages) {
		if err := ctx.Err(); err != nil {
			stats.FinishedAt = p.now()
			return stats, err
		}
		stats.Pages++

		if page.err != nil {
			fetchErr := &domain.FetchError{Page: page.key, Err: page.err}
			p.logger.Warn("page failed", "page", page.key.String(), "error", page.err)
			stats.recordPageFailure(page.key, fetchErr)
			continue
		}

		if err := p.processPage(ctx, page, referenceDate, index, &stats); err != nil {
			stats.FinishedAt = p.now()
			return stats, err
		}
	}

	stats.FinishedAt = p.now()
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	p.logger.Info("run finished",
		"pages", stats.Pages,
		"pages_failed", stats.PagesFailed,
		"imported", stats.Imported,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"unresolved", stats.Unresolved,
	)

	if f, ok := p.repository.(ports.Flusher); ok {
		if err := f.Flush(); err != nil {
			p.logger.Warn("flush store failed", "error", err)
		}
	}

	p.publish(ctx, stats)
	return stats, nil
}

func (p *Pipeline) processPage(ctx context.Context, page fetchedPage, referenceDate time.Time, index *DedupIndex, stats *RunStats) error {
	listings, err := p.parser.Parse(bytes.NewReader(page.body))
	if err != nil {
		p.logger.Warn("page unparseable", "page", page.key.String(), "error", err)
		stats.recordPageFailure(page.key, fmt.Errorf("parse: %w", err))
		return nil
	}

	found, kept := 0, 0
	for raw := range listings {
		if err := ctx.Err(); err != nil {
			return err
		}
		found++

		t, ok := domain.Normalize(raw, referenceDate)
		if !ok {
			stats.Discarded++
			continue
		}
		kept++
		t.Page = page.key
		p.ingest(ctx, t, index, stats)
	}

	stats.Listings += found
	p.logger.Info("page processed", "page", page.key.String(), "found", found, "upcoming", kept)
	return nil
}

// ingest runs one record to completion. The record is not abandoned when ctx
// is cancelled; every external call is bounded by its own timeout instead.
func (p *Pipeline) ingest(ctx context.Context, t domain.Tournament, index *DedupIndex, stats *RunStats) {
	key := t.Key()
	if index.Exists(key) {
		stats.Skipped++
		p.logger.Debug("skip known tournament", "name", t.Name, "start_date", key.StartDate)
		return
	}
	index.Record(key)

	recordCtx := context.WithoutCancel(ctx)

	if p.storedElsewhere(recordCtx, key) {
		stats.Skipped++
		p.logger.Debug("skip tournament stored since run start", "name", t.Name, "start_date", key.StartDate)
		return
	}

	if p.geocoder != nil {
		if coords, ok := p.geocoder.Resolve(recordCtx, t.City, t.Country); ok {
			t.Coordinates = &coords
		}
	}
	if !t.HasCoordinates() {
		stats.Unresolved++
	}

	persistCtx, cancel := context.WithTimeout(recordCtx, p.persistTimeout)
	defer cancel()

	result, err := p.repository.Upsert(persistCtx, t)
	switch {
	case err != nil:
		p.logger.Warn("persist failed", "name", t.Name, "start_date", key.StartDate, "error", err)
		stats.recordPersistenceFailure(t.Page, &domain.PersistenceError{Key: key, Err: err})
	case result == ports.UpsertConflict:
		stats.Skipped++
		p.logger.Debug("tournament already stored", "name", t.Name, "start_date", key.StartDate)
	default:
		stats.Imported++
		p.logger.Info("imported", "name", t.Name, "start_date", key.StartDate, "with_coordinates", t.HasCoordinates())
	}
}

// storedElsewhere checks the store for a key another writer may have added
// after the index was loaded. Lookup errors fall through to the upsert.
func (p *Pipeline) storedElsewhere(ctx context.Context, key domain.IdentityKey) bool {
	ctx, cancel := context.WithTimeout(ctx, p.persistTimeout)
	defer cancel()

	exists, err := p.repository.Exists(ctx, key)
	if err != nil {
		p.logger.Warn("lookup failed", "name", key.Name, "start_date", key.StartDate, "error", err)
		return false
	}
	return exists
}

// pageStream fetches pages in order. With prefetch enabled, one page is
// fetched ahead on a separate goroutine.
func (p *Pipeline) pageStream(ctx context.Context, pages iter.Seq[domain.PageKey]) iter.Seq[fetchedPage] {
	if !p.prefetch {
		return func(yield func(fetchedPage) bool) {
			for key := range pages {
				if ctx.Err() != nil {
					return
				}
				body, err := p.fetcher.Fetch(ctx, key)
				if !yield(fetchedPage{key: key, body: body, err: err}) {
					return
				}
			}
		}
	}

	return func(yield func(fetchedPage) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		out := make(chan fetchedPage, 1)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer close(out)
			for key := range pages {
				body, err := p.fetcher.Fetch(gctx, key)
				select {
				case out <- fetchedPage{key: key, body: body, err: err}:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
		defer func() { _ = g.Wait() }()

		for page := range out {
			if !yield(page) {
				cancel()
				for range out {
				}
				return
			}
		}
	}
}

func (p *Pipeline) publish(ctx context.Context, stats RunStats) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.persistTimeout)
	defer cancel()

	var store *domain.StoreStats
	if s, err := p.repository.Stats(ctx); err != nil {
		p.logger.Warn("store statistics unavailable", "error", err)
	} else {
		store = &s
		p.logger.Info("store statistics", "total", s.Total, "with_coordinates", s.WithCoordinates, "without_coordinates", s.WithoutCoordinates)
	}

	if p.notifier == nil {
		return
	}
	if err := p.notifier.PublishReport(ctx, FormatReport(stats, store)); err != nil {
		p.logger.Warn("publish report failed", "error", err)
	}
}
