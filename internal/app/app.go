package app

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"TournamentScanner/internal/config"
	"TournamentScanner/internal/domain"
	"TournamentScanner/internal/infrastructure/geocode"
	"TournamentScanner/internal/infrastructure/parser"
	"TournamentScanner/internal/infrastructure/scheduler"
	"TournamentScanner/internal/infrastructure/storage"
	"TournamentScanner/internal/infrastructure/telegram"
	"TournamentScanner/internal/logging"
	"TournamentScanner/internal/ports"
	"TournamentScanner/internal/scanner"
	"TournamentScanner/internal/usecase"
)

// Run modes.
const (
	ModeSingle    = "single"
	ModePaginated = "paginated"
)

const (
	shutdownTimeout       = 30 * time.Second
	defaultStorageTimeout = 10 * time.Second
)

// RunOptions are the per-invocation choices of the run command.
type RunOptions struct {
	Scraper  string
	Mode     string
	MaxPages int

	// Page selects the month for single mode; empty uses the reference month.
	Page   string
	Daemon bool
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *scanner.Registry
	browser  *parser.BrowserFetcher
	now      func() time.Time
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) *Application {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	registry := scanner.NewRegistry()
	registry.Register(parser.NewHTTPFetcher(
		&http.Client{},
		cfg.Source.BaseURL,
		cfg.Source.UserAgent,
		cfg.Source.Timeout,
		baseLogger.With("component", "fetcher.static"),
	))
	browser := parser.NewBrowserFetcher(
		cfg.Source.BaseURL,
		cfg.Source.BrowserURL,
		cfg.Source.UserAgent,
		cfg.Source.Timeout,
		baseLogger.With("component", "fetcher.browser"),
	)
	registry.Register(browser)

	return &Application{cfg: cfg, logger: baseLogger, registry: registry, browser: browser, now: time.Now}
}

// Run executes one ingestion run, or keeps running on the configured cron
// schedule until ctx ends when opts.Daemon is set.
func (a *Application) Run(ctx context.Context, opts RunOptions) error {
	if opts.Scraper == "" {
		opts.Scraper = "static"
	}
	if opts.Mode == "" {
		opts.Mode = ModePaginated
	}

	fetcher, err := a.registry.Resolve(opts.Scraper)
	if err != nil {
		return err
	}
	defer a.closeBrowser()

	reference := a.reference()
	pages, err := Pages(a.cfg.Source, opts, reference)
	if err != nil {
		return err
	}

	repo, err := OpenRepository(ctx, a.cfg.Database, a.cfg.Pipeline.PersistTimeout)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			a.logger.Warn("close storage", "error", err)
		}
	}()

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Fetcher:        fetcher,
		Parser:         parser.CalendarParser{},
		Geocoder:       a.geocoder(),
		Repository:     repo,
		Notifier:       a.notifier(),
		Logger:         a.logger.With("component", "pipeline", "scraper", opts.Scraper, "mode", opts.Mode),
		Prefetch:       a.cfg.Pipeline.Prefetch,
		PersistTimeout: a.cfg.Pipeline.PersistTimeout,
	})

	if opts.Daemon {
		return a.runDaemon(ctx, pipeline, opts)
	}

	_, err = pipeline.Run(ctx, pages, reference)
	return err
}

func (a *Application) runDaemon(ctx context.Context, pipeline *usecase.Pipeline, opts RunOptions) error {
	loc := a.cfg.Scheduler.Location()
	driver := scheduler.NewCronScheduler(a.cfg.Scheduler.CronExpression, loc, a.logger.With("component", "scheduler"))

	pages := func(reference time.Time) iter.Seq[domain.PageKey] {
		seq, err := Pages(a.cfg.Source, opts, reference)
		if err != nil {
			return func(func(domain.PageKey) bool) {}
		}
		return seq
	}

	sched := usecase.NewScheduler(driver, pipeline, pages, loc, a.logger.With("component", "scheduler"))
	if err := sched.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return sched.Stop(stopCtx)
}

// Nearby lists upcoming tournaments within radiusKm of the given point.
func (a *Application) Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]domain.NearbyTournament, error) {
	repo, err := OpenRepository(ctx, a.cfg.Database, a.cfg.Pipeline.PersistTimeout)
	if err != nil {
		return nil, err
	}
	defer repo.Close()

	today := a.reference()
	from := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	return repo.Nearby(ctx, lat, lon, radiusKm, from)
}

func (a *Application) reference() time.Time {
	return a.now().In(a.cfg.Scheduler.Location())
}

func (a *Application) geocoder() ports.Geocoder {
	return geocode.NewNominatim(geocode.Options{
		Endpoint:  a.cfg.Geocoder.Endpoint,
		UserAgent: a.cfg.Geocoder.UserAgent,
		Timeout:   a.cfg.Geocoder.Timeout,
		Interval:  a.cfg.Geocoder.MinInterval,
		Logger:    a.logger.With("component", "geocoder"),
	})
}

func (a *Application) notifier() ports.Notifier {
	tg := a.cfg.Notifications.Telegram
	if !tg.Enabled() {
		return nil
	}
	return telegram.NewNotifier(tg.BotToken, tg.ChatID, tg.APIBase)
}

func (a *Application) closeBrowser() {
	if err := a.browser.Close(); err != nil {
		a.logger.Warn("close browser", "error", err)
	}
}

// Pages computes the page sequence of one run. Single mode yields one page;
// paginated mode yields the configured range capped at opts.MaxPages.
func Pages(src config.SourceConfig, opts RunOptions, reference time.Time) (iter.Seq[domain.PageKey], error) {
	switch opts.Mode {
	case ModeSingle, "":
		key := domain.PageKeyOf(reference)
		if opts.Page != "" {
			parsed, err := domain.ParsePageKey(opts.Page)
			if err != nil {
				return nil, err
			}
			key = parsed
		}
		return domain.PageRange{From: key, To: key}.Keys(), nil
	case ModePaginated:
		if opts.MaxPages < 0 {
			return nil, fmt.Errorf("max pages must not be negative, got %d", opts.MaxPages)
		}
		return src.PageRange(opts.MaxPages).Keys(), nil
	default:
		return nil, fmt.Errorf("unknown mode %q (want %s or %s)", opts.Mode, ModeSingle, ModePaginated)
	}
}

// OpenRepository opens the configured store and verifies it is reachable.
// Schema bootstrap and the reachability check are each bounded by timeout.
func OpenRepository(ctx context.Context, db config.DatabaseConfig, timeout time.Duration) (ports.TournamentRepository, error) {
	if timeout <= 0 {
		timeout = defaultStorageTimeout
	}
	var repo ports.TournamentRepository

	switch db.Driver {
	case storage.DriverCSV:
		csvRepo, err := storage.OpenCSV(db.DSN)
		if err != nil {
			return nil, err
		}
		repo = csvRepo
	case storage.DriverPostgres, storage.DriverSQLite:
		sqlRepo, err := storage.OpenSQL(db.Driver, db.DSN)
		if err != nil {
			return nil, err
		}
		if db.Driver == storage.DriverSQLite {
			schemaCtx, cancel := context.WithTimeout(ctx, timeout)
			err := sqlRepo.EnsureSchema(schemaCtx)
			cancel()
			if err != nil {
				_ = sqlRepo.Close()
				return nil, err
			}
		}
		repo = sqlRepo
	default:
		return nil, fmt.Errorf("unknown database driver %q", db.Driver)
	}

	if err := ping(ctx, repo, timeout); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}

func ping(ctx context.Context, repo ports.TournamentRepository, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("storage unreachable: %w", err)
	}
	return nil
}
