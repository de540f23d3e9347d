package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"TournamentScanner/internal/domain"
	"TournamentScanner/internal/infrastructure/geocode"
	"TournamentScanner/internal/infrastructure/parser"
	"TournamentScanner/internal/infrastructure/storage"
	"TournamentScanner/internal/ports"
)

var referenceDate = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func listing(name, city, country, start, end string) string {
	return fmt.Sprintf(`<div class="calItem"><a class="weblink">%s</a><span class="city">%s,</span><span class="country">%s,</span><span class="startdate">%s</span><span class="endDate2">%s</span></div>`,
		name, city, country, start, end)
}

func page(items ...string) []byte {
	return []byte("<html><body>" + strings.Join(items, "\n") + "</body></html>")
}

type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[domain.PageKey][]byte
	fail   map[domain.PageKey]error
	called []domain.PageKey
}

func (f *fakeFetcher) Fetch(_ context.Context, key domain.PageKey) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = append(f.called, key)
	if err := f.fail[key]; err != nil {
		return nil, err
	}
	return f.pages[key], nil
}

type fakeGeocoder struct {
	calls   []string
	results map[string]domain.Coordinates
}

func (g *fakeGeocoder) Resolve(_ context.Context, city, country string) (domain.Coordinates, bool) {
	g.calls = append(g.calls, city+", "+country)
	c, ok := g.results[city]
	return c, ok
}

type fakeRepository struct {
	keys      []domain.IdentityKey
	keysErr   error
	keysHang  bool
	stored    map[domain.IdentityKey]bool
	upserts   []domain.Tournament
	failNames map[string]error
	conflict  map[string]bool
}

func newFakeRepository(keys ...domain.IdentityKey) *fakeRepository {
	return &fakeRepository{keys: keys, stored: map[domain.IdentityKey]bool{}}
}

func (r *fakeRepository) Ping(context.Context) error { return nil }

func (r *fakeRepository) IdentityKeys(ctx context.Context) ([]domain.IdentityKey, error) {
	if r.keysHang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.keys, r.keysErr
}

func (r *fakeRepository) Exists(_ context.Context, key domain.IdentityKey) (bool, error) {
	return r.stored[key], nil
}

func (r *fakeRepository) Upsert(_ context.Context, t domain.Tournament) (ports.UpsertResult, error) {
	r.upserts = append(r.upserts, t)
	if err := r.failNames[t.Name]; err != nil {
		return 0, err
	}
	if r.conflict[t.Name] {
		return ports.UpsertConflict, nil
	}
	return ports.UpsertInserted, nil
}

func (r *fakeRepository) Stats(context.Context) (domain.StoreStats, error) {
	return domain.StoreStats{Total: len(r.upserts)}, nil
}

func (r *fakeRepository) Nearby(context.Context, float64, float64, float64, time.Time) ([]domain.NearbyTournament, error) {
	return nil, nil
}

func (r *fakeRepository) Close() error { return nil }

type fakeNotifier struct{ reports []string }

func (n *fakeNotifier) PublishReport(_ context.Context, report string) error {
	n.reports = append(n.reports, report)
	return nil
}

func keys(r domain.PageRange) iter.Seq[domain.PageKey] { return r.Keys() }

var (
	sept = domain.PageKey{Year: 2025, Month: time.September}
	oct  = domain.PageKey{Year: 2025, Month: time.October}
)

func TestPipelineImportsSkipsAndIsolatesPages(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		pages: map[domain.PageKey][]byte{
			sept: page(
				listing("Berlin Rapid Open", "Berlin", "Germany", "05.09.2025", "06.09.2025"),
				listing("Berlin Rapid Open", "Berlin", "Germany", "05.09.2025", "06.09.2025"),
				listing("Old Open", "Paris", "France", "01.12.2024", "03.12.2024"),
				listing("Date TBA", "Rome", "Italy", "TBA", ""),
			),
		},
		fail: map[domain.PageKey]error{oct: errors.New("connection reset")},
	}
	geo := &fakeGeocoder{results: map[string]domain.Coordinates{"Berlin": {Latitude: 52.52, Longitude: 13.405}}}
	repo := newFakeRepository()

	p := NewPipeline(PipelineDeps{Fetcher: fetcher, Parser: parser.CalendarParser{}, Geocoder: geo, Repository: repo})
	stats, err := p.Run(context.Background(), keys(domain.PageRange{From: sept, To: oct}), referenceDate)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if stats.Imported != 1 || stats.Skipped != 1 {
		t.Fatalf("imported=%d skipped=%d, want 1/1", stats.Imported, stats.Skipped)
	}
	if stats.Discarded != 2 || stats.Listings != 4 {
		t.Fatalf("discarded=%d listings=%d, want 2/4", stats.Discarded, stats.Listings)
	}
	if stats.Pages != 2 || stats.PagesFailed != 1 || stats.Failed != 1 {
		t.Fatalf("pages=%d pages_failed=%d failed=%d", stats.Pages, stats.PagesFailed, stats.Failed)
	}
	if len(stats.Failures) != 1 || stats.Failures[0].Page != oct || stats.Failures[0].Err != "connection reset" {
		t.Fatalf("unexpected failures %+v", stats.Failures)
	}

	if len(repo.upserts) != 1 {
		t.Fatalf("expected a single persistence call, got %d", len(repo.upserts))
	}
	got := repo.upserts[0]
	if got.Category != domain.CategoryRapid || got.City != "Berlin" || got.Page != sept {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.Coordinates == nil || got.Coordinates.Latitude != 52.52 {
		t.Fatalf("expected coordinates, got %+v", got.Coordinates)
	}
	if len(geo.calls) != 1 || geo.calls[0] != "Berlin, Germany" {
		t.Fatalf("unexpected geocoder calls %v", geo.calls)
	}
}

func TestPipelineSkipsStoredKeys(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[domain.PageKey][]byte{
		sept: page(
			listing("Berlin Rapid Open", "Berlin", "Germany", "05.09.2025", "06.09.2025"),
			listing("Hamburg Open", "Hamburg", "Germany", "10.09.2025", "14.09.2025"),
		),
	}}
	geo := &fakeGeocoder{}
	repo := newFakeRepository(domain.IdentityKey{Name: "Berlin Rapid Open", StartDate: "2025-09-05"})
	repo.stored[domain.IdentityKey{Name: "Hamburg Open", StartDate: "2025-09-10"}] = true

	p := NewPipeline(PipelineDeps{Fetcher: fetcher, Parser: parser.CalendarParser{}, Geocoder: geo, Repository: repo})
	stats, err := p.Run(context.Background(), keys(domain.PageRange{From: sept, To: sept}), referenceDate)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if stats.Skipped != 2 || stats.Imported != 0 {
		t.Fatalf("skipped=%d imported=%d, want 2/0", stats.Skipped, stats.Imported)
	}
	if len(geo.calls) != 0 || len(repo.upserts) != 0 {
		t.Fatalf("known tournaments must not be enriched or persisted: geo=%v upserts=%d", geo.calls, len(repo.upserts))
	}
}

func TestPipelineUnresolvedRecordIsPersisted(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[domain.PageKey][]byte{
		sept: page(listing("Nowhere Blitz", "Unknownsville", "Nowhereland", "02.09.2025", "02.09.2025")),
	}}
	repo := newFakeRepository()

	p := NewPipeline(PipelineDeps{Fetcher: fetcher, Parser: parser.CalendarParser{}, Geocoder: &fakeGeocoder{}, Repository: repo})
	stats, err := p.Run(context.Background(), keys(domain.PageRange{From: sept, To: sept}), referenceDate)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if stats.Imported != 1 || stats.Unresolved != 1 {
		t.Fatalf("imported=%d unresolved=%d, want 1/1", stats.Imported, stats.Unresolved)
	}
	if len(repo.upserts) != 1 || repo.upserts[0].Coordinates != nil {
		t.Fatalf("record must be persisted without coordinates: %+v", repo.upserts)
	}
}

func TestPipelinePersistenceOutcomes(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[domain.PageKey][]byte{
		sept: page(
			listing("Broken Open", "Bonn", "Germany", "03.09.2025", "04.09.2025"),
			listing("Racing Open", "Cologne", "Germany", "07.09.2025", "08.09.2025"),
			listing("Fine Open", "Essen", "Germany", "09.09.2025", "10.09.2025"),
		),
	}}
	repo := newFakeRepository()
	repo.failNames = map[string]error{"Broken Open": errors.New("deadlock detected")}
	repo.conflict = map[string]bool{"Racing Open": true}

	p := NewPipeline(PipelineDeps{Fetcher: fetcher, Parser: parser.CalendarParser{}, Repository: repo})
	stats, err := p.Run(context.Background(), keys(domain.PageRange{From: sept, To: sept}), referenceDate)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if stats.Failed != 1 || stats.Skipped != 1 || stats.Imported != 1 {
		t.Fatalf("failed=%d skipped=%d imported=%d, want 1/1/1", stats.Failed, stats.Skipped, stats.Imported)
	}
	if stats.PagesFailed != 0 {
		t.Fatalf("persistence failures must not fail the page")
	}
	f := stats.Failures[0]
	if f.Key != (domain.IdentityKey{Name: "Broken Open", StartDate: "2025-09-03"}) || f.Err != "deadlock detected" || f.Page != sept {
		t.Fatalf("unexpected failure %+v", f)
	}
}

func TestPipelineSetupErrorAbortsBeforeFetching(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	repo := newFakeRepository()
	repo.keysErr = errors.New("connection refused")

	p := NewPipeline(PipelineDeps{Fetcher: fetcher, Parser: parser.CalendarParser{}, Repository: repo})
	if _, err := p.Run(context.Background(), keys(domain.PageRange{From: sept, To: oct}), referenceDate); err == nil {
		t.Fatalf("expected setup error")
	}
	if len(fetcher.called) != 0 {
		t.Fatalf("no page may be fetched after a setup failure, fetched %v", fetcher.called)
	}
}

func TestPipelineKeyLoadIsBounded(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	repo := newFakeRepository()
	repo.keysHang = true

	p := NewPipeline(PipelineDeps{Fetcher: fetcher, Parser: parser.CalendarParser{}, Repository: repo, PersistTimeout: 50 * time.Millisecond})
	_, err := p.Run(context.Background(), keys(domain.PageRange{From: sept, To: oct}), referenceDate)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if len(fetcher.called) != 0 {
		t.Fatalf("no page may be fetched when keys cannot be loaded, fetched %v", fetcher.called)
	}
}

type failingParser struct{}

func (failingParser) Parse(io.Reader) (iter.Seq[domain.RawListing], error) {
	return nil, errors.New("truncated markup")
}

func TestPipelineParseErrorFailsOnlyThePage(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[domain.PageKey][]byte{sept: []byte("x"), oct: []byte("y")}}
	p := NewPipeline(PipelineDeps{Fetcher: fetcher, Parser: failingParser{}, Repository: newFakeRepository()})

	stats, err := p.Run(context.Background(), keys(domain.PageRange{From: sept, To: oct}), referenceDate)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if stats.PagesFailed != 2 || stats.Pages != 2 {
		t.Fatalf("pages=%d pages_failed=%d, want 2/2", stats.Pages, stats.PagesFailed)
	}
}

func TestPipelinePrefetchKeepsOrder(t *testing.T) {
	t.Parallel()

	r := domain.PageRange{From: domain.PageKey{Year: 2025, Month: time.March}, To: domain.PageKey{Year: 2025, Month: time.August}}
	fetcher := &fakeFetcher{pages: map[domain.PageKey][]byte{}}
	var want []domain.PageKey
	for k := range r.Keys() {
		want = append(want, k)
		fetcher.pages[k] = page(listing("Open "+k.String(), "Graz", "Austria", fmt.Sprintf("10.%02d.2025", int(k.Month)), ""))
	}
	repo := newFakeRepository()

	p := NewPipeline(PipelineDeps{Fetcher: fetcher, Parser: parser.CalendarParser{}, Repository: repo, Prefetch: true})
	stats, err := p.Run(context.Background(), r.Keys(), referenceDate)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if stats.Imported != len(want) {
		t.Fatalf("imported=%d, want %d", stats.Imported, len(want))
	}

	var got []domain.PageKey
	for _, u := range repo.upserts {
		got = append(got, u.Page)
	}
	if !slices.Equal(got, want) {
		t.Fatalf("records persisted out of page order: %v", got)
	}
}

func TestPipelineStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &fakeFetcher{pages: map[domain.PageKey][]byte{}}
	for _, prefetch := range []bool{false, true} {
		p := NewPipeline(PipelineDeps{Fetcher: fetcher, Parser: parser.CalendarParser{}, Repository: newFakeRepository(), Prefetch: prefetch})
		_, err := p.Run(ctx, keys(domain.PageRange{From: sept, To: oct}), referenceDate)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("prefetch=%v: expected context.Canceled, got %v", prefetch, err)
		}
	}
}

func TestPipelinePublishesReport(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[domain.PageKey][]byte{
		sept: page(listing("Berlin Rapid Open", "Berlin", "Germany", "05.09.2025", "06.09.2025")),
	}}
	notifier := &fakeNotifier{}

	p := NewPipeline(PipelineDeps{Fetcher: fetcher, Parser: parser.CalendarParser{}, Repository: newFakeRepository(), Notifier: notifier})
	if _, err := p.Run(context.Background(), keys(domain.PageRange{From: sept, To: sept}), referenceDate); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(notifier.reports) != 1 {
		t.Fatalf("expected one report, got %d", len(notifier.reports))
	}
	if !strings.Contains(notifier.reports[0], "Imported: 1") || !strings.Contains(notifier.reports[0], "Store: 1 tournaments") {
		t.Fatalf("unexpected report:\n%s", notifier.reports[0])
	}
}

func TestPipelineWithSQLiteAndNominatim(t *testing.T) {
	t.Parallel()

	geoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Query().Get("q"), "Unknownsville") {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[{"lat":"52.5200","lon":"13.4050"}]`))
	}))
	defer geoServer.Close()

	repo, err := storage.OpenSQL(storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("OpenSQL: %v", err)
	}
	defer repo.Close()
	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	fetcher := &fakeFetcher{pages: map[domain.PageKey][]byte{
		sept: page(
			listing("Berlin Rapid Open", "Berlin", "Germany", "05.09.2025", "06.09.2025"),
			listing("Nowhere Blitz", "Unknownsville", "Nowhereland", "20.09.2025", "20.09.2025"),
		),
	}}
	geo := geocode.NewNominatim(geocode.Options{Endpoint: geoServer.URL, Interval: time.Millisecond, AllowFastInterval: true})

	run := func() RunStats {
		p := NewPipeline(PipelineDeps{Fetcher: fetcher, Parser: parser.CalendarParser{}, Geocoder: geo, Repository: repo})
		stats, err := p.Run(context.Background(), keys(domain.PageRange{From: sept, To: sept}), referenceDate)
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		return stats
	}

	first := run()
	if first.Imported != 2 || first.Unresolved != 1 {
		t.Fatalf("first run imported=%d unresolved=%d, want 2/1", first.Imported, first.Unresolved)
	}

	second := run()
	if second.Imported != 0 || second.Skipped != 2 {
		t.Fatalf("re-run imported=%d skipped=%d, want 0/2", second.Imported, second.Skipped)
	}

	store, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if store != (domain.StoreStats{Total: 2, WithCoordinates: 1, WithoutCoordinates: 1}) {
		t.Fatalf("unexpected store stats %+v", store)
	}
}
