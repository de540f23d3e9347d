package usecase

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"TournamentScanner/internal/domain"
)

// Failure is one recorded page or record failure.
type Failure struct {
	Page domain.PageKey

	// Key is empty for page-level failures.
	Key domain.IdentityKey
	Err string
}

func (f Failure) String() string {
	if f.Key == (domain.IdentityKey{}) {
		return fmt.Sprintf("page %s: %s", f.Page, f.Err)
	}
	return fmt.Sprintf("page %s, %s: %s", f.Page, f.Key, f.Err)
}

// RunStats aggregates the outcome of one pipeline run.
type RunStats struct {
	StartedAt  time.Time
	FinishedAt time.Time

	Pages       int
	PagesFailed int
	Listings    int
	Discarded   int

	Imported   int
	Skipped    int
	Failed     int
	Unresolved int

	Failures []Failure
}

func (s *RunStats) recordPageFailure(page domain.PageKey, err error) {
	s.PagesFailed++
	s.Failed++
	f := Failure{Page: page, Err: err.Error()}
	var fErr *domain.FetchError
	if errors.As(err, &fErr) {
		f.Err = fErr.Err.Error()
	}
	s.Failures = append(s.Failures, f)
}

func (s *RunStats) recordPersistenceFailure(page domain.PageKey, err error) {
	s.Failed++
	f := Failure{Page: page, Err: err.Error()}
	var pErr *domain.PersistenceError
	if errors.As(err, &pErr) {
		f.Key = pErr.Key
		f.Err = pErr.Err.Error()
	}
	s.Failures = append(s.Failures, f)
}

// FormatReport renders the run summary; store may be nil when statistics were unavailable.
func FormatReport(stats RunStats, store *domain.StoreStats) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Tournament scrape finished in %s\n", stats.FinishedAt.Sub(stats.StartedAt).Round(time.Second))
	fmt.Fprintf(&b, "Pages: %d (%d failed)\n", stats.Pages, stats.PagesFailed)
	fmt.Fprintf(&b, "Listings: %d (%d discarded)\n", stats.Listings, stats.Discarded)
	fmt.Fprintf(&b, "Imported: %d\nSkipped: %d\nFailed: %d\n", stats.Imported, stats.Skipped, stats.Failed)
	fmt.Fprintf(&b, "Without coordinates: %d\n", stats.Unresolved)

	if store != nil {
		fmt.Fprintf(&b, "\nStore: %d tournaments, %d with coordinates, %d without\n",
			store.Total, store.WithCoordinates, store.WithoutCoordinates)
	}

	if len(stats.Failures) > 0 {
		b.WriteString("\nFailures:\n")
		for _, f := range stats.Failures {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	return b.String()
}
