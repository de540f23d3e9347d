package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"TournamentScanner/internal/domain"
	"TournamentScanner/internal/ports"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	tournamentsTable = "tournaments"
)

// SQLRepository persists tournaments into Postgres or SQLite.
type SQLRepository struct {
	db      *sql.DB
	driver  string
	builder sq.StatementBuilderType
}

var _ ports.TournamentRepository = (*SQLRepository)(nil)

// OpenSQL opens a database handle for driver ("postgres" or "sqlite").
// The connection is not verified; call Ping.
func OpenSQL(driver, dsn string) (*SQLRepository, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// In-memory databases are per connection.
		db.SetMaxOpenConns(1)
	}
	return NewSQLRepository(db, driver), nil
}

// NewSQLRepository wires an existing sql.DB.
func NewSQLRepository(db *sql.DB, driver string) *SQLRepository {
	var format sq.PlaceholderFormat = sq.Question
	if driver == DriverPostgres {
		format = sq.Dollar
	}
	return &SQLRepository{
		db:      db,
		driver:  driver,
		builder: sq.StatementBuilder.PlaceholderFormat(format),
	}
}

// Ping verifies that storage is reachable.
func (r *SQLRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", r.driver, err)
	}
	return nil
}

// EnsureSchema creates the tournaments table for local SQLite databases.
// Postgres schema management stays with the deployment.
func (r *SQLRepository) EnsureSchema(ctx context.Context) error {
	if r.driver != DriverSQLite {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// IdentityKeys returns the (name, start date) key of every stored tournament.
func (r *SQLRepository) IdentityKeys(ctx context.Context) ([]domain.IdentityKey, error) {
	query, args, err := r.builder.
		Select("name", "CAST(start_date AS TEXT)").
		From(tournamentsTable).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build keys query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.IdentityKey
	for rows.Next() {
		var key domain.IdentityKey
		if err := rows.Scan(&key.Name, &key.StartDate); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return keys, nil
}

// Exists reports whether a tournament with the key is stored.
func (r *SQLRepository) Exists(ctx context.Context, key domain.IdentityKey) (bool, error) {
	query, args, err := r.builder.
		Select("1").
		From(tournamentsTable).
		Where(sq.Eq{"name": key.Name, "start_date": key.StartDate}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}

	var one int
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("query exists: %w", err)
	}
	return true, nil
}

// Upsert inserts the tournament; an existing (name, start_date) row is left untouched.
func (r *SQLRepository) Upsert(ctx context.Context, t domain.Tournament) (ports.UpsertResult, error) {
	var lat, lon sql.NullFloat64
	if t.Coordinates != nil {
		lat = sql.NullFloat64{Float64: t.Coordinates.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: t.Coordinates.Longitude, Valid: true}
	}

	query, args, err := r.builder.
		Insert(tournamentsTable).
		Columns("name", "tournament_type", "start_date", "end_date",
			"country", "location", "city", "venue_name", "source_url",
			"latitude", "longitude", "status").
		Values(t.Name, string(t.Category), t.StartDate.Format(domain.DateLayout), t.EndDate.Format(domain.DateLayout),
			t.Country, t.City, t.City, t.City, nullString(t.SourceURL),
			lat, lon, "upcoming").
		Suffix("ON CONFLICT (name, start_date) DO NOTHING").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build upsert: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert tournament: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ports.UpsertConflict, nil
	}
	return ports.UpsertInserted, nil
}

// Stats counts stored tournaments by coordinate availability.
func (r *SQLRepository) Stats(ctx context.Context) (domain.StoreStats, error) {
	query, args, err := r.builder.
		Select("COUNT(*)", "COUNT(latitude)").
		From(tournamentsTable).
		ToSql()
	if err != nil {
		return domain.StoreStats{}, fmt.Errorf("build stats query: %w", err)
	}

	var stats domain.StoreStats
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&stats.Total, &stats.WithCoordinates); err != nil {
		return domain.StoreStats{}, fmt.Errorf("query stats: %w", err)
	}
	stats.WithoutCoordinates = stats.Total - stats.WithCoordinates
	return stats, nil
}

// Nearby returns tournaments ending on or after from that lie within radiusKm
// of (lat, lon), closest first.
func (r *SQLRepository) Nearby(ctx context.Context, lat, lon, radiusKm float64, from time.Time) ([]domain.NearbyTournament, error) {
	center := domain.Coordinates{Latitude: lat, Longitude: lon}
	minLat, maxLat, minLon, maxLon := domain.BoundingBox(center, radiusKm)

	query, args, err := r.builder.
		Select("name", "tournament_type", "CAST(start_date AS TEXT)", "CAST(end_date AS TEXT)",
			"COALESCE(country, '')", "COALESCE(city, '')", "COALESCE(source_url, '')",
			"latitude", "longitude").
		From(tournamentsTable).
		Where(sq.NotEq{"latitude": nil}).
		Where(sq.NotEq{"longitude": nil}).
		Where(sq.Expr("latitude BETWEEN ? AND ?", minLat, maxLat)).
		Where(sq.Expr("longitude BETWEEN ? AND ?", minLon, maxLon)).
		Where(sq.GtOrEq{"end_date": from.Format(domain.DateLayout)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build nearby query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nearby: %w", err)
	}
	defer rows.Close()

	var result []domain.NearbyTournament
	for rows.Next() {
		var (
			t                   domain.Tournament
			category            string
			startText           string
			endText             string
			latitude, longitude float64
		)
		if err := rows.Scan(&t.Name, &category, &startText, &endText, &t.Country, &t.City, &t.SourceURL, &latitude, &longitude); err != nil {
			return nil, fmt.Errorf("scan nearby: %w", err)
		}
		t.Category = domain.Category(category)
		t.StartDate, _ = time.Parse(domain.DateLayout, startText)
		t.EndDate, _ = time.Parse(domain.DateLayout, endText)
		t.Coordinates = &domain.Coordinates{Latitude: latitude, Longitude: longitude}

		distance := domain.DistanceKm(center, *t.Coordinates)
		if distance > radiusKm {
			continue
		}
		result = append(result, domain.NearbyTournament{Tournament: t, DistanceKm: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].DistanceKm < result[j].DistanceKm
	})
	return result, nil
}

// Close releases the database handle.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tournaments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    tournament_type TEXT NOT NULL DEFAULT 'classical'
        CHECK (tournament_type IN ('classical', 'rapid', 'blitz')),
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    country TEXT,
    location TEXT,
    city TEXT,
    venue_name TEXT,
    latitude REAL,
    longitude REAL,
    source_url TEXT,
    status TEXT DEFAULT 'upcoming',
    created_at TEXT DEFAULT CURRENT_TIMESTAMP,
    updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (name, start_date)
);
CREATE INDEX IF NOT EXISTS idx_tournaments_start_date ON tournaments(start_date);
CREATE INDEX IF NOT EXISTS idx_tournaments_coordinates ON tournaments(latitude, longitude);
`
