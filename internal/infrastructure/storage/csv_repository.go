package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"TournamentScanner/internal/domain"
	"TournamentScanner/internal/ports"
)

// DriverCSV selects the file-based repository.
const DriverCSV = "csv"

var csvColumns = []string{
	"name", "tournament_type", "start_date", "end_date",
	"country", "city", "latitude", "longitude", "source_url",
}

const (
	colName = iota
	colType
	colStart
	colEnd
	colCountry
	colCity
	colLat
	colLon
	colSource
)

// CSVRepository keeps tournaments in a CSV export. Rows from a prior export
// seed the identity keys; new rows are merged in and the file is rewritten,
// sorted by start date, on Flush and Close.
type CSVRepository struct {
	path string

	mu    sync.Mutex
	rows  [][]string
	keys  map[domain.IdentityKey]struct{}
	dirty bool
}

var (
	_ ports.TournamentRepository = (*CSVRepository)(nil)
	_ ports.Flusher              = (*CSVRepository)(nil)
)

// OpenCSV loads path if it exists. A missing file starts an empty export.
func OpenCSV(path string) (*CSVRepository, error) {
	repo := &CSVRepository{path: path, keys: map[domain.IdentityKey]struct{}{}}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return repo, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	if err := repo.load(f); err != nil {
		return nil, fmt.Errorf("load export %s: %w", path, err)
	}
	return repo, nil
}

func (r *CSVRepository) load(src io.Reader) error {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	// Map our columns onto the export's header so older exports with extra
	// columns (id, venue_name, ...) still load.
	index := make([]int, len(csvColumns))
	for i, name := range csvColumns {
		index[i] = -1
		for j, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				index[i] = j
				break
			}
		}
	}
	if index[colName] < 0 || index[colStart] < 0 {
		return fmt.Errorf("header lacks name/start_date columns")
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read row: %w", err)
		}

		row := make([]string, len(csvColumns))
		for i, j := range index {
			if j >= 0 && j < len(record) {
				row[i] = record[j]
			}
		}
		if strings.TrimSpace(row[colName]) == "" && strings.TrimSpace(row[colStart]) == "" {
			continue
		}
		r.rows = append(r.rows, row)
		r.keys[domain.IdentityKey{Name: row[colName], StartDate: row[colStart]}] = struct{}{}
	}
}

// Ping checks that the export directory exists.
func (r *CSVRepository) Ping(context.Context) error {
	dir := filepath.Dir(r.path)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("export directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("export directory %s is not a directory", dir)
	}
	return nil
}

// IdentityKeys returns the keys of every row in the export.
func (r *CSVRepository) IdentityKeys(context.Context) ([]domain.IdentityKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]domain.IdentityKey, 0, len(r.keys))
	for k := range r.keys {
		keys = append(keys, k)
	}
	return keys, nil
}

// Exists reports whether the key is present.
func (r *CSVRepository) Exists(_ context.Context, key domain.IdentityKey) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.keys[key]
	return ok, nil
}

// Upsert appends the tournament unless its key is already present.
func (r *CSVRepository) Upsert(_ context.Context, t domain.Tournament) (ports.UpsertResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := t.Key()
	if _, ok := r.keys[key]; ok {
		return ports.UpsertConflict, nil
	}

	row := make([]string, len(csvColumns))
	row[colName] = t.Name
	row[colType] = string(t.Category)
	row[colStart] = t.StartDate.Format(domain.DateLayout)
	row[colEnd] = t.EndDate.Format(domain.DateLayout)
	row[colCountry] = t.Country
	row[colCity] = t.City
	if t.Coordinates != nil {
		row[colLat] = strconv.FormatFloat(t.Coordinates.Latitude, 'f', -1, 64)
		row[colLon] = strconv.FormatFloat(t.Coordinates.Longitude, 'f', -1, 64)
	}
	row[colSource] = t.SourceURL

	r.rows = append(r.rows, row)
	r.keys[key] = struct{}{}
	r.dirty = true
	return ports.UpsertInserted, nil
}

// Stats counts rows by coordinate availability.
func (r *CSVRepository) Stats(context.Context) (domain.StoreStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := domain.StoreStats{Total: len(r.rows)}
	for _, row := range r.rows {
		if _, ok := rowCoordinates(row); ok {
			stats.WithCoordinates++
		}
	}
	stats.WithoutCoordinates = stats.Total - stats.WithCoordinates
	return stats, nil
}

// Nearby scans the export for tournaments within radiusKm, closest first.
func (r *CSVRepository) Nearby(_ context.Context, lat, lon, radiusKm float64, from time.Time) ([]domain.NearbyTournament, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	center := domain.Coordinates{Latitude: lat, Longitude: lon}
	cutoff := from.Format(domain.DateLayout)

	var result []domain.NearbyTournament
	for _, row := range r.rows {
		coords, ok := rowCoordinates(row)
		if !ok || row[colEnd] < cutoff {
			continue
		}
		distance := domain.DistanceKm(center, coords)
		if distance > radiusKm {
			continue
		}

		t := domain.Tournament{
			Name:        row[colName],
			Category:    domain.Category(row[colType]),
			Country:     row[colCountry],
			City:        row[colCity],
			SourceURL:   row[colSource],
			Coordinates: &coords,
		}
		t.StartDate, _ = time.Parse(domain.DateLayout, row[colStart])
		t.EndDate, _ = time.Parse(domain.DateLayout, row[colEnd])
		result = append(result, domain.NearbyTournament{Tournament: t, DistanceKm: distance})
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].DistanceKm < result[j].DistanceKm
	})
	return result, nil
}

// Flush writes the merged export if anything was added since the last write.
func (r *CSVRepository) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.dirty {
		return nil
	}

	sort.SliceStable(r.rows, func(i, j int) bool {
		return r.rows[i][colStart] < r.rows[j][colStart]
	})

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".tournaments-*.csv")
	if err != nil {
		return fmt.Errorf("create temp export: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(csvColumns); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteAll(r.rows); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp export: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replace export: %w", err)
	}

	r.dirty = false
	return nil
}

// Close flushes pending rows.
func (r *CSVRepository) Close() error {
	return r.Flush()
}

func rowCoordinates(row []string) (domain.Coordinates, bool) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(row[colLat]), 64)
	if err != nil {
		return domain.Coordinates{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(row[colLon]), 64)
	if err != nil {
		return domain.Coordinates{}, false
	}
	return domain.Coordinates{Latitude: lat, Longitude: lon}, true
}
