package domain

import "time"

// DateLayout is the canonical calendar-date format used for storage and identity keys.
const DateLayout = "2006-01-02"

// RawListing is one scraped calendar entry before normalization.
type RawListing struct {
	Name          string
	CityText      string
	CountryText   string
	StartDateText string
	EndDateText   string
	SourceURL     string
}

// Category classifies a tournament by its time control.
type Category string

const (
	CategoryClassical Category = "classical"
	CategoryRapid     Category = "rapid"
	CategoryBlitz     Category = "blitz"
)

// Coordinates is a resolved latitude/longitude pair.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// IdentityKey uniquely identifies a tournament across the store.
// StartDate is formatted with DateLayout so the key stays comparable.
type IdentityKey struct {
	Name      string
	StartDate string
}

func (k IdentityKey) String() string {
	return k.Name + "_" + k.StartDate
}

// Tournament is the canonical entity persisted by the repositories.
type Tournament struct {
	Name        string
	StartDate   time.Time
	EndDate     time.Time
	Country     string
	City        string
	Category    Category
	Coordinates *Coordinates
	SourceURL   string

	// Page is the calendar page the record was discovered on; diagnostics only.
	Page PageKey
}

// Key returns the identity key of the tournament.
func (t Tournament) Key() IdentityKey {
	return IdentityKey{Name: t.Name, StartDate: t.StartDate.Format(DateLayout)}
}

// HasCoordinates reports whether geocoding produced a location.
func (t Tournament) HasCoordinates() bool {
	return t.Coordinates != nil
}

// NearbyTournament pairs a stored tournament with its distance from a query point.
type NearbyTournament struct {
	Tournament
	DistanceKm float64
}

// StoreStats summarises stored tournaments by coordinate availability.
type StoreStats struct {
	Total              int
	WithCoordinates    int
	WithoutCoordinates int
}
