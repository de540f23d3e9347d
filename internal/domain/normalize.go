package domain

import (
	"fmt"
	"strings"
	"time"
)

// SourceDateLayout is the only date format accepted from the calendar.
const SourceDateLayout = "02.01.2006"

// ParseSourceDate parses a DD.MM.YYYY date strictly.
func ParseSourceDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	t, err := time.Parse(SourceDateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableDate, value)
	}
	return t, nil
}

// InferCategory classifies a tournament by name. "rapid" is checked before
// "blitz", so a name containing both is rapid.
func InferCategory(name string) Category {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "rapid"):
		return CategoryRapid
	case strings.Contains(lower, "blitz"):
		return CategoryBlitz
	default:
		return CategoryClassical
	}
}

// CleanField trims whitespace and drops a single trailing comma left over from
// the calendar's "City, Country," markup.
func CleanField(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimSuffix(value, ",")
	return strings.TrimSpace(value)
}

// Normalize converts a raw listing into a Tournament. The boolean is false when
// the record is discarded: its start date does not parse, or it ended before
// the day preceding referenceDate.
func Normalize(raw RawListing, referenceDate time.Time) (Tournament, bool) {
	start, err := ParseSourceDate(raw.StartDateText)
	if err != nil {
		return Tournament{}, false
	}

	end, err := ParseSourceDate(raw.EndDateText)
	if err != nil || end.Before(start) {
		end = start
	}

	if end.Before(cutoff(referenceDate)) {
		return Tournament{}, false
	}

	name := strings.TrimSpace(raw.Name)
	return Tournament{
		Name:      name,
		StartDate: start,
		EndDate:   end,
		Country:   CleanField(raw.CountryText),
		City:      CleanField(raw.CityText),
		Category:  InferCategory(name),
		SourceURL: strings.TrimSpace(raw.SourceURL),
	}, true
}

// cutoff is the calendar day before referenceDate, at UTC midnight.
func cutoff(referenceDate time.Time) time.Time {
	y, m, d := referenceDate.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}
