package domain

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"
)

// PageKey selects one month page of the source calendar.
type PageKey struct {
	Year  int
	Month time.Month
}

// String renders the key the way the calendar expects it, e.g. "2025-9".
func (k PageKey) String() string {
	return fmt.Sprintf("%d-%d", k.Year, int(k.Month))
}

// Next returns the following month.
func (k PageKey) Next() PageKey {
	if k.Month == time.December {
		return PageKey{Year: k.Year + 1, Month: time.January}
	}
	return PageKey{Year: k.Year, Month: k.Month + 1}
}

// Before reports whether k is chronologically earlier than other.
func (k PageKey) Before(other PageKey) bool {
	if k.Year != other.Year {
		return k.Year < other.Year
	}
	return k.Month < other.Month
}

// PageKeyOf returns the page holding the given date.
func PageKeyOf(t time.Time) PageKey {
	return PageKey{Year: t.Year(), Month: t.Month()}
}

// ParsePageKey accepts "YYYY-M" and "YYYY-MM".
func ParsePageKey(value string) (PageKey, error) {
	yearText, monthText, ok := strings.Cut(strings.TrimSpace(value), "-")
	if !ok {
		return PageKey{}, fmt.Errorf("page key %q: want YYYY-M", value)
	}
	year, err := strconv.Atoi(yearText)
	if err != nil || year < 1 {
		return PageKey{}, fmt.Errorf("page key %q: invalid year", value)
	}
	month, err := strconv.Atoi(monthText)
	if err != nil || month < 1 || month > 12 {
		return PageKey{}, fmt.Errorf("page key %q: invalid month", value)
	}
	return PageKey{Year: year, Month: time.Month(month)}, nil
}

// PageRange is an inclusive range of calendar pages.
type PageRange struct {
	From PageKey
	To   PageKey
	// Limit bounds the number of keys produced; zero means unbounded.
	Limit int
}

// Keys yields every page key of the range in chronological order.
// Each call starts a fresh iteration.
func (r PageRange) Keys() iter.Seq[PageKey] {
	return func(yield func(PageKey) bool) {
		produced := 0
		for k := r.From; !r.To.Before(k); k = k.Next() {
			if r.Limit > 0 && produced >= r.Limit {
				return
			}
			if !yield(k) {
				return
			}
			produced++
		}
	}
}

// Len returns the number of keys Keys will yield.
func (r PageRange) Len() int {
	if r.To.Before(r.From) {
		return 0
	}
	n := (r.To.Year-r.From.Year)*12 + int(r.To.Month-r.From.Month) + 1
	if r.Limit > 0 && n > r.Limit {
		return r.Limit
	}
	return n
}
