package parser

import (
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"TournamentScanner/internal/domain"
	"TournamentScanner/internal/ports"
)

// Selectors of the chess-calendar.eu listing markup.
const (
	itemSelector      = ".calItem"
	nameSelector      = ".weblink"
	citySelector      = ".city"
	countrySelector   = ".country"
	startDateSelector = ".startdate"
	endDateSelector   = ".endDate2"
	sourceSelector    = ".source a"
)

// CalendarParser extracts raw listings from calendar page markup.
type CalendarParser struct{}

var _ ports.ListingParser = CalendarParser{}

// Parse loads the document and returns a lazy sequence with one listing per
// container, in document order. Missing sub-fields yield empty strings.
func (CalendarParser) Parse(markup io.Reader) (iter.Seq[domain.RawListing], error) {
	doc, err := goquery.NewDocumentFromReader(markup)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	items := doc.Find(itemSelector)
	return func(yield func(domain.RawListing) bool) {
		items.EachWithBreak(func(_ int, item *goquery.Selection) bool {
			return yield(parseItem(item))
		})
	}, nil
}

func parseItem(item *goquery.Selection) domain.RawListing {
	source, _ := item.Find(sourceSelector).First().Attr("href")
	return domain.RawListing{
		Name:          fieldText(item, nameSelector),
		CityText:      fieldText(item, citySelector),
		CountryText:   fieldText(item, countrySelector),
		StartDateText: fieldText(item, startDateSelector),
		EndDateText:   fieldText(item, endDateSelector),
		SourceURL:     strings.TrimSpace(source),
	}
}

func fieldText(item *goquery.Selection, selector string) string {
	return strings.TrimSpace(item.Find(selector).First().Text())
}
