// Package planningdata reads planning applications from the national
// Planning Data platform (planning.data.gov.uk), which publishes council
// records as JSON with WKT point geometry.
package planningdata

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/seractech/planwatch/internal/planning"
	"github.com/seractech/planwatch/internal/portal"
)

// Family is the configuration name of this portal family.
const Family = "planningdata"

const (
	// DefaultBaseURL is used when a council does not override base_url.
	DefaultBaseURL = "https://www.planning.data.gov.uk"
	pageSize       = 100
	// maxOffset stops runaway paging on a dataset that never shrinks.
	maxOffset = 10000
)

type entityPage struct {
	Entities []entity `json:"entities"`
}

type entity struct {
	Entity      json.Number `json:"entity"`
	Reference   string      `json:"reference"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Address     string      `json:"address"`
	Point       string      `json:"point"`
	EntryDate   string      `json:"entry-date"`
	StartDate   string      `json:"start-date"`
	Status      string      `json:"planning-permission-status"`
}

// Scraper implements portal.Scraper over the entity.json API.
type Scraper struct{}

// New returns a Planning Data scraper.
func New() *Scraper {
	return &Scraper{}
}

// Family implements portal.Scraper.
func (*Scraper) Family() string {
	return Family
}

// BuildSearchRequest implements portal.Scraper. The API filters on entry
// date since the window start; the window end is always the run date.
func (*Scraper) BuildSearchRequest(
	council planning.Council,
	window planning.Window,
	cursor *portal.Cursor,
) (planning.Request, error) {
	offset := 0
	if cursor != nil {
		if cursor.Step != portal.StepOffset {
			return planning.Request{}, planning.NewParseError(0, "planningdata: unsupported cursor step %q", cursor.Step)
		}
		offset = cursor.Offset
	}

	base := council.BaseURL
	if strings.TrimSpace(base) == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(base, "/") + "/entity.json")
	if err != nil {
		return planning.Request{}, fmt.Errorf("planningdata: parse base url: %w", err)
	}

	q := url.Values{}
	q.Set("dataset", "planning-application")
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("offset", strconv.Itoa(offset))
	if council.OrganisationEntity != "" {
		q.Set("organisation_entity", council.OrganisationEntity)
	}
	q.Set("entry_date_year", strconv.Itoa(window.From.Year()))
	q.Set("entry_date_month", strconv.Itoa(int(window.From.Month())))
	q.Set("entry_date_day", strconv.Itoa(window.From.Day()))
	q.Set("entry_date_match", "since")
	u.RawQuery = q.Encode()

	return planning.Request{
		Method: http.MethodGet,
		URL:    u.String(),
		Header: http.Header{"Accept": {"application/json"}},
	}, nil
}

// ParseResponse implements portal.Scraper. A full page with a "next" link
// yields a cursor at the offset that link carries.
func (s *Scraper) ParseResponse(council planning.Council, body []byte) (portal.Page, error) {
	var decoded struct {
		entityPage
		Links struct {
			Next string `json:"next"`
		} `json:"links"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return portal.Page{}, planning.NewParseError(0, "planningdata: decode: %w", err)
	}
	if len(decoded.Entities) == 0 {
		return portal.Page{NoResults: true}, nil
	}

	rows := make([]portal.Row, 0, len(decoded.Entities))
	for _, e := range decoded.Entities {
		rows = append(rows, toRow(e))
	}
	var page portal.Page
	portal.Collect(council, rows, &page)

	if next := nextOffset(decoded.Links.Next); next > 0 && next <= maxOffset && len(decoded.Entities) >= pageSize {
		page.Next = &portal.Cursor{Step: portal.StepOffset, Offset: next}
	}
	return page, nil
}

// Skip implements portal.Skipper: the page after a failed one is simply the
// next offset.
func (*Scraper) Skip(cursor *portal.Cursor) *portal.Cursor {
	offset := 0
	if cursor != nil {
		if cursor.Step != portal.StepOffset {
			return nil
		}
		offset = cursor.Offset
	}
	next := offset + pageSize
	if next > maxOffset {
		return nil
	}
	return &portal.Cursor{Step: portal.StepOffset, Offset: next}
}

func toRow(e entity) portal.Row {
	row := portal.Row{
		Reference: firstNonEmpty(e.Reference, e.Entity.String()),
		Desc:      firstNonEmpty(e.Description, e.Name),
		Address:   firstNonEmpty(e.Address, e.Name),
		Received:  firstNonEmpty(e.EntryDate, e.StartDate),
		Status:    e.Status,
	}
	if e.Entity.String() != "" {
		row.Href = "https://www.planning.data.gov.uk/entity/" + e.Entity.String()
	}
	if lng, lat, ok := parsePoint(e.Point); ok {
		row.Lat, row.Lng = &lat, &lng
	}
	return row
}

// parsePoint reads a WKT "POINT(lng lat)".
func parsePoint(wkt string) (lng, lat float64, ok bool) {
	s := strings.TrimSpace(wkt)
	if !strings.HasPrefix(strings.ToUpper(s), "POINT") {
		return 0, 0, false
	}
	s = strings.TrimSpace(s[len("POINT"):])
	s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lng, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, false
	}
	lat, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, false
	}
	return lng, lat, true
}

func nextOffset(link string) int {
	if link == "" {
		return 0
	}
	u, err := url.Parse(link)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(u.Query().Get("offset"))
	if err != nil {
		return 0
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
