package portal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/seractech/planwatch/internal/planning"
)

// ErrMissingReference is returned for rows without a reference number.
var ErrMissingReference = errors.New("missing reference")

// Row is the raw text a scraper pulled from one result row.
type Row struct {
	Reference string
	Desc      string
	Address   string
	Postcode  string
	Received  string
	Status    string
	Href      string
	Lat       *float64
	Lng       *float64
}

// Build normalizes a row into an application for council. Rows without a
// reference or with an unparseable received date are rejected.
func (r Row) Build(council planning.Council) (planning.Application, error) {
	ref := strings.TrimSpace(r.Reference)
	if ref == "" {
		return planning.Application{}, ErrMissingReference
	}
	received, err := planning.ParseDate(r.Received)
	if err != nil {
		return planning.Application{}, fmt.Errorf("row %s: %w", ref, err)
	}
	app := planning.Application{
		ID:           ref,
		Council:      council.ID,
		Desc:         r.Desc,
		Addr:         r.Address,
		Postcode:     r.Postcode,
		DateReceived: received,
		Status:       r.Status,
	}
	if href := strings.TrimSpace(r.Href); href != "" {
		link, err := council.ResolveURL(href)
		if err != nil {
			return planning.Application{}, fmt.Errorf("row %s: %w", ref, err)
		}
		app.Link = link
	}
	if r.Lat != nil && r.Lng != nil {
		app.SetCoords(*r.Lat, *r.Lng)
	}
	app.Normalize()
	return app, nil
}

// Collect builds every row into the page, counting the rejects.
func Collect(council planning.Council, rows []Row, page *Page) {
	for _, row := range rows {
		app, err := row.Build(council)
		if err != nil {
			page.Rejected++
			continue
		}
		page.Applications = append(page.Applications, app)
	}
}
