// Package northgate scrapes Northgate Planning Explorer portals, which are
// ASP.NET WebForms: every request after the first replays the page's view
// state, and the results grid pages through __doPostBack links.
package northgate

import (
	"bytes"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/seractech/planwatch/internal/planning"
	"github.com/seractech/planwatch/internal/portal"
)

// Family is the configuration name of this portal family.
const Family = "northgate"

const (
	searchPage = "PlanningSearch.aspx"
	dateLayout = "02/01/2006"

	fieldDateFrom = "ctl00$MainContent$txtDateReceivedFrom"
	fieldDateTo   = "ctl00$MainContent$txtDateReceivedTo"
	fieldSearch   = "ctl00$MainContent$btnSearch"
)

var (
	aspNetFields = []string{"__VIEWSTATE", "__VIEWSTATEGENERATOR", "__EVENTVALIDATION", "__VIEWSTATEENCRYPTED"}
	postBack     = regexp.MustCompile(`__doPostBack\('([^']+)','([^']*)'\)`)
	nextLabel    = regexp.MustCompile(`(?i)^\s*(next|>)\s*$`)
)

// Scraper implements portal.Scraper for Northgate Planning Explorer.
type Scraper struct{}

// New returns a Northgate scraper.
func New() *Scraper {
	return &Scraper{}
}

// Family implements portal.Scraper.
func (*Scraper) Family() string {
	return Family
}

// BuildSearchRequest implements portal.Scraper.
func (*Scraper) BuildSearchRequest(
	council planning.Council,
	window planning.Window,
	cursor *portal.Cursor,
) (planning.Request, error) {
	searchURL, err := council.ResolveURL(searchPage)
	if err != nil {
		return planning.Request{}, err
	}
	if cursor == nil {
		return planning.Request{Method: http.MethodGet, URL: searchURL}, nil
	}

	form := portal.CloneValues(cursor.Form)
	switch cursor.Step {
	case portal.StepSearch:
		form.Set(fieldDateFrom, window.From.Format(dateLayout))
		form.Set(fieldDateTo, window.To.Format(dateLayout))
		form.Set(fieldSearch, "Search")
	case portal.StepPostback:
		// Event target and argument travel in the cursor form.
	default:
		return planning.Request{}, planning.NewParseError(0, "northgate: unsupported cursor step %q", cursor.Step)
	}
	return planning.Request{Method: http.MethodPost, URL: searchURL, Form: form}, nil
}

// ParseResponse implements portal.Scraper.
func (*Scraper) ParseResponse(council planning.Council, body []byte) (portal.Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return portal.Page{}, planning.NewParseError(0, "northgate: read html: %w", err)
	}
	state := viewState(doc)

	if table := doc.Find("table.rgMasterTable"); table.Length() > 0 {
		page := parseGrid(council, table)
		if len(page.Applications) == 0 && page.Rejected == 0 {
			page.NoResults = true
			return page, nil
		}
		page.Next = nextPostback(doc, state)
		return page, nil
	}

	text := strings.ToLower(doc.Find("body").Text())
	if strings.Contains(text, "no results") || strings.Contains(text, "no matching") {
		return portal.Page{NoResults: true}, nil
	}

	if doc.Find(`input[name="` + fieldDateFrom + `"]`).Length() > 0 {
		if _, ok := state["__VIEWSTATE"]; !ok {
			return portal.Page{}, planning.NewParseError(0, "northgate: search form without view state")
		}
		return portal.Page{
			Preflight: true,
			Next:      &portal.Cursor{Step: portal.StepSearch, Form: state},
		}, nil
	}
	return portal.Page{}, planning.NewParseError(0, "northgate: no results grid or search form in page")
}

func viewState(doc *goquery.Document) map[string][]string {
	fields := make(map[string][]string)
	for _, name := range aspNetFields {
		in := doc.Find(`input[name="` + name + `"]`).First()
		if in.Length() == 0 {
			continue
		}
		fields[name] = []string{in.AttrOr("value", "")}
	}
	return fields
}

func parseGrid(council planning.Council, table *goquery.Selection) portal.Page {
	var rows []portal.Row
	table.Find("tr.rgRow, tr.rgAltRow").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 5 {
			rows = append(rows, portal.Row{})
			return
		}
		ref := cells.Eq(0)
		rows = append(rows, portal.Row{
			Reference: ref.Text(),
			Address:   cells.Eq(1).Text(),
			Desc:      cells.Eq(2).Text(),
			Received:  cells.Eq(3).Text(),
			Status:    cells.Eq(4).Text(),
			Href:      ref.Find("a").First().AttrOr("href", ""),
		})
	})

	var page portal.Page
	portal.Collect(council, rows, &page)
	return page
}

func nextPostback(doc *goquery.Document, state map[string][]string) *portal.Cursor {
	var cursor *portal.Cursor
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if !nextLabel.MatchString(a.Text()) && !strings.EqualFold(strings.TrimSpace(a.AttrOr("title", "")), "Next Page") {
			return true
		}
		m := postBack.FindStringSubmatch(a.AttrOr("href", ""))
		if m == nil {
			return true
		}
		form := portal.CloneValues(state)
		form.Set("__EVENTTARGET", m[1])
		form.Set("__EVENTARGUMENT", m[2])
		cursor = &portal.Cursor{Step: portal.StepPostback, Form: form}
		return false
	})
	return cursor
}
