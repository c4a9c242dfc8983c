// Package idox scrapes Idox Public Access portals.
//
// A search takes three kinds of request: the advanced search form (to pick
// up the session cookie and hidden fields such as the CSRF token), the form
// submission with the received-date window, and then plain GETs following
// the "next" link of each results page.
package idox

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/seractech/planwatch/internal/planning"
	"github.com/seractech/planwatch/internal/portal"
)

// Family is the configuration name of this portal family.
const Family = "idox"

const (
	formPath       = "search.do?action=advanced&searchType=Application"
	fallbackAction = "advancedSearchResults.do?action=firstPage"
	dateLayout     = "02/01/2006"
)

// Scraper implements portal.Scraper for Idox Public Access.
type Scraper struct{}

// New returns an Idox scraper.
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
	if cursor == nil {
		u, err := council.ResolveURL(formPath)
		if err != nil {
			return planning.Request{}, err
		}
		return planning.Request{Method: http.MethodGet, URL: u}, nil
	}

	switch cursor.Step {
	case portal.StepSearch:
		form := portal.CloneValues(cursor.Form)
		form.Set("searchType", "Application")
		form.Set("date(applicationReceivedStart)", window.From.Format(dateLayout))
		form.Set("date(applicationReceivedEnd)", window.To.Format(dateLayout))
		return planning.Request{Method: http.MethodPost, URL: cursor.URL, Form: form}, nil
	case portal.StepResults:
		return planning.Request{Method: http.MethodGet, URL: cursor.URL}, nil
	default:
		return planning.Request{}, planning.NewParseError(0, "idox: unsupported cursor step %q", cursor.Step)
	}
}

// ParseResponse implements portal.Scraper.
func (s *Scraper) ParseResponse(council planning.Council, body []byte) (portal.Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return portal.Page{}, planning.NewParseError(0, "idox: read html: %w", err)
	}

	if results := doc.Find("li.searchresult"); results.Length() > 0 {
		return s.parseResults(council, doc, results)
	}
	if details := doc.Find("table#simpleDetailsTable"); details.Length() > 0 {
		return s.parseDetails(council, doc, details)
	}

	message := strings.ToLower(doc.Find(".messagebox, #searchResultsContainer .message, .errors").Text())
	switch {
	case strings.Contains(message, "no results found"):
		return portal.Page{NoResults: true}, nil
	case strings.Contains(message, "too many results"):
		return portal.Page{}, planning.NewParseError(0, "idox: search window returned too many results")
	}

	if form := doc.Find(`form[name="searchCriteriaForm"]`); form.Length() > 0 {
		return s.parseSearchForm(council, form)
	}
	return portal.Page{}, planning.NewParseError(0, "idox: no results list or search form in page")
}

func (*Scraper) parseSearchForm(council planning.Council, form *goquery.Selection) (portal.Page, error) {
	action := strings.TrimSpace(form.AttrOr("action", ""))
	if action == "" {
		action = fallbackAction
	}
	actionURL, err := council.ResolveURL(action)
	if err != nil {
		return portal.Page{}, planning.NewParseError(0, "idox: form action: %w", err)
	}

	fields := make(map[string][]string)
	form.Find(`input[type="hidden"]`).Each(func(_ int, in *goquery.Selection) {
		name, ok := in.Attr("name")
		if !ok || name == "" {
			return
		}
		fields[name] = append(fields[name], in.AttrOr("value", ""))
	})

	return portal.Page{
		Preflight: true,
		Next: &portal.Cursor{
			Step: portal.StepSearch,
			URL:  actionURL,
			Form: fields,
		},
	}, nil
}

func (*Scraper) parseResults(
	council planning.Council,
	doc *goquery.Document,
	results *goquery.Selection,
) (portal.Page, error) {
	rows := make([]portal.Row, 0, results.Length())
	results.Each(func(_ int, li *goquery.Selection) {
		link := li.Find("a").First()
		meta := li.Find("p.metaInfo").Text()

		row := portal.Row{
			Reference: firstText(li.Find("span.caseNumber"), metaField(meta, "Ref. No")),
			Desc:      firstText(li.Find("p.description"), link.Text()),
			Address:   li.Find("p.address").Text(),
			Received:  firstText(li.Find("span.date"), metaField(meta, "Received")),
			Status:    firstText(li.Find("span.status"), metaField(meta, "Status")),
			Href:      link.AttrOr("href", ""),
		}
		rows = append(rows, row)
	})

	var page portal.Page
	portal.Collect(council, rows, &page)

	if next := doc.Find("a.next:not(.disabled)").First(); next.Length() > 0 {
		if href := strings.TrimSpace(next.AttrOr("href", "")); href != "" {
			nextURL, err := council.ResolveURL(href)
			if err != nil {
				return portal.Page{}, planning.NewParseError(0, "idox: next link: %w", err)
			}
			page.Next = &portal.Cursor{Step: portal.StepResults, URL: nextURL}
		}
	}
	return page, nil
}

// parseDetails handles a search that matched exactly one application, where
// Idox skips the results list and renders the application itself.
func (*Scraper) parseDetails(
	council planning.Council,
	doc *goquery.Document,
	table *goquery.Selection,
) (portal.Page, error) {
	fields := make(map[string]string)
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		key := strings.ToLower(strings.TrimSpace(tr.Find("th").Text()))
		fields[key] = strings.TrimSpace(tr.Find("td").Text())
	})

	row := portal.Row{
		Reference: fields["reference"],
		Desc:      fields["proposal"],
		Address:   fields["address"],
		Received:  firstNonEmpty(fields["application received"], fields["application validated"]),
		Status:    fields["status"],
		Href:      doc.Find("a#subtab_summary, #tab_summary a").First().AttrOr("href", ""),
	}

	var page portal.Page
	portal.Collect(council, []portal.Row{row}, &page)
	if len(page.Applications) == 0 {
		return portal.Page{}, planning.NewParseError(0, "idox: unreadable application details page")
	}
	return page, nil
}

// metaField pulls "Label: value" out of the pipe-separated metaInfo line.
func metaField(meta, label string) string {
	for _, part := range strings.Split(meta, "|") {
		part = strings.Join(strings.Fields(part), " ")
		if !strings.HasPrefix(strings.ToLower(part), strings.ToLower(label)) {
			continue
		}
		value := strings.TrimSpace(part[len(label):])
		return strings.TrimSpace(strings.TrimPrefix(value, ":"))
	}
	return ""
}

func firstText(sel *goquery.Selection, fallback string) string {
	if sel.Length() > 0 {
		if text := strings.TrimSpace(sel.First().Text()); text != "" {
			return text
		}
	}
	return strings.TrimSpace(fallback)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
