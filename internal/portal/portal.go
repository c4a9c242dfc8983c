// Package portal defines the contract every council portal family implements
// and the helpers they share for turning scraped fields into applications.
package portal

import (
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/seractech/planwatch/internal/planning"
)

// Step names the kind of request a cursor leads to.
type Step string

// Cursor steps.
const (
	// StepSearch submits the search form with the date window.
	StepSearch Step = "search"
	// StepResults follows a plain link to the next results page.
	StepResults Step = "results"
	// StepPostback replays a form post carrying pager state.
	StepPostback Step = "postback"
	// StepOffset requests the next slice of an offset-paginated API.
	StepOffset Step = "offset"
)

// Cursor is the opaque pagination state handed back to BuildSearchRequest.
type Cursor struct {
	Step   Step
	URL    string
	Form   url.Values
	Offset int
}

// Page is the parsed content of one portal response.
type Page struct {
	Applications []planning.Application
	Next         *Cursor
	// NoResults is set when the portal explicitly reported an empty search.
	NoResults bool
	// Preflight marks a page that carried no results by design, such as a
	// search form fetched to harvest session fields.
	Preflight bool
	// Rejected counts rows dropped because a required field was unusable.
	Rejected int
}

// Scraper is implemented by each portal family.
type Scraper interface {
	// Family is the configuration name of the portal family.
	Family() string
	// BuildSearchRequest describes the next request for a council and window.
	// cursor is nil for the first request.
	BuildSearchRequest(council planning.Council, window planning.Window, cursor *Cursor) (planning.Request, error)
	// ParseResponse interprets a response body. Malformed markup yields a
	// *planning.ParseError.
	ParseResponse(council planning.Council, body []byte) (Page, error)
}

// Skipper is implemented by families whose next cursor does not depend on
// the response, so pagination can carry on past a page that failed.
type Skipper interface {
	// Skip returns the cursor for the page after the one requested with
	// cursor, or nil when there is none.
	Skip(cursor *Cursor) *Cursor
}

// Registry maps family names to scrapers.
type Registry struct {
	mu       sync.RWMutex
	scrapers map[string]Scraper
}

// NewRegistry builds a registry holding the given scrapers.
func NewRegistry(scrapers ...Scraper) *Registry {
	r := &Registry{scrapers: make(map[string]Scraper, len(scrapers))}
	for _, s := range scrapers {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a scraper.
func (r *Registry) Register(s Scraper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrapers[s.Family()] = s
}

// Lookup returns the scraper for family.
func (r *Registry) Lookup(family string) (Scraper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scrapers[family]
	if !ok {
		return nil, fmt.Errorf("unknown portal family %q", family)
	}
	return s, nil
}

// Families lists registered family names in sorted order.
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.scrapers))
	for name := range r.scrapers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CloneValues copies form values so cursors never share maps.
func CloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
