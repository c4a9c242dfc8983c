package idox

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seractech/planwatch/internal/planning"
	"github.com/seractech/planwatch/internal/portal"
)

var portsmouth = planning.Council{
	ID:      "portsmouth",
	Name:    "Portsmouth",
	Portal:  Family,
	BaseURL: "https://publicaccess.portsmouth.gov.uk/online-applications",
}

var window = planning.Window{
	From: planning.NewDate(2024, time.June, 29),
	To:   planning.NewDate(2024, time.July, 10),
}

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func TestBuildSearchRequestSequence(t *testing.T) {
	t.Parallel()

	s := New()
	req, err := s.BuildSearchRequest(portsmouth, window, nil)
	require.NoError(t, err)
	require.Equal(t, http.MethodGet, req.Method)
	require.Equal(t,
		"https://publicaccess.portsmouth.gov.uk/online-applications/search.do?action=advanced&searchType=Application",
		req.URL)

	page, err := s.ParseResponse(portsmouth, fixture(t, "search_form.html"))
	require.NoError(t, err)
	require.True(t, page.Preflight)
	require.NotNil(t, page.Next)
	require.Equal(t, portal.StepSearch, page.Next.Step)

	req, err = s.BuildSearchRequest(portsmouth, window, page.Next)
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, req.Method)
	require.Equal(t,
		"https://publicaccess.portsmouth.gov.uk/online-applications/advancedSearchResults.do?action=firstPage",
		req.URL)
	require.Equal(t, "3f1c9a2e-token", req.Form.Get("_csrf"))
	require.Equal(t, "29/06/2024", req.Form.Get("date(applicationReceivedStart)"))
	require.Equal(t, "10/07/2024", req.Form.Get("date(applicationReceivedEnd)"))
	require.Equal(t, "Application", req.Form.Get("searchType"))
	require.Empty(t, page.Next.Form.Get("searchType"), "building a request must not mutate the cursor")
}

func TestParseResultsPage(t *testing.T) {
	t.Parallel()

	page, err := New().ParseResponse(portsmouth, fixture(t, "results_page1.html"))
	require.NoError(t, err)
	require.False(t, page.NoResults)
	require.Len(t, page.Applications, 2)
	require.Equal(t, 1, page.Rejected)

	first := page.Applications[0]
	require.Equal(t, "24/00123/HOU", first.ID)
	require.Equal(t, "portsmouth", first.Council)
	require.Equal(t, "Single storey rear extension and internal alterations", first.Desc)
	require.Equal(t, "PO5 2SE", first.Postcode)
	require.Equal(t, planning.NewDate(2024, time.July, 1), first.DateReceived)
	require.Equal(t, "Pending Consideration", first.Status)
	require.Equal(t,
		"https://publicaccess.portsmouth.gov.uk/online-applications/applicationDetails.do?activeTab=summary&keyVal=SF1234",
		first.Link)

	second := page.Applications[1]
	require.Equal(t, "24/00130/FUL", second.ID)
	require.Empty(t, second.Postcode, "address without a postcode stays unplaceable")

	require.NotNil(t, page.Next)
	require.Equal(t, portal.StepResults, page.Next.Step)
	require.Equal(t,
		"https://publicaccess.portsmouth.gov.uk/online-applications/pagedSearchResults.do?action=page&searchCriteria.page=2",
		page.Next.URL)

	req, err := New().BuildSearchRequest(portsmouth, window, page.Next)
	require.NoError(t, err)
	require.Equal(t, http.MethodGet, req.Method)
	require.Equal(t, page.Next.URL, req.URL)
}

func TestParseLastPageWithSpans(t *testing.T) {
	t.Parallel()

	page, err := New().ParseResponse(portsmouth, fixture(t, "results_last.html"))
	require.NoError(t, err)
	require.Nil(t, page.Next)
	require.Len(t, page.Applications, 1)
	app := page.Applications[0]
	require.Equal(t, "24/00140/HOU", app.ID)
	require.Equal(t, planning.NewDate(2024, time.July, 5), app.DateReceived)
	require.Equal(t, "Granted", app.Status)
	require.Equal(t, "Installation of solar panels", app.Desc)
}

func TestParseDisabledNextLinkEndsPaging(t *testing.T) {
	t.Parallel()

	page, err := New().ParseResponse(portsmouth, fixture(t, "results_next_disabled.html"))
	require.NoError(t, err)
	require.Nil(t, page.Next)
	require.Len(t, page.Applications, 1)
	require.Equal(t, "24/00161/HOU", page.Applications[0].ID)
}

func TestParseNoResults(t *testing.T) {
	t.Parallel()

	page, err := New().ParseResponse(portsmouth, fixture(t, "no_results.html"))
	require.NoError(t, err)
	require.True(t, page.NoResults)
	require.Empty(t, page.Applications)
	require.Nil(t, page.Next)
}

func TestParseSingleResultDetails(t *testing.T) {
	t.Parallel()

	page, err := New().ParseResponse(portsmouth, fixture(t, "single_result.html"))
	require.NoError(t, err)
	require.Len(t, page.Applications, 1)
	app := page.Applications[0]
	require.Equal(t, "24/00150/FUL", app.ID)
	require.Equal(t, "PO1 3PT", app.Postcode)
	require.Equal(t, "Replacement shopfront", app.Desc)
	require.Contains(t, app.Link, "keyVal=SF1400")
}

func TestParseMalformed(t *testing.T) {
	t.Parallel()

	_, err := New().ParseResponse(portsmouth, []byte("<html><body><h1>Service unavailable</h1></body></html>"))
	var parseErr *planning.ParseError
	require.ErrorAs(t, err, &parseErr)
	require.False(t, planning.IsRetryable(err))

	_, err = New().ParseResponse(portsmouth,
		[]byte(`<div class="messagebox">Too many results found. Please refine your search.</div>`))
	require.ErrorAs(t, err, &parseErr)
}

func TestMetaField(t *testing.T) {
	t.Parallel()

	meta := "Ref. No: 24/1 | Received: Mon 01 Jul 2024 | Status: Pending"
	require.Equal(t, "24/1", metaField(meta, "Ref. No"))
	require.Equal(t, "Mon 01 Jul 2024", metaField(meta, "Received"))
	require.Equal(t, "Pending", metaField(meta, "Status"))
	require.Empty(t, metaField(meta, "Decision"))
}
