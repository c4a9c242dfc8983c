package planning

import (
	"sort"
	"time"
)

// RunStatus is the outcome of one council within a run.
type RunStatus string

// Run statuses recorded in metadata.
const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
	RunSkipped RunStatus = "skipped"
)

// ScrapeMetadata is the persisted per-council watermark.
type ScrapeMetadata struct {
	LastScrapedDate  *Date     `json:"last_scraped_date,omitempty"`
	LastRunTimestamp time.Time `json:"last_run_timestamp"`
	LastStatus       RunStatus `json:"last_status"`
	LastError        string    `json:"last_error,omitempty"`
	LastCount        int       `json:"last_count"`
	TotalScraped     int       `json:"total_scraped"`
}

// Metadata holds scrape metadata for every council keyed by council id.
type Metadata map[string]ScrapeMetadata

// Watermark returns the council's last fully scraped date.
func (m Metadata) Watermark(councilID string) (Date, bool) {
	entry, ok := m[councilID]
	if !ok || entry.LastScrapedDate == nil || entry.LastScrapedDate.IsZero() {
		return Date{}, false
	}
	return *entry.LastScrapedDate, true
}

// Clone returns an independent copy.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		if v.LastScrapedDate != nil {
			d := *v.LastScrapedDate
			v.LastScrapedDate = &d
		}
		out[k] = v
	}
	return out
}

// CouncilIDs returns the council ids in sorted order.
func (m Metadata) CouncilIDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Outcome is what a council's run contributes to its metadata entry.
type Outcome struct {
	Status     RunStatus
	Err        error
	Fetched    int
	NewestDate Date
	RunAt      time.Time
}

// Apply folds an outcome into the council's metadata entry. The watermark is
// only advanced on full success, never moves backwards, and never passes the
// run date.
func (m Metadata) Apply(councilID string, out Outcome) {
	entry := m[councilID]
	entry.LastRunTimestamp = out.RunAt.UTC()
	entry.LastStatus = out.Status
	entry.LastError = ""
	if out.Err != nil {
		entry.LastError = out.Err.Error()
	}
	entry.LastCount = out.Fetched
	entry.TotalScraped += out.Fetched

	if out.Status == RunSuccess {
		next := out.NewestDate
		if today := DateOf(out.RunAt); next.After(today) {
			next = today
		}
		if entry.LastScrapedDate == nil || next.After(*entry.LastScrapedDate) {
			if !next.IsZero() {
				entry.LastScrapedDate = &next
			}
		}
	}
	m[councilID] = entry
}
