package planning

import (
	"sort"
	"time"
)

// Stage is how far a council got through a run.
type Stage string

// Stages in the order a council passes through them.
const (
	StageIdle           Stage = "idle"
	StageFetching       Stage = "fetching"
	StageParsing        Stage = "parsing"
	StageGeocoding      Stage = "geocoding"
	StageMerging        Stage = "merging"
	StageMetadataUpdate Stage = "metadata_update"
	StageDone           Stage = "done"
)

// CouncilSummary reports one council's part of a run.
type CouncilSummary struct {
	Council       string    `json:"council"`
	Portal        string    `json:"portal"`
	Status        RunStatus `json:"status"`
	Stage         Stage     `json:"stage"`
	Error         string    `json:"error,omitempty"`
	WindowFrom    Date      `json:"window_from"`
	WindowTo      Date      `json:"window_to"`
	Pages         int       `json:"pages"`
	FailedPages   int       `json:"failed_pages"`
	Fetched       int       `json:"fetched"`
	Rejected      int       `json:"rejected"`
	New           int       `json:"new"`
	Updated       int       `json:"updated"`
	Unchanged     int       `json:"unchanged"`
	Unplaceable   int       `json:"unplaceable"`
	ShardsWritten int       `json:"shards_written"`
	Geocoded      int       `json:"geocoded"`
	Unresolvable  int       `json:"unresolvable"`
	GeocodeFailed int       `json:"geocode_failed"`
	DurationMS    int64     `json:"duration_ms"`
}

// RunSummary is written to data/_summary.json at the end of every run.
type RunSummary struct {
	RunID      string           `json:"run_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Status     RunStatus        `json:"status"`
	Councils   []CouncilSummary `json:"councils"`
}

// Finalize sorts councils by id and derives the overall status: success when
// every council that ran succeeded, failed when none got anything persisted,
// partial otherwise. A run where every council was skipped is failed.
func (s *RunSummary) Finalize() {
	sort.Slice(s.Councils, func(i, j int) bool {
		return s.Councils[i].Council < s.Councils[j].Council
	})

	var ran, ok, failed int
	for _, c := range s.Councils {
		switch c.Status {
		case RunSkipped:
			continue
		case RunSuccess:
			ok++
		case RunFailed:
			failed++
		}
		ran++
	}
	switch {
	case ran == 0 || failed == ran:
		s.Status = RunFailed
	case ok == ran && ran == len(s.Councils):
		s.Status = RunSuccess
	default:
		s.Status = RunPartial
	}
}

// Totals sums the per-council counters.
func (s RunSummary) Totals() CouncilSummary {
	var t CouncilSummary
	for _, c := range s.Councils {
		t.Pages += c.Pages
		t.FailedPages += c.FailedPages
		t.Fetched += c.Fetched
		t.Rejected += c.Rejected
		t.New += c.New
		t.Updated += c.Updated
		t.Unchanged += c.Unchanged
		t.Unplaceable += c.Unplaceable
		t.ShardsWritten += c.ShardsWritten
		t.Geocoded += c.Geocoded
		t.Unresolvable += c.Unresolvable
		t.GeocodeFailed += c.GeocodeFailed
	}
	return t
}
