package store

import (
	"context"

	"github.com/seractech/planwatch/internal/planning"
)

// RunRecorder keeps a history of run summaries outside the blob store, for
// dashboards that query past runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, summary planning.RunSummary) error
}
