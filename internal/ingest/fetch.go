package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seractech/planwatch/internal/metrics"
	"github.com/seractech/planwatch/internal/planning"
	"github.com/seractech/planwatch/internal/portal"
)

const (
	// maxPreflights stops a portal that keeps answering with search forms.
	maxPreflights = 3
	// maxConsecutiveDrops stops skipping past failed pages on a portal that
	// is plainly down.
	maxConsecutiveDrops = 3
)

type fetchResult struct {
	apps        []planning.Application
	pages       int
	failedPages int
	rejected    int
	// err is the error that dropped the last failed page.
	err error
	// notFound is set when the very first search answered 404 or 410.
	notFound bool
	// interrupted is set when the deadline or shutdown stopped pagination
	// with more pages to go.
	interrupted bool
	// truncated is set when max_pages stopped pagination with a next page
	// still pending.
	truncated bool
}

// fetchCouncil pages through a council's search results. Pages are fetched
// one after another; each goes through the limiter with retries. A page
// that cannot be fetched or parsed is dropped. Families implementing
// portal.Skipper carry on with the page after it; for the rest pagination
// ends there, because the cursor for the next page lived in the lost
// response.
func (o *Orchestrator) fetchCouncil(
	ctx context.Context,
	logger *zap.Logger,
	scraper portal.Scraper,
	task planning.CouncilTask,
	deadline time.Time,
	sum *planning.CouncilSummary,
) fetchResult {
	council := task.Council
	key := council.LimiterKey()
	maxPages := o.cfg.MaxPages
	if council.MaxPages > 0 {
		maxPages = council.MaxPages
	}

	var (
		res        fetchResult
		cursor     *portal.Cursor
		requests   int
		preflights int
		drops      int
	)
	for {
		if requests > 0 && o.pastDeadline(deadline) {
			res.interrupted = true
			logger.Warn("deadline reached, stopping pagination", zap.Int("pages", res.pages))
			return res
		}
		if ctx.Err() != nil {
			res.interrupted = true
			return res
		}
		if res.pages+res.failedPages >= maxPages {
			res.truncated = true
			logger.Warn("max pages reached", zap.Int("max_pages", maxPages))
			return res
		}

		sum.Stage = planning.StageFetching
		req, err := scraper.BuildSearchRequest(council, task.Window, cursor)
		if err != nil {
			res.fail(council.ID, fmt.Errorf("build request: %w", err))
			return res
		}

		var page portal.Page
		requests++
		pageNum := res.pages + res.failedPages + 1
		err = o.deps.Limiter.ExecuteWithRetry(ctx, key, o.cfg.Retry, func(ctx context.Context) error {
			resp, err := o.deps.Fetcher.Fetch(ctx, req)
			if err != nil {
				return err
			}
			sum.Stage = planning.StageParsing
			page, err = scraper.ParseResponse(council, resp.Body)
			return err
		})
		if err != nil {
			var statusErr *planning.StatusError
			switch {
			case errors.As(err, &statusErr) && statusErr.NotFound() && res.pages == 0 && cursor == nil:
				logger.Info("search not found, treating as no results", zap.Int("code", statusErr.Code))
				res.notFound = true
				return res
			case ctx.Err() != nil:
				res.interrupted = true
				return res
			}
			var parseErr *planning.ParseError
			if errors.As(err, &parseErr) && parseErr.Page == 0 {
				parseErr.Page = pageNum
			}
			logger.Warn("page dropped", zap.Int("page", pageNum), zap.Error(err))
			res.fail(council.ID, fmt.Errorf("page %d: %w", pageNum, err))
			skipper, ok := scraper.(portal.Skipper)
			if !ok {
				return res
			}
			drops++
			if drops >= maxConsecutiveDrops {
				logger.Warn("too many consecutive dropped pages", zap.Int("dropped", drops))
				return res
			}
			if cursor = skipper.Skip(cursor); cursor == nil {
				return res
			}
			continue
		}
		drops = 0

		if page.Preflight {
			preflights++
			if preflights > maxPreflights || page.Next == nil {
				res.fail(council.ID, planning.NewParseError(pageNum, "portal kept returning the search form"))
				return res
			}
			cursor = page.Next
			continue
		}

		if page.NoResults {
			metrics.ObservePage(council.ID, "empty")
			return res
		}

		res.pages++
		res.apps = append(res.apps, page.Applications...)
		res.rejected += page.Rejected
		metrics.ObservePage(council.ID, "ok")
		logger.Debug("page parsed",
			zap.Int("page", res.pages),
			zap.Int("records", len(page.Applications)),
			zap.Int("rejected", page.Rejected),
		)

		if page.Next == nil {
			return res
		}
		cursor = page.Next
	}
}

func (r *fetchResult) fail(councilID string, err error) {
	r.failedPages++
	r.err = err
	metrics.ObservePage(councilID, "failed")
}
