// internal/crawler/crawler.go
package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saadkhi/crawl-pipeline/internal/model"
)

// PageStore is the slice of the persistence layer a crawl run needs.
type PageStore interface {
	LoadCursor(ctx context.Context, streamID string) (*string, error)
	PersistPage(ctx context.Context, streamID string, page *model.Page, observedAt time.Time) (int, error)
	SaveCursor(ctx context.Context, streamID string, cursor *string, runTime time.Time) error
}

// PageFetcher fetches one page of search results, retrying internally.
type PageFetcher interface {
	FetchPage(ctx context.Context, query string, cursor *string, pageSize int) (*model.Page, error)
}

// MetaFetcher retrieves the full metadata payload for one repository.
type MetaFetcher interface {
	FetchMeta(ctx context.Context, owner, name string) (json.RawMessage, error)
}

// Stream is one independently-progressing crawl target: a named search query
// with its own durable cursor. StartCursor, when set, overrides the saved
// resume point for this run.
type Stream struct {
	ID          string
	Query       string
	StartCursor *string
}

// Report summarizes one bounded run.
type Report struct {
	Pages   int
	Records int
	Written int
}

// Crawler drives bounded crawl runs: load cursor, fetch and persist up to
// maxPages pages, advancing the cursor with each persisted page.
type Crawler struct {
	store   PageStore
	fetcher PageFetcher
	meta    MetaFetcher // nil disables metadata enrichment
	logger  *slog.Logger

	pageSize    int
	concurrency int
	clock       func() time.Time
}

func New(store PageStore, fetcher PageFetcher, meta MetaFetcher, pageSize, concurrency int, logger *slog.Logger) *Crawler {
	return &Crawler{
		store:       store,
		fetcher:     fetcher,
		meta:        meta,
		logger:      logger,
		pageSize:    pageSize,
		concurrency: concurrency,
		clock:       time.Now,
	}
}

// Run crawls one stream for up to maxPages pages. A failure aborts the
// remaining pages of this run but leaves the cursor at the last fully
// persisted page, so the next invocation resumes there. The returned Report
// covers whatever completed before the error.
func (c *Crawler) Run(ctx context.Context, stream Stream, maxPages int) (Report, error) {
	logger := c.logger.With("stream", stream.ID)
	observedAt := c.clock().UTC().Truncate(time.Second)

	cursor := stream.StartCursor
	if cursor == nil {
		saved, err := c.store.LoadCursor(ctx, stream.ID)
		if err != nil {
			return Report{}, err
		}
		cursor = saved
	}
	logger.Info("Starting crawl run", "max_pages", maxPages, "resuming", cursor != nil)

	var report Report
	for report.Pages < maxPages {
		page, err := c.fetcher.FetchPage(ctx, stream.Query, cursor, c.pageSize)
		if err != nil {
			return report, err
		}

		if c.meta != nil {
			c.enrich(ctx, page)
		}

		written, err := c.store.PersistPage(ctx, stream.ID, page, observedAt)
		if err != nil {
			return report, err
		}

		cursor = page.NextCursor
		report.Pages++
		report.Records += len(page.Records)
		report.Written += written
		logger.Info("Persisted page",
			"page", report.Pages, "records", len(page.Records), "new_observations", written)

		if !page.HasMore {
			break
		}
	}

	logger.Info("Crawl run finished",
		"pages", report.Pages, "records", report.Records, "new_observations", report.Written)
	return report, nil
}

// RunAll crawls every stream, at most c.concurrency at a time. Streams fail
// independently; the combined error reports each failed stream.
func (c *Crawler) RunAll(ctx context.Context, streams []Stream, maxPages int) (Report, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	reports := make([]Report, len(streams))
	errs := make([]error, len(streams))
	for i, stream := range streams {
		i, stream := i, stream
		g.Go(func() error {
			report, err := c.Run(gctx, stream, maxPages)
			reports[i] = report
			if err != nil {
				c.logger.Error("Stream crawl failed", "stream", stream.ID, "error", err)
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	var total Report
	for _, r := range reports {
		total.Pages += r.Pages
		total.Records += r.Records
		total.Written += r.Written
	}
	return total, errors.Join(errs...)
}

// enrich attaches full metadata payloads to a page's records. Enrichment is
// best-effort: a failed lookup logs and leaves that record without meta.
func (c *Crawler) enrich(ctx context.Context, page *model.Page) {
	for i := range page.Records {
		rec := &page.Records[i]
		payload, err := c.meta.FetchMeta(ctx, rec.Repo.Owner, rec.Repo.Name)
		if err != nil {
			c.logger.Warn("Metadata enrichment failed",
				"repo", rec.Repo.FullName, "error", err)
			continue
		}
		rec.Meta = payload
	}
}
