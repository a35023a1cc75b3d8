// internal/store/store.go
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saadkhi/crawl-pipeline/internal/model"
)

// Store persists crawl results. All writes for one page of results commit in
// a single transaction together with the advanced cursor, so an interrupted
// run can resume with at most one page of duplicate fetching.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

const upsertRepoSQL = `
INSERT INTO repos (
    id, owner, name, full_name, url, description,
    language, default_branch, updated_at, first_seen_at, last_seen_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT (id) DO UPDATE SET
    owner          = EXCLUDED.owner,
    name           = EXCLUDED.name,
    full_name      = EXCLUDED.full_name,
    url            = EXCLUDED.url,
    description    = EXCLUDED.description,
    language       = EXCLUDED.language,
    default_branch = EXCLUDED.default_branch,
    updated_at     = EXCLUDED.updated_at,
    last_seen_at   = EXCLUDED.last_seen_at`

const insertStarSQL = `
INSERT INTO repo_stars (repo_id, observed_at, stargazers)
VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING`

const upsertMetaSQL = `
INSERT INTO repo_meta (repo_id, payload, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (repo_id) DO UPDATE SET
    payload    = EXCLUDED.payload,
    updated_at = EXCLUDED.updated_at`

// PersistPage writes one page of search results and saves nextCursor as the
// stream's resume point, all in one transaction. The repo row is written
// before its observation so the foreign key always holds. It returns the
// number of new star observations; re-persisting a page returns zero without
// erroring.
func (s *Store) PersistPage(ctx context.Context, streamID string, page *model.Page, observedAt time.Time) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, wrapErr("begin", err)
	}
	defer tx.Rollback(ctx) // no-op once committed

	batch := &pgx.Batch{}
	starStmts := make(map[int]bool)
	for _, rec := range page.Records {
		r := rec.Repo
		batch.Queue(upsertRepoSQL,
			r.ID, r.Owner, r.Name, r.FullName, r.URL, r.Description,
			r.Language, r.DefaultBranch, r.UpstreamUpdatedAt, observedAt)
		starStmts[batch.Len()] = true
		batch.Queue(insertStarSQL, r.ID, observedAt, rec.Stars)
		if rec.Meta != nil {
			batch.Queue(upsertMetaSQL, r.ID, rec.Meta, observedAt)
		}
	}
	batch.Queue(saveCursorSQL, streamID, page.NextCursor, observedAt)

	observations := 0
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, wrapErr("persist page", err)
		}
		// A star insert reports zero affected rows when that observation
		// already exists.
		if starStmts[i] && tag.RowsAffected() > 0 {
			observations++
		}
	}
	if err := br.Close(); err != nil {
		return 0, wrapErr("persist page", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, wrapErr("commit", err)
	}

	s.logger.Debug("Persisted page",
		"stream", streamID, "records", len(page.Records), "new_observations", observations)
	return observations, nil
}
