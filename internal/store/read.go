// internal/store/read.go
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/saadkhi/crawl-pipeline/internal/model"
)

// ErrNotFound is returned by lookups for repositories that were never crawled.
var ErrNotFound = errors.New("repository not found")

// ExportRow is one line of the flat star-history export.
type ExportRow struct {
	FullName   string
	ObservedAt string
	Stars      int
}

const repoColumns = `
    id, owner, name, full_name, url, description,
    language, default_branch, updated_at, first_seen_at, last_seen_at`

func scanRepo(row pgx.Row) (model.RepoRecord, error) {
	var r model.RepoRecord
	err := row.Scan(&r.ID, &r.Owner, &r.Name, &r.FullName, &r.URL, &r.Description,
		&r.Language, &r.DefaultBranch, &r.UpstreamUpdatedAt, &r.FirstSeenAt, &r.LastSeenAt)
	return r, err
}

// GetRepoByFullName looks up one repository snapshot by its owner/name key.
func (s *Store) GetRepoByFullName(ctx context.Context, fullName string) (model.RepoRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+repoColumns+` FROM repos WHERE full_name = $1`, fullName)
	r, err := scanRepo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RepoRecord{}, ErrNotFound
	}
	if err != nil {
		return model.RepoRecord{}, wrapErr("get repo", err)
	}
	return r, nil
}

// ListRepos returns all repository snapshots, most-starred first as of the
// latest observation.
func (s *Store) ListRepos(ctx context.Context, limit int) ([]model.RepoRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+repoColumns+`
		FROM repos
		ORDER BY last_seen_at DESC, full_name
		LIMIT $1`, limit)
	if err != nil {
		return nil, wrapErr("list repos", err)
	}
	defer rows.Close()

	var repos []model.RepoRecord
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, wrapErr("list repos", err)
		}
		repos = append(repos, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list repos", err)
	}
	return repos, nil
}

// StarHistory returns a repository's observations, newest first.
func (s *Store) StarHistory(ctx context.Context, repoID string) ([]model.StarObservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT repo_id, observed_at, stargazers
		FROM repo_stars
		WHERE repo_id = $1
		ORDER BY observed_at DESC`, repoID)
	if err != nil {
		return nil, wrapErr("star history", err)
	}
	defer rows.Close()

	var obs []model.StarObservation
	for rows.Next() {
		var o model.StarObservation
		if err := rows.Scan(&o.RepoID, &o.ObservedAt, &o.Stars); err != nil {
			return nil, wrapErr("star history", err)
		}
		obs = append(obs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("star history", err)
	}
	return obs, nil
}

// ExportRows streams the full observation history joined with repository
// names, newest first, in the shape the CSV export writes.
func (s *Store) ExportRows(ctx context.Context) ([]ExportRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.full_name, to_char(s.observed_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"'), s.stargazers
		FROM repo_stars s
		JOIN repos r ON r.id = s.repo_id
		ORDER BY s.observed_at DESC, r.full_name`)
	if err != nil {
		return nil, wrapErr("export", err)
	}
	defer rows.Close()

	var out []ExportRow
	for rows.Next() {
		var row ExportRow
		if err := rows.Scan(&row.FullName, &row.ObservedAt, &row.Stars); err != nil {
			return nil, wrapErr("export", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("export", err)
	}
	return out, nil
}
