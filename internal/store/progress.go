// internal/store/progress.go
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

const saveCursorSQL = `
INSERT INTO crawl_progress (id, cursor, last_run)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET
    cursor   = EXCLUDED.cursor,
    last_run = EXCLUDED.last_run`

// LoadCursor returns the stream's saved continuation token. A stream that has
// never run, or finished its result set, yields a nil cursor meaning "start
// from the beginning".
func (s *Store) LoadCursor(ctx context.Context, streamID string) (*string, error) {
	var cursor *string
	err := s.pool.QueryRow(ctx,
		`SELECT cursor FROM crawl_progress WHERE id = $1`, streamID).Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("load cursor", err)
	}
	return cursor, nil
}

// SaveCursor overwrites the stream's resume point. PersistPage already saves
// the cursor with each page; this standalone form exists for runs that end
// without writing a page.
func (s *Store) SaveCursor(ctx context.Context, streamID string, cursor *string, runTime time.Time) error {
	_, err := s.pool.Exec(ctx, saveCursorSQL, streamID, cursor, runTime)
	return wrapErr("save cursor", err)
}
