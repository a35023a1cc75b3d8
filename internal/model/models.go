// internal/model/models.go
package model

import (
	"encoding/json"
	"time"
)

// RepoRecord is the current snapshot of a repository as reported by the
// upstream search API. ID is the upstream-assigned node ID and never changes;
// FullName is derived as owner/name and is unique across all records.
type RepoRecord struct {
	ID                string
	Owner             string
	Name              string
	FullName          string
	URL               string
	Description       *string
	Language          *string
	DefaultBranch     *string
	UpstreamUpdatedAt time.Time
	FirstSeenAt       time.Time
	LastSeenAt        time.Time
}

// StarObservation is one point in a repository's star-count time series.
// Rows are append-only and identified by (RepoID, ObservedAt).
type StarObservation struct {
	RepoID     string
	ObservedAt time.Time
	Stars      int
}

// RepoMeta holds a free-form metadata payload for a repository, replaced
// wholesale on every update. The payload's shape is opaque to the pipeline.
type RepoMeta struct {
	RepoID    string
	Payload   json.RawMessage
	UpdatedAt time.Time
}

// CrawlCursor is the durable resume point for one named crawl stream.
// A nil Cursor means the stream starts from the beginning of its result set.
type CrawlCursor struct {
	StreamID string
	Cursor   *string
	LastRun  time.Time
}

// SearchRecord is one raw entry from a search results page: the repository
// snapshot, its star count at fetch time, and the raw node for meta storage.
type SearchRecord struct {
	Repo  RepoRecord
	Stars int
	Meta  json.RawMessage
}

// Page is a single page of search results plus the position to resume from.
type Page struct {
	Records    []SearchRecord
	NextCursor *string
	HasMore    bool
}
