package store

import (
	"context"
	"strings"
	"time"
)

// DefaultQueryLimit is used when a LabelQuery carries no limit.
const DefaultQueryLimit = 50

// LabelQuery selects active rows for one subject pattern.
type LabelQuery struct {
	// URI is matched exactly, or as a prefix when Prefix is set.
	URI    string
	Prefix bool
	// After excludes rows with seq <= After.
	After int64
	Limit int
}

func (q LabelQuery) limit() int {
	if q.Limit <= 0 {
		return DefaultQueryLimit
	}
	return q.Limit
}

// Repo defines the storage interface for label rows.
type Repo interface {
	// Supersede removes any row for (row.URI, row.Val), active or deleted,
	// and inserts row in the same transaction. A positive row.Seq is stored
	// as given; otherwise the store assigns one. Returns the row's seq.
	Supersede(ctx context.Context, row *LabelRow) (int64, error)

	// MaxSeq returns the highest stored seq, or 0 for an empty table.
	MaxSeq(ctx context.Context) (int64, error)

	// SoftDelete marks every active row for uri deleted and sets cts to at.
	// Returns the number of rows changed.
	SoftDelete(ctx context.Context, uri string, at time.Time) (int64, error)

	// QueryActive returns non-deleted rows matching q, ordered by seq DESC.
	QueryActive(ctx context.Context, q LabelQuery) ([]LabelRow, error)

	// ActiveSubjects lists distinct uris with at least one non-deleted row.
	ActiveSubjects(ctx context.Context) ([]string, error)

	// AllSubjects lists every distinct uri, including fully deleted ones.
	AllSubjects(ctx context.Context) ([]string, error)

	// ScanSubject returns every row for uri including deleted ones,
	// ordered by seq ASC.
	ScanSubject(ctx context.Context, uri string) ([]LabelRow, error)

	Close()
}

// likePrefix escapes LIKE metacharacters in s and appends a wildcard.
func likePrefix(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s) + "%"
}
