// Package ledger layers write ordering over a store.Repo: writes for the
// same (subject, value) serialize, writes for different keys commit in
// parallel, and commit hooks run in sequence order.
package ledger

import (
	"context"
	"fmt"
	"hash/maphash"
	"log/slog"
	"sync"
	"time"

	"github.com/AgentMesh-Net/labeler-go/internal/core/label"
	"github.com/AgentMesh-Net/labeler-go/internal/store"
)

const stripes = 64

// Entry is one assertion to persist.
type Entry struct {
	Label  label.Label
	Pinned bool
}

// Query selects active rows for one subject pattern.
type Query struct {
	Subject string
	Prefix  bool
	Cursor  int64
	Limit   int
}

// Page is a query result, newest first. MaxSeq is 0 when Rows is empty.
type Page struct {
	Rows   []store.LabelRow
	MaxSeq int64
}

// Ledger is safe for concurrent use.
type Ledger struct {
	repo   store.Repo
	seed   maphash.Seed
	keys   [stripes]sync.Mutex
	seqr   *sequencer
	logger *slog.Logger
}

func New(repo store.Repo, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, seed: maphash.MakeSeed(), seqr: newSequencer(), logger: logger}
}

func (l *Ledger) keyLock(subject, value string) *sync.Mutex {
	var h maphash.Hash
	h.SetSeed(l.seed)
	h.WriteString(subject)
	h.WriteByte(0)
	h.WriteString(value)
	return &l.keys[h.Sum64()%stripes]
}

// Write replaces any row for the entry's (subject, value) and returns the
// new sequence. emit, when non-nil, is called with that sequence after
// the hooks of every earlier sequence; Write returns once it has run.
func (l *Ledger) Write(ctx context.Context, e Entry, emit func(seq int64)) (int64, error) {
	if err := e.Label.Validate(); err != nil {
		return 0, err
	}
	cts, err := label.ParseTime(e.Label.Cts)
	if err != nil {
		return 0, fmt.Errorf("%w: cts: %v", label.ErrValidation, err)
	}
	row := &store.LabelRow{
		URI:    e.Label.URI,
		Val:    e.Label.Val,
		Cts:    cts,
		Neg:    e.Label.Neg,
		Src:    e.Label.Src,
		Sig:    e.Label.Sig,
		Pinned: e.Pinned,
	}

	km := l.keyLock(row.URI, row.Val)
	km.Lock()
	t, err := l.seqr.take(ctx, l.repo.MaxSeq)
	if err != nil {
		km.Unlock()
		return 0, err
	}
	row.Seq = t.seq
	seq, err := l.repo.Supersede(ctx, row)
	if err != nil {
		l.seqr.finish(t, nil)
		km.Unlock()
		return 0, err
	}
	l.seqr.finish(t, emit)
	km.Unlock()
	<-t.done
	return seq, nil
}

// SoftDelete marks the subject's active rows deleted. Idempotent.
func (l *Ledger) SoftDelete(ctx context.Context, subject string, at time.Time) (int64, error) {
	return l.repo.SoftDelete(ctx, subject, at)
}

func (l *Ledger) Query(ctx context.Context, q Query) (Page, error) {
	rows, err := l.repo.QueryActive(ctx, store.LabelQuery{
		URI:    q.Subject,
		Prefix: q.Prefix,
		After:  q.Cursor,
		Limit:  q.Limit,
	})
	if err != nil {
		return Page{}, err
	}
	p := Page{Rows: rows}
	for _, r := range rows {
		if r.Seq > p.MaxSeq {
			p.MaxSeq = r.Seq
		}
	}
	return p, nil
}

func (l *Ledger) ListActiveSubjects(ctx context.Context) ([]string, error) {
	return l.repo.ActiveSubjects(ctx)
}

// ListAllSubjects includes subjects whose rows are all soft-deleted.
func (l *Ledger) ListAllSubjects(ctx context.Context) ([]string, error) {
	return l.repo.AllSubjects(ctx)
}

// ScanSubject returns every row for subject, deleted ones included.
func (l *Ledger) ScanSubject(ctx context.Context, subject string) ([]store.LabelRow, error) {
	return l.repo.ScanSubject(ctx, subject)
}

// ActivePinned returns the subject's active pinned positive row, if any.
func (l *Ledger) ActivePinned(ctx context.Context, subject string) (store.LabelRow, bool, error) {
	rows, err := l.repo.ScanSubject(ctx, subject)
	if err != nil {
		return store.LabelRow{}, false, err
	}
	var found store.LabelRow
	ok := false
	for _, r := range rows {
		if r.Pinned && !r.Neg && !r.Deleted && (!ok || r.Seq > found.Seq) {
			found, ok = r, true
		}
	}
	return found, ok, nil
}

// RowLabel rebuilds the wire label from a stored row.
func RowLabel(r store.LabelRow) label.Label {
	return label.Label{
		Ver: label.Version,
		Src: r.Src,
		URI: r.URI,
		Val: r.Val,
		Neg: r.Neg,
		Cts: label.FormatTime(r.Cts),
		Sig: r.Sig,
	}
}
