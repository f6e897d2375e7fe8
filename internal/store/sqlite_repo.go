package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/AgentMesh-Net/labeler-go/internal/core/label"
)

// SQLiteRepo implements Repo on a single SQLite database file.
type SQLiteRepo struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the embedded sqlite migrations. ":memory:" gives a private in-memory
// database, which is what the tests use.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite has a single writer, and an in-memory
	// database only exists on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", pragma, err)
		}
	}
	files, err := migrationFiles("sqlite")
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, q := range files {
		if _, err := db.ExecContext(ctx, q); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec migration: %w", err)
		}
	}
	return &SQLiteRepo{db: db}, nil
}

const sqliteLabelColumns = `seq, uri, val, cts, neg, src, sig, is_fixed, is_deleted`

func (r *SQLiteRepo) Supersede(ctx context.Context, row *LabelRow) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", ErrStorage, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM labels WHERE uri = ? AND val = ?`, row.URI, row.Val); err != nil {
		return 0, fmt.Errorf("%w: delete superseded: %v", ErrStorage, err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO labels (seq, uri, val, cts, neg, src, sig, is_fixed, is_deleted) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		sql.NullInt64{Int64: row.Seq, Valid: row.Seq > 0}, row.URI, row.Val, label.FormatTime(row.Cts), boolInt(row.Neg), row.Src, row.Sig, boolInt(row.Pinned),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert: %v", ErrStorage, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: last insert id: %v", ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", ErrStorage, err)
	}
	row.Seq = seq
	row.Deleted = false
	return seq, nil
}

func (r *SQLiteRepo) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM labels`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("%w: max seq: %v", ErrStorage, err)
	}
	return seq, nil
}

func (r *SQLiteRepo) SoftDelete(ctx context.Context, uri string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE labels SET is_deleted = 1, cts = ? WHERE uri = ? AND is_deleted = 0`,
		label.FormatTime(at), uri,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: soft delete: %v", ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", ErrStorage, err)
	}
	return n, nil
}

func (r *SQLiteRepo) QueryActive(ctx context.Context, q LabelQuery) ([]LabelRow, error) {
	var rows *sql.Rows
	var err error
	if q.Prefix {
		rows, err = r.db.QueryContext(ctx, `SELECT `+sqliteLabelColumns+` FROM labels
WHERE uri LIKE ? ESCAPE '\' AND is_deleted = 0 AND seq > ?
ORDER BY seq DESC
LIMIT ?`, likePrefix(q.URI), q.After, q.limit())
	} else {
		rows, err = r.db.QueryContext(ctx, `SELECT `+sqliteLabelColumns+` FROM labels
WHERE uri = ? AND is_deleted = 0 AND seq > ?
ORDER BY seq DESC
LIMIT ?`, q.URI, q.After, q.limit())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrStorage, err)
	}
	return collectSQLRows(rows)
}

func (r *SQLiteRepo) ActiveSubjects(ctx context.Context) ([]string, error) {
	return r.distinctURIs(ctx, `SELECT DISTINCT uri FROM labels WHERE is_deleted = 0 ORDER BY uri`)
}

func (r *SQLiteRepo) AllSubjects(ctx context.Context) ([]string, error) {
	return r.distinctURIs(ctx, `SELECT DISTINCT uri FROM labels ORDER BY uri`)
}

func (r *SQLiteRepo) ScanSubject(ctx context.Context, uri string) ([]LabelRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sqliteLabelColumns+` FROM labels WHERE uri = ? ORDER BY seq ASC`, uri)
	if err != nil {
		return nil, fmt.Errorf("%w: scan subject: %v", ErrStorage, err)
	}
	return collectSQLRows(rows)
}

func (r *SQLiteRepo) Close() { r.db.Close() }

func (r *SQLiteRepo) distinctURIs(ctx context.Context, q string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: list subjects: %v", ErrStorage, err)
	}
	defer rows.Close()
	var uris []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrStorage, err)
		}
		uris = append(uris, uri)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", ErrStorage, err)
	}
	return uris, nil
}

func collectSQLRows(rows *sql.Rows) ([]LabelRow, error) {
	defer rows.Close()
	var out []LabelRow
	for rows.Next() {
		var (
			l                    LabelRow
			cts                  string
			neg, pinned, deleted int64
		)
		if err := rows.Scan(&l.Seq, &l.URI, &l.Val, &cts, &neg, &l.Src, &l.Sig, &pinned, &deleted); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrStorage, err)
		}
		t, err := label.ParseTime(cts)
		if err != nil {
			return nil, fmt.Errorf("%w: parse cts %q: %v", ErrStorage, cts, err)
		}
		l.Cts = t
		l.Neg = neg != 0
		l.Pinned = pinned != 0
		l.Deleted = deleted != 0
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", ErrStorage, err)
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
