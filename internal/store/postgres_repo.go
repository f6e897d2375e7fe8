package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepo implements Repo using PostgreSQL.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresRepo creates a new PostgresRepo.
func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}

const pgLabelColumns = `seq, uri, val, cts, neg, src, sig, is_fixed, is_deleted`

func (r *PostgresRepo) Supersede(ctx context.Context, row *LabelRow) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM labels WHERE uri = $1 AND val = $2`, row.URI, row.Val); err != nil {
		return 0, fmt.Errorf("%w: delete superseded: %v", ErrStorage, err)
	}

	// An explicit seq comes from the ledger's sequencer; zero lets the
	// identity column assign one.
	const q = `INSERT INTO labels (seq, uri, val, cts, neg, src, sig, is_fixed, is_deleted)
VALUES (COALESCE($1, nextval(pg_get_serial_sequence('labels', 'seq'))), $2, $3, $4, $5, $6, $7, $8, FALSE)
RETURNING seq`
	var explicit *int64
	if row.Seq > 0 {
		explicit = &row.Seq
	}
	var seq int64
	err = tx.QueryRow(ctx, q,
		explicit, row.URI, row.Val, row.Cts.UTC(), row.Neg, row.Src, row.Sig, row.Pinned,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("%w: insert: %v", ErrStorage, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", ErrStorage, err)
	}
	row.Seq = seq
	row.Deleted = false
	return seq, nil
}

func (r *PostgresRepo) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM labels`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("%w: max seq: %v", ErrStorage, err)
	}
	return seq, nil
}

func (r *PostgresRepo) SoftDelete(ctx context.Context, uri string, at time.Time) (int64, error) {
	const q = `UPDATE labels SET is_deleted = TRUE, cts = $2 WHERE uri = $1 AND NOT is_deleted`
	tag, err := r.pool.Exec(ctx, q, uri, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: soft delete: %v", ErrStorage, err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepo) QueryActive(ctx context.Context, q LabelQuery) ([]LabelRow, error) {
	var rows pgx.Rows
	var err error
	if q.Prefix {
		const sql = `SELECT ` + pgLabelColumns + ` FROM labels
WHERE uri LIKE $1 ESCAPE '\' AND NOT is_deleted AND seq > $2
ORDER BY seq DESC
LIMIT $3`
		rows, err = r.pool.Query(ctx, sql, likePrefix(q.URI), q.After, q.limit())
	} else {
		const sql = `SELECT ` + pgLabelColumns + ` FROM labels
WHERE uri = $1 AND NOT is_deleted AND seq > $2
ORDER BY seq DESC
LIMIT $3`
		rows, err = r.pool.Query(ctx, sql, q.URI, q.After, q.limit())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrStorage, err)
	}
	return collectPgRows(rows)
}

func (r *PostgresRepo) ActiveSubjects(ctx context.Context) ([]string, error) {
	return r.distinctURIs(ctx, `SELECT DISTINCT uri FROM labels WHERE NOT is_deleted ORDER BY uri`)
}

func (r *PostgresRepo) AllSubjects(ctx context.Context) ([]string, error) {
	return r.distinctURIs(ctx, `SELECT DISTINCT uri FROM labels ORDER BY uri`)
}

func (r *PostgresRepo) ScanSubject(ctx context.Context, uri string) ([]LabelRow, error) {
	const q = `SELECT ` + pgLabelColumns + ` FROM labels WHERE uri = $1 ORDER BY seq ASC`
	rows, err := r.pool.Query(ctx, q, uri)
	if err != nil {
		return nil, fmt.Errorf("%w: scan subject: %v", ErrStorage, err)
	}
	return collectPgRows(rows)
}

func (r *PostgresRepo) Close() { r.pool.Close() }

func (r *PostgresRepo) distinctURIs(ctx context.Context, q string) ([]string, error) {
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: list subjects: %v", ErrStorage, err)
	}
	uris, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%w: list subjects: %v", ErrStorage, err)
	}
	return uris, nil
}

func collectPgRows(rows pgx.Rows) ([]LabelRow, error) {
	defer rows.Close()
	var out []LabelRow
	for rows.Next() {
		var l LabelRow
		if err := rows.Scan(&l.Seq, &l.URI, &l.Val, &l.Cts, &l.Neg, &l.Src, &l.Sig, &l.Pinned, &l.Deleted); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrStorage, err)
		}
		l.Cts = l.Cts.UTC()
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", ErrStorage, err)
	}
	return out, nil
}
