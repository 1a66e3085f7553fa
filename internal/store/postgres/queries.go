package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/eventhub/internal/store"
)

// recordColumns is the column list used for SELECT statements on the records table.
const recordColumns = `namespace, type, id, data, created_at, updated_at`

// uniqueViolation is the SQLSTATE for a duplicate primary key.
const uniqueViolation = "23505"

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryCreate(ctx context.Context, db executor, ns, typ, id string, data []byte) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO records (namespace, type, id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())`,
		ns, typ, id, jsonbBytes(data),
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return store.ErrConflict
	}
	return err
}

func queryGet(ctx context.Context, db executor, ns, id string) (*store.Record, error) {
	row := db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE namespace = $1 AND id = $2`, ns, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func queryUpdate(ctx context.Context, db executor, ns, id string, data []byte) error {
	res, err := db.ExecContext(ctx, `
		UPDATE records SET data = $3, updated_at = now()
		WHERE namespace = $1 AND id = $2`,
		ns, id, jsonbBytes(data),
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func queryDelete(ctx context.Context, db executor, ns, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM records WHERE namespace = $1 AND id = $2`, ns, id)
	return err
}

func queryList(ctx context.Context, db executor, ns, typ string, opts store.ListOptions) ([]*store.Record, error) {
	q := `SELECT ` + recordColumns + ` FROM records WHERE namespace = $1 AND type = $2 ORDER BY id DESC`
	args := []any{ns, typ}
	if opts.Limit > 0 {
		q += ` LIMIT $3`
		args = append(args, opts.Limit)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
