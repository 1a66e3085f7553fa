package postgres

import (
	"encoding/json"

	"github.com/alfredjeanlab/eventhub/internal/store"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanRecord scans a single row into a store.Record.
// The row must contain columns in the order defined by recordColumns.
func scanRecord(row scannable) (*store.Record, error) {
	var r store.Record
	var data []byte
	if err := row.Scan(&r.Namespace, &r.Type, &r.ID, &data, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Data = json.RawMessage(data)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

// jsonbBytes substitutes an empty object for empty input, which is not
// valid JSONB.
func jsonbBytes(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}
