package policy

import (
	"context"
	"database/sql"
	"net/url"

	_ "github.com/mattn/go-sqlite3"

	"github.com/saiset-co/sai-cache/types"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS cache_policies (
	entity_type      TEXT PRIMARY KEY,
	strategy         TEXT NOT NULL,
	ttl              INTEGER NOT NULL,
	stale_time       INTEGER NOT NULL,
	priority         INTEGER NOT NULL,
	max_memory_items INTEGER,
	compress         BOOLEAN
)`

const sqliteSelect = `SELECT entity_type, strategy, ttl, stale_time, priority, max_memory_items, compress
FROM cache_policies`

const sqliteUpsert = `INSERT INTO cache_policies
	(entity_type, strategy, ttl, stale_time, priority, max_memory_items, compress)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(entity_type) DO UPDATE SET
	strategy = excluded.strategy,
	ttl = excluded.ttl,
	stale_time = excluded.stale_time,
	priority = excluded.priority,
	max_memory_items = excluded.max_memory_items,
	compress = excluded.compress`

// SQLiteSource reads policy records from the cache_policies table of a SQLite database.
// The database is opened read-only, so a missing file is reported instead of created.
type SQLiteSource struct {
	path string
}

func NewSQLiteSource(path string) *SQLiteSource {
	return &SQLiteSource{path: path}
}

func (s *SQLiteSource) Name() string { return "sqlite" }

func (s *SQLiteSource) Policies(ctx context.Context) ([]types.PolicyRecord, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(s.path, "ro"))
	if err != nil {
		return nil, types.WrapError(err, "failed to open policy database")
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, types.WrapError(err, "failed to connect to policy database")
	}

	rows, err := db.QueryContext(ctx, sqliteSelect)
	if err != nil {
		return nil, types.WrapError(err, "failed to query cache policies")
	}
	defer rows.Close()

	var records []types.PolicyRecord
	for rows.Next() {
		var (
			record         types.PolicyRecord
			maxMemoryItems sql.NullInt64
			compress       sql.NullBool
		)

		if err := rows.Scan(&record.EntityType, &record.Strategy, &record.TTL, &record.StaleTime,
			&record.Priority, &maxMemoryItems, &compress); err != nil {
			return nil, types.WrapError(err, "failed to scan cache policy")
		}

		if maxMemoryItems.Valid {
			v := int(maxMemoryItems.Int64)
			record.MaxMemoryItems = &v
		}
		if compress.Valid {
			v := compress.Bool
			record.Compress = &v
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, types.WrapError(err, "failed to read cache policies")
	}

	return records, nil
}

// SeedSQLite creates the cache_policies table in the database at path when missing and upserts records.
func SeedSQLite(ctx context.Context, path string, records []types.PolicyRecord) error {
	db, err := sql.Open("sqlite3", sqliteDSN(path, "rwc"))
	if err != nil {
		return types.WrapError(err, "failed to open policy database")
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return types.WrapError(err, "failed to create cache_policies table")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return types.WrapError(err, "failed to begin transaction")
	}

	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		_ = tx.Rollback()
		return types.WrapError(err, "failed to prepare upsert")
	}
	defer stmt.Close()

	for _, record := range records {
		var maxMemoryItems sql.NullInt64
		if record.MaxMemoryItems != nil {
			maxMemoryItems = sql.NullInt64{Int64: int64(*record.MaxMemoryItems), Valid: true}
		}

		var compress sql.NullBool
		if record.Compress != nil {
			compress = sql.NullBool{Bool: *record.Compress, Valid: true}
		}

		if _, err := stmt.ExecContext(ctx, record.EntityType, record.Strategy, record.TTL, record.StaleTime,
			record.Priority, maxMemoryItems, compress); err != nil {
			_ = tx.Rollback()
			return types.WrapError(err, "failed to upsert cache policy "+record.EntityType)
		}
	}

	return types.WrapError(tx.Commit(), "failed to commit cache policies")
}

func sqliteDSN(path, mode string) string {
	return "file:" + (&url.URL{Path: path}).EscapedPath() + "?mode=" + mode
}
