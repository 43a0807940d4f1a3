package store

import "database/sql"

// Schema is the complete dentalsync schema. Timestamps are unix milliseconds;
// date columns are NULL when the portal never showed a value.
const Schema = `
-- Received orders, one row per case per portal
CREATE TABLE IF NOT EXISTS orders (
    id             INTEGER PRIMARY KEY,
    external_id    TEXT NOT NULL,
    platform       TEXT NOT NULL,
    patient_ref    TEXT NOT NULL,
    reception_date INTEGER,
    due_date       INTEGER,
    practice       TEXT NOT NULL DEFAULT 'unknown',
    comment        TEXT NOT NULL DEFAULT '',
    seen           INTEGER NOT NULL DEFAULT 0,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL,
    UNIQUE(external_id, platform)
);
CREATE INDEX IF NOT EXISTS idx_orders_platform ON orders(platform);
CREATE INDEX IF NOT EXISTS idx_orders_unseen ON orders(seen, reception_date DESC);

-- Ingestion runs (observability)
CREATE TABLE IF NOT EXISTS ingest_log (
    id            TEXT PRIMARY KEY,
    platform      TEXT NOT NULL,
    status        TEXT NOT NULL,
    fetched       INTEGER NOT NULL DEFAULT 0,
    inserted      INTEGER NOT NULL DEFAULT 0,
    updated       INTEGER NOT NULL DEFAULT 0,
    unchanged     INTEGER NOT NULL DEFAULT 0,
    rejected      INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    duration_ms   INTEGER NOT NULL DEFAULT 0,
    started_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ingest_log_platform ON ingest_log(platform, started_at DESC);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
