package database

// HistorySchema is the schema of the "history" database: one row per job fire.
// details holds msgpack-encoded labels and the error text.
const HistorySchema = `
CREATE TABLE IF NOT EXISTS job_history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id      TEXT    NOT NULL,
    kind        TEXT    NOT NULL,
    fired_at    INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    failed      INTEGER NOT NULL DEFAULT 0,
    details     BLOB
);

CREATE INDEX IF NOT EXISTS idx_job_history_fired_at ON job_history(fired_at);
CREATE INDEX IF NOT EXISTS idx_job_history_job_id ON job_history(job_id, fired_at);
`

var schemas = map[string]string{
	"history": HistorySchema,
}
