package store

type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create latency samples",
		SQL: `
			CREATE TABLE latency_samples (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				request_id     TEXT NOT NULL,
				endpoint       TEXT NOT NULL,
				started_at     TEXT NOT NULL,
				duration_ms    INTEGER NOT NULL,
				success        INTEGER NOT NULL,
				status_code    INTEGER NOT NULL,
				error          TEXT NOT NULL DEFAULT '',
				session_id     TEXT NOT NULL DEFAULT '',
				request_type   TEXT NOT NULL DEFAULT '',
				input_length   INTEGER NOT NULL DEFAULT 0,
				output_length  INTEGER NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_latency_started ON latency_samples (started_at);
			CREATE INDEX idx_latency_endpoint ON latency_samples (endpoint, started_at);
		`,
	},
	{
		Version: 2,
		Name:    "create ratings",
		SQL: `
			CREATE TABLE ratings (
				id             TEXT PRIMARY KEY,
				session_id     TEXT NOT NULL,
				rating         INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
				feedback       TEXT NOT NULL DEFAULT '',
				status         TEXT NOT NULL CHECK (status IN ('active', 'hidden', 'deleted')),
				session_stats  TEXT,
				created_at     TEXT NOT NULL,
				updated_at     TEXT NOT NULL
			);

			CREATE UNIQUE INDEX idx_ratings_active_session ON ratings (session_id) WHERE status = 'active';
			CREATE INDEX idx_ratings_created ON ratings (created_at);
			CREATE INDEX idx_ratings_status_created ON ratings (status, created_at);
		`,
	},
}
