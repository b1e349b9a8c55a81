// Package sqlinline holds the SQL statements that are not tied to a single
// repository method, chiefly the schema bootstrap.
package sqlinline

// QCreateJobsTable creates the jobs table if it does not exist. The status
// check constraint mirrors the lifecycle enum; progress is clamped so bad
// writes can never show a caller more than 100 percent.
const QCreateJobsTable = `--sql
CREATE TABLE IF NOT EXISTS jobs (
    id            TEXT PRIMARY KEY,
    kind          TEXT NOT NULL CHECK (kind IN ('image', 'video', 'speech', 'composite')),
    status        TEXT NOT NULL DEFAULT 'pending'
                  CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
    input         JSONB NOT NULL,
    progress      INT NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
    result_url    TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_jobs_pending
    ON jobs (created_at)
    WHERE status = 'pending';

CREATE INDEX IF NOT EXISTS idx_jobs_processing_updated
    ON jobs (updated_at)
    WHERE status = 'processing';
`
