package db

const (
	CreateMigrationsTable = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`

	ListAppliedMigrations = `SELECT version FROM schema_migrations`

	InsertMigration = `INSERT INTO schema_migrations (version) VALUES (?)`
)

const jobColumns = `id, status, width, height, payload_bytes, chunks, reason, created_at, started_at, completed_at`

const (
	InsertJob = `
		INSERT INTO print_jobs (id, status, reason, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	GetJobByID = `SELECT ` + jobColumns + ` FROM print_jobs WHERE id = ?`

	UpdateJobStarted = `
		UPDATE print_jobs SET status = 'printing', width = ?, height = ?, payload_bytes = ?, started_at = ?
		WHERE id = ?
	`

	UpdateJobFinished = `
		UPDATE print_jobs SET status = ?, reason = ?, chunks = ?, completed_at = ?
		WHERE id = ?
	`

	CountJobsByStatus = `SELECT status, COUNT(*) FROM print_jobs GROUP BY status`

	GetJobsForArchival = `
		SELECT ` + jobColumns + ` FROM print_jobs
		WHERE status IN ('completed', 'failed', 'dropped', 'aborted') AND completed_at < ?
		ORDER BY completed_at ASC
	`

	DeleteJob = `DELETE FROM print_jobs WHERE id = ?`

	// Jobs left queued or printing by a previous run never finished.
	AbortUnfinishedJobs = `
		UPDATE print_jobs SET status = 'aborted', reason = ?, completed_at = ?
		WHERE status IN ('queued', 'printing')
	`
)

const (
	GetSetting = `SELECT value, updated_at FROM settings WHERE key = ?`

	SetSetting = `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`

	DeleteSetting = `DELETE FROM settings WHERE key = ?`
)

const (
	InsertStateChange = `INSERT INTO state_log (from_state, to_state, created_at) VALUES (?, ?, ?)`

	ListStateChanges = `
		SELECT id, from_state, to_state, created_at FROM state_log
		ORDER BY id DESC LIMIT ?
	`
)

const (
	IncrementPrintCounter = `
		INSERT INTO print_counters (date, jobs, bytes) VALUES (?, 1, ?)
		ON CONFLICT(date) DO UPDATE SET jobs = jobs + 1, bytes = bytes + excluded.bytes
	`

	GetPrintCountersByDateRange = `
		SELECT date, jobs, bytes FROM print_counters WHERE date >= ? AND date <= ? ORDER BY date ASC
	`
)

const (
	InsertArchiveJob = `INSERT INTO archive_jobs (original_job_id, archive_file) VALUES (?, ?)`

	ListArchiveJobs = `
		SELECT id, original_job_id, archive_file, archived_at
		FROM archive_jobs ORDER BY archived_at DESC LIMIT ? OFFSET ?
	`

	CountArchiveJobsByFile = `SELECT COUNT(*) FROM archive_jobs WHERE archive_file = ?`

	DeleteArchiveJobsByFile = `DELETE FROM archive_jobs WHERE archive_file = ?`
)
