package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/scoutline/leadharvest/internal/model"
)

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
    id             TEXT PRIMARY KEY,
    owner_id       TEXT NOT NULL,
    status         TEXT NOT NULL,
    config         TEXT NOT NULL,
    stats          TEXT NOT NULL DEFAULT '{}',
    checkpoint     TEXT NOT NULL DEFAULT '{}',
    current_run_id TEXT NOT NULL DEFAULT '',
    last_error     TEXT NOT NULL DEFAULT '',
    started_at     TEXT,
    completed_at   TEXT,
    next_run_at    TEXT,
    created_at     TEXT NOT NULL,
    updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_owner  ON jobs (owner_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);

CREATE TABLE IF NOT EXISTS credentials (
    id           TEXT PRIMARY KEY,
    owner_id     TEXT NOT NULL,
    value        TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'active',
    use_count    INTEGER NOT NULL DEFAULT 0,
    last_used_at TEXT,
    last_error   TEXT NOT NULL DEFAULT '',
    created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credentials_owner_status ON credentials (owner_id, status);

CREATE TABLE IF NOT EXISTS posts (
    external_id   TEXT NOT NULL,
    owner_id      TEXT NOT NULL,
    url           TEXT NOT NULL,
    seed          TEXT NOT NULL DEFAULT '',
    job_id        TEXT NOT NULL DEFAULT '',
    caption       TEXT NOT NULL DEFAULT '',
    like_count    INTEGER NOT NULL DEFAULT 0,
    comment_count INTEGER NOT NULL DEFAULT 0,
    scraped_at    TEXT NOT NULL,
    PRIMARY KEY (external_id, owner_id)
);

CREATE TABLE IF NOT EXISTS comments (
    external_id TEXT NOT NULL,
    post_url    TEXT NOT NULL,
    owner_id    TEXT NOT NULL,
    username    TEXT NOT NULL,
    body        TEXT NOT NULL DEFAULT '',
    job_id      TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL,
    PRIMARY KEY (external_id, owner_id)
);
CREATE INDEX IF NOT EXISTS idx_comments_username ON comments (owner_id, username);

CREATE TABLE IF NOT EXISTS leads (
    id                 TEXT PRIMARY KEY,
    owner_id           TEXT NOT NULL,
    username           TEXT NOT NULL,
    full_name          TEXT NOT NULL DEFAULT '',
    biography          TEXT NOT NULL DEFAULT '',
    external_url       TEXT NOT NULL DEFAULT '',
    follower_count     INTEGER NOT NULL DEFAULT 0,
    following_count    INTEGER NOT NULL DEFAULT 0,
    media_count        INTEGER NOT NULL DEFAULT 0,
    is_private         INTEGER NOT NULL DEFAULT 0,
    is_verified        INTEGER NOT NULL DEFAULT 0,
    category           TEXT NOT NULL DEFAULT '',
    qualified          INTEGER,
    unqualified_reason TEXT NOT NULL DEFAULT '',
    seeds              TEXT NOT NULL DEFAULT '[]',
    job_id             TEXT NOT NULL DEFAULT '',
    created_at         TEXT NOT NULL,
    updated_at         TEXT NOT NULL,
    UNIQUE (owner_id, username)
);
CREATE INDEX IF NOT EXISTS idx_leads_owner_qualified ON leads (owner_id, qualified);
`

// SQLiteStore persists pipeline state in a single embedded database file.
// It exists for single-operator installs that do not want to run Postgres.
type SQLiteStore struct {
	sdb *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens (or creates) the database at path.
func NewSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "store: open sqlite database")
	}
	// SQLite handles one writer at a time.
	sdb.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := sdb.ExecContext(ctx, pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "store: apply %q", pragma)
		}
	}
	return &SQLiteStore{sdb: sdb}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.sdb.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "store: run migration")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.sdb.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	cfg, stats, cp, err := marshalJobBlobs(job)
	if err != nil {
		return err
	}
	now := timeStr(time.Now())
	_, err = s.sdb.ExecContext(ctx, `
		INSERT INTO jobs (id, owner_id, status, config, stats, checkpoint, next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OwnerID, string(job.Status), string(cfg), string(stats), string(cp),
		timePtrStr(job.NextRunAt), now, now)
	if err != nil {
		return eris.Wrapf(err, "store: create job %s", job.ID)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.sdb.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanSQLiteJob(row)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "store: get job %s", id)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, ownerID string) ([]*model.Job, error) {
	rows, err := s.sdb.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE (? = '' OR owner_id = ?) ORDER BY created_at DESC`,
		ownerID, ownerID)
	if err != nil {
		return nil, eris.Wrap(err, "store: list jobs")
	}
	defer rows.Close()
	return collectSQLiteJobs(rows)
}

func (s *SQLiteStore) DueJobs(ctx context.Context, now time.Time) ([]*model.Job, error) {
	rows, err := s.sdb.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = 'completed' AND next_run_at IS NOT NULL AND next_run_at <= ?
		 ORDER BY next_run_at ASC`,
		timeStr(now))
	if err != nil {
		return nil, eris.Wrap(err, "store: list due jobs")
	}
	defer rows.Close()
	return collectSQLiteJobs(rows)
}

func (s *SQLiteStore) MarkJobStarted(ctx context.Context, id string, status model.JobStatus) error {
	now := timeStr(time.Now())
	res, err := s.sdb.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, started_at = COALESCE(started_at, ?), last_error = '', updated_at = ?
		WHERE id = ? AND status IN ('pending', 'paused', 'failed')`,
		string(status), now, now, id)
	if err != nil {
		return eris.Wrapf(err, "store: mark job %s started", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return ErrJobNotRunnable
	}
	return nil
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, lastError string) error {
	now := timeStr(time.Now())
	var completedAt any
	if status.Terminal() {
		completedAt = now
	}
	res, err := s.sdb.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, last_error = ?, completed_at = COALESCE(?, completed_at), updated_at = ?
		WHERE id = ?`,
		string(status), lastError, completedAt, now, id)
	if err != nil {
		return eris.Wrapf(err, "store: update job %s status", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SetCurrentRun(ctx context.Context, id, runID string) error {
	res, err := s.sdb.ExecContext(ctx,
		`UPDATE jobs SET current_run_id = ?, updated_at = ? WHERE id = ?`,
		runID, timeStr(time.Now()), id)
	if err != nil {
		return eris.Wrapf(err, "store: set current run for job %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, id string, cp model.Checkpoint, stats model.JobStats) error {
	cpJSON, err := json.Marshal(cp)
	if err != nil {
		return eris.Wrap(err, "store: marshal checkpoint")
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "store: marshal stats")
	}
	res, err := s.sdb.ExecContext(ctx,
		`UPDATE jobs SET checkpoint = ?, stats = ?, updated_at = ? WHERE id = ?`,
		string(cpJSON), string(statsJSON), timeStr(time.Now()), id)
	if err != nil {
		return eris.Wrapf(err, "store: save checkpoint for job %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, stats model.JobStats, nextRunAt *time.Time) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "store: marshal stats")
	}
	now := timeStr(time.Now())
	res, err := s.sdb.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed', stats = ?, next_run_at = ?,
		    current_run_id = '', last_error = '', completed_at = ?, updated_at = ?
		WHERE id = ?`,
		string(statsJSON), timePtrStr(nextRunAt), now, now, id)
	if err != nil {
		return eris.Wrapf(err, "store: complete job %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	res, err := s.sdb.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE id = ? AND status IN ('paused', 'completed', 'failed', 'cancelled')`,
		id)
	if err != nil {
		return eris.Wrapf(err, "store: delete job %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return ErrJobNotDeletable
	}
	return nil
}

func (s *SQLiteStore) UpsertPost(ctx context.Context, post *model.Post) error {
	_, err := s.sdb.ExecContext(ctx, `
		INSERT INTO posts (external_id, owner_id, url, seed, job_id, caption, like_count, comment_count, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_id, owner_id) DO UPDATE SET
		    caption = excluded.caption,
		    like_count = excluded.like_count,
		    comment_count = excluded.comment_count,
		    scraped_at = excluded.scraped_at`,
		post.ExternalID, post.OwnerID, post.URL, post.Seed, post.JobID,
		post.Caption, post.LikeCount, post.CommentCount, timeStr(time.Now()))
	if err != nil {
		return eris.Wrapf(err, "store: upsert post %s", post.ExternalID)
	}
	return nil
}

func (s *SQLiteStore) InsertComments(ctx context.Context, comments []model.Comment) (int64, error) {
	if len(comments) == 0 {
		return 0, nil
	}
	tx, err := s.sdb.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "store: begin insert comments")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO comments (external_id, post_url, owner_id, username, body, job_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "store: prepare insert comments")
	}
	defer stmt.Close()

	var inserted int64
	now := timeStr(time.Now())
	for _, c := range comments {
		res, err := stmt.ExecContext(ctx, c.ExternalID, c.PostURL, c.OwnerID, c.Username, c.Body, c.JobID, now)
		if err != nil {
			return 0, eris.Wrapf(err, "store: insert comment %s", c.ExternalID)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "store: commit insert comments")
	}
	return inserted, nil
}

func (s *SQLiteStore) UpsertLead(ctx context.Context, lead *model.Lead) (bool, error) {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	tx, err := s.sdb.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "store: begin upsert lead")
	}
	defer tx.Rollback()

	var (
		existingID    string
		existingSeeds string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, seeds FROM leads WHERE owner_id = ? AND username = ?`,
		lead.OwnerID, lead.Profile.Username).Scan(&existingID, &existingSeeds)
	now := timeStr(time.Now())

	switch {
	case err == nil:
		seeds, merr := mergeSeeds(existingSeeds, lead.Seeds)
		if merr != nil {
			return false, merr
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE leads SET
			    full_name = ?, biography = ?, external_url = ?,
			    follower_count = ?, following_count = ?, media_count = ?,
			    is_private = ?, is_verified = ?, category = ?,
			    qualified = ?, unqualified_reason = ?, seeds = ?, job_id = ?, updated_at = ?
			WHERE id = ?`,
			lead.Profile.FullName, lead.Profile.Biography, lead.Profile.ExternalURL,
			lead.Profile.FollowerCount, lead.Profile.FollowingCount, lead.Profile.MediaCount,
			boolInt(lead.Profile.IsPrivate), boolInt(lead.Profile.IsVerified), lead.Profile.Category,
			boolPtrInt(lead.Qualified), lead.UnqualifiedReason, seeds, lead.JobID, now,
			existingID)
		if err != nil {
			return false, eris.Wrapf(err, "store: update lead %s", lead.Profile.Username)
		}
		lead.ID = existingID
		if err := tx.Commit(); err != nil {
			return false, eris.Wrap(err, "store: commit upsert lead")
		}
		return false, nil

	case eris.Is(err, sql.ErrNoRows):
		seeds, merr := json.Marshal(nonNilSeeds(lead.Seeds))
		if merr != nil {
			return false, eris.Wrap(merr, "store: marshal seeds")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO leads (id, owner_id, username, full_name, biography, external_url,
			                   follower_count, following_count, media_count, is_private, is_verified,
			                   category, qualified, unqualified_reason, seeds, job_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			lead.ID, lead.OwnerID, lead.Profile.Username, lead.Profile.FullName, lead.Profile.Biography,
			lead.Profile.ExternalURL, lead.Profile.FollowerCount, lead.Profile.FollowingCount,
			lead.Profile.MediaCount, boolInt(lead.Profile.IsPrivate), boolInt(lead.Profile.IsVerified),
			lead.Profile.Category, boolPtrInt(lead.Qualified), lead.UnqualifiedReason, string(seeds),
			lead.JobID, now, now)
		if err != nil {
			return false, eris.Wrapf(err, "store: insert lead %s", lead.Profile.Username)
		}
		if err := tx.Commit(); err != nil {
			return false, eris.Wrap(err, "store: commit upsert lead")
		}
		return true, nil

	default:
		return false, eris.Wrapf(err, "store: look up lead %s", lead.Profile.Username)
	}
}

func (s *SQLiteStore) ListLeads(ctx context.Context, ownerID string) ([]*model.Lead, error) {
	rows, err := s.sdb.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE owner_id = ? ORDER BY created_at DESC`,
		ownerID)
	if err != nil {
		return nil, eris.Wrap(err, "store: list leads")
	}
	defer rows.Close()

	var leads []*model.Lead
	for rows.Next() {
		lead, err := scanSQLiteLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan lead")
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

func (s *SQLiteStore) ProcessedUsernames(ctx context.Context, ownerID string) (map[string]struct{}, error) {
	rows, err := s.sdb.QueryContext(ctx,
		`SELECT username FROM leads WHERE owner_id = ? AND qualified IS NOT NULL`,
		ownerID)
	if err != nil {
		return nil, eris.Wrap(err, "store: list processed usernames")
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, eris.Wrap(err, "store: scan username")
		}
		seen[username] = struct{}{}
	}
	return seen, rows.Err()
}

func (s *SQLiteStore) CreateCredential(ctx context.Context, cred *model.CredentialToken) error {
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	if cred.Status == "" {
		cred.Status = model.CredentialActive
	}
	_, err := s.sdb.ExecContext(ctx,
		`INSERT INTO credentials (id, owner_id, value, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		cred.ID, cred.OwnerID, cred.Value, string(cred.Status), timeStr(time.Now()))
	if err != nil {
		return eris.Wrapf(err, "store: create credential %s", cred.ID)
	}
	return nil
}

func (s *SQLiteStore) ListCredentials(ctx context.Context, ownerID string) ([]*model.CredentialToken, error) {
	rows, err := s.sdb.QueryContext(ctx, `
		SELECT id, owner_id, value, status, use_count, last_used_at, last_error, created_at
		FROM credentials WHERE owner_id = ? ORDER BY created_at ASC`,
		ownerID)
	if err != nil {
		return nil, eris.Wrap(err, "store: list credentials")
	}
	defer rows.Close()

	var creds []*model.CredentialToken
	for rows.Next() {
		cred, err := scanSQLiteCredential(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan credential")
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

func (s *SQLiteStore) AcquireCredential(ctx context.Context, ownerID string) (*model.CredentialToken, error) {
	tx, err := s.sdb.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "store: begin acquire credential")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, owner_id, value, status, use_count, last_used_at, last_error, created_at
		FROM credentials
		WHERE owner_id = ? AND status = 'active'
		ORDER BY (last_used_at IS NULL) DESC, last_used_at ASC, created_at ASC
		LIMIT 1`,
		ownerID)
	cred, err := scanSQLiteCredential(row)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, ErrNoActiveCredential
		}
		return nil, eris.Wrap(err, "store: acquire credential")
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE credentials SET use_count = use_count + 1, last_used_at = ? WHERE id = ?`,
		timeStr(now), cred.ID); err != nil {
		return nil, eris.Wrap(err, "store: bump credential usage")
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "store: commit acquire credential")
	}
	cred.UseCount++
	cred.LastUsedAt = &now
	return cred, nil
}

func (s *SQLiteStore) MarkCredentialLimited(ctx context.Context, id, lastError string) error {
	res, err := s.sdb.ExecContext(ctx,
		`UPDATE credentials SET status = 'limit_reached', last_error = ? WHERE id = ?`,
		lastError, id)
	if err != nil {
		return eris.Wrapf(err, "store: mark credential %s limited", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSQLiteJob(row rowScanner) (*model.Job, error) {
	var (
		job                               model.Job
		status, cfg, stats, cp            string
		startedAt, completedAt, nextRunAt sql.NullString
		createdAt, updatedAt              string
	)
	err := row.Scan(&job.ID, &job.OwnerID, &status, &cfg, &stats, &cp,
		&job.CurrentRunID, &job.LastError, &startedAt, &completedAt,
		&nextRunAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	job.Status = model.JobStatus(status)
	if err := json.Unmarshal([]byte(cfg), &job.Config); err != nil {
		return nil, eris.Wrap(err, "unmarshal job config")
	}
	if err := json.Unmarshal([]byte(stats), &job.Stats); err != nil {
		return nil, eris.Wrap(err, "unmarshal job stats")
	}
	if err := json.Unmarshal([]byte(cp), &job.Checkpoint); err != nil {
		return nil, eris.Wrap(err, "unmarshal job checkpoint")
	}
	job.StartedAt = parseTimePtr(startedAt)
	job.CompletedAt = parseTimePtr(completedAt)
	job.NextRunAt = parseTimePtr(nextRunAt)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	return &job, nil
}

func collectSQLiteJobs(rows *sql.Rows) ([]*model.Job, error) {
	var jobs []*model.Job
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanSQLiteLead(row rowScanner) (*model.Lead, error) {
	var (
		lead                  model.Lead
		isPrivate, isVerified int64
		qualified             sql.NullInt64
		seeds                 string
		createdAt, updatedAt  string
	)
	err := row.Scan(&lead.ID, &lead.OwnerID, &lead.Profile.Username, &lead.Profile.FullName,
		&lead.Profile.Biography, &lead.Profile.ExternalURL, &lead.Profile.FollowerCount,
		&lead.Profile.FollowingCount, &lead.Profile.MediaCount,
		&isPrivate, &isVerified, &lead.Profile.Category, &qualified, &lead.UnqualifiedReason,
		&seeds, &lead.JobID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	lead.Profile.IsPrivate = isPrivate != 0
	lead.Profile.IsVerified = isVerified != 0
	if qualified.Valid {
		v := qualified.Int64 != 0
		lead.Qualified = &v
	}
	if err := json.Unmarshal([]byte(seeds), &lead.Seeds); err != nil {
		return nil, eris.Wrap(err, "unmarshal lead seeds")
	}
	lead.CreatedAt = parseTime(createdAt)
	lead.UpdatedAt = parseTime(updatedAt)
	return &lead, nil
}

func scanSQLiteCredential(row rowScanner) (*model.CredentialToken, error) {
	var (
		cred       model.CredentialToken
		status     string
		lastUsedAt sql.NullString
		createdAt  string
	)
	err := row.Scan(&cred.ID, &cred.OwnerID, &cred.Value, &status, &cred.UseCount,
		&lastUsedAt, &cred.LastError, &createdAt)
	if err != nil {
		return nil, err
	}
	cred.Status = model.CredentialStatus(status)
	cred.LastUsedAt = parseTimePtr(lastUsedAt)
	cred.CreatedAt = parseTime(createdAt)
	return &cred, nil
}

func mergeSeeds(existingJSON string, incoming []string) (string, error) {
	var existing []string
	if err := json.Unmarshal([]byte(existingJSON), &existing); err != nil {
		return "", eris.Wrap(err, "store: unmarshal lead seeds")
	}
	set := make(map[string]struct{}, len(existing)+len(incoming))
	for _, s := range existing {
		set[s] = struct{}{}
	}
	for _, s := range incoming {
		set[s] = struct{}{}
	}
	merged := make([]string, 0, len(set))
	for s := range set {
		merged = append(merged, s)
	}
	sort.Strings(merged)
	out, err := json.Marshal(merged)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal lead seeds")
	}
	return string(out), nil
}

func timeStr(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func timePtrStr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeStr(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func boolPtrInt(b *bool) any {
	if b == nil {
		return nil
	}
	return boolInt(*b)
}
