package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/scoutline/leadharvest/internal/db"
	"github.com/scoutline/leadharvest/internal/model"
)

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
    id             TEXT PRIMARY KEY,
    owner_id       TEXT NOT NULL,
    status         TEXT NOT NULL,
    config         JSONB NOT NULL,
    stats          JSONB NOT NULL DEFAULT '{}',
    checkpoint     JSONB NOT NULL DEFAULT '{}',
    current_run_id TEXT NOT NULL DEFAULT '',
    last_error     TEXT NOT NULL DEFAULT '',
    started_at     TIMESTAMPTZ,
    completed_at   TIMESTAMPTZ,
    next_run_at    TIMESTAMPTZ,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_jobs_owner  ON jobs (owner_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);

CREATE TABLE IF NOT EXISTS credentials (
    id           TEXT PRIMARY KEY,
    owner_id     TEXT NOT NULL,
    value        TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'active',
    use_count    BIGINT NOT NULL DEFAULT 0,
    last_used_at TIMESTAMPTZ,
    last_error   TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_credentials_owner_status ON credentials (owner_id, status);

CREATE TABLE IF NOT EXISTS posts (
    external_id   TEXT NOT NULL,
    owner_id      TEXT NOT NULL,
    url           TEXT NOT NULL,
    seed          TEXT NOT NULL DEFAULT '',
    job_id        TEXT NOT NULL DEFAULT '',
    caption       TEXT NOT NULL DEFAULT '',
    like_count    BIGINT NOT NULL DEFAULT 0,
    comment_count BIGINT NOT NULL DEFAULT 0,
    scraped_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (external_id, owner_id)
);

CREATE TABLE IF NOT EXISTS comments (
    external_id TEXT NOT NULL,
    post_url    TEXT NOT NULL,
    owner_id    TEXT NOT NULL,
    username    TEXT NOT NULL,
    body        TEXT NOT NULL DEFAULT '',
    job_id      TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
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
    follower_count     BIGINT NOT NULL DEFAULT 0,
    following_count    BIGINT NOT NULL DEFAULT 0,
    media_count        BIGINT NOT NULL DEFAULT 0,
    is_private         BOOLEAN NOT NULL DEFAULT FALSE,
    is_verified        BOOLEAN NOT NULL DEFAULT FALSE,
    category           TEXT NOT NULL DEFAULT '',
    qualified          BOOLEAN,
    unqualified_reason TEXT NOT NULL DEFAULT '',
    seeds              JSONB NOT NULL DEFAULT '[]',
    job_id             TEXT NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (owner_id, username)
);
CREATE INDEX IF NOT EXISTS idx_leads_owner_qualified ON leads (owner_id, qualified);
`

// PoolConfig tunes the pgx connection pool.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// PostgresStore persists pipeline state in Postgres.
type PostgresStore struct {
	pool db.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres opens a connection pool against databaseURL.
func NewPostgres(ctx context.Context, databaseURL string, cfg PoolConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "store: parse database url")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "store: create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "store: ping database")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "store: run migration")
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
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
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, owner_id, status, config, stats, checkpoint, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.OwnerID, string(job.Status), cfg, stats, cp, job.NextRunAt)
	if err != nil {
		return eris.Wrapf(err, "store: create job %s", job.ID)
	}
	return nil
}

const jobColumns = `id, owner_id, status, config, stats, checkpoint, current_run_id,
	last_error, started_at, completed_at, next_run_at, created_at, updated_at`

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "store: get job %s", id)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, ownerID string) ([]*model.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE ($1 = '' OR owner_id = $1) ORDER BY created_at DESC`,
		ownerID)
	if err != nil {
		return nil, eris.Wrap(err, "store: list jobs")
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *PostgresStore) DueJobs(ctx context.Context, now time.Time) ([]*model.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = 'completed' AND next_run_at IS NOT NULL AND next_run_at <= $1
		 ORDER BY next_run_at ASC`, now)
	if err != nil {
		return nil, eris.Wrap(err, "store: list due jobs")
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *PostgresStore) MarkJobStarted(ctx context.Context, id string, status model.JobStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, started_at = COALESCE(started_at, now()), last_error = '', updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'paused', 'failed')`,
		id, string(status))
	if err != nil {
		return eris.Wrapf(err, "store: mark job %s started", id)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return ErrJobNotRunnable
	}
	return nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2,
		    last_error = $3,
		    completed_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN now() ELSE completed_at END,
		    updated_at = now()
		WHERE id = $1`,
		id, string(status), lastError)
	if err != nil {
		return eris.Wrapf(err, "store: update job %s status", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetCurrentRun(ctx context.Context, id, runID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET current_run_id = $2, updated_at = now() WHERE id = $1`,
		id, runID)
	if err != nil {
		return eris.Wrapf(err, "store: set current run for job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, id string, cp model.Checkpoint, stats model.JobStats) error {
	cpJSON, err := json.Marshal(cp)
	if err != nil {
		return eris.Wrap(err, "store: marshal checkpoint")
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "store: marshal stats")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET checkpoint = $2, stats = $3, updated_at = now() WHERE id = $1`,
		id, cpJSON, statsJSON)
	if err != nil {
		return eris.Wrapf(err, "store: save checkpoint for job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string, stats model.JobStats, nextRunAt *time.Time) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "store: marshal stats")
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'completed', stats = $2, next_run_at = $3,
		    current_run_id = '', last_error = '', completed_at = now(), updated_at = now()
		WHERE id = $1`,
		id, statsJSON, nextRunAt)
	if err != nil {
		return eris.Wrapf(err, "store: complete job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE id = $1 AND status IN ('paused', 'completed', 'failed', 'cancelled')`,
		id)
	if err != nil {
		return eris.Wrapf(err, "store: delete job %s", id)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return ErrJobNotDeletable
	}
	return nil
}

func (s *PostgresStore) UpsertPost(ctx context.Context, post *model.Post) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO posts (external_id, owner_id, url, seed, job_id, caption, like_count, comment_count, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (external_id, owner_id) DO UPDATE SET
		    caption = EXCLUDED.caption,
		    like_count = EXCLUDED.like_count,
		    comment_count = EXCLUDED.comment_count,
		    scraped_at = now()`,
		post.ExternalID, post.OwnerID, post.URL, post.Seed, post.JobID,
		post.Caption, post.LikeCount, post.CommentCount)
	if err != nil {
		return eris.Wrapf(err, "store: upsert post %s", post.ExternalID)
	}
	return nil
}

func (s *PostgresStore) InsertComments(ctx context.Context, comments []model.Comment) (int64, error) {
	rows := make([][]any, 0, len(comments))
	for _, c := range comments {
		rows = append(rows, []any{c.ExternalID, c.PostURL, c.OwnerID, c.Username, c.Body, c.JobID})
	}
	n, err := db.BulkInsert(ctx, s.pool, db.BulkInsertConfig{
		Table:        "comments",
		Columns:      []string{"external_id", "post_url", "owner_id", "username", "body", "job_id"},
		ConflictKeys: []string{"external_id", "owner_id"},
		Policy:       db.ConflictIgnore,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "store: insert comments")
	}
	return n, nil
}

func (s *PostgresStore) UpsertLead(ctx context.Context, lead *model.Lead) (bool, error) {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	seeds, err := json.Marshal(nonNilSeeds(lead.Seeds))
	if err != nil {
		return false, eris.Wrap(err, "store: marshal seeds")
	}
	var created bool
	err = s.pool.QueryRow(ctx, `
		INSERT INTO leads (id, owner_id, username, full_name, biography, external_url,
		                   follower_count, following_count, media_count, is_private, is_verified,
		                   category, qualified, unqualified_reason, seeds, job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (owner_id, username) DO UPDATE SET
		    full_name = EXCLUDED.full_name,
		    biography = EXCLUDED.biography,
		    external_url = EXCLUDED.external_url,
		    follower_count = EXCLUDED.follower_count,
		    following_count = EXCLUDED.following_count,
		    media_count = EXCLUDED.media_count,
		    is_private = EXCLUDED.is_private,
		    is_verified = EXCLUDED.is_verified,
		    category = EXCLUDED.category,
		    qualified = EXCLUDED.qualified,
		    unqualified_reason = EXCLUDED.unqualified_reason,
		    seeds = (SELECT COALESCE(jsonb_agg(DISTINCT s), '[]'::jsonb)
		             FROM jsonb_array_elements(leads.seeds || EXCLUDED.seeds) AS s),
		    job_id = EXCLUDED.job_id,
		    updated_at = now()
		RETURNING (xmax = 0) AS created`,
		lead.ID, lead.OwnerID, lead.Profile.Username, lead.Profile.FullName, lead.Profile.Biography,
		lead.Profile.ExternalURL, lead.Profile.FollowerCount, lead.Profile.FollowingCount,
		lead.Profile.MediaCount, lead.Profile.IsPrivate, lead.Profile.IsVerified,
		lead.Profile.Category, lead.Qualified, lead.UnqualifiedReason, seeds, lead.JobID).Scan(&created)
	if err != nil {
		return false, eris.Wrapf(err, "store: upsert lead %s", lead.Profile.Username)
	}
	return created, nil
}

const leadColumns = `id, owner_id, username, full_name, biography, external_url,
	follower_count, following_count, media_count, is_private, is_verified,
	category, qualified, unqualified_reason, seeds, job_id, created_at, updated_at`

func (s *PostgresStore) ListLeads(ctx context.Context, ownerID string) ([]*model.Lead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID)
	if err != nil {
		return nil, eris.Wrap(err, "store: list leads")
	}
	defer rows.Close()

	var leads []*model.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan lead")
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

func (s *PostgresStore) ProcessedUsernames(ctx context.Context, ownerID string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT username FROM leads WHERE owner_id = $1 AND qualified IS NOT NULL`,
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

func (s *PostgresStore) CreateCredential(ctx context.Context, cred *model.CredentialToken) error {
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	if cred.Status == "" {
		cred.Status = model.CredentialActive
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO credentials (id, owner_id, value, status) VALUES ($1, $2, $3, $4)`,
		cred.ID, cred.OwnerID, cred.Value, string(cred.Status))
	if err != nil {
		return eris.Wrapf(err, "store: create credential %s", cred.ID)
	}
	return nil
}

func (s *PostgresStore) ListCredentials(ctx context.Context, ownerID string) ([]*model.CredentialToken, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, value, status, use_count, last_used_at, last_error, created_at
		FROM credentials WHERE owner_id = $1 ORDER BY created_at ASC`,
		ownerID)
	if err != nil {
		return nil, eris.Wrap(err, "store: list credentials")
	}
	defer rows.Close()

	var creds []*model.CredentialToken
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan credential")
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// AcquireCredential picks the least recently used active credential for the
// owner and bumps its usage in the same statement, so concurrent runs never
// pick the same token ahead of each other.
func (s *PostgresStore) AcquireCredential(ctx context.Context, ownerID string) (*model.CredentialToken, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE credentials
		SET use_count = use_count + 1, last_used_at = now()
		WHERE id = (
		    SELECT id FROM credentials
		    WHERE owner_id = $1 AND status = 'active'
		    ORDER BY last_used_at ASC NULLS FIRST, created_at ASC
		    LIMIT 1
		    FOR UPDATE SKIP LOCKED
		)
		RETURNING id, owner_id, value, status, use_count, last_used_at, last_error, created_at`,
		ownerID)
	cred, err := scanCredential(row)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoActiveCredential
		}
		return nil, eris.Wrap(err, "store: acquire credential")
	}
	return cred, nil
}

func (s *PostgresStore) MarkCredentialLimited(ctx context.Context, id, lastError string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE credentials SET status = 'limit_reached', last_error = $2 WHERE id = $1`,
		id, lastError)
	if err != nil {
		return eris.Wrapf(err, "store: mark credential %s limited", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		job                 model.Job
		status              string
		cfg, stats, cpBytes []byte
	)
	err := row.Scan(&job.ID, &job.OwnerID, &status, &cfg, &stats, &cpBytes,
		&job.CurrentRunID, &job.LastError, &job.StartedAt, &job.CompletedAt,
		&job.NextRunAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Status = model.JobStatus(status)
	if err := json.Unmarshal(cfg, &job.Config); err != nil {
		return nil, eris.Wrap(err, "unmarshal job config")
	}
	if err := json.Unmarshal(stats, &job.Stats); err != nil {
		return nil, eris.Wrap(err, "unmarshal job stats")
	}
	if err := json.Unmarshal(cpBytes, &job.Checkpoint); err != nil {
		return nil, eris.Wrap(err, "unmarshal job checkpoint")
	}
	return &job, nil
}

func collectJobs(rows pgxRows) ([]*model.Job, error) {
	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type pgxRows interface {
	rowScanner
	Next() bool
	Err() error
}

func scanLead(row rowScanner) (*model.Lead, error) {
	var (
		lead   model.Lead
		reason string
		seeds  []byte
	)
	err := row.Scan(&lead.ID, &lead.OwnerID, &lead.Profile.Username, &lead.Profile.FullName,
		&lead.Profile.Biography, &lead.Profile.ExternalURL, &lead.Profile.FollowerCount,
		&lead.Profile.FollowingCount, &lead.Profile.MediaCount, &lead.Profile.IsPrivate,
		&lead.Profile.IsVerified, &lead.Profile.Category, &lead.Qualified, &reason,
		&seeds, &lead.JobID, &lead.CreatedAt, &lead.UpdatedAt)
	if err != nil {
		return nil, err
	}
	lead.UnqualifiedReason = reason
	if err := json.Unmarshal(seeds, &lead.Seeds); err != nil {
		return nil, eris.Wrap(err, "unmarshal lead seeds")
	}
	return &lead, nil
}

func scanCredential(row rowScanner) (*model.CredentialToken, error) {
	var (
		cred   model.CredentialToken
		status string
	)
	err := row.Scan(&cred.ID, &cred.OwnerID, &cred.Value, &status, &cred.UseCount,
		&cred.LastUsedAt, &cred.LastError, &cred.CreatedAt)
	if err != nil {
		return nil, err
	}
	cred.Status = model.CredentialStatus(status)
	return &cred, nil
}

func marshalJobBlobs(job *model.Job) (cfg, stats, cp []byte, err error) {
	if cfg, err = json.Marshal(job.Config); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal job config")
	}
	if stats, err = json.Marshal(job.Stats); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal job stats")
	}
	if cp, err = json.Marshal(job.Checkpoint); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal job checkpoint")
	}
	return cfg, stats, cp, nil
}

func nonNilSeeds(seeds []string) []string {
	if seeds == nil {
		return []string{}
	}
	return seeds
}
