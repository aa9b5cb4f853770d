package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/scoutline/leadharvest/internal/model"
)

var (
	// ErrNotFound is returned when a job, lead, or credential does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrNoActiveCredential is returned when every credential for an owner is
	// limited or disabled.
	ErrNoActiveCredential = eris.New("store: no active credential")
	// ErrJobNotRunnable is returned when a start is attempted on a job that is
	// already running or finished.
	ErrJobNotRunnable = eris.New("store: job is not runnable")
	// ErrJobNotDeletable is returned when a delete is attempted on a running job.
	ErrJobNotDeletable = eris.New("store: job is not deletable")
)

// Store is the persistence boundary for jobs, harvested content, leads, and
// credentials. Both the Postgres and SQLite implementations satisfy it.
type Store interface {
	// Jobs.
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, ownerID string) ([]*model.Job, error)
	DueJobs(ctx context.Context, now time.Time) ([]*model.Job, error)
	MarkJobStarted(ctx context.Context, id string, status model.JobStatus) error
	UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, lastError string) error
	SetCurrentRun(ctx context.Context, id, runID string) error
	SaveCheckpoint(ctx context.Context, id string, cp model.Checkpoint, stats model.JobStats) error
	CompleteJob(ctx context.Context, id string, stats model.JobStats, nextRunAt *time.Time) error
	DeleteJob(ctx context.Context, id string) error

	// Harvested content.
	UpsertPost(ctx context.Context, post *model.Post) error
	InsertComments(ctx context.Context, comments []model.Comment) (int64, error)

	// Leads.
	UpsertLead(ctx context.Context, lead *model.Lead) (created bool, err error)
	ListLeads(ctx context.Context, ownerID string) ([]*model.Lead, error)
	ProcessedUsernames(ctx context.Context, ownerID string) (map[string]struct{}, error)

	// Credentials.
	CreateCredential(ctx context.Context, cred *model.CredentialToken) error
	ListCredentials(ctx context.Context, ownerID string) ([]*model.CredentialToken, error)
	AcquireCredential(ctx context.Context, ownerID string) (*model.CredentialToken, error)
	MarkCredentialLimited(ctx context.Context, id, lastError string) error

	Migrate(ctx context.Context) error
	Close() error
}
