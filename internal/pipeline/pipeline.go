package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scoutline/leadharvest/internal/control"
	"github.com/scoutline/leadharvest/internal/credentials"
	"github.com/scoutline/leadharvest/internal/leads"
	"github.com/scoutline/leadharvest/internal/model"
	"github.com/scoutline/leadharvest/internal/notify"
	"github.com/scoutline/leadharvest/internal/qualify"
	"github.com/scoutline/leadharvest/internal/store"
	"github.com/scoutline/leadharvest/pkg/apify"
)

// Config tunes one pipeline instance. Actor IDs name the task-service actors
// that implement each stage.
type Config struct {
	DiscoveryActor  string
	HarvestActor    string
	EnrichActor     string
	RunMemoryMB     int
	EnrichBatchSize int
	PersistEvery    int
	PollOptions     []apify.PollOption
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.EnrichBatchSize <= 0 {
		out.EnrichBatchSize = 50
	}
	if out.PersistEvery <= 0 {
		out.PersistEvery = 10
	}
	if out.RunMemoryMB <= 0 {
		out.RunMemoryMB = 1024
	}
	return out
}

// Pipeline drives one job through discovery, harvest, enrichment, and
// qualification, checkpointing as it goes so a paused or failed job resumes
// where it stopped.
type Pipeline struct {
	store      store.Store
	tasks      apify.Client
	creds      *credentials.Pool
	qualifier  qualify.Qualifier
	registry   *control.Registry
	notifier   notify.Notifier
	reconciler *leads.Reconciler
	cfg        Config
}

func New(
	st store.Store,
	tasks apify.Client,
	creds *credentials.Pool,
	qualifier qualify.Qualifier,
	registry *control.Registry,
	notifier notify.Notifier,
	cfg Config,
) *Pipeline {
	return &Pipeline{
		store:      st,
		tasks:      tasks,
		creds:      creds,
		qualifier:  qualifier,
		registry:   registry,
		notifier:   notifier,
		reconciler: leads.NewReconciler(st),
		cfg:        cfg.withDefaults(),
	}
}

// run is the mutable state of one Run invocation. The checkpoint inside job
// is the single source of truth for progress; seen mirrors its username list
// as a set for O(1) membership checks.
type run struct {
	job       *model.Job
	seen      map[string]struct{}
	processed map[string]struct{}
}

// Run executes the job to completion or to its first stopping condition.
// Operator stops (cancel, pause, skip-remaining) and credential exhaustion
// are recorded as job status and return nil; only genuine failures return an
// error, with the job marked failed.
func (p *Pipeline) Run(ctx context.Context, jobID string) error {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "pipeline: load job %s", jobID)
	}
	if !job.Status.Resumable() {
		return eris.Errorf("pipeline: job %s is %s, not runnable", jobID, job.Status)
	}
	if err := job.Checkpoint.Validate(); err != nil {
		p.setStatus(ctx, job, model.JobStatusFailed, err.Error())
		return eris.Wrapf(err, "pipeline: job %s has a corrupt checkpoint", jobID)
	}
	if !p.registry.Register(jobID) {
		return eris.Errorf("pipeline: job %s is already running", jobID)
	}
	defer p.registry.Unregister(jobID)

	startStatus := model.JobStatusDiscovering
	if len(job.Checkpoint.PostURLs) > 0 && p.seedsDiscovered(job) {
		startStatus = model.JobStatusHarvesting
	}
	if err := p.store.MarkJobStarted(ctx, jobID, startStatus); err != nil {
		return eris.Wrapf(err, "pipeline: start job %s", jobID)
	}
	job.Status = startStatus
	p.notifyStatus(job)

	zap.L().Info("pipeline run starting",
		zap.String("job_id", jobID),
		zap.String("owner_id", job.OwnerID),
		zap.Int("checkpoint_posts", len(job.Checkpoint.PostURLs)),
		zap.Int("checkpoint_cursor", job.Checkpoint.ProcessedUpTo))

	r := &run{job: job, seen: make(map[string]struct{})}
	for _, u := range job.Checkpoint.SeenUsernames {
		r.seen[u] = struct{}{}
	}

	err = p.execute(ctx, r)
	return p.finish(ctx, r, err)
}

// finish translates the execute outcome into a final job status.
func (p *Pipeline) finish(ctx context.Context, r *run, err error) error {
	// Status writes must land even when the run context is gone.
	ctx = context.WithoutCancel(ctx)
	job := r.job

	switch {
	case err == nil:
		next := job.NextRun(time.Now())
		if cerr := p.store.CompleteJob(ctx, job.ID, job.Stats, next); cerr != nil {
			return eris.Wrapf(cerr, "pipeline: complete job %s", job.ID)
		}
		job.Status = model.JobStatusCompleted
		p.notifyStatus(job)
		zap.L().Info("pipeline run completed",
			zap.String("job_id", job.ID),
			zap.Int("leads_created", job.Stats.LeadsCreated),
			zap.Int("leads_updated", job.Stats.LeadsUpdated))
		return nil

	case eris.Is(err, errCancelled):
		p.setStatus(ctx, job, model.JobStatusCancelled, "")
		zap.L().Info("pipeline run cancelled", zap.String("job_id", job.ID))
		return nil

	case eris.Is(err, errPaused), eris.Is(err, credentials.ErrExhausted),
		eris.Is(err, context.Canceled), eris.Is(err, context.DeadlineExceeded):
		p.setStatus(ctx, job, model.JobStatusPaused, pauseReason(err))
		zap.L().Info("pipeline run paused",
			zap.String("job_id", job.ID),
			zap.String("reason", pauseReason(err)))
		return nil

	default:
		p.setStatus(ctx, job, model.JobStatusFailed, err.Error())
		zap.L().Error("pipeline run failed",
			zap.String("job_id", job.ID),
			zap.Error(err))
		return err
	}
}

func pauseReason(err error) string {
	switch {
	case eris.Is(err, credentials.ErrExhausted):
		return "credential pool exhausted"
	case eris.Is(err, context.Canceled), eris.Is(err, context.DeadlineExceeded):
		return "interrupted"
	default:
		return ""
	}
}

func (p *Pipeline) execute(ctx context.Context, r *run) error {
	if err := p.loadProcessed(ctx, r); err != nil {
		return err
	}
	if err := p.discover(ctx, r); err != nil {
		return err
	}
	err := p.processItems(ctx, r)
	if eris.Is(err, errSkipRemaining) {
		r.job.Checkpoint.HarvestSkipped = true
		if serr := p.saveCheckpoint(ctx, r); serr != nil {
			return serr
		}
		zap.L().Info("skipping remaining items",
			zap.String("job_id", r.job.ID),
			zap.Int("cursor", r.job.Checkpoint.ProcessedUpTo),
			zap.Int("total", len(r.job.Checkpoint.PostURLs)))
		return nil
	}
	return err
}

// loadProcessed pulls the set of contributors that already carry a verdict
// so reruns skip them. ForceReprocess leaves the set empty.
func (p *Pipeline) loadProcessed(ctx context.Context, r *run) error {
	if r.job.Config.ForceReprocess {
		r.processed = make(map[string]struct{})
		return nil
	}
	processed, err := p.store.ProcessedUsernames(ctx, r.job.OwnerID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load processed contributors")
	}
	r.processed = processed
	return nil
}

// checkSignal folds operator signals into the control-flow sentinels. A dead
// context surfaces as its own error; finish translates it to paused so a
// dying process leaves the job resumable.
func (p *Pipeline) checkSignal(ctx context.Context, r *run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch p.registry.Check(r.job.ID) {
	case control.SignalCancel:
		return errCancelled
	case control.SignalPause:
		return errPaused
	case control.SignalSkipRemaining:
		return errSkipRemaining
	}
	return nil
}

// setStatus writes the status transition and emits the status event. Errors
// are logged, not returned: by the time we are writing a side-exit status
// there is nothing better to do with a failing write.
func (p *Pipeline) setStatus(ctx context.Context, job *model.Job, status model.JobStatus, lastError string) {
	if err := p.store.UpdateJobStatus(ctx, job.ID, status, lastError); err != nil {
		zap.L().Error("failed to update job status",
			zap.String("job_id", job.ID),
			zap.String("status", string(status)),
			zap.Error(err))
		return
	}
	job.Status = status
	job.LastError = lastError
	p.notifyStatus(job)
}

func (p *Pipeline) notifyStatus(job *model.Job) {
	p.notifier.Notify(job.OwnerID, job.ID, notify.KindStatus, map[string]any{
		"status":     string(job.Status),
		"last_error": job.LastError,
	})
}

func (p *Pipeline) notifyProgress(job *model.Job) {
	p.notifier.Notify(job.OwnerID, job.ID, notify.KindProgress, map[string]any{
		"cursor":             job.Checkpoint.ProcessedUpTo,
		"total":              len(job.Checkpoint.PostURLs),
		"comments_harvested": job.Stats.CommentsHarvested,
		"leads_created":      job.Stats.LeadsCreated,
		"leads_updated":      job.Stats.LeadsUpdated,
	})
}

// saveCheckpoint persists the checkpoint and counters atomically.
func (p *Pipeline) saveCheckpoint(ctx context.Context, r *run) error {
	if err := p.store.SaveCheckpoint(ctx, r.job.ID, r.job.Checkpoint, r.job.Stats); err != nil {
		return eris.Wrap(err, "pipeline: save checkpoint")
	}
	return nil
}

func (p *Pipeline) seedsDiscovered(job *model.Job) bool {
	for _, seed := range job.Config.Seeds {
		if !job.Checkpoint.SeedDiscovered(seed) {
			return false
		}
	}
	return true
}

// runActor starts an actor run, waits for a terminal status, and fetches
// whatever the run produced. Rate limits are handled by credential rotation
// in the pool; a run that finishes unsuccessfully still yields its partial
// results.
func (p *Pipeline) runActor(ctx context.Context, r *run, actorID string, input map[string]any) ([]json.RawMessage, error) {
	var items []json.RawMessage
	err := p.creds.WithToken(ctx, r.job.OwnerID, func(cred *model.CredentialToken) error {
		taskRun, err := p.tasks.StartRun(ctx, cred.Value, apify.RunRequest{
			ActorID:  actorID,
			Input:    input,
			MemoryMB: p.cfg.RunMemoryMB,
		})
		if err != nil {
			return err
		}
		if serr := p.store.SetCurrentRun(ctx, r.job.ID, taskRun.ID); serr != nil {
			zap.L().Warn("failed to record current run", zap.String("job_id", r.job.ID), zap.Error(serr))
		}

		finished, err := apify.WaitForRun(ctx, p.tasks, cred.Value, taskRun.ID, p.cfg.PollOptions...)
		if err != nil {
			p.abortInFlight(ctx, cred.Value, taskRun.ID)
			p.clearCurrentRun(ctx, r.job.ID)
			return err
		}
		if !finished.Succeeded() {
			zap.L().Warn("actor run finished unsuccessfully, collecting partial results",
				zap.String("job_id", r.job.ID),
				zap.String("actor_id", actorID),
				zap.String("run_id", taskRun.ID),
				zap.String("run_status", finished.Status))
		}
		items = apify.CollectItems(ctx, p.tasks, cred.Value, finished.DefaultDatasetID)

		p.clearCurrentRun(ctx, r.job.ID)
		return nil
	})
	return items, err
}

// abortInFlight tells the task service to stop a run we will not wait for.
// Uses a detached context so the abort still goes out when ours is dead.
func (p *Pipeline) abortInFlight(ctx context.Context, token, runID string) {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := p.tasks.AbortRun(abortCtx, token, runID); err != nil {
		zap.L().Warn("failed to abort in-flight run",
			zap.String("run_id", runID),
			zap.Error(err))
	}
}

// clearCurrentRun drops the in-flight run marker. Detached from the caller's
// context so the marker still clears while shutting down.
func (p *Pipeline) clearCurrentRun(ctx context.Context, jobID string) {
	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.store.SetCurrentRun(clearCtx, jobID, ""); err != nil {
		zap.L().Warn("failed to clear current run", zap.String("job_id", jobID), zap.Error(err))
	}
}
