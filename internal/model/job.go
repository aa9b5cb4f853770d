package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// JobStatus tracks a job through the pipeline state machine.
type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusDiscovering JobStatus = "discovering"
	JobStatusHarvesting  JobStatus = "harvesting"
	JobStatusEnriching   JobStatus = "enriching"
	JobStatusQualifying  JobStatus = "qualifying"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
	JobStatusCancelled   JobStatus = "cancelled"
	JobStatusPaused      JobStatus = "paused"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Resumable reports whether a job in this status may be (re)started.
// Cancelled is terminal by policy; completed jobs are re-run by creating
// a new job, not by resuming.
func (s JobStatus) Resumable() bool {
	switch s {
	case JobStatusPending, JobStatusPaused, JobStatusFailed:
		return true
	}
	return false
}

// Running reports whether the status indicates an orchestrator owns the job.
func (s JobStatus) Running() bool {
	switch s {
	case JobStatusDiscovering, JobStatusHarvesting, JobStatusEnriching, JobStatusQualifying:
		return true
	}
	return false
}

// Deletable reports whether the job may be removed from the store. Only
// terminal and paused jobs qualify; a pending job belongs to an orchestrator
// that may pick it up at any moment.
func (s JobStatus) Deletable() bool {
	return s.Terminal() || s == JobStatusPaused
}

// JobConfig is the operator-supplied configuration for one job.
type JobConfig struct {
	Seeds          []string `json:"seeds"`
	PostLimit      int      `json:"post_limit"`
	CommentLimit   int      `json:"comment_limit"`
	MinFollowers   int      `json:"min_followers"`
	ForceReprocess bool     `json:"force_reprocess"`
	QualifyPrompt  string   `json:"qualify_prompt,omitempty"`
	Recurring      bool     `json:"recurring"`
	IntervalHours  int      `json:"interval_hours,omitempty"`
}

// JobStats holds the per-run counters. All counters are monotonically
// non-decreasing within a run and reset only when the operator creates
// a new job.
type JobStats struct {
	PostsDiscovered   int `json:"posts_discovered"`
	CommentsHarvested int `json:"comments_harvested"`
	UniqueCommenters  int `json:"unique_commenters"`
	ProfilesEnriched  int `json:"profiles_enriched"`
	FilteredLowReach  int `json:"filtered_low_reach"`
	SentToQualifier   int `json:"sent_to_qualifier"`
	Qualified         int `json:"qualified"`
	Rejected          int `json:"rejected"`
	SkippedExisting   int `json:"skipped_existing"`
	LeadsCreated      int `json:"leads_created"`
	LeadsUpdated      int `json:"leads_updated"`
}

// Checkpoint is the persisted progress marker that makes a job resumable.
// PostURLs and PostSeeds are parallel sequences: PostSeeds[i] names the seed
// that produced PostURLs[i]. ProcessedUpTo is the cursor into those sequences
// marking full pipeline completion for everything before it. HarvestSkipped
// records that the operator elected to end the harvest and enrichment stages
// early via skip-remaining.
type Checkpoint struct {
	PostURLs       []string `json:"post_urls"`
	PostSeeds      []string `json:"post_seeds"`
	ProcessedUpTo  int      `json:"processed_up_to"`
	SeenUsernames  []string `json:"seen_usernames"`
	HarvestSkipped bool     `json:"harvest_skipped"`
}

// Validate checks the checkpoint invariants: parallel sequences of equal
// length and a cursor within [0, len].
func (c *Checkpoint) Validate() error {
	if len(c.PostURLs) != len(c.PostSeeds) {
		return eris.Errorf("checkpoint: %d post urls but %d seed attributions", len(c.PostURLs), len(c.PostSeeds))
	}
	if c.ProcessedUpTo < 0 || c.ProcessedUpTo > len(c.PostURLs) {
		return eris.Errorf("checkpoint: cursor %d out of range [0, %d]", c.ProcessedUpTo, len(c.PostURLs))
	}
	return nil
}

// SeedDiscovered reports whether any recorded item is attributed to seed.
func (c *Checkpoint) SeedDiscovered(seed string) bool {
	for _, s := range c.PostSeeds {
		if s == seed {
			return true
		}
	}
	return false
}

// Append records a discovered item and its originating seed, keeping the
// parallel sequences in lockstep.
func (c *Checkpoint) Append(postURL, seed string) {
	c.PostURLs = append(c.PostURLs, postURL)
	c.PostSeeds = append(c.PostSeeds, seed)
}

// Job is one configured run of the pipeline against a set of seeds.
type Job struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Status       JobStatus  `json:"status"`
	Config       JobConfig  `json:"config"`
	Stats        JobStats   `json:"stats"`
	Checkpoint   Checkpoint `json:"checkpoint"`
	CurrentRunID string     `json:"current_run_id,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NextRun computes the next scheduled run for a recurring job completed at t.
// Returns nil when the job does not recur.
func (j *Job) NextRun(t time.Time) *time.Time {
	if !j.Config.Recurring || j.Config.IntervalHours <= 0 {
		return nil
	}
	next := t.Add(time.Duration(j.Config.IntervalHours) * time.Hour)
	return &next
}
