package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/scoutline/leadharvest/internal/model"
	"github.com/scoutline/leadharvest/pkg/apify"
)

// scriptStandardScenario wires the fakes for the canonical two-post run:
// posts AAA and BBB under seed "fitness"; alice comments twice on AAA, bob
// comments on both posts, carol comments on BBB. Alice is a coach with
// reach, bob is under the reach floor, carol has reach but no coaching bio.
func scriptStandardScenario(t *testing.T, env *testEnv) {
	t.Helper()
	env.tasks.respond(testDiscoveryActor,
		postJSON(t, "AAA", "https://www.instagram.com/p/AAA/", 3),
		postJSON(t, "BBB", "https://www.instagram.com/p/BBB/", 2),
	)
	env.tasks.handle(testHarvestActor, func(call actorCall) ([]json.RawMessage, string, error) {
		urls, _ := call.Input["directUrls"].([]string)
		require.Len(t, urls, 1)
		switch {
		case strings.Contains(urls[0], "/p/AAA/"):
			return []json.RawMessage{
				commentJSON(t, "c1", "alice", "love this"),
				commentJSON(t, "c2", "bob", "nice"),
				commentJSON(t, "c3", "alice", "following"),
			}, apify.StatusSucceeded, nil
		default:
			return []json.RawMessage{
				commentJSON(t, "c4", "carol", "great"),
				commentJSON(t, "c5", "bob", "again"),
			}, apify.StatusSucceeded, nil
		}
	})
	env.tasks.handle(testEnrichActor, func(call actorCall) ([]json.RawMessage, string, error) {
		usernames, _ := call.Input["usernames"].([]string)
		fixtures := map[string]json.RawMessage{
			"alice": profileJSON(t, "alice", 5000, "certified fitness coach"),
			"bob":   profileJSON(t, "bob", 500, "gym fan"),
			"carol": profileJSON(t, "carol", 2000, "landscape painter"),
		}
		var items []json.RawMessage
		for _, u := range usernames {
			if item, ok := fixtures[u]; ok {
				items = append(items, item)
			}
		}
		return items, apify.StatusSucceeded, nil
	})
	env.qualifier.fn = func(bio, prompt string) (string, error) {
		if strings.Contains(bio, "coach") {
			return "Qualified", nil
		}
		return "Unqualified", nil
	}
}

func standardConfig() model.JobConfig {
	return model.JobConfig{
		Seeds:         []string{"fitness"},
		PostLimit:     5,
		CommentLimit:  50,
		MinFollowers:  1000,
		QualifyPrompt: "Is this account a fitness coach?",
	}
}

func TestRunFullScenario(t *testing.T) {
	env := newTestEnv(t)
	scriptStandardScenario(t, env)
	job := env.createJob(t, standardConfig())

	require.NoError(t, env.pipe.Run(context.Background(), job.ID))

	got := env.reload(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.CurrentRunID)
	assert.NoError(t, got.Checkpoint.Validate())
	assert.Equal(t, 2, got.Checkpoint.ProcessedUpTo)
	assert.False(t, env.registry.IsRunning(job.ID))

	stats := got.Stats
	assert.Equal(t, 2, stats.PostsDiscovered)
	assert.Equal(t, 5, stats.CommentsHarvested)
	assert.Equal(t, 3, stats.UniqueCommenters)
	assert.Equal(t, 3, stats.ProfilesEnriched)
	assert.Equal(t, 1, stats.FilteredLowReach)
	assert.Equal(t, 2, stats.SentToQualifier)
	assert.Equal(t, 1, stats.Qualified)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 0, stats.SkippedExisting)
	assert.Equal(t, 3, stats.LeadsCreated)
	assert.Equal(t, 0, stats.LeadsUpdated)

	leads, err := env.store.ListLeads(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Len(t, leads, 3)
	byName := make(map[string]*model.Lead)
	for _, l := range leads {
		byName[l.Profile.Username] = l
	}
	require.NotNil(t, byName["alice"].Qualified)
	assert.True(t, *byName["alice"].Qualified)
	require.NotNil(t, byName["bob"].Qualified)
	assert.False(t, *byName["bob"].Qualified)
	assert.Equal(t, model.ReasonLowReach, byName["bob"].UnqualifiedReason)
	require.NotNil(t, byName["carol"].Qualified)
	assert.False(t, *byName["carol"].Qualified)
	assert.Equal(t, model.ReasonAIRejected, byName["carol"].UnqualifiedReason)
	assert.Equal(t, []string{"fitness"}, byName["alice"].Seeds)
}

func TestSecondJobSkipsProcessedContributors(t *testing.T) {
	env := newTestEnv(t)
	scriptStandardScenario(t, env)

	first := env.createJob(t, standardConfig())
	require.NoError(t, env.pipe.Run(context.Background(), first.ID))
	enrichCalls := env.tasks.callCount(testEnrichActor)

	second := env.createJob(t, standardConfig())
	require.NoError(t, env.pipe.Run(context.Background(), second.ID))

	got := env.reload(t, second.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 3, got.Stats.UniqueCommenters)
	assert.Equal(t, 3, got.Stats.SkippedExisting)
	assert.Equal(t, 0, got.Stats.ProfilesEnriched)
	assert.Equal(t, 0, got.Stats.LeadsCreated)
	// No newcomer means the enrichment actor never runs again.
	assert.Equal(t, enrichCalls, env.tasks.callCount(testEnrichActor))
}

func TestForceReprocessRequalifiesEveryone(t *testing.T) {
	env := newTestEnv(t)
	scriptStandardScenario(t, env)

	first := env.createJob(t, standardConfig())
	require.NoError(t, env.pipe.Run(context.Background(), first.ID))

	cfg := standardConfig()
	cfg.ForceReprocess = true
	second := env.createJob(t, cfg)
	require.NoError(t, env.pipe.Run(context.Background(), second.ID))

	got := env.reload(t, second.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 0, got.Stats.SkippedExisting)
	assert.Equal(t, 3, got.Stats.ProfilesEnriched)
	assert.Equal(t, 0, got.Stats.LeadsCreated)
	assert.Equal(t, 3, got.Stats.LeadsUpdated)
}

func TestPauseAndResumeMatchesSingleRun(t *testing.T) {
	env := newTestEnv(t)
	scriptStandardScenario(t, env)
	job := env.createJob(t, standardConfig())

	// Pause is raised during the first item's harvest and observed at the
	// yield point before its enrichment run starts, so the item does not
	// commit and no enrichment is ever requested.
	base := env.tasks.handlers[testHarvestActor]
	env.tasks.handle(testHarvestActor, func(call actorCall) ([]json.RawMessage, string, error) {
		env.registry.RequestPause(job.ID)
		return base(call)
	})

	require.NoError(t, env.pipe.Run(context.Background(), job.ID))
	paused := env.reload(t, job.ID)
	assert.Equal(t, model.JobStatusPaused, paused.Status)
	assert.Equal(t, 0, paused.Checkpoint.ProcessedUpTo)
	assert.NoError(t, paused.Checkpoint.Validate())
	assert.Empty(t, paused.Checkpoint.SeenUsernames)
	assert.Zero(t, env.tasks.callCount(testEnrichActor))

	// Resume without the pause trigger.
	env.tasks.handle(testHarvestActor, func(call actorCall) ([]json.RawMessage, string, error) {
		return base(call)
	})
	require.NoError(t, env.pipe.Run(context.Background(), job.ID))

	got := env.reload(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Checkpoint.ProcessedUpTo)

	// Counters across pause+resume equal the uninterrupted run.
	stats := got.Stats
	assert.Equal(t, 2, stats.PostsDiscovered)
	assert.Equal(t, 5, stats.CommentsHarvested)
	assert.Equal(t, 3, stats.UniqueCommenters)
	assert.Equal(t, 3, stats.ProfilesEnriched)
	assert.Equal(t, 3, stats.LeadsCreated)

	// Discovery ran once: the checkpoint already attributed the seed.
	assert.Equal(t, 1, env.tasks.callCount(testDiscoveryActor))

	leads, err := env.store.ListLeads(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Len(t, leads, 3)
}

func TestCancelStopsWithoutError(t *testing.T) {
	env := newTestEnv(t)
	scriptStandardScenario(t, env)
	job := env.createJob(t, standardConfig())

	base := env.tasks.handlers[testHarvestActor]
	env.tasks.handle(testHarvestActor, func(call actorCall) ([]json.RawMessage, string, error) {
		env.registry.RequestCancel(job.ID)
		return base(call)
	})

	require.NoError(t, env.pipe.Run(context.Background(), job.ID))
	got := env.reload(t, job.ID)
	assert.Equal(t, model.JobStatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)
	// Observed before the enrichment run starts.
	assert.Zero(t, env.tasks.callCount(testEnrichActor))

	// Cancelled is terminal: the job cannot be restarted.
	err := env.pipe.Run(context.Background(), job.ID)
	assert.Error(t, err)
}

func TestSkipRemainingCompletesEarly(t *testing.T) {
	env := newTestEnv(t)
	scriptStandardScenario(t, env)
	job := env.createJob(t, standardConfig())

	base := env.tasks.handlers[testHarvestActor]
	env.tasks.handle(testHarvestActor, func(call actorCall) ([]json.RawMessage, string, error) {
		env.registry.RequestSkipRemaining(job.ID)
		return base(call)
	})

	require.NoError(t, env.pipe.Run(context.Background(), job.ID))
	got := env.reload(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	// The in-flight item never commits and the operator skip is persisted.
	assert.Equal(t, 0, got.Checkpoint.ProcessedUpTo)
	assert.True(t, got.Checkpoint.HarvestSkipped)
	assert.Equal(t, 3, got.Stats.CommentsHarvested)
	assert.Zero(t, env.tasks.callCount(testEnrichActor))
}

func TestCredentialExhaustionPausesJob(t *testing.T) {
	env := newTestEnv(t)
	env.tasks.handle(testDiscoveryActor, func(actorCall) ([]json.RawMessage, string, error) {
		return nil, "", &apify.RateLimitError{StatusCode: 429, Body: "monthly usage hard limit exceeded"}
	})
	job := env.createJob(t, standardConfig())

	require.NoError(t, env.pipe.Run(context.Background(), job.ID))
	got := env.reload(t, job.ID)
	assert.Equal(t, model.JobStatusPaused, got.Status)
	assert.Equal(t, "credential pool exhausted", got.LastError)

	creds, err := env.store.ListCredentials(context.Background(), "owner-1")
	require.NoError(t, err)
	for _, c := range creds {
		assert.Equal(t, model.CredentialLimitReached, c.Status)
	}
	// Two credentials, both burned, no third start attempted.
	assert.Equal(t, 2, env.tasks.callCount(testDiscoveryActor))
}

func TestRateLimitRotatesMidJob(t *testing.T) {
	env := newTestEnv(t)
	scriptStandardScenario(t, env)
	base := env.tasks.handlers[testHarvestActor]
	var limitedToken string
	env.tasks.handle(testHarvestActor, func(call actorCall) ([]json.RawMessage, string, error) {
		if limitedToken == "" {
			limitedToken = call.Token
			return nil, "", &apify.RateLimitError{StatusCode: 429}
		}
		return base(call)
	})
	job := env.createJob(t, standardConfig())

	require.NoError(t, env.pipe.Run(context.Background(), job.ID))
	got := env.reload(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 3, got.Stats.LeadsCreated)

	require.NotEmpty(t, limitedToken)
	creds, err := env.store.ListCredentials(context.Background(), "owner-1")
	require.NoError(t, err)
	statuses := map[string]model.CredentialStatus{}
	for _, c := range creds {
		statuses[c.Value] = c.Status
	}
	assert.Equal(t, model.CredentialLimitReached, statuses[limitedToken])
	// The other credential keeps working.
	active := 0
	for _, status := range statuses {
		if status == model.CredentialActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestQualifierFailureLeavesVerdictUnknown(t *testing.T) {
	env := newTestEnv(t)
	scriptStandardScenario(t, env)
	env.qualifier.fn = func(bio, prompt string) (string, error) {
		if strings.Contains(bio, "painter") {
			return "", eris.New("model overloaded")
		}
		return "Qualified", nil
	}
	job := env.createJob(t, standardConfig())

	require.NoError(t, env.pipe.Run(context.Background(), job.ID))
	got := env.reload(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Stats.SentToQualifier)
	assert.Equal(t, 1, got.Stats.Qualified)
	assert.Equal(t, 0, got.Stats.Rejected)
	assert.Equal(t, 3, got.Stats.LeadsCreated)

	leads, err := env.store.ListLeads(context.Background(), "owner-1")
	require.NoError(t, err)
	var carol *model.Lead
	for _, l := range leads {
		if l.Profile.Username == "carol" {
			carol = l
		}
	}
	require.NotNil(t, carol)
	assert.Nil(t, carol.Qualified)

	// Unknown verdicts are re-attempted by the next job.
	seen, err := env.store.ProcessedUsernames(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.NotContains(t, seen, "carol")
}

func TestFailedRunStillYieldsPartialResults(t *testing.T) {
	env := newTestEnv(t)
	scriptStandardScenario(t, env)
	base := env.tasks.handlers[testHarvestActor]
	env.tasks.handle(testHarvestActor, func(call actorCall) ([]json.RawMessage, string, error) {
		items, _, err := base(call)
		return items, apify.StatusFailed, err
	})
	job := env.createJob(t, standardConfig())

	require.NoError(t, env.pipe.Run(context.Background(), job.ID))
	got := env.reload(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 5, got.Stats.CommentsHarvested)
}

func TestLostRunAbortedAndJobFails(t *testing.T) {
	env := newTestEnv(t)
	scriptStandardScenario(t, env)
	env.tasks.handle(testHarvestActor, func(call actorCall) ([]json.RawMessage, string, error) {
		return nil, statusLost, nil
	})
	job := env.createJob(t, standardConfig())

	err := env.pipe.Run(context.Background(), job.ID)
	require.Error(t, err)

	got := env.reload(t, job.ID)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.NotEmpty(t, got.LastError)
	// The remote run is aborted best-effort and the marker cleared even
	// though the context is still live.
	assert.Empty(t, got.CurrentRunID)
	require.Len(t, env.tasks.abortedRuns(), 1)
	assert.Equal(t, "run-2", env.tasks.abortedRuns()[0])
}

func TestEmptyHarvestSkipsItem(t *testing.T) {
	env := newTestEnv(t)
	scriptStandardScenario(t, env)
	env.tasks.handle(testHarvestActor, func(call actorCall) ([]json.RawMessage, string, error) {
		return nil, apify.StatusFailed, nil
	})
	job := env.createJob(t, standardConfig())

	require.NoError(t, env.pipe.Run(context.Background(), job.ID))
	got := env.reload(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Checkpoint.ProcessedUpTo)
	// A lossy item advances the cursor without marking an operator skip.
	assert.False(t, got.Checkpoint.HarvestSkipped)
	assert.Zero(t, got.Stats.CommentsHarvested)
}

func TestUnsupportedURLSkipped(t *testing.T) {
	env := newTestEnv(t)
	scriptStandardScenario(t, env)
	env.tasks.respond(testDiscoveryActor,
		postJSON(t, "AAA", "https://www.instagram.com/p/AAA/", 3),
		postJSON(t, "XYZ", "https://www.instagram.com/stories/xyz/", 0),
	)
	job := env.createJob(t, standardConfig())

	require.NoError(t, env.pipe.Run(context.Background(), job.ID))
	got := env.reload(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.False(t, got.Checkpoint.HarvestSkipped)
	// Only the supported URL reached the harvest actor.
	assert.Equal(t, 1, env.tasks.callCount(testHarvestActor))
}

func TestMalformedDiscoveryItemWarnsAndDrops(t *testing.T) {
	env := newTestEnv(t)
	scriptStandardScenario(t, env)
	env.tasks.respond(testDiscoveryActor,
		postJSON(t, "AAA", "https://www.instagram.com/p/AAA/", 3),
		json.RawMessage(`{"caption":"no identifiers here"}`),
	)
	core, logs := observer.New(zap.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	job := env.createJob(t, standardConfig())
	require.NoError(t, env.pipe.Run(context.Background(), job.ID))

	got := env.reload(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, got.Stats.PostsDiscovered)
	assert.Equal(t, 1, got.Checkpoint.ProcessedUpTo)
	assert.Equal(t, 1, logs.FilterMessage("discovered item has no usable identifier, dropping").Len())
}

func TestNoQualifyPromptDefaultsToQualified(t *testing.T) {
	env := newTestEnv(t)
	scriptStandardScenario(t, env)
	cfg := standardConfig()
	cfg.QualifyPrompt = ""
	job := env.createJob(t, cfg)

	require.NoError(t, env.pipe.Run(context.Background(), job.ID))
	got := env.reload(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 0, got.Stats.SentToQualifier)
	assert.Equal(t, 2, got.Stats.Qualified)
	assert.Equal(t, 1, got.Stats.FilteredLowReach)
	assert.Zero(t, env.qualifier.callCount())
}

func TestContextCancellationPausesJob(t *testing.T) {
	env := newTestEnv(t)
	scriptStandardScenario(t, env)
	job := env.createJob(t, standardConfig())

	ctx, cancel := context.WithCancel(context.Background())
	base := env.tasks.handlers[testHarvestActor]
	env.tasks.handle(testHarvestActor, func(call actorCall) ([]json.RawMessage, string, error) {
		cancel()
		return base(call)
	})

	require.NoError(t, env.pipe.Run(ctx, job.ID))
	got := env.reload(t, job.ID)
	assert.Equal(t, model.JobStatusPaused, got.Status)
	assert.Equal(t, "interrupted", got.LastError)
}

func TestCorruptCheckpointFailsJob(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, standardConfig())
	require.NoError(t, env.store.SaveCheckpoint(context.Background(), job.ID, model.Checkpoint{
		PostURLs:  []string{"https://www.instagram.com/p/AAA/"},
		PostSeeds: nil,
	}, model.JobStats{}))

	err := env.pipe.Run(context.Background(), job.ID)
	require.Error(t, err)
	got := env.reload(t, job.ID)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.NotEmpty(t, got.LastError)
}

func TestRunRefusesAlreadyRunningJob(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, standardConfig())
	require.True(t, env.registry.Register(job.ID))

	err := env.pipe.Run(context.Background(), job.ID)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestRunRefusesCompletedJob(t *testing.T) {
	env := newTestEnv(t)
	scriptStandardScenario(t, env)
	job := env.createJob(t, standardConfig())
	require.NoError(t, env.pipe.Run(context.Background(), job.ID))

	err := env.pipe.Run(context.Background(), job.ID)
	assert.Error(t, err)
}

func TestRecurringJobSchedulesNextRun(t *testing.T) {
	env := newTestEnv(t)
	scriptStandardScenario(t, env)
	cfg := standardConfig()
	cfg.Recurring = true
	cfg.IntervalHours = 24
	job := env.createJob(t, cfg)

	require.NoError(t, env.pipe.Run(context.Background(), job.ID))
	got := env.reload(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	require.NotNil(t, got.NextRunAt)
}
