package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/scoutline/leadharvest/internal/leads"
	"github.com/scoutline/leadharvest/internal/model"
	"github.com/scoutline/leadharvest/internal/notify"
	"github.com/scoutline/leadharvest/internal/qualify"
)

// enrichAndQualify fetches profiles for the newcomers in batches, reaches a
// verdict for each, and reconciles the results into the lead set. Usernames
// the enrichment actor returns nothing for are dropped silently; they stay
// unqualified-unknown only if a comment row exists, and a later job sees
// them again.
func (p *Pipeline) enrichAndQualify(ctx context.Context, r *run, usernames []string, seed string) error {
	job := r.job
	p.setStatus(ctx, job, model.JobStatusEnriching, "")

	var profiles []*model.Profile
	for start := 0; start < len(usernames); start += p.cfg.EnrichBatchSize {
		if err := p.checkSignal(ctx, r); err != nil {
			return err
		}
		end := min(start+p.cfg.EnrichBatchSize, len(usernames))
		items, err := p.runActor(ctx, r, p.cfg.EnrichActor, map[string]any{
			"usernames": usernames[start:end],
		})
		if err != nil {
			return err
		}
		for _, raw := range items {
			pf := parseProfile(raw)
			if pf == nil {
				continue
			}
			profiles = append(profiles, pf)
			job.Stats.ProfilesEnriched++
		}
	}

	if err := p.checkSignal(ctx, r); err != nil {
		return err
	}
	p.setStatus(ctx, job, model.JobStatusQualifying, "")

	sincePersist := 0
	for _, pf := range profiles {
		outcome := p.qualifyProfile(ctx, r, pf)
		outcome.Seeds = []string{seed}

		created, err := p.reconciler.Save(ctx, job.OwnerID, job.ID, outcome)
		if err != nil {
			return err
		}
		if created {
			job.Stats.LeadsCreated++
		} else {
			job.Stats.LeadsUpdated++
		}
		p.notifier.Notify(job.OwnerID, job.ID, notify.KindLead, map[string]any{
			"username":  pf.Username,
			"qualified": outcome.Qualified,
			"reason":    outcome.Reason,
			"created":   created,
		})

		sincePersist++
		if sincePersist >= p.cfg.PersistEvery {
			if err := p.saveCheckpoint(ctx, r); err != nil {
				return err
			}
			sincePersist = 0
		}
	}
	return nil
}

// qualifyProfile reaches a verdict for one profile. The reach filter runs
// before any qualifier call; without a prompt every profile that clears the
// filter qualifies. A qualifier failure leaves the verdict unknown rather
// than guessing either way.
func (p *Pipeline) qualifyProfile(ctx context.Context, r *run, pf *model.Profile) leads.Outcome {
	job := r.job
	outcome := leads.Outcome{Profile: *pf}

	if pf.FollowerCount < job.Config.MinFollowers {
		rejected := false
		outcome.Qualified = &rejected
		outcome.Reason = model.ReasonLowReach
		job.Stats.FilteredLowReach++
		return outcome
	}

	if job.Config.QualifyPrompt == "" {
		accepted := true
		outcome.Qualified = &accepted
		job.Stats.Qualified++
		return outcome
	}

	if p.qualifier == nil {
		zap.L().Warn("no qualifier configured, leaving verdict unknown",
			zap.String("job_id", job.ID),
			zap.String("username", pf.Username))
		return outcome
	}

	job.Stats.SentToQualifier++
	verdict, err := p.qualifier.Qualify(ctx, pf.Biography, job.Config.QualifyPrompt)
	if err != nil {
		zap.L().Warn("qualifier failed, leaving verdict unknown",
			zap.String("job_id", job.ID),
			zap.String("username", pf.Username),
			zap.Error(err))
		return outcome
	}
	if qualify.Accepted(verdict) {
		accepted := true
		outcome.Qualified = &accepted
		job.Stats.Qualified++
		return outcome
	}
	rejected := false
	outcome.Qualified = &rejected
	outcome.Reason = model.ReasonAIRejected
	job.Stats.Rejected++
	return outcome
}
