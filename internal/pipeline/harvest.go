package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/scoutline/leadharvest/internal/model"
)

// harvestResult is what one item contributed before the checkpoint commits.
// firstSeen lists contributors encountered for the first time in this job;
// newcomers is the subset that also carries no stored verdict and therefore
// goes to enrichment.
type harvestResult struct {
	firstSeen []string
	newcomers []string
}

// processItems walks the checkpoint cursor over the discovered items. Control
// signals are observed before every external wait, but the seen set and
// cursor commit together in one checkpoint write only when the item fully
// completes. A stop therefore loses nothing and repeats at most one item on
// resume.
func (p *Pipeline) processItems(ctx context.Context, r *run) error {
	job := r.job
	cp := &job.Checkpoint

	for cp.ProcessedUpTo < len(cp.PostURLs) {
		if err := p.checkSignal(ctx, r); err != nil {
			return err
		}
		if job.Status != model.JobStatusHarvesting {
			p.setStatus(ctx, job, model.JobStatusHarvesting, "")
		}

		i := cp.ProcessedUpTo
		result, err := p.harvestItem(ctx, r, cp.PostURLs[i], cp.PostSeeds[i])
		if err != nil {
			return err
		}
		if len(result.newcomers) > 0 {
			if err := p.enrichAndQualify(ctx, r, result.newcomers, cp.PostSeeds[i]); err != nil {
				return err
			}
		}

		for _, u := range result.firstSeen {
			r.seen[u] = struct{}{}
			cp.SeenUsernames = append(cp.SeenUsernames, u)
		}
		cp.ProcessedUpTo = i + 1
		if err := p.saveCheckpoint(ctx, r); err != nil {
			return err
		}
		p.notifyProgress(job)
	}
	return nil
}

// harvestItem pulls the comments for one item and works out which
// contributors are new. It never mutates the run's seen set; the caller
// commits that together with the cursor once the item fully completes. Items
// the harvest actor cannot read are skipped, not fatal: the cursor advances
// past them.
func (p *Pipeline) harvestItem(ctx context.Context, r *run, postURL, seed string) (harvestResult, error) {
	var result harvestResult
	job := r.job

	if !supportedPostURL(postURL) {
		zap.L().Warn("unsupported content URL, skipping",
			zap.String("job_id", job.ID),
			zap.String("url", postURL))
		return result, nil
	}

	items, err := p.runActor(ctx, r, p.cfg.HarvestActor, map[string]any{
		"directUrls":   []string{postURL},
		"resultsLimit": job.Config.CommentLimit,
	})
	if err != nil {
		return result, err
	}
	if len(items) == 0 {
		zap.L().Warn("harvest produced no comments, skipping item",
			zap.String("job_id", job.ID),
			zap.String("url", postURL))
		return result, nil
	}

	comments := make([]model.Comment, 0, len(items))
	for _, raw := range items {
		c := parseComment(raw, job.OwnerID, postURL, job.ID)
		if c == nil {
			zap.L().Warn("harvested record has no contributor, dropping",
				zap.String("job_id", job.ID),
				zap.String("url", postURL))
			continue
		}
		comments = append(comments, *c)
	}
	stored, err := p.store.InsertComments(ctx, comments)
	if err != nil {
		return result, err
	}
	job.Stats.CommentsHarvested += len(comments)

	local := make(map[string]struct{})
	for _, c := range comments {
		if _, ok := r.seen[c.Username]; ok {
			continue
		}
		if _, ok := local[c.Username]; ok {
			continue
		}
		local[c.Username] = struct{}{}
		result.firstSeen = append(result.firstSeen, c.Username)
		job.Stats.UniqueCommenters++

		if _, done := r.processed[c.Username]; done {
			job.Stats.SkippedExisting++
			continue
		}
		result.newcomers = append(result.newcomers, c.Username)
	}

	zap.L().Debug("item harvested",
		zap.String("job_id", job.ID),
		zap.String("url", postURL),
		zap.String("seed", seed),
		zap.Int("comments", len(comments)),
		zap.Int64("stored", stored),
		zap.Int("newcomers", len(result.newcomers)))
	return result, nil
}
