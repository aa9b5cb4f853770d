package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/scoutline/leadharvest/internal/model"
	"github.com/scoutline/leadharvest/internal/notify"
)

// discover expands every seed into content items and records them in the
// checkpoint. Seeds already attributed in the checkpoint are skipped, so a
// resumed job only re-runs seeds that never produced an item.
func (p *Pipeline) discover(ctx context.Context, r *run) error {
	job := r.job
	pending := make([]string, 0, len(job.Config.Seeds))
	for _, seed := range job.Config.Seeds {
		if !job.Checkpoint.SeedDiscovered(seed) {
			pending = append(pending, seed)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	if job.Status != model.JobStatusDiscovering {
		p.setStatus(ctx, job, model.JobStatusDiscovering, "")
	}

	for _, seed := range pending {
		if err := p.checkSignal(ctx, r); err != nil {
			return err
		}

		items, err := p.runActor(ctx, r, p.cfg.DiscoveryActor, map[string]any{
			"search":       seed,
			"searchType":   "hashtag",
			"resultsType":  "posts",
			"resultsLimit": job.Config.PostLimit,
		})
		if err != nil {
			return err
		}

		added := 0
		for _, raw := range items {
			post := parsePost(raw, job.OwnerID, seed, job.ID)
			if post == nil {
				zap.L().Warn("discovered item has no usable identifier, dropping",
					zap.String("job_id", job.ID),
					zap.String("seed", seed))
				continue
			}
			if err := p.store.UpsertPost(ctx, post); err != nil {
				return err
			}
			job.Checkpoint.Append(post.URL, seed)
			job.Stats.PostsDiscovered++
			added++
		}
		if err := p.saveCheckpoint(ctx, r); err != nil {
			return err
		}

		zap.L().Info("seed discovered",
			zap.String("job_id", job.ID),
			zap.String("seed", seed),
			zap.Int("posts", added))
		p.notifier.Notify(job.OwnerID, job.ID, notify.KindLog, map[string]any{
			"message": "seed discovered",
			"seed":    seed,
			"posts":   added,
		})
	}
	return nil
}
