package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scoutline/leadharvest/internal/model"
)

var (
	runJobIDs       []string
	runOwner        string
	runSeeds        []string
	runPostLimit    int
	runCommentLimit int
	runMinFollowers int
	runPrompt       string
	runForce        bool
	runRecurring    bool
	runInterval     int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a collection job to completion",
	Long:  "Starts a new job from the given seeds, or resumes an existing job by ID. A SIGINT or SIGTERM checkpoints the job and leaves it paused.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		jobIDs := runJobIDs
		if len(jobIDs) == 0 {
			if len(runSeeds) == 0 {
				return eris.New("either --job or at least one --seed is required")
			}
			job := &model.Job{
				OwnerID: runOwner,
				Config: model.JobConfig{
					Seeds:          runSeeds,
					PostLimit:      runPostLimit,
					CommentLimit:   runCommentLimit,
					MinFollowers:   runMinFollowers,
					ForceReprocess: runForce,
					QualifyPrompt:  runPrompt,
					Recurring:      runRecurring,
					IntervalHours:  runInterval,
				},
			}
			if err := e.Store.CreateJob(ctx, job); err != nil {
				return err
			}
			jobIDs = []string{job.ID}
			zap.L().Info("job created", zap.String("job_id", job.ID))
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, jobID := range jobIDs {
			g.Go(func() error {
				return e.Pipeline.Run(gctx, jobID)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for _, jobID := range jobIDs {
			job, err := e.Store.GetJob(ctx, jobID)
			if err != nil {
				return err
			}
			cmd.Printf("job %s finished with status %s\n", job.ID, job.Status)
			cmd.Printf("  posts discovered:    %d\n", job.Stats.PostsDiscovered)
			cmd.Printf("  comments harvested:  %d\n", job.Stats.CommentsHarvested)
			cmd.Printf("  unique commenters:   %d\n", job.Stats.UniqueCommenters)
			cmd.Printf("  profiles enriched:   %d\n", job.Stats.ProfilesEnriched)
			cmd.Printf("  qualified:           %d\n", job.Stats.Qualified)
			cmd.Printf("  rejected:            %d\n", job.Stats.Rejected)
			cmd.Printf("  leads created:       %d\n", job.Stats.LeadsCreated)
			cmd.Printf("  leads updated:       %d\n", job.Stats.LeadsUpdated)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&runJobIDs, "job", nil, "existing job ID to start or resume (repeatable)")
	runCmd.Flags().StringVar(&runOwner, "owner", "default", "owner the job and its leads belong to")
	runCmd.Flags().StringSliceVar(&runSeeds, "seed", nil, "seed term (repeatable)")
	runCmd.Flags().IntVar(&runPostLimit, "post-limit", 10, "max posts per seed")
	runCmd.Flags().IntVar(&runCommentLimit, "comment-limit", 100, "max comments per post")
	runCmd.Flags().IntVar(&runMinFollowers, "min-followers", 0, "reach floor below which profiles are rejected")
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "qualification question for the AI verdict")
	runCmd.Flags().BoolVar(&runForce, "force-reprocess", false, "re-qualify contributors that already carry a verdict")
	runCmd.Flags().BoolVar(&runRecurring, "recurring", false, "schedule the job to repeat")
	runCmd.Flags().IntVar(&runInterval, "interval-hours", 24, "hours between recurring runs")
	rootCmd.AddCommand(runCmd)
}
