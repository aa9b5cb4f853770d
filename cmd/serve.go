package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scoutline/leadharvest/internal/model"
	"github.com/scoutline/leadharvest/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the recurring-job scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		s := &server{env: e}
		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      s.routes(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
		}

		go s.scheduleDueJobs(ctx)

		errs := make(chan error, 1)
		go func() {
			zap.L().Info("http server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- err
			}
		}()

		select {
		case err := <-errs:
			return err
		case <-ctx.Done():
		}

		zap.L().Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

type server struct {
	env *env
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Post("/", s.handleCreateJob)
		r.Route("/{jobID}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Delete("/", s.handleDeleteJob)
			r.Post("/start", s.handleStartJob)
			r.Post("/pause", s.handlePauseJob)
			r.Post("/cancel", s.handleCancelJob)
			r.Post("/skip", s.handleSkipJob)
		})
	})
	r.Get("/leads", s.handleListLeads)
	return r
}

// scheduleDueJobs launches recurring jobs whose next_run_at has elapsed.
func (s *server) scheduleDueJobs(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			jobs, err := s.env.Store.DueJobs(ctx, now.UTC())
			if err != nil {
				zap.L().Warn("due job scan failed", zap.Error(err))
				continue
			}
			for _, job := range jobs {
				s.launch(ctx, job.ID)
			}
		}
	}
}

// launch starts a pipeline run in the background. Refusals (already running,
// not resumable) are logged, not fatal.
func (s *server) launch(ctx context.Context, jobID string) {
	go func() {
		if err := s.env.Pipeline.Run(ctx, jobID); err != nil {
			zap.L().Error("job run failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}()
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createJobRequest struct {
	OwnerID string          `json:"owner_id"`
	Config  model.JobConfig `json:"config"`
}

func (s *server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Config.Seeds) == 0 {
		writeError(w, http.StatusBadRequest, "at least one seed is required")
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = "default"
	}
	job := &model.Job{OwnerID: req.OwnerID, Config: req.Config}
	if err := s.env.Store.CreateJob(r.Context(), job); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.env.Store.ListJobs(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.env.Store.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.env.Store.DeleteJob(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.env.Store.GetJob(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if s.env.Registry.IsRunning(jobID) {
		writeError(w, http.StatusConflict, "job is already running")
		return
	}
	if !job.Status.Resumable() {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s and cannot be started", job.Status))
		return
	}
	s.launch(context.WithoutCancel(r.Context()), jobID)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "starting"})
}

func (s *server) handlePauseJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if s.env.Registry.RequestPause(jobID) {
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "pausing"})
		return
	}
	// Not running in this process. A pending job can still be parked.
	job, err := s.env.Store.GetJob(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if job.Status != model.JobStatusPending {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s, nothing to pause", job.Status))
		return
	}
	if err := s.env.Store.UpdateJobStatus(r.Context(), jobID, model.JobStatusPaused, ""); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(model.JobStatusPaused)})
}

func (s *server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if s.env.Registry.RequestCancel(jobID) {
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "cancelling"})
		return
	}
	job, err := s.env.Store.GetJob(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !job.Status.Resumable() {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s, nothing to cancel", job.Status))
		return
	}
	if err := s.env.Store.UpdateJobStatus(r.Context(), jobID, model.JobStatusCancelled, ""); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(model.JobStatusCancelled)})
}

func (s *server) handleSkipJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !s.env.Registry.RequestSkipRemaining(jobID) {
		writeError(w, http.StatusConflict, "job is not running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "skipping remaining"})
}

func (s *server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = "default"
	}
	leads, err := s.env.Store.ListLeads(r.Context(), owner)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leads)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("response encode failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrJobNotDeletable):
		writeError(w, http.StatusConflict, "only terminal or paused jobs can be deleted")
	case errors.Is(err, store.ErrJobNotRunnable):
		writeError(w, http.StatusConflict, "job is not runnable")
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
