package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/reelforge/internal/concat"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSMiddleware(cfg.AllowedOrigins))

	r.Get("/health", healthHandler(cfg))
	r.Post("/webhooks/generation", webhookHandler(cfg))
	r.Get("/artifacts/{name}", artifactHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/models", listModelsHandler(cfg))
		r.Post("/runner/pause", pauseRunnerHandler(cfg))
		r.Post("/runner/resume", resumeRunnerHandler(cfg))

		r.Post("/sections", createSectionHandler(cfg))
		r.Get("/sections/{id}", getSectionHandler(cfg))
		r.Post("/sections/{id}/segment", segmentHandler(cfg))
		r.Get("/sections/{id}/units", listUnitsHandler(cfg))
		r.Post("/sections/{id}/generate", startSequenceHandler(cfg))
		r.Post("/sections/{id}/compile", compileHandler(cfg))
		r.Get("/sections/{id}/artifacts", listArtifactsHandler(cfg))
		r.Get("/sections/{id}/export.edl", exportEDLHandler(cfg))
		r.Get("/runs/{id}", getRunHandler(cfg))

		r.Get("/units/{id}", getUnitHandler(cfg))
		r.Patch("/units/{id}", updateUnitHandler(cfg))
		r.Get("/units/{id}/jobs", listJobsHandler(cfg))
		r.Post("/units/{id}/dispatch", dispatchHandler(cfg))
		r.Post("/units/{id}/regenerate", regenerateHandler(cfg))
		r.Post("/units/{id}/approve", approveHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version := cfg.Version
		if version == "" {
			version = "dev"
		}
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := cfg.Repository.ListActiveRuns(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}

		state := "idle"
		if len(runs) > 0 {
			state = "generating"
		}
		if cfg.Runner != nil && cfg.Runner.IsPaused() {
			state = "paused"
		}

		resp := StatusResponse{
			State:      state,
			ActiveRuns: len(runs),
		}
		if len(runs) > 0 {
			resp.ActiveRun = runs[0]
		}

		if cfg.ConcatMode != "" {
			var caps *concat.Capabilities
			if cfg.Doctor != nil {
				// probe failures are reported as ffmpeg_available=false
				caps, _ = cfg.Doctor.Get(r.Context())
			}
			resp.Concat = ConcatStatusFromCapabilities(cfg.ConcatMode, caps)
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listModelsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Registry == nil {
			WriteJSON(w, http.StatusOK, ModelsResponse{})
			return
		}
		resp := ModelsResponse{Models: cfg.Registry.List(), Parameters: map[string][]string{}}
		for _, p := range resp.Models {
			resp.Parameters[p.ID] = cfg.Registry.ParamNames(p)
		}
		if def := cfg.Registry.Default(); def != nil {
			resp.Default = def.ID
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func pauseRunnerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not configured", "UNAVAILABLE")
			return
		}
		cfg.Runner.Pause()
		WriteJSON(w, http.StatusOK, RunnerStateResponse{Running: cfg.Runner.IsRunning(), Paused: true})
	}
}

func resumeRunnerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not configured", "UNAVAILABLE")
			return
		}
		cfg.Runner.Resume()
		WriteJSON(w, http.StatusOK, RunnerStateResponse{Running: cfg.Runner.IsRunning(), Paused: false})
	}
}
