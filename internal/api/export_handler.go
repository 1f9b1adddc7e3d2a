package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/reelforge/internal/artifacts"
	"github.com/heimdex/reelforge/internal/export"
)

// exportEDLHandler renders the approved sequence of a section as a CMX 3600
// edit decision list.
func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sectionID := chi.URLParam(r, "id")

		frameRate := float64(export.DefaultFrameRate)
		if v := r.URL.Query().Get("fps"); v != "" {
			fps, err := strconv.ParseFloat(v, 64)
			if err != nil || fps <= 0 || fps > 120 {
				WriteError(w, http.StatusBadRequest, "fps must be a number between 0 and 120", "BAD_REQUEST")
				return
			}
			frameRate = fps
		}

		units, err := cfg.Service.ListApprovedUnits(r.Context(), sectionID)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		clips := export.ClipsFromUnits(units)
		if len(clips) == 0 {
			WriteError(w, http.StatusUnprocessableEntity, "no approved units to export", "EMPTY_SET")
			return
		}

		title := export.SanitizeName(r.URL.Query().Get("title"), 70)
		if title == "" {
			title = "section_" + export.SanitizeName(sectionID, 8)
		}

		edl := export.GenerateEDL(clips, title, frameRate)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", title+".edl"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(edl))
	}
}

func artifactHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Artifacts == nil {
			WriteError(w, http.StatusNotFound, "artifact not found", "NOT_FOUND")
			return
		}

		name := chi.URLParam(r, "name")
		if err := cfg.Artifacts.Serve(w, r, name); err != nil {
			if errors.Is(err, artifacts.ErrInvalidName) {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			cfg.Logger.Error("artifact serve error", "error", err, "name", name)
			WriteError(w, http.StatusInternalServerError, "failed to serve artifact", "INTERNAL_ERROR")
		}
	}
}
