package api

import (
	"time"

	"github.com/heimdex/reelforge/internal/concat"
	"github.com/heimdex/reelforge/internal/profiles"
	"github.com/heimdex/reelforge/internal/studio"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State      string                `json:"state"`
	ActiveRuns int                   `json:"active_runs"`
	ActiveRun  *studio.SequenceRun   `json:"active_run,omitempty"`
	Concat     *ConcatStatusResponse `json:"concat,omitempty"`
}

type ConcatStatusResponse struct {
	Mode        string `json:"mode"`
	FFmpeg      bool   `json:"ffmpeg_available"`
	Version     string `json:"ffmpeg_version,omitempty"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
}

type RunnerStateResponse struct {
	Running bool `json:"running"`
	Paused  bool `json:"paused"`
}

type ModelsResponse struct {
	Default string              `json:"default"`
	Models  []*profiles.Profile `json:"models"`

	// Parameters lists the accepted parameter overrides per model id.
	Parameters map[string][]string `json:"parameters"`
}

type SegmentResponse struct {
	SectionID string              `json:"section_id"`
	Units     []*studio.VideoUnit `json:"units"`
}

type UnitsResponse struct {
	Units []*studio.VideoUnit `json:"units"`
}

type JobsResponse struct {
	Jobs []*studio.GenerationJob `json:"jobs"`
}

type ArtifactsResponse struct {
	Artifacts []*studio.CompiledArtifact `json:"artifacts"`
}

type WebhookResponse struct {
	Outcome studio.Outcome `json:"outcome"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ConcatStatusFromCapabilities(mode string, caps *concat.Capabilities) *ConcatStatusResponse {
	resp := &ConcatStatusResponse{Mode: mode}
	if caps != nil {
		resp.FFmpeg = caps.Available
		resp.Version = caps.Version
		resp.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
	}
	return resp
}
