package studio

import (
	"time"

	"github.com/google/uuid"
)

type UnitStatus string

const (
	UnitPending    UnitStatus = "pending"
	UnitDispatched UnitStatus = "dispatched"
	UnitGenerating UnitStatus = "generating"
	UnitCompleted  UnitStatus = "completed"
	UnitFailed     UnitStatus = "failed"
	UnitCanceled   UnitStatus = "canceled"
	UnitApproved   UnitStatus = "approved"
)

// InFlight reports whether the provider currently owns the unit.
func (s UnitStatus) InFlight() bool {
	return s == UnitDispatched || s == UnitGenerating
}

// Settled reports whether generation for the unit has finished, successfully
// or not.
func (s UnitStatus) Settled() bool {
	switch s {
	case UnitCompleted, UnitApproved, UnitFailed, UnitCanceled:
		return true
	}
	return false
}

// Dispatchable reports whether the unit may be submitted.
func (s UnitStatus) Dispatchable() bool {
	return s == UnitPending || s == UnitFailed
}

type JobStatus string

const (
	JobDispatched JobStatus = "dispatched"
	JobGenerating JobStatus = "generating"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCanceled   JobStatus = "canceled"
)

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

type Section struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id,omitempty"`
	Content        string    `json:"content"`
	TargetDuration int       `json:"target_duration"`
	Language       string    `json:"language"`
	ModelID        string    `json:"model_id,omitempty"`
	BaseSeed       int64     `json:"base_seed"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type VideoUnit struct {
	ID                string     `json:"id"`
	SectionID         string     `json:"section_id"`
	Order             int        `json:"order"`
	StartTime         int        `json:"start_time"`
	EndTime           int        `json:"end_time"`
	Duration          int        `json:"duration"`
	Objective         string     `json:"objective"`
	VoiceoverText     string     `json:"voiceover_text"`
	VisualDescription string     `json:"visual_description"`
	OptimizedPrompt   string     `json:"optimized_prompt"`
	ModelID           string     `json:"model_id"`
	Seed              int64      `json:"seed"`
	ReferenceImageURL string     `json:"reference_image_url,omitempty"`
	Status            UnitStatus `json:"status"`
	ResultURL         string     `json:"result_url,omitempty"`
	ThumbnailURL      string     `json:"thumbnail_url,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	ProcessingTimeMs  int64      `json:"processing_time_ms"`
	ActualCost        float64    `json:"actual_cost"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Prompt is the text sent to the provider: the optimized prompt, or the raw
// visual description when none was written.
func (u *VideoUnit) Prompt() string {
	if u.OptimizedPrompt != "" {
		return u.OptimizedPrompt
	}
	return u.VisualDescription
}

type GenerationJob struct {
	ID             string     `json:"id"`
	UnitID         string     `json:"unit_id,omitempty"`
	CorrelationID  string     `json:"correlation_id,omitempty"`
	Status         JobStatus  `json:"status"`
	Parameters     string     `json:"parameters"`
	EstimatedCost  float64    `json:"estimated_cost"`
	EstimatedTimeS int        `json:"estimated_time_s"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

type CompiledArtifact struct {
	ID             string    `json:"id"`
	SectionID      string    `json:"section_id"`
	OrderedUnitIDs []string  `json:"ordered_unit_ids"`
	OutputURL      string    `json:"output_url"`
	FileSize       int64     `json:"file_size"`
	Duration       float64   `json:"duration"`
	Format         string    `json:"format"`
	Quality        string    `json:"quality"`
	CompiledAt     time.Time `json:"compiled_at"`
}

// SequenceRun generates the remaining units of a section one after another.
type SequenceRun struct {
	ID            string    `json:"id"`
	SectionID     string    `json:"section_id"`
	Status        RunStatus `json:"status"`
	CurrentUnitID string    `json:"current_unit_id,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func NewID() string {
	return uuid.NewString()
}
