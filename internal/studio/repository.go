package studio

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/heimdex/reelforge/internal/db"
)

type Repository interface {
	CreateSection(ctx context.Context, s *Section) error
	GetSection(ctx context.Context, id string) (*Section, error)
	// ReplaceUnits swaps every unit of the section (and their jobs) for units
	// and stores the new segmentation parameters, atomically.
	ReplaceUnits(ctx context.Context, s *Section, units []*VideoUnit) error

	GetUnit(ctx context.Context, id string) (*VideoUnit, error)
	GetUnitByOrder(ctx context.Context, sectionID string, order int) (*VideoUnit, error)
	ListUnits(ctx context.Context, sectionID string) ([]*VideoUnit, error)
	ListApprovedUnits(ctx context.Context, sectionID string) ([]*VideoUnit, error)
	UpdateUnitScript(ctx context.Context, u *VideoUnit) (bool, error)
	ClaimUnit(ctx context.Context, id string, seed int64, at time.Time) (bool, error)
	SetReferenceImage(ctx context.Context, id, url string, at time.Time) error
	ResetUnit(ctx context.Context, id string, seed int64, optimizedPrompt string, at time.Time) (bool, error)
	ApproveUnit(ctx context.Context, id string, at time.Time) (bool, error)

	CreateJob(ctx context.Context, j *GenerationJob) error
	GetJob(ctx context.Context, id string) (*GenerationJob, error)
	GetJobByCorrelationID(ctx context.Context, correlationID string) (*GenerationJob, error)
	ListJobsForUnit(ctx context.Context, unitID string) ([]*GenerationJob, error)
	ListStaleJobs(ctx context.Context, before time.Time) ([]*GenerationJob, error)
	TouchJob(ctx context.Context, id string, at time.Time) error
	MarkAccepted(ctx context.Context, jobID, unitID, correlationID string, at time.Time) error
	MarkDispatchFailed(ctx context.Context, jobID, unitID, message string, at time.Time) error
	ApplyTerminalResult(ctx context.Context, res TerminalResult) (ApplyOutcome, error)

	CreateArtifact(ctx context.Context, a *CompiledArtifact) error
	ListArtifacts(ctx context.Context, sectionID string) ([]*CompiledArtifact, error)

	CreateRun(ctx context.Context, run *SequenceRun) error
	GetRun(ctx context.Context, id string) (*SequenceRun, error)
	GetActiveRun(ctx context.Context, sectionID string) (*SequenceRun, error)
	ListActiveRuns(ctx context.Context) ([]*SequenceRun, error)
	UpdateRun(ctx context.Context, run *SequenceRun) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// TerminalResult is the final state of one job, applied together with its
// unit.
type TerminalResult struct {
	JobID            string
	UnitID           string
	CorrelationID    string
	JobStatus        JobStatus
	UnitStatus       UnitStatus
	ResultURL        string
	ThumbnailURL     string
	ErrorMessage     string
	ProcessingTimeMs int64
	ActualCost       float64
	At               time.Time
}

type ApplyOutcome struct {
	JobUpdated  bool
	UnitUpdated bool
}

// SQLRepository implements Repository over SQLite or PostgreSQL.
type SQLRepository struct {
	db      *sql.DB
	dialect db.Dialect
}

func NewRepository(conn *sql.DB, dialect db.Dialect) *SQLRepository {
	return &SQLRepository{db: conn, dialect: dialect}
}

func (r *SQLRepository) q(query string) string {
	return r.dialect.Rebind(query)
}

const sectionColumns = `id, project_id, content, target_duration, language, model_id, base_seed, created_at, updated_at`

func (r *SQLRepository) CreateSection(ctx context.Context, s *Section) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO sections (`+sectionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), s.ID, s.ProjectID, s.Content, s.TargetDuration, s.Language, s.ModelID, s.BaseSeed,
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	return err
}

func (r *SQLRepository) GetSection(ctx context.Context, id string) (*Section, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+sectionColumns+` FROM sections WHERE id = ?`), id)

	var s Section
	var createdAt, updatedAt string
	err := row.Scan(&s.ID, &s.ProjectID, &s.Content, &s.TargetDuration, &s.Language, &s.ModelID, &s.BaseSeed, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}

func (r *SQLRepository) ReplaceUnits(ctx context.Context, s *Section, units []*VideoUnit) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(s.UpdatedAt)

		if _, err := tx.ExecContext(ctx, r.q(`
			DELETE FROM generation_jobs WHERE unit_id IN (SELECT id FROM video_units WHERE section_id = ?)
		`), s.ID); err != nil {
			return fmt.Errorf("delete jobs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM video_units WHERE section_id = ?`), s.ID); err != nil {
			return fmt.Errorf("delete units: %w", err)
		}
		if _, err := tx.ExecContext(ctx, r.q(`
			UPDATE sections SET target_duration = ?, language = ?, model_id = ?, base_seed = ?, updated_at = ?
			WHERE id = ?
		`), s.TargetDuration, s.Language, s.ModelID, s.BaseSeed, now, s.ID); err != nil {
			return fmt.Errorf("update section: %w", err)
		}
		if _, err := tx.ExecContext(ctx, r.q(`
			UPDATE sequence_runs SET status = 'failed', error = 'section was re-segmented', updated_at = ?
			WHERE section_id = ? AND status IN ('pending', 'running')
		`), now, s.ID); err != nil {
			return fmt.Errorf("fail runs: %w", err)
		}

		for _, u := range units {
			if _, err := tx.ExecContext(ctx, r.q(`
				INSERT INTO video_units (`+unitColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`), u.ID, u.SectionID, u.Order, u.StartTime, u.EndTime, u.Duration,
				u.Objective, u.VoiceoverText, u.VisualDescription, u.OptimizedPrompt,
				u.ModelID, u.Seed, nullString(u.ReferenceImageURL), string(u.Status),
				nullString(u.ResultURL), nullString(u.ThumbnailURL), nullString(u.ErrorMessage),
				u.ProcessingTimeMs, u.ActualCost, formatTime(u.CreatedAt), formatTime(u.UpdatedAt)); err != nil {
				return fmt.Errorf("insert unit %d: %w", u.Order, err)
			}
		}
		return nil
	})
}

const unitColumns = `id, section_id, unit_order, start_time, end_time, duration,
	objective, voiceover_text, visual_description, optimized_prompt,
	model_id, seed, reference_image_url, status,
	result_url, thumbnail_url, error_message,
	processing_time_ms, actual_cost, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (*VideoUnit, error) {
	var u VideoUnit
	var status, createdAt, updatedAt string
	var reference, result, thumbnail, errMsg sql.NullString

	err := row.Scan(&u.ID, &u.SectionID, &u.Order, &u.StartTime, &u.EndTime, &u.Duration,
		&u.Objective, &u.VoiceoverText, &u.VisualDescription, &u.OptimizedPrompt,
		&u.ModelID, &u.Seed, &reference, &status,
		&result, &thumbnail, &errMsg,
		&u.ProcessingTimeMs, &u.ActualCost, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	u.Status = UnitStatus(status)
	u.ReferenceImageURL = reference.String
	u.ResultURL = result.String
	u.ThumbnailURL = thumbnail.String
	u.ErrorMessage = errMsg.String
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

func (r *SQLRepository) getUnit(ctx context.Context, query string, args ...any) (*VideoUnit, error) {
	u, err := scanUnit(r.db.QueryRowContext(ctx, r.q(query), args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (r *SQLRepository) listUnits(ctx context.Context, query string, args ...any) ([]*VideoUnit, error) {
	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []*VideoUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (r *SQLRepository) GetUnit(ctx context.Context, id string) (*VideoUnit, error) {
	return r.getUnit(ctx, `SELECT `+unitColumns+` FROM video_units WHERE id = ?`, id)
}

func (r *SQLRepository) GetUnitByOrder(ctx context.Context, sectionID string, order int) (*VideoUnit, error) {
	return r.getUnit(ctx, `SELECT `+unitColumns+` FROM video_units WHERE section_id = ? AND unit_order = ?`, sectionID, order)
}

func (r *SQLRepository) ListUnits(ctx context.Context, sectionID string) ([]*VideoUnit, error) {
	return r.listUnits(ctx, `SELECT `+unitColumns+` FROM video_units WHERE section_id = ? ORDER BY unit_order ASC`, sectionID)
}

func (r *SQLRepository) ListApprovedUnits(ctx context.Context, sectionID string) ([]*VideoUnit, error) {
	return r.listUnits(ctx, `
		SELECT `+unitColumns+` FROM video_units
		WHERE section_id = ? AND status = 'approved' AND result_url IS NOT NULL AND result_url <> ''
		ORDER BY unit_order ASC
	`, sectionID)
}

func (r *SQLRepository) UpdateUnitScript(ctx context.Context, u *VideoUnit) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.q(`
		UPDATE video_units
		SET objective = ?, voiceover_text = ?, visual_description = ?, optimized_prompt = ?,
			model_id = ?, reference_image_url = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'failed')
	`), u.Objective, u.VoiceoverText, u.VisualDescription, u.OptimizedPrompt,
		u.ModelID, nullString(u.ReferenceImageURL), formatTime(u.UpdatedAt), u.ID)
	return affected(res, err)
}

func (r *SQLRepository) ClaimUnit(ctx context.Context, id string, seed int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.q(`
		UPDATE video_units SET status = 'dispatched', seed = ?, error_message = NULL, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'failed')
	`), seed, formatTime(at), id)
	return affected(res, err)
}

func (r *SQLRepository) SetReferenceImage(ctx context.Context, id, url string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		UPDATE video_units SET reference_image_url = ?, updated_at = ? WHERE id = ?
	`), nullString(url), formatTime(at), id)
	return err
}

func (r *SQLRepository) ResetUnit(ctx context.Context, id string, seed int64, optimizedPrompt string, at time.Time) (bool, error) {
	var reset bool
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(at)
		res, err := tx.ExecContext(ctx, r.q(`
			UPDATE video_units
			SET status = 'pending', seed = ?, optimized_prompt = ?,
				result_url = NULL, thumbnail_url = NULL, error_message = NULL,
				processing_time_ms = 0, actual_cost = 0, updated_at = ?
			WHERE id = ? AND status IN ('pending', 'completed', 'failed', 'canceled', 'approved')
		`), seed, optimizedPrompt, now, id)
		if reset, err = affected(res, err); err != nil || !reset {
			return err
		}
		_, err = tx.ExecContext(ctx, r.q(`
			UPDATE generation_jobs SET status = 'canceled', error_message = 'superseded by regeneration', updated_at = ?, completed_at = ?
			WHERE unit_id = ? AND status IN ('dispatched', 'generating')
		`), now, now, id)
		return err
	})
	return reset, err
}

func (r *SQLRepository) ApproveUnit(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.q(`
		UPDATE video_units SET status = 'approved', updated_at = ? WHERE id = ? AND status = 'completed'
	`), formatTime(at), id)
	return affected(res, err)
}

const jobColumns = `id, unit_id, correlation_id, status, parameters, estimated_cost, estimated_time_s,
	error_message, created_at, updated_at, completed_at`

func (r *SQLRepository) CreateJob(ctx context.Context, j *GenerationJob) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO generation_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), j.ID, nullString(j.UnitID), nullString(j.CorrelationID), string(j.Status), j.Parameters,
		j.EstimatedCost, j.EstimatedTimeS, nullString(j.ErrorMessage),
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt), nullTime(j.CompletedAt))
	return err
}

func scanJob(row rowScanner) (*GenerationJob, error) {
	var j GenerationJob
	var status, createdAt, updatedAt string
	var unitID, correlationID, errMsg, completedAt sql.NullString

	err := row.Scan(&j.ID, &unitID, &correlationID, &status, &j.Parameters, &j.EstimatedCost, &j.EstimatedTimeS,
		&errMsg, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	j.UnitID = unitID.String
	j.CorrelationID = correlationID.String
	j.Status = JobStatus(status)
	j.ErrorMessage = errMsg.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		j.CompletedAt = &t
	}
	return &j, nil
}

func (r *SQLRepository) getJob(ctx context.Context, query string, args ...any) (*GenerationJob, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, r.q(query), args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func (r *SQLRepository) listJobs(ctx context.Context, query string, args ...any) ([]*GenerationJob, error) {
	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*GenerationJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLRepository) GetJob(ctx context.Context, id string) (*GenerationJob, error) {
	return r.getJob(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = ?`, id)
}

func (r *SQLRepository) GetJobByCorrelationID(ctx context.Context, correlationID string) (*GenerationJob, error) {
	return r.getJob(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE correlation_id = ?`, correlationID)
}

func (r *SQLRepository) ListJobsForUnit(ctx context.Context, unitID string) ([]*GenerationJob, error) {
	return r.listJobs(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE unit_id = ? ORDER BY created_at DESC, id`, unitID)
}

func (r *SQLRepository) ListStaleJobs(ctx context.Context, before time.Time) ([]*GenerationJob, error) {
	return r.listJobs(ctx, `
		SELECT `+jobColumns+` FROM generation_jobs
		WHERE status = 'generating' AND correlation_id IS NOT NULL AND updated_at < ?
		ORDER BY updated_at ASC
	`, formatTime(before))
}

func (r *SQLRepository) TouchJob(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.q(`UPDATE generation_jobs SET updated_at = ? WHERE id = ?`), formatTime(at), id)
	return err
}

// MarkAccepted records the provider's correlation id. Statuses only advance
// out of dispatched so a webhook that already settled the job is kept.
func (r *SQLRepository) MarkAccepted(ctx context.Context, jobID, unitID, correlationID string, at time.Time) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(at)
		if _, err := tx.ExecContext(ctx, r.q(`
			UPDATE generation_jobs
			SET correlation_id = ?,
				status = CASE WHEN status = 'dispatched' THEN 'generating' ELSE status END,
				updated_at = ?
			WHERE id = ?
		`), correlationID, now, jobID); err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		if _, err := tx.ExecContext(ctx, r.q(`
			UPDATE video_units SET status = 'generating', updated_at = ? WHERE id = ? AND status = 'dispatched'
		`), now, unitID); err != nil {
			return fmt.Errorf("update unit: %w", err)
		}
		return nil
	})
}

func (r *SQLRepository) MarkDispatchFailed(ctx context.Context, jobID, unitID, message string, at time.Time) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(at)
		if jobID != "" {
			if _, err := tx.ExecContext(ctx, r.q(`
				UPDATE generation_jobs SET status = 'failed', error_message = ?, updated_at = ?, completed_at = ?
				WHERE id = ? AND status = 'dispatched'
			`), message, now, now, jobID); err != nil {
				return fmt.Errorf("update job: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, r.q(`
			UPDATE video_units SET status = 'failed', error_message = ?, updated_at = ?
			WHERE id = ? AND status = 'dispatched'
		`), message, now, unitID); err != nil {
			return fmt.Errorf("update unit: %w", err)
		}
		return nil
	})
}

// ApplyTerminalResult settles a job and its unit in one transaction. Rows
// that are no longer in flight are left untouched, which makes redelivery a
// no-op.
func (r *SQLRepository) ApplyTerminalResult(ctx context.Context, res TerminalResult) (ApplyOutcome, error) {
	var out ApplyOutcome
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(res.At)

		jobRes, err := tx.ExecContext(ctx, r.q(`
			UPDATE generation_jobs
			SET status = ?, error_message = ?, correlation_id = COALESCE(correlation_id, ?),
				updated_at = ?, completed_at = ?
			WHERE id = ? AND status IN ('dispatched', 'generating')
		`), string(res.JobStatus), nullString(res.ErrorMessage), nullString(res.CorrelationID), now, now, res.JobID)
		if out.JobUpdated, err = affected(jobRes, err); err != nil || !out.JobUpdated {
			return err
		}

		if res.UnitID == "" {
			return nil
		}
		unitRes, err := tx.ExecContext(ctx, r.q(`
			UPDATE video_units
			SET status = ?, result_url = ?, thumbnail_url = ?, error_message = ?,
				processing_time_ms = ?, actual_cost = ?, updated_at = ?
			WHERE id = ? AND status IN ('dispatched', 'generating')
		`), string(res.UnitStatus), nullString(res.ResultURL), nullString(res.ThumbnailURL), nullString(res.ErrorMessage),
			res.ProcessingTimeMs, res.ActualCost, now, res.UnitID)
		out.UnitUpdated, err = affected(unitRes, err)
		return err
	})
	if err != nil {
		return ApplyOutcome{}, err
	}
	return out, nil
}

const artifactColumns = `id, section_id, ordered_unit_ids, output_url, file_size, duration, format, quality, compiled_at`

func (r *SQLRepository) CreateArtifact(ctx context.Context, a *CompiledArtifact) error {
	ids, err := json.Marshal(a.OrderedUnitIDs)
	if err != nil {
		return fmt.Errorf("encode unit ids: %w", err)
	}
	_, err = r.db.ExecContext(ctx, r.q(`
		INSERT INTO compiled_artifacts (`+artifactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), a.ID, a.SectionID, string(ids), a.OutputURL, a.FileSize, a.Duration, a.Format, a.Quality, formatTime(a.CompiledAt))
	return err
}

func (r *SQLRepository) ListArtifacts(ctx context.Context, sectionID string) ([]*CompiledArtifact, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT `+artifactColumns+` FROM compiled_artifacts WHERE section_id = ? ORDER BY compiled_at DESC, id
	`), sectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*CompiledArtifact
	for rows.Next() {
		var a CompiledArtifact
		var ids, compiledAt string
		if err := rows.Scan(&a.ID, &a.SectionID, &ids, &a.OutputURL, &a.FileSize, &a.Duration, &a.Format, &a.Quality, &compiledAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ids), &a.OrderedUnitIDs); err != nil {
			return nil, fmt.Errorf("decode unit ids of artifact %s: %w", a.ID, err)
		}
		a.CompiledAt = parseTime(compiledAt)
		artifacts = append(artifacts, &a)
	}
	return artifacts, rows.Err()
}

const runColumns = `id, section_id, status, current_unit_id, error, created_at, updated_at`

func (r *SQLRepository) CreateRun(ctx context.Context, run *SequenceRun) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO sequence_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
	`), run.ID, run.SectionID, string(run.Status), nullString(run.CurrentUnitID), nullString(run.Error),
		formatTime(run.CreatedAt), formatTime(run.UpdatedAt))
	return err
}

func scanRun(row rowScanner) (*SequenceRun, error) {
	var run SequenceRun
	var status, createdAt, updatedAt string
	var current, errMsg sql.NullString
	if err := row.Scan(&run.ID, &run.SectionID, &status, &current, &errMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.CurrentUnitID = current.String
	run.Error = errMsg.String
	run.CreatedAt = parseTime(createdAt)
	run.UpdatedAt = parseTime(updatedAt)
	return &run, nil
}

func (r *SQLRepository) GetRun(ctx context.Context, id string) (*SequenceRun, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, r.q(`SELECT `+runColumns+` FROM sequence_runs WHERE id = ?`), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (r *SQLRepository) GetActiveRun(ctx context.Context, sectionID string) (*SequenceRun, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, r.q(`
		SELECT `+runColumns+` FROM sequence_runs
		WHERE section_id = ? AND status IN ('pending', 'running')
		ORDER BY created_at ASC LIMIT 1
	`), sectionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (r *SQLRepository) ListActiveRuns(ctx context.Context) ([]*SequenceRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM sequence_runs
		WHERE status IN ('pending', 'running') ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*SequenceRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *SQLRepository) UpdateRun(ctx context.Context, run *SequenceRun) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		UPDATE sequence_runs SET status = ?, current_unit_id = ?, error = ?, updated_at = ? WHERE id = ?
	`), string(run.Status), nullString(run.CurrentUnitID), nullString(run.Error), formatTime(run.UpdatedAt), run.ID)
	return err
}

func (r *SQLRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, r.q("SELECT value FROM config WHERE key = ?"), key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`), key, value)
	return err
}

func (r *SQLRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Timestamps are stored as UTC RFC3339 text so that lexical order matches
// time order on both drivers.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
