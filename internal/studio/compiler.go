package studio

import (
	"context"
	"errors"
	"fmt"

	"github.com/heimdex/reelforge/internal/concat"
	"github.com/heimdex/reelforge/internal/logging"
)

// CompileOptions select the output container and encoding quality. Empty
// values use the concatenation defaults.
type CompileOptions struct {
	Format  string `json:"format"`
	Quality string `json:"quality"`
}

// Compile concatenates the approved units of a section, in order, into one
// artifact.
func (s *Service) Compile(ctx context.Context, sectionID string, opts CompileOptions) (*CompiledArtifact, error) {
	if _, err := s.GetSection(ctx, sectionID); err != nil {
		return nil, err
	}
	logger := logging.WithSectionID(s.logger, sectionID)

	units, err := s.repo.ListApprovedUnits(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: section %s", ErrEmptySet, sectionID)
	}

	urls := make([]string, len(units))
	ids := make([]string, len(units))
	estimate := 0
	for i, u := range units {
		urls[i] = u.ResultURL
		ids[i] = u.ID
		estimate += u.Duration
	}

	req, err := concat.Request{OrderedURLs: urls, OutputFormat: opts.Format, Quality: opts.Quality}.Normalize()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	compileCtx, cancel := context.WithTimeout(ctx, s.compileTimeout)
	defer cancel()

	logger.Info("compiling section", "units", len(units), "format", req.OutputFormat, "quality", req.Quality)

	result, err := s.concat.Compile(compileCtx, req)
	if err != nil {
		var perr *concat.ProviderError
		logger.Error("compilation failed", "error", err, "retryable", errors.As(err, &perr) && perr.IsRetryable())
		return nil, fmt.Errorf("%w: %w", ErrCompilation, err)
	}

	duration := result.Duration
	if duration <= 0 {
		duration = float64(estimate)
	}
	artifact := &CompiledArtifact{
		ID:             NewID(),
		SectionID:      sectionID,
		OrderedUnitIDs: ids,
		OutputURL:      result.CompiledURL,
		FileSize:       result.FileSize,
		Duration:       duration,
		Format:         req.OutputFormat,
		Quality:        req.Quality,
		CompiledAt:     s.now(),
	}
	if err := s.repo.CreateArtifact(ctx, artifact); err != nil {
		return nil, fmt.Errorf("record artifact: %w", err)
	}

	logger.Info("section compiled",
		"artifact_id", artifact.ID,
		"output_url", artifact.OutputURL,
		"file_size", artifact.FileSize,
		"duration", artifact.Duration,
	)
	return artifact, nil
}
