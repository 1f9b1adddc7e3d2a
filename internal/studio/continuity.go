package studio

import (
	"context"

	"github.com/heimdex/reelforge/internal/profiles"
)

// Reference is the start image a unit is generated from.
type Reference struct {
	URL string
	// Chained is set when URL was taken from the previous unit's thumbnail
	// rather than set on the unit itself.
	Chained bool
}

// ResolveReference picks the reference image for unit. An explicit reference
// wins; otherwise the thumbnail of the previous unit is chained in when the
// profile accepts a reference image and that unit has a usable result.
func (s *Service) ResolveReference(ctx context.Context, unit *VideoUnit, profile *profiles.Profile) (Reference, error) {
	if unit.ReferenceImageURL != "" {
		return Reference{URL: unit.ReferenceImageURL}, nil
	}
	if !profile.SupportsReferenceImage || unit.Order <= 1 {
		return Reference{}, nil
	}

	prev, err := s.repo.GetUnitByOrder(ctx, unit.SectionID, unit.Order-1)
	if err != nil {
		return Reference{}, err
	}
	if prev == nil || prev.ThumbnailURL == "" {
		return Reference{}, nil
	}
	if prev.Status != UnitCompleted && prev.Status != UnitApproved {
		return Reference{}, nil
	}
	return Reference{URL: prev.ThumbnailURL, Chained: true}, nil
}
