package studio

import (
	"context"

	"github.com/heimdex/reelforge/internal/logging"
)

// Approve marks a completed unit as accepted by the operator. Approving an
// already approved unit succeeds without a change.
func (s *Service) Approve(ctx context.Context, unitID string) (*VideoUnit, error) {
	unit, err := s.GetUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}

	switch unit.Status {
	case UnitApproved:
		return unit, nil
	case UnitCompleted:
	default:
		return nil, &StateError{UnitID: unitID, Status: unit.Status, Action: "approve", Allowed: []UnitStatus{UnitCompleted}}
	}

	ok, err := s.repo.ApproveUnit(ctx, unitID, s.now())
	if err != nil {
		return nil, err
	}

	current, err := s.GetUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if !ok && current.Status != UnitApproved {
		return nil, &StateError{UnitID: unitID, Status: current.Status, Action: "approve", Allowed: []UnitStatus{UnitCompleted}}
	}

	if ok {
		logging.WithUnitID(s.logger, unitID).Info("unit approved", "section_id", current.SectionID, "order", current.Order)
	}
	return current, nil
}
