package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/across/model"
)

// ReadParams are the raw filters of a schedule listing.
type ReadParams struct {
	ExternalID     *string
	Name           *string
	TelescopeIDs   []uuid.UUID
	ObservatoryIDs []uuid.UUID
	Status         *model.Status
	Fidelity       *model.Fidelity
	Begin          *time.Time
	End            *time.Time
	CreatedByID    *uuid.UUID
	Pagination     model.Pagination
}

// Query validates p and returns the store query.
func (p ReadParams) Query() (model.ScheduleQuery, error) {
	if err := p.Pagination.Validate(); err != nil {
		return model.ScheduleQuery{}, err
	}
	q := model.ScheduleQuery{
		ExternalID:     trimmed(p.ExternalID),
		Name:           trimmed(p.Name),
		TelescopeIDs:   p.TelescopeIDs,
		ObservatoryIDs: p.ObservatoryIDs,
		CreatedByID:    p.CreatedByID,
	}
	q.Offset, q.Limit = p.Pagination.Bounds()
	if p.Status != nil {
		if !p.Status.Valid() {
			return q, fmt.Errorf("%w: unknown status %q", model.ErrInvalidParameters, *p.Status)
		}
		q.Status = p.Status
	}
	if p.Fidelity != nil {
		if !p.Fidelity.Valid() {
			return q, fmt.Errorf("%w: unknown fidelity %q", model.ErrInvalidParameters, *p.Fidelity)
		}
		q.Fidelity = p.Fidelity
	}
	if p.Begin != nil {
		b := p.Begin.UTC()
		q.Begin = &b
	}
	if p.End != nil {
		e := p.End.UTC()
		q.End = &e
	}
	if q.Begin != nil && q.End != nil && q.End.Before(*q.Begin) {
		return q, fmt.Errorf("%w: end before begin", model.ErrInvalidParameters)
	}
	return q, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
