package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is shared by schedules and observations.
type Status string

const (
	StatusPlanned     Status = "planned"
	StatusScheduled   Status = "scheduled"
	StatusUnscheduled Status = "unscheduled"
	StatusPerformed   Status = "performed"
	StatusAborted     Status = "aborted"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPlanned, StatusScheduled, StatusUnscheduled, StatusPerformed, StatusAborted:
		return true
	}
	return false
}

// Upcoming reports whether the status describes work that has not happened yet.
func (s Status) Upcoming() bool {
	return s == StatusPlanned || s == StatusScheduled
}

type Fidelity string

const (
	FidelityLow  Fidelity = "low"
	FidelityHigh Fidelity = "high"
)

func (f Fidelity) Valid() bool {
	return f == FidelityLow || f == FidelityHigh
}

// DateRange is an inclusive UTC interval.
type DateRange struct {
	Begin time.Time `json:"begin"`
	End   time.Time `json:"end"`
}

func (r DateRange) Validate() error {
	if r.Begin.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: date range needs begin and end", ErrInvalidParameters)
	}
	if r.End.Before(r.Begin) {
		return fmt.Errorf("%w: date range end %s before begin %s", ErrInvalidParameters, r.End.Format(time.RFC3339), r.Begin.Format(time.RFC3339))
	}
	return nil
}

// Contains reports whether o lies within r.
func (r DateRange) Contains(o DateRange) bool {
	return !o.Begin.Before(r.Begin) && !o.End.After(r.End)
}

type Schedule struct {
	ID               uuid.UUID      `json:"id"`
	TelescopeID      uuid.UUID      `json:"telescope_id"`
	Name             string         `json:"name"`
	DateRange        DateRange      `json:"date_range"`
	Status           Status         `json:"status"`
	ExternalID       *string        `json:"external_id,omitempty"`
	Fidelity         Fidelity       `json:"fidelity"`
	Checksum         string         `json:"checksum"`
	CreatedOn        time.Time      `json:"created_on"`
	CreatedByID      uuid.UUID      `json:"created_by_id"`
	ObservationCount int            `json:"observation_count"`
	Observations     []*Observation `json:"observations,omitempty"`
}

// ScheduleOrder selects the sort key for schedule listings. Both sort
// descending.
type ScheduleOrder int

const (
	OrderByBegin ScheduleOrder = iota
	OrderByCreated
)

type ScheduleQuery struct {
	ExternalID     *string
	Name           *string
	TelescopeIDs   []uuid.UUID
	ObservatoryIDs []uuid.UUID
	Status         *Status
	Fidelity       *Fidelity
	Begin          *time.Time
	End            *time.Time
	CreatedByID    *uuid.UUID
	OrderBy        ScheduleOrder
	Offset         int
	// Limit of zero returns every row.
	Limit int
}
