// Package schedule ingests observing schedules and serves schedule reads.
package schedule

import (
	"bytes"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/signalsfoundry/across/internal/bandpass"
	"github.com/signalsfoundry/across/model"
)

// ObservationCreate is one observation of a schedule create payload.
type ObservationCreate struct {
	InstrumentID          uuid.UUID             `json:"instrument_id"`
	ObjectName            string                `json:"object_name"`
	PointingPosition      *model.Coordinate     `json:"pointing_position,omitempty"`
	PointingAngle         *float64              `json:"pointing_angle,omitempty"`
	ObjectPosition        *model.Coordinate     `json:"object_position,omitempty"`
	DateRange             model.DateRange       `json:"date_range"`
	ExternalObservationID *string               `json:"external_observation_id,omitempty"`
	Type                  model.ObservationType `json:"type"`
	Status                model.Status          `json:"status"`
	ExposureTime          *float64              `json:"exposure_time,omitempty"`
	Bandpass              *bandpass.Input       `json:"bandpass,omitempty"`
	Depth                 *model.Depth          `json:"depth,omitempty"`
	ProposalReference     *string               `json:"proposal_reference,omitempty"`
}

// Create is the payload of a schedule create. Fidelity defaults to high.
type Create struct {
	TelescopeID  uuid.UUID           `json:"telescope_id"`
	Name         string              `json:"name"`
	DateRange    model.DateRange     `json:"date_range"`
	Status       model.Status        `json:"status"`
	ExternalID   *string             `json:"external_id,omitempty"`
	Fidelity     model.Fidelity      `json:"fidelity,omitempty"`
	Observations []ObservationCreate `json:"observations"`
}

// Normalize fills defaults and moves every timestamp to UTC so that equal
// schedules serialize identically.
func (c *Create) Normalize() {
	if c.Fidelity == "" {
		c.Fidelity = model.FidelityHigh
	}
	c.Name = strings.TrimSpace(c.Name)
	c.DateRange = utcRange(c.DateRange)
	for i := range c.Observations {
		c.Observations[i].DateRange = utcRange(c.Observations[i].DateRange)
	}
}

func utcRange(r model.DateRange) model.DateRange {
	return model.DateRange{Begin: r.Begin.UTC(), End: r.End.UTC()}
}

// Validate checks the payload on its own, without the telescope's
// instruments.
func (c *Create) Validate() error {
	if c.TelescopeID == uuid.Nil {
		return fmt.Errorf("%w: telescope_id is required", model.ErrInvalidParameters)
	}
	if err := c.DateRange.Validate(); err != nil {
		return err
	}
	if !c.DateRange.End.After(c.DateRange.Begin) {
		return fmt.Errorf("%w: schedule end must be after begin", model.ErrInvalidParameters)
	}
	if !c.Status.Valid() {
		return fmt.Errorf("%w: unknown schedule status %q", model.ErrInvalidParameters, c.Status)
	}
	if c.Fidelity != "" && !c.Fidelity.Valid() {
		return fmt.Errorf("%w: unknown fidelity %q", model.ErrInvalidParameters, c.Fidelity)
	}
	for i := range c.Observations {
		if err := c.Observations[i].validate(c.DateRange); err != nil {
			return fmt.Errorf("observation %d: %w", i, err)
		}
	}
	return nil
}

func (o *ObservationCreate) validate(schedule model.DateRange) error {
	if o.InstrumentID == uuid.Nil {
		return fmt.Errorf("%w: instrument_id is required", model.ErrInvalidParameters)
	}
	if err := o.DateRange.Validate(); err != nil {
		return err
	}
	if !schedule.Contains(o.DateRange) {
		return fmt.Errorf("%w: observation date range lies outside the schedule", model.ErrInvalidParameters)
	}
	if !o.Type.Valid() {
		return fmt.Errorf("%w: unknown observation type %q", model.ErrInvalidParameters, o.Type)
	}
	if !o.Status.Valid() {
		return fmt.Errorf("%w: unknown observation status %q", model.ErrInvalidParameters, o.Status)
	}
	if o.Depth != nil && !o.Depth.Unit.Valid() {
		return fmt.Errorf("%w: unknown depth unit %q", model.ErrInvalidParameters, o.Depth.Unit)
	}
	for _, p := range []*model.Coordinate{o.PointingPosition, o.ObjectPosition} {
		if p != nil && (p.RA < 0 || p.RA >= 360 || p.Dec < -90 || p.Dec > 90) {
			return fmt.Errorf("%w: coordinates must have ra in [0, 360) and dec in [-90, 90]", model.ErrInvalidParameters)
		}
	}
	return nil
}

// checksumView is the part of a create payload that identifies a schedule.
// The display name is not part of it.
type checksumView struct {
	TelescopeID  uuid.UUID           `json:"telescope_id"`
	DateRange    model.DateRange     `json:"date_range"`
	Status       model.Status        `json:"status"`
	ExternalID   *string             `json:"external_id"`
	Fidelity     model.Fidelity      `json:"fidelity"`
	Observations []ObservationCreate `json:"observations"`
}

// Checksum returns the hex SHA-512 of the canonical JSON form of c. Callers
// normalize c first.
func Checksum(c Create) (string, error) {
	obs := c.Observations
	if obs == nil {
		obs = []ObservationCreate{}
	}
	b, err := Canonical(checksumView{
		TelescopeID:  c.TelescopeID,
		DateRange:    c.DateRange,
		Status:       c.Status,
		ExternalID:   c.ExternalID,
		Fidelity:     c.Fidelity,
		Observations: obs,
	})
	if err != nil {
		return "", err
	}
	sum := sha512.Sum512(b)
	return hex.EncodeToString(sum[:]), nil
}

// Canonical encodes v as JSON with object keys sorted at every level, no
// insignificant whitespace, no HTML escaping and numbers in their shortest
// round-trip form.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
