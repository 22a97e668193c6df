package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/across/core"
)

type ObservationType string

const (
	ObservationImaging      ObservationType = "imaging"
	ObservationTiming       ObservationType = "timing"
	ObservationSpectroscopy ObservationType = "spectroscopy"
	ObservationPhotometric  ObservationType = "photometric"
)

func (t ObservationType) Valid() bool {
	switch t {
	case ObservationImaging, ObservationTiming, ObservationSpectroscopy, ObservationPhotometric:
		return true
	}
	return false
}

// Coordinate is an equatorial position in degrees.
type Coordinate struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

type DepthUnit string

const (
	DepthABMag   DepthUnit = "ab_mag"
	DepthVegaMag DepthUnit = "vega_mag"
	DepthFluxErg DepthUnit = "flux_erg"
	DepthFluxJy  DepthUnit = "flux_jy"
)

func (u DepthUnit) Valid() bool {
	switch u {
	case DepthABMag, DepthVegaMag, DepthFluxErg, DepthFluxJy:
		return true
	}
	return false
}

type Depth struct {
	Value float64   `json:"value"`
	Unit  DepthUnit `json:"unit"`
}

// Bandpass is the normalized wavelength band of an observation, in angstrom.
type Bandpass struct {
	FilterName     string   `json:"filter_name,omitempty"`
	MinWavelength  float64  `json:"min"`
	MaxWavelength  float64  `json:"max"`
	PeakWavelength *float64 `json:"peak_wavelength,omitempty"`
}

type Observation struct {
	ID                    uuid.UUID         `json:"id"`
	ScheduleID            uuid.UUID         `json:"schedule_id"`
	InstrumentID          uuid.UUID         `json:"instrument_id"`
	ObjectName            string            `json:"object_name"`
	PointingPosition      *Coordinate       `json:"pointing_position,omitempty"`
	PointingAngle         *float64          `json:"pointing_angle,omitempty"`
	ObjectPosition        *Coordinate       `json:"object_position,omitempty"`
	DateRange             DateRange         `json:"date_range"`
	ExternalObservationID *string           `json:"external_observation_id,omitempty"`
	Type                  ObservationType   `json:"type"`
	Status                Status            `json:"status"`
	ExposureTime          *float64          `json:"exposure_time,omitempty"`
	Bandpass              *Bandpass         `json:"bandpass,omitempty"`
	Depth                 *Depth            `json:"depth,omitempty"`
	ProposalReference     *string           `json:"proposal_reference,omitempty"`
	Footprint             core.SkyFootprint `json:"footprint,omitempty"`
	CreatedOn             time.Time         `json:"created_on"`
	CreatedByID           uuid.UUID         `json:"created_by_id"`
}

// ConeSearch selects observations whose pointing lies within RadiusMeters of
// (RA, Dec), measured on a sphere where one degree is core.MetersPerDegree.
type ConeSearch struct {
	RA           float64
	Dec          float64
	RadiusMeters float64
}

// WavelengthRange matches observations whose bandpass lies entirely inside it.
type WavelengthRange struct {
	Min float64
	Max float64
}

// ObservationOrder selects the sort key for observation listings. Both sort
// descending.
type ObservationOrder int

const (
	OrderObservationsByBegin ObservationOrder = iota
	OrderObservationsByCreated
)

// ObservationQuery is the normalized, validated form of an observation read.
type ObservationQuery struct {
	ExternalID     *string
	ScheduleIDs    []uuid.UUID
	ObservatoryIDs []uuid.UUID
	TelescopeIDs   []uuid.UUID
	InstrumentIDs  []uuid.UUID
	Status         *Status
	Type           *ObservationType
	Proposal       *string
	ObjectName     *string
	Begin          *time.Time
	End            *time.Time
	Cone           *ConeSearch
	Depth          *Depth
	Wavelength     *WavelengthRange
	OrderBy        ObservationOrder
	Offset         int
	// Limit of zero returns every row.
	Limit int
}
