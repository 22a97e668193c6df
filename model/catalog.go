package model

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/across/core"
)

// ObservatoryType distinguishes orbiting platforms from ground sites.
type ObservatoryType string

const (
	ObservatorySpaceBased  ObservatoryType = "space_based"
	ObservatoryGroundBased ObservatoryType = "ground_based"
)

// EphemerisKind names an ephemeris backend.
type EphemerisKind string

const (
	EphemerisTLE    EphemerisKind = "tle"
	EphemerisJPL    EphemerisKind = "jpl"
	EphemerisSpice  EphemerisKind = "spice"
	EphemerisGround EphemerisKind = "ground"
)

// Observatory is a platform hosting telescopes. OperationalEnd is nil while
// the observatory is still operating.
type Observatory struct {
	ID               uuid.UUID         `json:"id"`
	Name             string            `json:"name"`
	ShortName        string            `json:"short_name"`
	Type             ObservatoryType   `json:"type"`
	OperationalBegin time.Time         `json:"operational_begin"`
	OperationalEnd   *time.Time        `json:"operational_end,omitempty"`
	EphemerisConfigs []EphemerisConfig `json:"ephemeris_types"`
}

// Operational reports whether [begin, end] lies entirely inside the
// observatory's operational range.
func (o *Observatory) Operational(begin, end time.Time) bool {
	if begin.Before(o.OperationalBegin) {
		return false
	}
	if o.OperationalEnd != nil && end.After(*o.OperationalEnd) {
		return false
	}
	return true
}

// EphemerisConfig selects one backend for an observatory. Lower Priority wins.
// Exactly one parameter block is set and it matches Kind.
type EphemerisConfig struct {
	Kind     EphemerisKind    `json:"ephemeris_type"`
	Priority int              `json:"priority"`
	TLE      *TLEParameters   `json:"tle_parameters,omitempty"`
	JPL      *JPLParameters   `json:"jpl_parameters,omitempty"`
	Spice    *SpiceParameters `json:"spice_kernel_parameters,omitempty"`
	Ground   *GroundLocation  `json:"earth_location_parameters,omitempty"`
}

func (c EphemerisConfig) Validate() error {
	set := 0
	for _, ok := range []bool{c.TLE != nil, c.JPL != nil, c.Spice != nil, c.Ground != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: ephemeris config %q needs exactly one parameter block, got %d", ErrInvalidParameters, c.Kind, set)
	}
	var match bool
	switch c.Kind {
	case EphemerisTLE:
		match = c.TLE != nil
	case EphemerisJPL:
		match = c.JPL != nil
	case EphemerisSpice:
		match = c.Spice != nil
	case EphemerisGround:
		match = c.Ground != nil
	default:
		return fmt.Errorf("%w: unknown ephemeris type %q", ErrInvalidParameters, c.Kind)
	}
	if !match {
		return fmt.Errorf("%w: parameters do not match ephemeris type %q", ErrInvalidParameters, c.Kind)
	}
	return nil
}

type TLEParameters struct {
	NoradID       int    `json:"norad_id"`
	SatelliteName string `json:"norad_satellite_name"`
}

type JPLParameters struct {
	NaifID int `json:"naif_id"`
}

type SpiceParameters struct {
	NaifID    int    `json:"naif_id"`
	KernelURL string `json:"spice_kernel_url"`
}

// GroundLocation is a geodetic site. Height is meters above the WGS-84 ellipsoid.
type GroundLocation struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Height    float64 `json:"height"`
}

type Telescope struct {
	ID            uuid.UUID `json:"id"`
	ObservatoryID uuid.UUID `json:"observatory_id"`
	Name          string    `json:"name"`
	ShortName     string    `json:"short_name"`
}

// FOVKind describes the shape of an instrument's field of view.
type FOVKind string

const (
	FOVPoint   FOVKind = "point"
	FOVPolygon FOVKind = "polygon"
	FOVAllSky  FOVKind = "all_sky"
)

// RequiresPointing reports whether observations on this field of view must
// carry a pointing position.
func (k FOVKind) RequiresPointing() bool {
	return k == FOVPoint || k == FOVPolygon
}

// VisibilityType selects the visibility calculator for an instrument.
type VisibilityType string

const (
	VisibilityEphemeris VisibilityType = "ephemeris"
	VisibilityVO        VisibilityType = "vo"
	VisibilityCustom    VisibilityType = "custom"
)

type Instrument struct {
	ID             uuid.UUID      `json:"id"`
	TelescopeID    uuid.UUID      `json:"telescope_id"`
	ObservatoryID  uuid.UUID      `json:"observatory_id"`
	Name           string         `json:"name"`
	ShortName      string         `json:"short_name"`
	FieldOfView    FOVKind        `json:"field_of_view"`
	VisibilityType VisibilityType `json:"visibility_type"`
	Filters        []Filter       `json:"filters,omitempty"`
	Footprint      core.Footprint `json:"footprints,omitempty"`
	Constraints    []Constraint   `json:"constraints,omitempty"`
}

func (i *Instrument) Validate() error {
	switch i.FieldOfView {
	case FOVPolygon:
		if len(i.Footprint) == 0 {
			return fmt.Errorf("%w: polygon instrument %s has no footprint", ErrInvalidParameters, i.ID)
		}
		for n, ring := range i.Footprint {
			if distinctVertices(ring) < 3 {
				return fmt.Errorf("%w: footprint polygon %d of instrument %s needs at least 3 distinct vertices", ErrInvalidParameters, n, i.ID)
			}
		}
	case FOVPoint, FOVAllSky:
		if len(i.Footprint) != 0 {
			return fmt.Errorf("%w: %s instrument %s must not carry a footprint", ErrInvalidParameters, i.FieldOfView, i.ID)
		}
	default:
		return fmt.Errorf("%w: unknown field of view %q", ErrInvalidParameters, i.FieldOfView)
	}
	return nil
}

func distinctVertices(ring core.BodyPolygon) int {
	seen := make(map[core.Offset]struct{}, len(ring))
	for _, v := range ring {
		seen[v] = struct{}{}
	}
	return len(seen)
}

// Filter is a named wavelength band, in angstrom.
type Filter struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	MinWavelength  float64   `json:"min_wavelength"`
	MaxWavelength  float64   `json:"max_wavelength"`
	PeakWavelength float64   `json:"peak_wavelength"`
}

// ConstraintType names a visibility constraint.
type ConstraintType string

const (
	ConstraintSun   ConstraintType = "sun"
	ConstraintMoon  ConstraintType = "moon"
	ConstraintEarth ConstraintType = "earth"
	ConstraintAltAz ConstraintType = "alt_az"
)

// Constraint is the stored form of an instrument constraint. Angles are
// degrees. For alt_az, Polygon is an exclusion region in (az, alt).
type Constraint struct {
	Type        ConstraintType `json:"constraint_type"`
	MinAngle    *float64       `json:"min_angle,omitempty"`
	MaxAngle    *float64       `json:"max_angle,omitempty"`
	AltitudeMin *float64       `json:"altitude_min,omitempty"`
	AltitudeMax *float64       `json:"altitude_max,omitempty"`
	Polygon     []AltAz        `json:"polygon,omitempty"`
}

type AltAz struct {
	Alt float64 `json:"alt"`
	Az  float64 `json:"az"`
}

// TLE is a two-line element set for one satellite at one epoch.
type TLE struct {
	NoradID       int       `json:"norad_id"`
	SatelliteName string    `json:"satellite_name"`
	Epoch         time.Time `json:"epoch"`
	Line1         string    `json:"tle1"`
	Line2         string    `json:"tle2"`
}

// Catalog is the seed document for observatories, telescopes, instruments
// and element sets.
type Catalog struct {
	Observatories []*Observatory `json:"observatories"`
	Telescopes    []*Telescope   `json:"telescopes"`
	Instruments   []*Instrument  `json:"instruments"`
	TLEs          []TLE          `json:"tles"`
}

// DecodeCatalog reads a catalog document. Unknown fields are rejected.
func DecodeCatalog(r io.Reader) (Catalog, error) {
	var c Catalog
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Catalog{}, fmt.Errorf("%w: decode catalog: %v", ErrInvalidParameters, err)
	}
	return c, nil
}
