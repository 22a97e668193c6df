// Package ephemeris computes sampled observer trajectories for observatories
// and selects among the configured backends by priority.
package ephemeris

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/across/core"
	"github.com/signalsfoundry/across/model"
)

// ErrTypeNotFound is returned for an observatory without ephemeris configurations.
var ErrTypeNotFound = fmt.Errorf("ephemeris type %w", model.ErrNotFound)

// NotFoundError reports a request outside the observatory's operational range.
type NotFoundError struct {
	ObservatoryID    uuid.UUID
	OperationalBegin time.Time
	OperationalEnd   *time.Time
}

func (e *NotFoundError) Error() string {
	end := "present"
	if e.OperationalEnd != nil {
		end = e.OperationalEnd.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("ephemeris not found for observatory %s: operational range is %s to %s",
		e.ObservatoryID, e.OperationalBegin.UTC().Format(time.RFC3339), end)
}

func (e *NotFoundError) Unwrap() error { return model.ErrNotFound }

// CalculationNotFoundError is returned when every configured backend failed.
type CalculationNotFoundError struct {
	ObservatoryID uuid.UUID
	Attempted     []model.EphemerisKind
}

func (e *CalculationNotFoundError) Error() string {
	kinds := make([]string, len(e.Attempted))
	for i, k := range e.Attempted {
		kinds[i] = string(k)
	}
	return fmt.Sprintf("ephemeris calculation not found for observatory %s: attempted %s",
		e.ObservatoryID, strings.Join(kinds, ", "))
}

func (e *CalculationNotFoundError) Unwrap() error { return model.ErrNotFound }

// BackendError marks a recoverable backend failure; the selector moves on to
// the next configuration when it sees one.
type BackendError struct {
	Kind model.EphemerisKind
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s ephemeris: %v", e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func backendErr(kind model.EphemerisKind, err error) error {
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Kind: kind, Err: err}
}

// Sample is one instant of an ephemeris. Vectors are geocentric inertial
// kilometres.
type Sample struct {
	Time     time.Time
	Position core.Vec3
	Sun      core.Vec3
	Moon     core.Vec3
	// GMST is the sidereal angle in radians at Time.
	GMST float64
	// Station, SunAltAz and MoonAltAz are set for ground observatories only.
	Station   *core.Station
	SunAltAz  *core.Horizontal
	MoonAltAz *core.Horizontal
}

// Ephemeris is a trajectory sampled at uniform timestamps.
type Ephemeris struct {
	ObservatoryID uuid.UUID
	Kind          model.EphemerisKind
	Begin         time.Time
	End           time.Time
	Step          time.Duration
	Samples       []Sample
}

// Request is the sampling window passed to a computer.
type Request struct {
	Begin time.Time
	End   time.Time
	Step  time.Duration
}

// Count returns how many instants Timestamps yields, without allocating them.
func (r Request) Count() (int, error) {
	if r.Step <= 0 {
		return 0, fmt.Errorf("%w: ephemeris step must be positive", model.ErrInvalidParameters)
	}
	if r.End.Before(r.Begin) {
		return 0, fmt.Errorf("%w: ephemeris end before begin", model.ErrInvalidParameters)
	}
	span := r.End.Sub(r.Begin)
	if span == 0 {
		return 1, nil
	}
	return int(math.Ceil(float64(span)/float64(r.Step))) + 1, nil
}

// Timestamps returns ceil((end-begin)/step)+1 uniform instants from begin to
// end inclusive.
func (r Request) Timestamps() ([]time.Time, error) {
	n, err := r.Count()
	if err != nil {
		return nil, err
	}
	if n == 1 {
		return []time.Time{r.Begin}, nil
	}

	span := r.End.Sub(r.Begin)
	out := make([]time.Time, n)
	for i := 0; i < n-1; i++ {
		off := time.Duration(math.Round(float64(span) * float64(i) / float64(n-1)))
		out[i] = r.Begin.Add(off)
	}
	out[n-1] = r.End
	return out, nil
}

// Computer produces an ephemeris for one backend kind.
type Computer interface {
	Kind() model.EphemerisKind
	Compute(ctx context.Context, cfg model.EphemerisConfig, req Request) ([]Sample, error)
}

// checkEvery bounds how many samples a CPU loop processes between
// cancellation checks.
const checkEvery = 64

// inertialSamples builds samples from an inertial position function, filling
// in the Sun and Moon.
func inertialSamples(ctx context.Context, ts []time.Time, pos func(time.Time) (core.Vec3, error)) ([]Sample, error) {
	out := make([]Sample, len(ts))
	for i, t := range ts {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		p, err := pos(t)
		if err != nil {
			return nil, err
		}
		out[i] = Sample{
			Time:     t,
			Position: p,
			Sun:      core.SunPosition(t),
			Moon:     core.MoonPosition(t),
			GMST:     core.GMST(t),
		}
	}
	return out, nil
}
