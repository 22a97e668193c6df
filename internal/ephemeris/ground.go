package ephemeris

import (
	"context"
	"time"

	"github.com/signalsfoundry/across/core"
	"github.com/signalsfoundry/across/internal/worker"
	"github.com/signalsfoundry/across/model"
)

// GroundComputer produces the inertial track of a fixed site and tags each
// sample with the local altitude and azimuth of the Sun and Moon.
type GroundComputer struct {
	pool *worker.Pool
}

func NewGroundComputer(pool *worker.Pool) *GroundComputer {
	return &GroundComputer{pool: pool}
}

func (c *GroundComputer) Kind() model.EphemerisKind { return model.EphemerisGround }

func (c *GroundComputer) Compute(ctx context.Context, cfg model.EphemerisConfig, req Request) ([]Sample, error) {
	ts, err := req.Timestamps()
	if err != nil {
		return nil, err
	}
	loc := cfg.Ground
	station := core.NewStation(loc.Latitude, loc.Longitude, loc.Height)

	return worker.Run(ctx, c.pool, func(ctx context.Context) ([]Sample, error) {
		samples, err := inertialSamples(ctx, ts, func(t time.Time) (core.Vec3, error) {
			return core.ECEFToECI(station.ECEF, core.GMST(t)), nil
		})
		if err != nil {
			return nil, err
		}
		for i := range samples {
			s := &samples[i]
			sun := station.LookAngles(core.ECIToECEF(s.Sun, s.GMST))
			moon := station.LookAngles(core.ECIToECEF(s.Moon, s.GMST))
			s.Station = &station
			s.SunAltAz = &sun
			s.MoonAltAz = &moon
		}
		return samples, nil
	})
}
