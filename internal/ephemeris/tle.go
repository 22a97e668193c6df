package ephemeris

import (
	"context"
	"errors"
	"time"

	"github.com/signalsfoundry/across/core"
	"github.com/signalsfoundry/across/internal/worker"
	"github.com/signalsfoundry/across/model"
)

// TLELoader resolves the element set nearest to an epoch.
type TLELoader interface {
	NearestTLE(ctx context.Context, noradID int, epoch time.Time) (*model.TLE, error)
}

// TLEComputer propagates the stored TLE nearest to the request start.
type TLEComputer struct {
	tles TLELoader
	pool *worker.Pool
}

func NewTLEComputer(tles TLELoader, pool *worker.Pool) *TLEComputer {
	return &TLEComputer{tles: tles, pool: pool}
}

func (c *TLEComputer) Kind() model.EphemerisKind { return model.EphemerisTLE }

func (c *TLEComputer) Compute(ctx context.Context, cfg model.EphemerisConfig, req Request) ([]Sample, error) {
	ts, err := req.Timestamps()
	if err != nil {
		return nil, err
	}

	rec, err := c.tles.NearestTLE(ctx, cfg.TLE.NoradID, req.Begin)
	if err != nil {
		if errors.Is(err, model.ErrTLENotFound) {
			return nil, backendErr(model.EphemerisTLE, err)
		}
		return nil, err
	}
	orbit, err := core.NewOrbit(rec.Line1, rec.Line2)
	if err != nil {
		return nil, backendErr(model.EphemerisTLE, err)
	}

	samples, err := worker.Run(ctx, c.pool, func(ctx context.Context) ([]Sample, error) {
		return inertialSamples(ctx, ts, orbit.PositionECI)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, backendErr(model.EphemerisTLE, err)
	}
	return samples, nil
}
