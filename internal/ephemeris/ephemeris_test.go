package ephemeris

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/across/core"
	"github.com/signalsfoundry/across/internal/worker"
	"github.com/signalsfoundry/across/model"
)

var day0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type observatories map[uuid.UUID]*model.Observatory

func (o observatories) GetObservatory(_ context.Context, id uuid.UUID) (*model.Observatory, error) {
	obs, ok := o[id]
	if !ok {
		return nil, model.ErrObservatoryNotFound
	}
	return obs, nil
}

type stubComputer struct {
	kind  model.EphemerisKind
	err   error
	calls int
}

func (s *stubComputer) Kind() model.EphemerisKind { return s.kind }

func (s *stubComputer) Compute(ctx context.Context, _ model.EphemerisConfig, req Request) ([]Sample, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	ts, err := req.Timestamps()
	if err != nil {
		return nil, err
	}
	return inertialSamples(ctx, ts, func(time.Time) (core.Vec3, error) {
		return core.Vec3{X: 7000}, nil
	})
}

type recorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recorder) ObserveEphemeris(kind, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, kind+":"+outcome)
}

func spaceObservatory(configs ...model.EphemerisConfig) *model.Observatory {
	return &model.Observatory{
		ID:               uuid.New(),
		Name:             "Test Observatory",
		Type:             model.ObservatorySpaceBased,
		OperationalBegin: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		EphemerisConfigs: configs,
	}
}

func tleConfig(priority int) model.EphemerisConfig {
	return model.EphemerisConfig{Kind: model.EphemerisTLE, Priority: priority, TLE: &model.TLEParameters{NoradID: 25544}}
}

func jplConfig(priority int) model.EphemerisConfig {
	return model.EphemerisConfig{Kind: model.EphemerisJPL, Priority: priority, JPL: &model.JPLParameters{NaifID: -48}}
}

func TestTimestamps(t *testing.T) {
	tests := []struct {
		name  string
		span  time.Duration
		step  time.Duration
		count int
	}{
		{"day hourly", 24 * time.Hour, time.Hour, 25},
		{"uneven", time.Hour, 7 * time.Minute, 10},
		{"single", 0, time.Minute, 1},
		{"step longer than span", 30 * time.Second, time.Minute, 2},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ts, err := Request{Begin: day0, End: day0.Add(tt.span), Step: tt.step}.Timestamps()
			if err != nil {
				t.Fatalf("Timestamps: %v", err)
			}
			if len(ts) != tt.count {
				t.Fatalf("len = %d, want %d", len(ts), tt.count)
			}
			if !ts[0].Equal(day0) || !ts[len(ts)-1].Equal(day0.Add(tt.span)) {
				t.Fatalf("endpoints = %v..%v", ts[0], ts[len(ts)-1])
			}
			for i := 1; i < len(ts); i++ {
				if ts[i].Sub(ts[i-1]) > tt.step {
					t.Fatalf("gap %v exceeds step %v", ts[i].Sub(ts[i-1]), tt.step)
				}
			}
		})
	}

	twentyYears := Request{Begin: day0, End: day0.AddDate(20, 0, 0), Step: time.Minute}
	if n, err := twentyYears.Count(); err != nil || n < 10_000_000 {
		t.Fatalf("Count() = %v, %v, want over 10M samples", n, err)
	}
	if n, err := (Request{Begin: day0, End: day0.Add(time.Hour), Step: 7 * time.Minute}).Count(); err != nil || n != 10 {
		t.Fatalf("Count() = %v, %v, want 10", n, err)
	}
	if _, err := (Request{Begin: day0, End: day0.Add(-time.Hour), Step: time.Minute}).Timestamps(); !errors.Is(err, model.ErrInvalidParameters) {
		t.Fatalf("reversed range err = %v", err)
	}
	if _, err := (Request{Begin: day0, End: day0, Step: 0}).Timestamps(); !errors.Is(err, model.ErrInvalidParameters) {
		t.Fatalf("zero step err = %v", err)
	}
}

func TestSelectorFallsBackByPriority(t *testing.T) {
	obs := spaceObservatory(jplConfig(2), tleConfig(1))
	tle := &stubComputer{kind: model.EphemerisTLE, err: backendErr(model.EphemerisTLE, model.ErrTLENotFound)}
	jpl := &stubComputer{kind: model.EphemerisJPL}
	rec := &recorder{}

	sel := NewSelector(observatories{obs.ID: obs}, nil,
		WithComputer(tle), WithComputer(jpl), WithMetricsRecorder(rec))

	eph, err := sel.GetEphemeris(context.Background(), obs.ID, day0, day0.Add(time.Hour), time.Minute)
	if err != nil {
		t.Fatalf("GetEphemeris: %v", err)
	}
	if eph.Kind != model.EphemerisJPL {
		t.Fatalf("kind = %s, want jpl", eph.Kind)
	}
	if tle.calls != 1 || jpl.calls != 1 {
		t.Fatalf("calls tle=%d jpl=%d, want 1 each", tle.calls, jpl.calls)
	}
	if len(eph.Samples) != 61 {
		t.Fatalf("samples = %d, want 61", len(eph.Samples))
	}
	if got := strings.Join(rec.outcomes, ","); got != "tle:fallback,jpl:ok" {
		t.Fatalf("metrics = %s", got)
	}
}

func TestSelectorAllBackendsFail(t *testing.T) {
	obs := spaceObservatory(tleConfig(1), jplConfig(2))
	sel := NewSelector(observatories{obs.ID: obs}, nil,
		WithComputer(&stubComputer{kind: model.EphemerisTLE, err: backendErr(model.EphemerisTLE, errors.New("decayed"))}),
		WithComputer(&stubComputer{kind: model.EphemerisJPL, err: backendErr(model.EphemerisJPL, errors.New("horizons down"))}),
	)

	_, err := sel.GetEphemeris(context.Background(), obs.ID, day0, day0.Add(time.Hour), time.Minute)
	var cnf *CalculationNotFoundError
	if !errors.As(err, &cnf) {
		t.Fatalf("err = %v, want CalculationNotFoundError", err)
	}
	if len(cnf.Attempted) != 2 || cnf.Attempted[0] != model.EphemerisTLE || cnf.Attempted[1] != model.EphemerisJPL {
		t.Fatalf("attempted = %v", cnf.Attempted)
	}
	if !strings.Contains(err.Error(), "tle") || !strings.Contains(err.Error(), "jpl") {
		t.Fatalf("message %q should list both kinds", err.Error())
	}
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("calculation error should classify as not found")
	}
}

func TestSelectorUnregisteredKindFallsThrough(t *testing.T) {
	obs := spaceObservatory(model.EphemerisConfig{
		Kind: model.EphemerisSpice, Priority: 1,
		Spice: &model.SpiceParameters{NaifID: -48, KernelURL: "http://example.invalid/k.oem"},
	}, tleConfig(2))
	sel := NewSelector(observatories{obs.ID: obs}, nil, WithComputer(&stubComputer{kind: model.EphemerisTLE}))

	eph, err := sel.GetEphemeris(context.Background(), obs.ID, day0, day0.Add(time.Hour), time.Hour)
	if err != nil || eph.Kind != model.EphemerisTLE {
		t.Fatalf("GetEphemeris = %v, %v", eph, err)
	}
}

func TestSelectorAbortsOnNonBackendError(t *testing.T) {
	obs := spaceObservatory(tleConfig(1), jplConfig(2))
	jpl := &stubComputer{kind: model.EphemerisJPL}
	sel := NewSelector(observatories{obs.ID: obs}, nil,
		WithComputer(&stubComputer{kind: model.EphemerisTLE, err: context.Canceled}),
		WithComputer(jpl),
	)

	_, err := sel.GetEphemeris(context.Background(), obs.ID, day0, day0.Add(time.Hour), time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if jpl.calls != 0 {
		t.Fatalf("lower priority backend should not run after a hard failure")
	}
}

func TestSelectorGuards(t *testing.T) {
	end := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	retired := spaceObservatory(tleConfig(1))
	retired.OperationalEnd = &end
	empty := spaceObservatory()
	sel := NewSelector(observatories{retired.ID: retired, empty.ID: empty}, nil,
		WithComputer(&stubComputer{kind: model.EphemerisTLE}))

	ctx := context.Background()
	if _, err := sel.GetEphemeris(ctx, uuid.New(), day0, day0.Add(time.Hour), time.Minute); !errors.Is(err, model.ErrObservatoryNotFound) {
		t.Fatalf("unknown observatory err = %v", err)
	}

	_, err := sel.GetEphemeris(ctx, retired.ID, day0, day0.Add(time.Hour), time.Minute)
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.ObservatoryID != retired.ID {
		t.Fatalf("out of range err = %v, want NotFoundError", err)
	}

	// Straddling the operational start is also rejected.
	early := retired.OperationalBegin.Add(-time.Hour)
	if _, err := sel.GetEphemeris(ctx, retired.ID, early, early.Add(2*time.Hour), time.Minute); !errors.As(err, &nf) {
		t.Fatalf("straddling range err = %v, want NotFoundError", err)
	}

	if _, err := sel.GetEphemeris(ctx, empty.ID, day0, day0.Add(time.Hour), time.Minute); !errors.Is(err, ErrTypeNotFound) {
		t.Fatalf("empty configs err = %v, want ErrTypeNotFound", err)
	}
}

type tleTable map[int]*model.TLE

func (tt tleTable) NearestTLE(_ context.Context, norad int, _ time.Time) (*model.TLE, error) {
	rec, ok := tt[norad]
	if !ok {
		return nil, model.ErrTLENotFound
	}
	return rec, nil
}

const (
	issLine1 = "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990"
	issLine2 = "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760"
)

func TestTLEComputer(t *testing.T) {
	pool := worker.New(2)
	c := NewTLEComputer(tleTable{25544: {NoradID: 25544, Line1: issLine1, Line2: issLine2}}, pool)

	start := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)
	samples, err := c.Compute(context.Background(), tleConfig(1), Request{Begin: start, End: start.Add(time.Hour), Step: 10 * time.Minute})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(samples) != 7 {
		t.Fatalf("samples = %d, want 7", len(samples))
	}
	for _, s := range samples {
		if r := s.Position.Norm(); r < 6600 || r > 6900 {
			t.Fatalf("radius %v km at %v", r, s.Time)
		}
		if s.Sun.Norm() < 1.4e8 || s.Moon.Norm() < 3.5e5 {
			t.Fatalf("sun/moon not filled at %v", s.Time)
		}
	}

	cfg := tleConfig(1)
	cfg.TLE.NoradID = 1
	_, err = c.Compute(context.Background(), cfg, Request{Begin: start, End: start.Add(time.Hour), Step: time.Minute})
	var be *BackendError
	if !errors.As(err, &be) || !errors.Is(err, model.ErrTLENotFound) {
		t.Fatalf("missing TLE err = %v, want backend error wrapping ErrTLENotFound", err)
	}
}

func TestGroundComputer(t *testing.T) {
	c := NewGroundComputer(worker.New(1))
	cfg := model.EphemerisConfig{
		Kind:   model.EphemerisGround,
		Ground: &model.GroundLocation{Latitude: 19.8207, Longitude: -155.468, Height: 4205},
	}
	samples, err := c.Compute(context.Background(), cfg, Request{Begin: day0, End: day0.Add(24 * time.Hour), Step: time.Hour})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(samples) != 25 {
		t.Fatalf("samples = %d, want 25", len(samples))
	}

	var sawDay, sawNight bool
	for _, s := range samples {
		if s.Station == nil || s.SunAltAz == nil || s.MoonAltAz == nil {
			t.Fatalf("ground sample missing station tags at %v", s.Time)
		}
		if r := s.Position.Norm(); r < 6370 || r > 6390 {
			t.Fatalf("station radius %v km", r)
		}
		if s.SunAltAz.Alt > 0 {
			sawDay = true
		} else {
			sawNight = true
		}
	}
	if !sawDay || !sawNight {
		t.Fatalf("a full day at Mauna Kea should include day and night samples")
	}
}

func TestComputersHonourCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewGroundComputer(worker.New(1))
	cfg := model.EphemerisConfig{Kind: model.EphemerisGround, Ground: &model.GroundLocation{}}
	if _, err := c.Compute(ctx, cfg, Request{Begin: day0, End: day0.Add(time.Hour), Step: time.Minute}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
