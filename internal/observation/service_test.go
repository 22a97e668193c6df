package observation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/across/core"
	"github.com/signalsfoundry/across/kb"
	"github.com/signalsfoundry/across/model"
	"github.com/signalsfoundry/across/timectrl"
)

var now = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

type catalog struct {
	store      *kb.KnowledgeBase
	telescope  uuid.UUID
	polygon    uuid.UUID
	point      uuid.UUID
	svc        *Service
	checksumNo int
}

// square is a 1x1 degree body-frame footprint centered on the boresight.
var square = core.Footprint{{{X: -0.5, Y: -0.5}, {X: 0.5, Y: -0.5}, {X: 0.5, Y: 0.5}, {X: -0.5, Y: 0.5}}}

func newCatalog(t *testing.T) *catalog {
	t.Helper()
	c := &catalog{store: kb.NewKnowledgeBase(), telescope: uuid.New(), polygon: uuid.New(), point: uuid.New()}
	obsID := uuid.New()
	if err := c.store.AddObservatory(&model.Observatory{
		ID: obsID, ShortName: "SWIFT", Type: model.ObservatorySpaceBased,
		EphemerisConfigs: []model.EphemerisConfig{{Kind: model.EphemerisTLE, Priority: 1, TLE: &model.TLEParameters{NoradID: 28485}}},
	}); err != nil {
		t.Fatalf("AddObservatory error: %v", err)
	}
	if err := c.store.AddTelescope(&model.Telescope{ID: c.telescope, ObservatoryID: obsID}); err != nil {
		t.Fatalf("AddTelescope error: %v", err)
	}
	for _, inst := range []*model.Instrument{
		{ID: c.polygon, TelescopeID: c.telescope, ShortName: "UVOT", FieldOfView: model.FOVPolygon, Footprint: square},
		{ID: c.point, TelescopeID: c.telescope, ShortName: "BAT_POINT", FieldOfView: model.FOVPoint},
	} {
		if err := c.store.AddInstrument(inst); err != nil {
			t.Fatalf("AddInstrument error: %v", err)
		}
	}
	c.svc = NewService(c.store, nil, timectrl.NewManual(now), OverlapConfig{}, nil)
	return c
}

// add stores obs in a new schedule. Observations are created in argument
// order, one minute apart.
func (c *catalog) add(t *testing.T, obs ...*model.Observation) {
	t.Helper()
	c.checksumNo++
	s := &model.Schedule{
		ID:          uuid.New(),
		TelescopeID: c.telescope,
		DateRange:   model.DateRange{Begin: now.AddDate(0, -1, 0), End: now.AddDate(0, 1, 0)},
		Status:      model.StatusPerformed,
		Fidelity:    model.FidelityHigh,
		Checksum:    uuid.NewString(),
	}
	for i, o := range obs {
		o.ID = uuid.New()
		if o.InstrumentID == uuid.Nil {
			o.InstrumentID = c.polygon
		}
		o.CreatedOn = now.Add(time.Duration(c.checksumNo*100+i) * time.Minute)
		s.Observations = append(s.Observations, o)
	}
	if err := c.store.InsertSchedules(context.Background(), []*model.Schedule{s}); err != nil {
		t.Fatalf("InsertSchedules error: %v", err)
	}
}

func span(from, to time.Duration) model.DateRange {
	return model.DateRange{Begin: now.Add(from), End: now.Add(to)}
}

func TestListBandpassFilter(t *testing.T) {
	t.Parallel()
	c := newCatalog(t)
	inside := &model.Observation{ObjectName: "inside", DateRange: span(-2*time.Hour, -time.Hour), Status: model.StatusPerformed,
		Bandpass: &model.Bandpass{MinWavelength: 1.6, MaxWavelength: 6.1}}
	wide := &model.Observation{ObjectName: "wide", DateRange: span(-4*time.Hour, -3*time.Hour), Status: model.StatusPerformed,
		Bandpass: &model.Bandpass{MinWavelength: 1.0, MaxWavelength: 6.1}}
	c.add(t, inside, wide)

	page, err := c.svc.List(context.Background(), ReadParams{
		BandpassMin: ptr(2.0), BandpassMax: ptr(8.0), BandpassUnit: ptr("keV"),
	})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if page.TotalNumber != 1 || len(page.Items) != 1 || page.Items[0].ObjectName != "inside" {
		t.Fatalf("List = %+v, want only the observation inside 2-8 keV", page)
	}
}

func TestListRejectsPartialGroups(t *testing.T) {
	t.Parallel()
	c := newCatalog(t)
	cases := []struct {
		name string
		p    ReadParams
		want error
	}{
		{"bandpass without unit", ReadParams{BandpassMin: ptr(2.0), BandpassMax: ptr(8.0)}, model.ErrInvalidObservationReadParameters},
		{"bandpass min and unit", ReadParams{BandpassMin: ptr(2.0), BandpassUnit: ptr("keV")}, model.ErrInvalidObservationReadParameters},
		{"cone without radius", ReadParams{ConeRA: ptr(10.0), ConeDec: ptr(20.0)}, model.ErrInvalidObservationReadParameters},
		{"depth without unit", ReadParams{DepthValue: ptr(20.0)}, model.ErrInvalidObservationReadParameters},
		{"page without limit", ReadParams{Pagination: model.Pagination{Page: ptr(1)}}, model.ErrInvalidParameters},
		{"negative radius", ReadParams{ConeRA: ptr(10.0), ConeDec: ptr(20.0), ConeRadiusDegrees: ptr(-1.0)}, model.ErrInvalidParameters},
		{"unknown unit", ReadParams{BandpassMin: ptr(2.0), BandpassMax: ptr(8.0), BandpassUnit: ptr("furlong")}, model.ErrUnprocessableEntity},
		{"unknown status", ReadParams{Status: ptr(model.Status("lost"))}, model.ErrInvalidParameters},
		{"end before begin", ReadParams{Begin: ptr(now), End: ptr(now.Add(-time.Hour))}, model.ErrInvalidParameters},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := c.svc.List(context.Background(), tc.p)
			if !errors.Is(err, tc.want) {
				t.Fatalf("List error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestListConeSearch(t *testing.T) {
	t.Parallel()
	c := newCatalog(t)
	c.add(t,
		&model.Observation{ObjectName: "one", InstrumentID: c.point, PointingPosition: &model.Coordinate{RA: 1, Dec: 0}, DateRange: span(-time.Hour, 0)},
		&model.Observation{ObjectName: "two", InstrumentID: c.point, PointingPosition: &model.Coordinate{RA: 2, Dec: 0}, DateRange: span(-time.Hour, 0)},
	)
	page, err := c.svc.List(context.Background(), ReadParams{ConeRA: ptr(0.0), ConeDec: ptr(0.0), ConeRadiusDegrees: ptr(1.0)})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ObjectName != "one" {
		t.Fatalf("cone search = %+v, want only the pointing at (1, 0)", page.Items)
	}
}

func TestListPagination(t *testing.T) {
	t.Parallel()
	c := newCatalog(t)
	var obs []*model.Observation
	for i := 0; i < 7; i++ {
		obs = append(obs, &model.Observation{ObjectName: "o", DateRange: span(time.Duration(-i-1)*time.Hour, time.Duration(-i)*time.Hour)})
	}
	c.add(t, obs...)

	cases := []struct {
		page, limit int
		items       int
	}{
		{1, 3, 3},
		{3, 3, 1},
		{4, 3, 0},
		{1, 10, 7},
	}
	for _, tc := range cases {
		got, err := c.svc.List(context.Background(), ReadParams{Pagination: model.Pagination{Page: ptr(tc.page), PageLimit: ptr(tc.limit)}})
		if err != nil {
			t.Fatalf("List(page %d) error: %v", tc.page, err)
		}
		if got.TotalNumber != 7 || len(got.Items) != tc.items {
			t.Fatalf("List(page %d, limit %d) = %d items of %d, want %d of 7", tc.page, tc.limit, len(got.Items), got.TotalNumber, tc.items)
		}
		if *got.Page != tc.page || *got.PageLimit != tc.limit {
			t.Fatalf("page echo = %d/%d, want %d/%d", *got.Page, *got.PageLimit, tc.page, tc.limit)
		}
	}

	all, _ := c.svc.List(context.Background(), ReadParams{})
	if all.TotalNumber != 7 || len(all.Items) != 7 || all.Page != nil {
		t.Fatalf("unpaginated = %d items of %d, want 7 of 7", len(all.Items), all.TotalNumber)
	}
}

func TestOverlapPointPlanned(t *testing.T) {
	t.Parallel()
	c := newCatalog(t)
	at := &model.Coordinate{RA: 10, Dec: 20}
	c.add(t,
		&model.Observation{ObjectName: "planned-old", PointingPosition: at, Status: model.StatusPlanned, DateRange: span(24*time.Hour, 25*time.Hour)},
		&model.Observation{ObjectName: "planned-new", PointingPosition: at, PointingAngle: ptr(45.0), Status: model.StatusPlanned, DateRange: span(48*time.Hour, 49*time.Hour)},
		&model.Observation{ObjectName: "planned-away", PointingPosition: &model.Coordinate{RA: 12, Dec: 20}, Status: model.StatusPlanned, DateRange: span(time.Hour, 2*time.Hour)},
		&model.Observation{ObjectName: "planned-stale", PointingPosition: at, Status: model.StatusPlanned, DateRange: span(-72*time.Hour, -71*time.Hour)},
		&model.Observation{ObjectName: "planned-late", PointingPosition: at, Status: model.StatusPlanned, DateRange: span(15*24*time.Hour, 15*24*time.Hour+time.Hour)},
		&model.Observation{ObjectName: "performed", PointingPosition: at, Status: model.StatusPerformed, DateRange: span(-2*time.Hour, -time.Hour)},
		&model.Observation{ObjectName: "point-fov", InstrumentID: c.point, PointingPosition: at, Status: model.StatusPlanned, DateRange: span(time.Hour, 2*time.Hour)},
	)

	p := OverlapParams{RA: 10, Dec: 20}
	p.Status = ptr(model.StatusPlanned)
	p.Pagination = model.Pagination{Page: ptr(1), PageLimit: ptr(1)}
	page, err := c.svc.OverlapPoint(context.Background(), p)
	if err != nil {
		t.Fatalf("OverlapPoint error: %v", err)
	}
	if page.TotalNumber != 2 || len(page.Items) != 1 || page.Items[0].ObjectName != "planned-new" {
		t.Fatalf("OverlapPoint = %+v, want planned-new first of 2", page)
	}

	p.Pagination = model.Pagination{Page: ptr(2), PageLimit: ptr(1)}
	page, err = c.svc.OverlapPoint(context.Background(), p)
	if err != nil {
		t.Fatalf("OverlapPoint page 2 error: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ObjectName != "planned-old" {
		t.Fatalf("OverlapPoint page 2 = %+v, want planned-old", page.Items)
	}
}

func TestOverlapPointDefaultsToPerformed(t *testing.T) {
	t.Parallel()
	c := newCatalog(t)
	at := &model.Coordinate{RA: 10, Dec: 20}
	c.add(t,
		&model.Observation{ObjectName: "recent", PointingPosition: at, Status: model.StatusPerformed, DateRange: span(-3*24*time.Hour, -3*24*time.Hour+time.Hour)},
		&model.Observation{ObjectName: "ancient", PointingPosition: at, Status: model.StatusPerformed, DateRange: span(-30*24*time.Hour, -30*24*time.Hour+time.Hour)},
		&model.Observation{ObjectName: "planned", PointingPosition: at, Status: model.StatusPlanned, DateRange: span(-2*time.Hour, -time.Hour)},
	)
	page, err := c.svc.OverlapPoint(context.Background(), OverlapParams{RA: 10, Dec: 20})
	if err != nil {
		t.Fatalf("OverlapPoint error: %v", err)
	}
	if page.TotalNumber != 1 || page.Items[0].ObjectName != "recent" {
		t.Fatalf("OverlapPoint = %+v, want only recent", page)
	}
}

func TestOverlapPointRangeLimits(t *testing.T) {
	t.Parallel()
	c := newCatalog(t)
	cases := []struct {
		name   string
		status model.Status
		begin  *time.Time
		end    *time.Time
		ra     float64
	}{
		{"planned begins too early", model.StatusPlanned, ptr(now.Add(-49 * time.Hour)), nil, 10},
		{"planned ends in the past", model.StatusScheduled, nil, ptr(now.Add(-time.Hour)), 10},
		{"performed begins too early", model.StatusPerformed, ptr(now.Add(-15 * 24 * time.Hour)), nil, 10},
		{"performed ends in the future", model.StatusPerformed, nil, ptr(now.Add(time.Hour)), 10},
		{"end before begin", model.StatusAborted, ptr(now.Add(-time.Hour)), ptr(now.Add(-2 * time.Hour)), 10},
		{"ra out of range", model.StatusPerformed, nil, nil, 360},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := OverlapParams{RA: tc.ra, Dec: 20}
			p.Status, p.Begin, p.End = ptr(tc.status), tc.begin, tc.end
			_, err := c.svc.OverlapPoint(context.Background(), p)
			if !errors.Is(err, model.ErrInvalidObservationReadParameters) {
				t.Fatalf("OverlapPoint error = %v, want %v", err, model.ErrInvalidObservationReadParameters)
			}
		})
	}
}

func TestGetObservation(t *testing.T) {
	t.Parallel()
	c := newCatalog(t)
	o := &model.Observation{ObjectName: "x", DateRange: span(0, time.Hour)}
	c.add(t, o)
	got, err := c.svc.Get(context.Background(), o.ID)
	if err != nil || got.ObjectName != "x" {
		t.Fatalf("Get = %+v, %v; want x", got, err)
	}
	if _, err := c.svc.Get(context.Background(), uuid.New()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Get(unknown) error = %v, want %v", err, model.ErrNotFound)
	}
}
