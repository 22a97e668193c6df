package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/signalsfoundry/across/core"
	"github.com/signalsfoundry/across/model"
)

const scheduleColumns = `s.id, s.telescope_id, s.name, s.date_range_begin, s.date_range_end, s.status,
	s.external_id, s.fidelity, s.checksum, s.created_on, s.created_by_id,
	(SELECT COUNT(*) FROM observation c WHERE c.schedule_id = s.id)`

const observationColumns = `o.id, o.schedule_id, o.instrument_id, o.object_name,
	o.pointing_ra, o.pointing_dec, o.pointing_angle, o.object_ra, o.object_dec,
	o.date_range_begin, o.date_range_end, o.external_observation_id, o.type, o.status,
	o.exposure_time, o.filter_name, o.min_wavelength, o.max_wavelength, o.peak_wavelength,
	o.depth_value, o.depth_unit, o.proposal_reference, o.created_on, o.created_by_id`

func (s *Store) ScheduleIDsByChecksum(ctx context.Context, checksums []string) (map[string]uuid.UUID, error) {
	out := make(map[string]uuid.UUID)
	if len(checksums) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT checksum, id FROM schedule WHERE checksum = ANY($1)`, pq.Array(checksums))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			sum string
			id  uuid.UUID
		)
		if err := rows.Scan(&sum, &id); err != nil {
			return nil, err
		}
		out[sum] = id
	}
	return out, rows.Err()
}

// InsertSchedules writes schedules, observations and projected footprints in
// one transaction.
func (s *Store) InsertSchedules(ctx context.Context, schedules []*model.Schedule) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, sched := range schedules {
			if err := insertSchedule(ctx, tx, sched); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w", pqErr.Detail, model.ErrDuplicateSchedule)
		case codeForeignKeyViolation:
			if strings.Contains(pqErr.Constraint, "instrument") {
				return fmt.Errorf("%w: %s", model.ErrScheduleInstrumentNotFound, pqErr.Detail)
			}
			return fmt.Errorf("%w: %s", model.ErrTelescopeNotFound, pqErr.Detail)
		}
	}
	return err
}

func insertSchedule(ctx context.Context, tx *sql.Tx, sched *model.Schedule) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schedule (id, telescope_id, name, date_range_begin, date_range_end, status,
			external_id, fidelity, checksum, created_on, created_by_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sched.ID, sched.TelescopeID, sched.Name, sched.DateRange.Begin, sched.DateRange.End, sched.Status,
		nullString(sched.ExternalID), sched.Fidelity, sched.Checksum, sched.CreatedOn, sched.CreatedByID,
	); err != nil {
		return fmt.Errorf("insert schedule %s: %w", sched.ID, err)
	}

	for _, o := range sched.Observations {
		args := []any{
			o.ID, sched.ID, o.InstrumentID, o.ObjectName,
			nil, nil, nil, nullFloat(o.PointingAngle), nil, nil,
			o.DateRange.Begin, o.DateRange.End, nullString(o.ExternalObservationID), o.Type, o.Status,
			nullFloat(o.ExposureTime), nil, nil, nil, nil, nil, nil,
			nullString(o.ProposalReference), o.CreatedOn, o.CreatedByID,
		}
		if p := o.PointingPosition; p != nil {
			args[4], args[5], args[6] = p.RA, p.Dec, pointWKT(p.RA, p.Dec)
		}
		if p := o.ObjectPosition; p != nil {
			args[8], args[9] = p.RA, p.Dec
		}
		if b := o.Bandpass; b != nil {
			args[16], args[17], args[18], args[19] = nullString(&b.FilterName), b.MinWavelength, b.MaxWavelength, nullFloat(b.PeakWavelength)
		}
		if d := o.Depth; d != nil {
			args[20], args[21] = d.Value, string(d.Unit)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO observation (id, schedule_id, instrument_id, object_name,
				pointing_ra, pointing_dec, pointing_position, pointing_angle, object_ra, object_dec,
				date_range_begin, date_range_end, external_observation_id, type, status,
				exposure_time, filter_name, min_wavelength, max_wavelength, peak_wavelength,
				depth_value, depth_unit, proposal_reference, created_on, created_by_id)
			VALUES ($1, $2, $3, $4, $5, $6, ST_GeogFromText($7), $8, $9, $10, $11, $12, $13, $14, $15,
				$16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`, args...); err != nil {
			return fmt.Errorf("insert observation %s: %w", o.ID, err)
		}

		for i, poly := range o.Footprint {
			wkt, err := polygonWKT(poly)
			if err != nil {
				return fmt.Errorf("footprint %d of %s: %w", i, o.ID, err)
			}
			vertices, err := json.Marshal(poly)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO observation_footprint (observation_id, polygon_index, vertices, polygon)
				VALUES ($1, $2, $3, ST_GeogFromText($4))`,
				o.ID, i, vertices, wkt); err != nil {
				return fmt.Errorf("insert footprint of %s: %w", o.ID, err)
			}
		}
	}
	return nil
}

// pointWKT maps (RA, Dec) onto a geographic point with longitude = RA.
func pointWKT(ra, dec float64) string {
	return fmt.Sprintf("SRID=4326;POINT(%v %v)", core.RAToLongitude(ra), dec)
}

// polygonWKT closes the ring by repeating its first vertex.
func polygonWKT(p core.Polygon) (string, error) {
	if len(p) < 3 {
		return "", fmt.Errorf("%w: polygon needs at least 3 vertices, got %d", model.ErrInvalidParameters, len(p))
	}
	var b strings.Builder
	b.WriteString("SRID=4326;POLYGON((")
	for i := 0; i <= len(p); i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		v := p[i%len(p)]
		fmt.Fprintf(&b, "%v %v", core.RAToLongitude(v.RA), v.Dec)
	}
	b.WriteString("))")
	return b.String(), nil
}

func scanSchedule(row scanner) (*model.Schedule, error) {
	var (
		sch model.Schedule
		ext sql.NullString
	)
	if err := row.Scan(&sch.ID, &sch.TelescopeID, &sch.Name, &sch.DateRange.Begin, &sch.DateRange.End, &sch.Status,
		&ext, &sch.Fidelity, &sch.Checksum, &sch.CreatedOn, &sch.CreatedByID, &sch.ObservationCount); err != nil {
		return nil, err
	}
	sch.ExternalID = stringPtr(ext)
	sch.DateRange = model.DateRange{Begin: sch.DateRange.Begin.UTC(), End: sch.DateRange.End.UTC()}
	sch.CreatedOn = sch.CreatedOn.UTC()
	return &sch, nil
}

func (s *Store) GetSchedule(ctx context.Context, id uuid.UUID, withObservations bool) (*model.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedule s WHERE s.id = $1`, id)
	sch, err := scanSchedule(row)
	if err != nil {
		return nil, notFound(err, model.ErrScheduleNotFound, id)
	}
	if withObservations {
		obs, _, err := s.ListObservations(ctx, model.ObservationQuery{ScheduleIDs: []uuid.UUID{id}})
		if err != nil {
			return nil, err
		}
		sch.Observations = obs
	}
	return sch, nil
}

func (s *Store) ListSchedules(ctx context.Context, q model.ScheduleQuery) ([]*model.Schedule, int, error) {
	var w where
	if q.ExternalID != nil {
		w.add(`s.external_id ILIKE %s`, likeEscape(*q.ExternalID))
	}
	if q.Name != nil {
		w.add(`s.name ILIKE %s`, likeEscape(*q.Name))
	}
	if len(q.TelescopeIDs) > 0 {
		w.add(`s.telescope_id = ANY(%s::uuid[])`, idArray(q.TelescopeIDs))
	}
	if len(q.ObservatoryIDs) > 0 {
		w.add(`t.observatory_id = ANY(%s::uuid[])`, idArray(q.ObservatoryIDs))
	}
	if q.Status != nil {
		w.add(`s.status = %s`, string(*q.Status))
	}
	if q.Fidelity != nil {
		w.add(`s.fidelity = %s`, string(*q.Fidelity))
	}
	if q.Begin != nil {
		w.add(`s.date_range_end >= %s`, *q.Begin)
	}
	if q.End != nil {
		w.add(`s.date_range_begin <= %s`, *q.End)
	}
	if q.CreatedByID != nil {
		w.add(`s.created_by_id = %s`, *q.CreatedByID)
	}

	order := `s.date_range_begin DESC, s.id`
	if q.OrderBy == model.OrderByCreated {
		order = `s.created_on DESC, s.id`
	}
	from := ` FROM schedule s JOIN telescope t ON t.id = s.telescope_id` + w.String()
	countArgs := append([]any(nil), w.args...)
	query := `SELECT ` + scheduleColumns + `, COUNT(*) OVER()` + from + ` ORDER BY ` + order + w.page(q.Offset, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]*model.Schedule, 0)
	total := 0
	for rows.Next() {
		sch, err := scanSchedule(totalScanner{rows, &total})
		if err != nil {
			return nil, 0, err
		}
		out = append(out, sch)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(out) == 0 && q.Offset > 0 {
		if total, err = s.count(ctx, from, countArgs); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

// totalScanner appends the COUNT(*) OVER() column to every scan.
type totalScanner struct {
	scanner
	total *int
}

func (t totalScanner) Scan(dest ...any) error {
	return t.scanner.Scan(append(dest, t.total)...)
}

// count is used when a page lies past the last row and the window count is
// unavailable.
func (s *Store) count(ctx context.Context, from string, args []any) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+from, args...).Scan(&n)
	return n, err
}

func scanObservation(row scanner) (*model.Observation, error) {
	var (
		o                                   model.Observation
		pRA, pDec, pAngle, oRA, oDec        sql.NullFloat64
		exposure, minW, maxW, peakW, dValue sql.NullFloat64
		extID, filter, dUnit, proposal      sql.NullString
	)
	if err := row.Scan(&o.ID, &o.ScheduleID, &o.InstrumentID, &o.ObjectName,
		&pRA, &pDec, &pAngle, &oRA, &oDec,
		&o.DateRange.Begin, &o.DateRange.End, &extID, &o.Type, &o.Status,
		&exposure, &filter, &minW, &maxW, &peakW,
		&dValue, &dUnit, &proposal, &o.CreatedOn, &o.CreatedByID); err != nil {
		return nil, err
	}
	if pRA.Valid && pDec.Valid {
		o.PointingPosition = &model.Coordinate{RA: pRA.Float64, Dec: pDec.Float64}
	}
	if oRA.Valid && oDec.Valid {
		o.ObjectPosition = &model.Coordinate{RA: oRA.Float64, Dec: oDec.Float64}
	}
	o.PointingAngle = floatPtr(pAngle)
	o.ExposureTime = floatPtr(exposure)
	o.ExternalObservationID = stringPtr(extID)
	o.ProposalReference = stringPtr(proposal)
	if minW.Valid && maxW.Valid {
		o.Bandpass = &model.Bandpass{FilterName: filter.String, MinWavelength: minW.Float64, MaxWavelength: maxW.Float64, PeakWavelength: floatPtr(peakW)}
	}
	if dValue.Valid && dUnit.Valid {
		o.Depth = &model.Depth{Value: dValue.Float64, Unit: model.DepthUnit(dUnit.String)}
	}
	o.DateRange = model.DateRange{Begin: o.DateRange.Begin.UTC(), End: o.DateRange.End.UTC()}
	o.CreatedOn = o.CreatedOn.UTC()
	return &o, nil
}

func (s *Store) GetObservation(ctx context.Context, id uuid.UUID) (*model.Observation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+observationColumns+` FROM observation o WHERE o.id = $1`, id)
	o, err := scanObservation(row)
	if err != nil {
		return nil, notFound(err, model.ErrObservationNotFound, id)
	}
	if err := s.hydrateFootprints(ctx, []*model.Observation{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// ListObservations filters, sorts newest first and pages. The returned total
// counts every match.
func (s *Store) ListObservations(ctx context.Context, q model.ObservationQuery) ([]*model.Observation, int, error) {
	var w where
	if q.ExternalID != nil {
		w.add(`o.external_observation_id ILIKE %s`, likeEscape(*q.ExternalID))
	}
	if len(q.ScheduleIDs) > 0 {
		w.add(`o.schedule_id = ANY(%s::uuid[])`, idArray(q.ScheduleIDs))
	}
	if len(q.InstrumentIDs) > 0 {
		w.add(`o.instrument_id = ANY(%s::uuid[])`, idArray(q.InstrumentIDs))
	}
	if len(q.TelescopeIDs) > 0 {
		w.add(`i.telescope_id = ANY(%s::uuid[])`, idArray(q.TelescopeIDs))
	}
	if len(q.ObservatoryIDs) > 0 {
		w.add(`t.observatory_id = ANY(%s::uuid[])`, idArray(q.ObservatoryIDs))
	}
	if q.Status != nil {
		w.add(`o.status = %s`, string(*q.Status))
	}
	if q.Type != nil {
		w.add(`o.type = %s`, string(*q.Type))
	}
	if q.Proposal != nil {
		w.add(`o.proposal_reference ILIKE %s`, likeEscape(*q.Proposal))
	}
	if q.ObjectName != nil {
		w.add(`o.object_name ILIKE %s`, likeEscape(*q.ObjectName))
	}
	if q.Begin != nil {
		w.add(`o.date_range_end >= %s`, *q.Begin)
	}
	if q.End != nil {
		w.add(`o.date_range_begin <= %s`, *q.End)
	}
	if c := q.Cone; c != nil {
		// use_spheroid=false measures on the mean sphere, where a degree is
		// core.MetersPerDegree.
		w.add(`ST_DWithin(o.pointing_position, ST_GeogFromText(%s), %s, false)`, pointWKT(c.RA, c.Dec), c.RadiusMeters)
	}
	if d := q.Depth; d != nil {
		cmp := "<="
		if d.Unit == model.DepthABMag || d.Unit == model.DepthVegaMag {
			cmp = ">="
		}
		w.add(`o.depth_unit = %s AND o.depth_value `+cmp+` %s`, string(d.Unit), d.Value)
	}
	if r := q.Wavelength; r != nil {
		w.add(`o.min_wavelength >= %s AND o.max_wavelength <= %s`, r.Min, r.Max)
	}

	order := `o.date_range_begin DESC, o.id`
	if q.OrderBy == model.OrderObservationsByCreated {
		order = `o.created_on DESC, o.id`
	}
	from := ` FROM observation o
		JOIN instrument i ON i.id = o.instrument_id
		JOIN telescope t ON t.id = i.telescope_id` + w.String()
	countArgs := append([]any(nil), w.args...)
	query := `SELECT ` + observationColumns + `, COUNT(*) OVER()` + from + ` ORDER BY ` + order + w.page(q.Offset, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]*model.Observation, 0)
	total := 0
	for rows.Next() {
		o, err := scanObservation(totalScanner{rows, &total})
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(out) == 0 && q.Offset > 0 {
		if total, err = s.count(ctx, from, countArgs); err != nil {
			return nil, 0, err
		}
	}
	if err := s.hydrateFootprints(ctx, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) hydrateFootprints(ctx context.Context, obs []*model.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*model.Observation, len(obs))
	ids := make([]uuid.UUID, len(obs))
	for i, o := range obs {
		byID[o.ID] = o
		ids[i] = o.ID
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT observation_id, vertices FROM observation_footprint
		WHERE observation_id = ANY($1::uuid[])
		ORDER BY observation_id, polygon_index`, idArray(ids))
	if err != nil {
		return fmt.Errorf("query footprints: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   uuid.UUID
			raw  []byte
			poly core.Polygon
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &poly); err != nil {
			return fmt.Errorf("decode footprint of %s: %w", id, err)
		}
		if o := byID[id]; o != nil {
			o.Footprint = append(o.Footprint, poly)
		}
	}
	return rows.Err()
}
