package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/across/core"
	"github.com/signalsfoundry/across/model"
)

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) GetObservatory(ctx context.Context, id uuid.UUID) (*model.Observatory, error) {
	var (
		o   model.Observatory
		end sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, short_name, type, operational_begin, operational_end
		FROM observatory WHERE id = $1`, id).
		Scan(&o.ID, &o.Name, &o.ShortName, &o.Type, &o.OperationalBegin, &end)
	if err != nil {
		return nil, notFound(err, model.ErrObservatoryNotFound, id)
	}
	o.OperationalBegin = o.OperationalBegin.UTC()
	if end.Valid {
		e := end.Time.UTC()
		o.OperationalEnd = &e
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ephemeris_type, priority, parameters
		FROM ephemeris_type WHERE observatory_id = $1
		ORDER BY priority, ephemeris_type`, id)
	if err != nil {
		return nil, fmt.Errorf("query ephemeris types: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cfg    model.EphemerisConfig
			params []byte
		)
		if err := rows.Scan(&cfg.Kind, &cfg.Priority, &params); err != nil {
			return nil, err
		}
		if err := decodeParameters(&cfg, params); err != nil {
			return nil, fmt.Errorf("observatory %s: %w", id, err)
		}
		o.EphemerisConfigs = append(o.EphemerisConfigs, cfg)
	}
	return &o, rows.Err()
}

// decodeParameters fills the parameter block matching cfg.Kind.
func decodeParameters(cfg *model.EphemerisConfig, raw []byte) error {
	var target any
	switch cfg.Kind {
	case model.EphemerisTLE:
		cfg.TLE = &model.TLEParameters{}
		target = cfg.TLE
	case model.EphemerisJPL:
		cfg.JPL = &model.JPLParameters{}
		target = cfg.JPL
	case model.EphemerisSpice:
		cfg.Spice = &model.SpiceParameters{}
		target = cfg.Spice
	case model.EphemerisGround:
		cfg.Ground = &model.GroundLocation{}
		target = cfg.Ground
	default:
		return fmt.Errorf("unknown ephemeris type %q", cfg.Kind)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode %s parameters: %w", cfg.Kind, err)
	}
	return nil
}

func encodeParameters(cfg model.EphemerisConfig) ([]byte, error) {
	switch cfg.Kind {
	case model.EphemerisTLE:
		return json.Marshal(cfg.TLE)
	case model.EphemerisJPL:
		return json.Marshal(cfg.JPL)
	case model.EphemerisSpice:
		return json.Marshal(cfg.Spice)
	case model.EphemerisGround:
		return json.Marshal(cfg.Ground)
	}
	return nil, fmt.Errorf("%w: unknown ephemeris type %q", model.ErrInvalidParameters, cfg.Kind)
}

func (s *Store) GetTelescope(ctx context.Context, id uuid.UUID) (*model.Telescope, error) {
	var t model.Telescope
	err := s.db.QueryRowContext(ctx, `
		SELECT id, observatory_id, name, short_name FROM telescope WHERE id = $1`, id).
		Scan(&t.ID, &t.ObservatoryID, &t.Name, &t.ShortName)
	if err != nil {
		return nil, notFound(err, model.ErrTelescopeNotFound, id)
	}
	return &t, nil
}

const instrumentColumns = `i.id, i.telescope_id, t.observatory_id, i.name, i.short_name,
	i.field_of_view, i.visibility_type, i.filters, i.footprint, i.constraints`

func scanInstrument(row scanner) (*model.Instrument, error) {
	var (
		inst                           model.Instrument
		filters, footprint, constraint []byte
	)
	if err := row.Scan(&inst.ID, &inst.TelescopeID, &inst.ObservatoryID, &inst.Name, &inst.ShortName,
		&inst.FieldOfView, &inst.VisibilityType, &filters, &footprint, &constraint); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw []byte
		dst any
	}{{filters, &inst.Filters}, {footprint, &inst.Footprint}, {constraint, &inst.Constraints}} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode instrument %s: %w", inst.ID, err)
		}
	}
	return &inst, nil
}

func (s *Store) GetInstrument(ctx context.Context, id uuid.UUID) (*model.Instrument, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+instrumentColumns+`
		FROM instrument i JOIN telescope t ON t.id = i.telescope_id
		WHERE i.id = $1`, id)
	inst, err := scanInstrument(row)
	if err != nil {
		return nil, notFound(err, model.ErrInstrumentNotFound, id)
	}
	return inst, nil
}

func (s *Store) InstrumentsByTelescope(ctx context.Context, telescopeID uuid.UUID) ([]*model.Instrument, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+instrumentColumns+`
		FROM instrument i JOIN telescope t ON t.id = i.telescope_id
		WHERE i.telescope_id = $1
		ORDER BY i.short_name`, telescopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*model.Instrument, 0)
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *Store) InstrumentFootprints(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]core.Footprint, error) {
	out := make(map[uuid.UUID]core.Footprint, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, footprint FROM instrument
		WHERE id = ANY($1::uuid[]) AND jsonb_array_length(footprint) > 0`, idArray(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  uuid.UUID
			raw []byte
			fp  core.Footprint
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &fp); err != nil {
			return nil, fmt.Errorf("decode footprint of %s: %w", id, err)
		}
		out[id] = fp
	}
	return out, rows.Err()
}

const upsertTLE = `
	INSERT INTO tle (norad_id, satellite_name, epoch, tle1, tle2)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (norad_id, epoch) DO UPDATE
	SET satellite_name = EXCLUDED.satellite_name, tle1 = EXCLUDED.tle1, tle2 = EXCLUDED.tle2
	WHERE tle.tle1 <> EXCLUDED.tle1 OR tle.tle2 <> EXCLUDED.tle2
		OR tle.satellite_name <> EXCLUDED.satellite_name`

// UpsertTLEs stores element sets keyed by (NORAD id, epoch) in one
// transaction and returns how many rows were inserted or changed.
func (s *Store) UpsertTLEs(ctx context.Context, tles []model.TLE) (int, error) {
	if len(tles) == 0 {
		return 0, nil
	}
	n := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertTLE)
		if err != nil {
			return fmt.Errorf("prepare tle upsert: %w", err)
		}
		defer stmt.Close()
		for _, t := range tles {
			res, err := stmt.ExecContext(ctx, t.NoradID, t.SatelliteName, t.Epoch.UTC(), t.Line1, t.Line2)
			if err != nil {
				return fmt.Errorf("upsert tle %d: %w", t.NoradID, err)
			}
			if c, err := res.RowsAffected(); err == nil {
				n += int(c)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// NearestTLE returns the element set whose epoch is closest to epoch. Ties go
// to the earlier record.
func (s *Store) NearestTLE(ctx context.Context, noradID int, epoch time.Time) (*model.TLE, error) {
	var t model.TLE
	err := s.db.QueryRowContext(ctx, `
		SELECT norad_id, satellite_name, epoch, tle1, tle2
		FROM tle WHERE norad_id = $1
		ORDER BY ABS(EXTRACT(EPOCH FROM (epoch - $2::timestamptz))), epoch
		LIMIT 1`, noradID, epoch.UTC()).
		Scan(&t.NoradID, &t.SatelliteName, &t.Epoch, &t.Line1, &t.Line2)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: norad id %d", model.ErrTLENotFound, noradID)
		}
		return nil, err
	}
	t.Epoch = t.Epoch.UTC()
	return &t, nil
}

// SeedCatalog inserts a catalog in one transaction. Records whose id already
// exists are left untouched.
func (s *Store) SeedCatalog(ctx context.Context, c model.Catalog) error {
	for _, o := range c.Observatories {
		if len(o.EphemerisConfigs) == 0 {
			return fmt.Errorf("%w: observatory %s has no ephemeris configuration", model.ErrInvalidParameters, o.ID)
		}
		for _, cfg := range o.EphemerisConfigs {
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
	}
	for _, i := range c.Instruments {
		if err := i.Validate(); err != nil {
			return err
		}
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, o := range c.Observatories {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO observatory (id, name, short_name, type, operational_begin, operational_end)
				VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
				o.ID, o.Name, o.ShortName, o.Type, o.OperationalBegin.UTC(), o.OperationalEnd); err != nil {
				return fmt.Errorf("insert observatory %s: %w", o.ShortName, err)
			}
			for _, cfg := range o.EphemerisConfigs {
				params, err := encodeParameters(cfg)
				if err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO ephemeris_type (observatory_id, ephemeris_type, priority, parameters)
					VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
					o.ID, cfg.Kind, cfg.Priority, params); err != nil {
					return fmt.Errorf("insert ephemeris type for %s: %w", o.ShortName, err)
				}
			}
		}
		for _, t := range c.Telescopes {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO telescope (id, observatory_id, name, short_name)
				VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
				t.ID, t.ObservatoryID, t.Name, t.ShortName); err != nil {
				return fmt.Errorf("insert telescope %s: %w", t.ShortName, err)
			}
		}
		for _, i := range c.Instruments {
			filters, _ := json.Marshal(nonNil(i.Filters))
			footprint, _ := json.Marshal(nonNil(i.Footprint))
			constraints, _ := json.Marshal(nonNil(i.Constraints))
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO instrument (id, telescope_id, name, short_name, field_of_view, visibility_type,
					filters, footprint, constraints)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT (id) DO NOTHING`,
				i.ID, i.TelescopeID, i.Name, i.ShortName, i.FieldOfView, i.VisibilityType,
				filters, footprint, constraints); err != nil {
				return fmt.Errorf("insert instrument %s: %w", i.ShortName, err)
			}
		}
		for _, t := range c.TLEs {
			if _, err := tx.ExecContext(ctx, upsertTLE, t.NoradID, t.SatelliteName, t.Epoch.UTC(), t.Line1, t.Line2); err != nil {
				return fmt.Errorf("upsert tle %d: %w", t.NoradID, err)
			}
		}
		return nil
	})
	if pqCode(err) == codeForeignKeyViolation {
		return fmt.Errorf("%w: catalog references a missing record: %v", model.ErrInvalidParameters, err)
	}
	return err
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
