package store

// Migrations is the schema history, oldest first.
var Migrations = []Migration{
	{
		Name: "001_catalog",
		UpSQL: `
			CREATE EXTENSION IF NOT EXISTS postgis;

			CREATE TABLE observatory (
				id UUID PRIMARY KEY,
				name TEXT NOT NULL,
				short_name TEXT NOT NULL,
				type TEXT NOT NULL,
				operational_begin TIMESTAMPTZ NOT NULL,
				operational_end TIMESTAMPTZ
			);

			CREATE TABLE ephemeris_type (
				observatory_id UUID NOT NULL REFERENCES observatory (id) ON DELETE CASCADE,
				ephemeris_type TEXT NOT NULL,
				priority INTEGER NOT NULL,
				parameters JSONB NOT NULL,
				UNIQUE (observatory_id, ephemeris_type, priority)
			);

			CREATE TABLE telescope (
				id UUID PRIMARY KEY,
				observatory_id UUID NOT NULL REFERENCES observatory (id),
				name TEXT NOT NULL,
				short_name TEXT NOT NULL
			);

			CREATE TABLE instrument (
				id UUID PRIMARY KEY,
				telescope_id UUID NOT NULL REFERENCES telescope (id),
				name TEXT NOT NULL,
				short_name TEXT NOT NULL,
				field_of_view TEXT NOT NULL,
				visibility_type TEXT NOT NULL,
				filters JSONB NOT NULL DEFAULT '[]',
				footprint JSONB NOT NULL DEFAULT '[]',
				constraints JSONB NOT NULL DEFAULT '[]'
			);
			CREATE INDEX idx_instrument_telescope ON instrument (telescope_id);

			CREATE TABLE tle (
				norad_id INTEGER NOT NULL,
				satellite_name TEXT NOT NULL,
				epoch TIMESTAMPTZ NOT NULL,
				tle1 TEXT NOT NULL,
				tle2 TEXT NOT NULL,
				PRIMARY KEY (norad_id, epoch)
			);`,
		DownSQL: `
			DROP TABLE IF EXISTS tle;
			DROP TABLE IF EXISTS instrument;
			DROP TABLE IF EXISTS telescope;
			DROP TABLE IF EXISTS ephemeris_type;
			DROP TABLE IF EXISTS observatory;`,
	},
	{
		Name: "002_schedules",
		UpSQL: `
			CREATE TABLE schedule (
				id UUID PRIMARY KEY,
				telescope_id UUID NOT NULL REFERENCES telescope (id),
				name TEXT NOT NULL,
				date_range_begin TIMESTAMPTZ NOT NULL,
				date_range_end TIMESTAMPTZ NOT NULL,
				status TEXT NOT NULL,
				external_id TEXT,
				fidelity TEXT NOT NULL,
				checksum TEXT NOT NULL,
				created_on TIMESTAMPTZ NOT NULL,
				created_by_id UUID NOT NULL,
				CONSTRAINT schedule_checksum_key UNIQUE (checksum)
			);
			CREATE INDEX idx_schedule_telescope ON schedule (telescope_id);
			CREATE INDEX idx_schedule_begin ON schedule (date_range_begin DESC);

			CREATE TABLE observation (
				id UUID PRIMARY KEY,
				schedule_id UUID NOT NULL REFERENCES schedule (id) ON DELETE CASCADE,
				instrument_id UUID NOT NULL REFERENCES instrument (id),
				object_name TEXT NOT NULL,
				pointing_ra DOUBLE PRECISION,
				pointing_dec DOUBLE PRECISION,
				pointing_position GEOGRAPHY (POINT, 4326),
				pointing_angle DOUBLE PRECISION,
				object_ra DOUBLE PRECISION,
				object_dec DOUBLE PRECISION,
				date_range_begin TIMESTAMPTZ NOT NULL,
				date_range_end TIMESTAMPTZ NOT NULL,
				external_observation_id TEXT,
				type TEXT NOT NULL,
				status TEXT NOT NULL,
				exposure_time DOUBLE PRECISION,
				filter_name TEXT,
				min_wavelength DOUBLE PRECISION,
				max_wavelength DOUBLE PRECISION,
				peak_wavelength DOUBLE PRECISION,
				depth_value DOUBLE PRECISION,
				depth_unit TEXT,
				proposal_reference TEXT,
				created_on TIMESTAMPTZ NOT NULL,
				created_by_id UUID NOT NULL
			);
			CREATE INDEX idx_observation_schedule ON observation (schedule_id);
			CREATE INDEX idx_observation_instrument ON observation (instrument_id);
			CREATE INDEX idx_observation_range ON observation (date_range_begin, date_range_end);
			CREATE INDEX idx_observation_pointing ON observation USING GIST (pointing_position);

			CREATE TABLE observation_footprint (
				observation_id UUID NOT NULL REFERENCES observation (id) ON DELETE CASCADE,
				polygon_index INTEGER NOT NULL,
				vertices JSONB NOT NULL,
				polygon GEOGRAPHY (POLYGON, 4326) NOT NULL,
				PRIMARY KEY (observation_id, polygon_index)
			);
			CREATE INDEX idx_observation_footprint_polygon ON observation_footprint USING GIST (polygon);`,
		DownSQL: `
			DROP TABLE IF EXISTS observation_footprint;
			DROP TABLE IF EXISTS observation;
			DROP TABLE IF EXISTS schedule;`,
	},
}
