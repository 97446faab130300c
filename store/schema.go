package store

import "strings"

// Tokens in the template stand for the fragments a Dialect provides.
// Both backends run the same DDL otherwise.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS operators (
    id            %PK%,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at    %TS% NOT NULL DEFAULT (%NOW%)
);

CREATE TABLE IF NOT EXISTS appointments (
    id            TEXT PRIMARY KEY,
    week_of       TEXT NOT NULL,
    customer_name TEXT NOT NULL DEFAULT '',
    phone         TEXT NOT NULL DEFAULT '',
    address       TEXT NOT NULL DEFAULT '',
    window_label  TEXT NOT NULL DEFAULT '',
    created_at    %TS% NOT NULL DEFAULT (%NOW%)
);
CREATE INDEX IF NOT EXISTS idx_appointments_week ON appointments(week_of);

CREATE TABLE IF NOT EXISTS routes (
    id               TEXT PRIMARY KEY,
    week_of          TEXT NOT NULL,
    name             TEXT NOT NULL,
    status           TEXT NOT NULL DEFAULT 'pending',
    polyline         TEXT NOT NULL DEFAULT '',
    distance_meters  %BIGINT% NOT NULL DEFAULT 0,
    duration_seconds %BIGINT% NOT NULL DEFAULT 0,
    driver_id        TEXT,
    start_time       %TS%,
    end_time         %TS%,
    created_at       %TS% NOT NULL DEFAULT (%NOW%),
    updated_at       %TS% NOT NULL DEFAULT (%NOW%),
    UNIQUE(week_of, name)
);
CREATE INDEX IF NOT EXISTS idx_routes_week ON routes(week_of);

CREATE TABLE IF NOT EXISTS route_stops (
    route_id       TEXT NOT NULL REFERENCES routes(id) ON DELETE CASCADE,
    appointment_id TEXT NOT NULL REFERENCES appointments(id),
    stop_order     INTEGER NOT NULL,
    status         TEXT NOT NULL DEFAULT 'pending',
    eta            %TS%,
    completed_at   %TS%,
    PRIMARY KEY (route_id, appointment_id)
);
CREATE INDEX IF NOT EXISTS idx_route_stops_route ON route_stops(route_id);

CREATE TABLE IF NOT EXISTS driver_locations (
    route_id   TEXT PRIMARY KEY REFERENCES routes(id) ON DELETE CASCADE,
    lat        %FLOAT% NOT NULL,
    lng        %FLOAT% NOT NULL,
    heading    %FLOAT%,
    speed      %FLOAT%,
    accuracy   %FLOAT%,
    updated_at %TS% NOT NULL DEFAULT (%NOW%)
);
`

func schema(d Dialect) string {
	return strings.NewReplacer(
		"%PK%", d.AutoIncrementPK(),
		"%TS%", d.TimestampType(),
		"%BIGINT%", d.BigIntType(),
		"%FLOAT%", d.FloatType(),
		"%NOW%", d.Now(),
	).Replace(schemaTemplate)
}
