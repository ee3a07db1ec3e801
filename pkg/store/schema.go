package store

import "github.com/ericogr/smarthomepi/pkg/sensor"

// schema contains the PostgreSQL DDL, applied by Postgres.Migrate.
const schema = `
CREATE TABLE IF NOT EXISTS rooms (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS dht22_data (
    id BIGSERIAL PRIMARY KEY,
    room_id BIGINT NOT NULL REFERENCES rooms(id),
    timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    temperature DOUBLE PRECISION NOT NULL,
    humidity DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dht22_data_room_time ON dht22_data(room_id, timestamp);

CREATE TABLE IF NOT EXISTS flame_data (
    id BIGSERIAL PRIMARY KEY,
    room_id BIGINT NOT NULL REFERENCES rooms(id),
    timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    fire_detected BOOLEAN NOT NULL,
    raw_value DOUBLE PRECISION NOT NULL CHECK (raw_value BETWEEN 0 AND 1)
);
CREATE INDEX IF NOT EXISTS idx_flame_data_room_time ON flame_data(room_id, timestamp);

CREATE TABLE IF NOT EXISTS gas_data (
    id BIGSERIAL PRIMARY KEY,
    room_id BIGINT NOT NULL REFERENCES rooms(id),
    timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    ppm DOUBLE PRECISION NOT NULL,
    raw_value DOUBLE PRECISION NOT NULL CHECK (raw_value BETWEEN 0 AND 1)
);
CREATE INDEX IF NOT EXISTS idx_gas_data_room_time ON gas_data(room_id, timestamp);

CREATE TABLE IF NOT EXISTS light_data (
    id BIGSERIAL PRIMARY KEY,
    room_id BIGINT NOT NULL REFERENCES rooms(id),
    timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    lux DOUBLE PRECISION NOT NULL,
    raw_value DOUBLE PRECISION NOT NULL CHECK (raw_value BETWEEN 0 AND 1)
);
CREATE INDEX IF NOT EXISTS idx_light_data_room_time ON light_data(room_id, timestamp);
`

// tables maps each reading kind to its table and value columns.
var tables = map[sensor.Kind]struct {
	name    string
	columns string
}{
	sensor.KindClimate: {"dht22_data", "temperature, humidity"},
	sensor.KindFlame:   {"flame_data", "fire_detected, raw_value"},
	sensor.KindGas:     {"gas_data", "ppm, raw_value"},
	sensor.KindLight:   {"light_data", "lux, raw_value"},
}
