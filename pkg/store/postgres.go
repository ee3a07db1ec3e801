package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericogr/smarthomepi/pkg/sensor"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const pqUniqueViolation = "23505"

// Postgres is the Gateway backed by PostgreSQL. The acquisition loop and the
// HTTP handlers share it; the *sql.DB pool hands each goroutine its own
// connection.
type Postgres struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewPostgres(db *sql.DB, logger *zap.Logger) *Postgres {
	return &Postgres{db: db, logger: logger, now: time.Now}
}

// OpenPostgres opens and pings a connection pool.
func OpenPostgres(ctx context.Context, dsn string, maxConns, maxIdle int, logger *zap.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewPostgres(db, logger), nil
}

// Migrate creates the tables and indexes when they are missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return storageErr("migrate", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *Postgres) InsertRoom(ctx context.Context, name string) (Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Room{}, ErrInvalidName
	}
	var id int64
	err := p.db.QueryRowContext(ctx, `INSERT INTO rooms (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return Room{}, fmt.Errorf("insert room %q: %w", name, ErrRoomExists)
		}
		return Room{}, storageErr("insert room", err)
	}
	p.logger.Info("Room created", zap.Int64("room_id", id), zap.String("name", name))
	return Room{ID: id, Name: name}, nil
}

func (p *Postgres) RoomIDByName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `SELECT id FROM rooms WHERE name = $1`, strings.TrimSpace(name)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("room %q: %w", name, ErrRoomNotFound)
	}
	if err != nil {
		return 0, storageErr("room by name", err)
	}
	return id, nil
}

func (p *Postgres) Room(ctx context.Context, id int64) (Room, error) {
	var r Room
	err := p.db.QueryRowContext(ctx, `SELECT id, name FROM rooms WHERE id = $1`, id).Scan(&r.ID, &r.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, fmt.Errorf("room %d: %w", id, ErrRoomNotFound)
	}
	if err != nil {
		return Room{}, storageErr("room", err)
	}
	return r, nil
}

func (p *Postgres) Rooms(ctx context.Context) ([]Room, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name FROM rooms ORDER BY id`)
	if err != nil {
		return nil, storageErr("list rooms", err)
	}
	defer rows.Close()

	rooms := make([]Room, 0)
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, storageErr("scan room", err)
		}
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list rooms", err)
	}
	return rooms, nil
}

func (p *Postgres) DeleteRoom(ctx context.Context, id int64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("delete room: begin", err)
	}
	defer tx.Rollback()

	var removed int64
	for _, kind := range sensor.Kinds {
		res, err := tx.ExecContext(ctx, `DELETE FROM `+tables[kind].name+` WHERE room_id = $1`, id)
		if err != nil {
			return storageErr("delete room: "+tables[kind].name, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += n
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return storageErr("delete room", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("delete room", err)
	}
	if n == 0 {
		return fmt.Errorf("room %d: %w", id, ErrRoomNotFound)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("delete room: commit", err)
	}
	p.logger.Info("Room deleted", zap.Int64("room_id", id), zap.Int64("readings_removed", removed))
	return nil
}

func (p *Postgres) Insert(ctx context.Context, r sensor.Reading) error {
	ts := r.Time()
	if ts.IsZero() {
		ts = p.now()
	}
	var err error
	switch v := r.(type) {
	case sensor.ClimateReading:
		_, err = p.db.ExecContext(ctx,
			`INSERT INTO dht22_data (room_id, timestamp, temperature, humidity) VALUES ($1, $2, $3, $4)`,
			v.RoomID, ts, v.Temperature, v.Humidity)
	case sensor.FlameReading:
		_, err = p.db.ExecContext(ctx,
			`INSERT INTO flame_data (room_id, timestamp, fire_detected, raw_value) VALUES ($1, $2, $3, $4)`,
			v.RoomID, ts, v.FireDetected, v.RawValue)
	case sensor.GasReading:
		_, err = p.db.ExecContext(ctx,
			`INSERT INTO gas_data (room_id, timestamp, ppm, raw_value) VALUES ($1, $2, $3, $4)`,
			v.RoomID, ts, v.PPM, v.RawValue)
	case sensor.LightReading:
		_, err = p.db.ExecContext(ctx,
			`INSERT INTO light_data (room_id, timestamp, lux, raw_value) VALUES ($1, $2, $3, $4)`,
			v.RoomID, ts, v.Lux, v.RawValue)
	default:
		return fmt.Errorf("insert: %w: unsupported reading %T", ErrStorage, r)
	}
	if err != nil {
		return storageErr("insert "+string(r.Kind()), err)
	}
	return nil
}

func (p *Postgres) Latest(ctx context.Context, kind sensor.Kind, roomID int64) (sensor.Reading, error) {
	readings, err := p.query(ctx, kind, roomID, 1)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, fmt.Errorf("%s for room %d: %w", kind, roomID, ErrNoReadings)
	}
	return readings[0], nil
}

func (p *Postgres) Range(ctx context.Context, kind sensor.Kind, roomID int64, limit int) ([]sensor.Reading, error) {
	return p.query(ctx, kind, roomID, clampLimit(limit))
}

func (p *Postgres) query(ctx context.Context, kind sensor.Kind, roomID int64, limit int) ([]sensor.Reading, error) {
	t, ok := tables[kind]
	if !ok {
		return nil, fmt.Errorf("query: unknown reading kind %q", kind)
	}
	q := `SELECT timestamp, ` + t.columns + ` FROM ` + t.name +
		` WHERE room_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`
	rows, err := p.db.QueryContext(ctx, q, roomID, limit)
	if err != nil {
		return nil, storageErr("query "+t.name, err)
	}
	defer rows.Close()

	out := make([]sensor.Reading, 0, limit)
	for rows.Next() {
		r, err := scanReading(kind, roomID, rows.Scan)
		if err != nil {
			return nil, storageErr("scan "+t.name, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query "+t.name, err)
	}
	return out, nil
}

func scanReading(kind sensor.Kind, roomID int64, scan func(dest ...any) error) (sensor.Reading, error) {
	switch kind {
	case sensor.KindClimate:
		r := sensor.ClimateReading{RoomID: roomID}
		err := scan(&r.Timestamp, &r.Temperature, &r.Humidity)
		return r, err
	case sensor.KindFlame:
		r := sensor.FlameReading{RoomID: roomID}
		err := scan(&r.Timestamp, &r.FireDetected, &r.RawValue)
		return r, err
	case sensor.KindGas:
		r := sensor.GasReading{RoomID: roomID}
		err := scan(&r.Timestamp, &r.PPM, &r.RawValue)
		return r, err
	case sensor.KindLight:
		r := sensor.LightReading{RoomID: roomID}
		err := scan(&r.Timestamp, &r.Lux, &r.RawValue)
		return r, err
	}
	return nil, fmt.Errorf("unknown reading kind %q", kind)
}
