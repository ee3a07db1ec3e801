// Package store persists rooms and sensor readings. Readings are append-only;
// the only removal is the cascade that runs when a room is deleted.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ericogr/smarthomepi/pkg/sensor"
)

var (
	// ErrStorage marks a failed write or query.
	ErrStorage = errors.New("storage")
	// ErrRoomExists is a unique-name violation; it is also an ErrStorage.
	ErrRoomExists = fmt.Errorf("%w: room already exists", ErrStorage)

	ErrRoomNotFound = errors.New("room not found")
	ErrNoReadings   = errors.New("no readings")
	ErrInvalidName  = errors.New("invalid room name")
)

const (
	DefaultRangeLimit = 100
	MaxRangeLimit     = 1000
)

type Room struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Gateway is the persistence surface used by the acquisition loop and the
// read-only dashboard queries.
type Gateway interface {
	InsertRoom(ctx context.Context, name string) (Room, error)
	RoomIDByName(ctx context.Context, name string) (int64, error)
	Room(ctx context.Context, id int64) (Room, error)
	Rooms(ctx context.Context) ([]Room, error)
	// DeleteRoom removes the room and every reading that references it in one transaction.
	DeleteRoom(ctx context.Context, id int64) error

	// Insert stores one reading; a zero timestamp is replaced by the insertion time.
	Insert(ctx context.Context, r sensor.Reading) error
	Latest(ctx context.Context, kind sensor.Kind, roomID int64) (sensor.Reading, error)
	// Range returns up to limit readings, newest first.
	Range(ctx context.Context, kind sensor.Kind, roomID int64, limit int) ([]sensor.Reading, error)

	Close() error
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRangeLimit
	}
	if limit > MaxRangeLimit {
		return MaxRangeLimit
	}
	return limit
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
