package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ericogr/smarthomepi/pkg/sensor"
)

// Memory is an in-process Gateway with the same semantics as Postgres. It
// backs simulation runs and tests; nothing survives a restart.
type Memory struct {
	mu       sync.RWMutex
	nextID   int64
	rooms    map[int64]Room
	readings map[sensor.Kind][]sensor.Reading
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		rooms:    map[int64]Room{},
		readings: map[sensor.Kind][]sensor.Reading{},
		now:      time.Now,
	}
}

func (m *Memory) InsertRoom(_ context.Context, name string) (Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Room{}, ErrInvalidName
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rooms {
		if r.Name == name {
			return Room{}, fmt.Errorf("insert room %q: %w", name, ErrRoomExists)
		}
	}
	m.nextID++
	r := Room{ID: m.nextID, Name: name}
	m.rooms[r.ID] = r
	return r, nil
}

func (m *Memory) RoomIDByName(_ context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rooms {
		if r.Name == name {
			return r.ID, nil
		}
	}
	return 0, fmt.Errorf("room %q: %w", name, ErrRoomNotFound)
}

func (m *Memory) Room(_ context.Context, id int64) (Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return Room{}, fmt.Errorf("room %d: %w", id, ErrRoomNotFound)
	}
	return r, nil
}

func (m *Memory) Rooms(_ context.Context) ([]Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteRoom holds the write lock for the whole cascade, so readers never see
// a room without its readings or readings without their room.
func (m *Memory) DeleteRoom(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[id]; !ok {
		return fmt.Errorf("room %d: %w", id, ErrRoomNotFound)
	}
	for kind, list := range m.readings {
		kept := list[:0:0]
		for _, r := range list {
			if r.Room() != id {
				kept = append(kept, r)
			}
		}
		m.readings[kind] = kept
	}
	delete(m.rooms, id)
	return nil
}

func (m *Memory) Insert(_ context.Context, r sensor.Reading) error {
	if r == nil {
		return fmt.Errorf("insert: %w: nil reading", ErrStorage)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[r.Room()]; !ok {
		return fmt.Errorf("insert %s: %w: room %d does not exist", r.Kind(), ErrStorage, r.Room())
	}
	if r.Time().IsZero() {
		r = sensor.WithTime(r, m.now())
	}
	m.readings[r.Kind()] = append(m.readings[r.Kind()], r)
	return nil
}

func (m *Memory) Latest(ctx context.Context, kind sensor.Kind, roomID int64) (sensor.Reading, error) {
	out, err := m.Range(ctx, kind, roomID, 1)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s for room %d: %w", kind, roomID, ErrNoReadings)
	}
	return out[0], nil
}

func (m *Memory) Range(_ context.Context, kind sensor.Kind, roomID int64, limit int) ([]sensor.Reading, error) {
	if _, ok := tables[kind]; !ok {
		return nil, fmt.Errorf("query: unknown reading kind %q", kind)
	}
	limit = clampLimit(limit)
	m.mu.RLock()
	list := m.readings[kind]
	matched := make([]sensor.Reading, 0)
	// newest insert first, so equal timestamps keep insertion order reversed
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Room() == roomID {
			matched = append(matched, list[i])
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Time().After(matched[j].Time()) })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Count returns how many readings of kind are stored for roomID.
func (m *Memory) Count(kind sensor.Kind, roomID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.readings[kind] {
		if r.Room() == roomID {
			n++
		}
	}
	return n
}

func (m *Memory) Close() error { return nil }
