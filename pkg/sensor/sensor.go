package sensor

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrHardwareIO marks a failed bus or protocol transaction.
	ErrHardwareIO = errors.New("hardware i/o")
	// ErrTransient marks a read that failed in a way expected to clear up on the next attempt.
	ErrTransient = errors.New("transient read failure")
	// ErrReleased is returned when reading from a sensor whose line was already released.
	ErrReleased = errors.New("sensor released")
)

// Kind identifies one of the reading variants and the table it is stored in.
type Kind string

const (
	KindClimate Kind = "dht22"
	KindFlame   Kind = "flame"
	KindGas     Kind = "gas"
	KindLight   Kind = "light"
)

// Kinds lists every reading kind in acquisition order.
var Kinds = []Kind{KindClimate, KindFlame, KindGas, KindLight}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown reading kind %q", s)
}

// ChannelReader reads a normalized fraction in [0,1] from one analog channel.
// Every call is a bus transaction; nothing is cached or retried.
type ChannelReader interface {
	Read(channel int) (float64, error)
}

// Reading is one timestamped observation. The variants are ClimateReading,
// FlameReading, GasReading and LightReading.
type Reading interface {
	Kind() Kind
	Room() int64
	Time() time.Time
	reading()
}

type ClimateReading struct {
	RoomID      int64     `json:"room_id"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
}

type FlameReading struct {
	RoomID       int64     `json:"room_id"`
	Timestamp    time.Time `json:"timestamp"`
	FireDetected bool      `json:"fire_detected"`
	RawValue     float64   `json:"raw_value"`
}

type GasReading struct {
	RoomID    int64     `json:"room_id"`
	Timestamp time.Time `json:"timestamp"`
	PPM       float64   `json:"ppm"`
	RawValue  float64   `json:"raw_value"`
}

type LightReading struct {
	RoomID    int64     `json:"room_id"`
	Timestamp time.Time `json:"timestamp"`
	Lux       float64   `json:"lux"`
	RawValue  float64   `json:"raw_value"`
}

func (ClimateReading) Kind() Kind { return KindClimate }
func (r ClimateReading) Room() int64 { return r.RoomID }
func (r ClimateReading) Time() time.Time { return r.Timestamp }
func (ClimateReading) reading() {}
func (FlameReading) Kind() Kind { return KindFlame }
func (r FlameReading) Room() int64 { return r.RoomID }
func (r FlameReading) Time() time.Time { return r.Timestamp }
func (FlameReading) reading() {}
func (GasReading) Kind() Kind { return KindGas }
func (r GasReading) Room() int64 { return r.RoomID }
func (r GasReading) Time() time.Time { return r.Timestamp }
func (GasReading) reading() {}
func (LightReading) Kind() Kind { return KindLight }
func (r LightReading) Room() int64 { return r.RoomID }
func (r LightReading) Time() time.Time { return r.Timestamp }
func (LightReading) reading() {}

// WithTime returns a copy of r stamped with ts.
func WithTime(r Reading, ts time.Time) Reading {
	switch v := r.(type) {
	case ClimateReading:
		v.Timestamp = ts
		return v
	case FlameReading:
		v.Timestamp = ts
		return v
	case GasReading:
		v.Timestamp = ts
		return v
	case LightReading:
		v.Timestamp = ts
		return v
	}
	return r
}
