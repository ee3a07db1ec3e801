package monitor

import (
	"context"
	"errors"
	"io"

	"github.com/ericogr/smarthomepi/pkg/display"
	"github.com/ericogr/smarthomepi/pkg/sensor"
)

// Rig is the hardware opened for one session: the four sensor adapters, the
// screen and whatever bus handles must be closed afterwards.
type Rig struct {
	Climate sensor.ClimateSensor
	Flame   *sensor.Flame
	Gas     *sensor.Gas
	Light   *sensor.Light
	Screen  display.Screen
	Closers []io.Closer
}

// RigFactory opens the hardware for a new session.
type RigFactory func(ctx context.Context) (*Rig, error)

// Close closes every bus handle, most recently opened first.
func (r *Rig) Close() error {
	var errs []error
	for i := len(r.Closers) - 1; i >= 0; i-- {
		if err := r.Closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.Closers = nil
	return errors.Join(errs...)
}
