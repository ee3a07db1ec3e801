package display

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrDisplayIO marks a failed write to the display bus.
	ErrDisplayIO = errors.New("display i/o")
	// ErrAlreadyStarted is returned when Run is called on a controller that is not idle.
	ErrAlreadyStarted = errors.New("display controller already started")
)

const (
	DefaultDwell   = 3 * time.Second
	DefaultColumns = 16
)

// Screen is anything that can show a few lines of text.
type Screen interface {
	Clear() error
	Show(lines ...string) error
}

type State int32

const (
	Idle State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Controller cycles the room name, climate and light/gas screens on a Screen
// until stopped. Stop requests are honored between cycles only.
type Controller struct {
	screen  Screen
	room    string
	values  *Values
	dwell   time.Duration
	cols    int
	logger  *zap.Logger
	onError func(error)
	sleep   func(time.Duration)

	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type Option func(*Controller)

func WithDwell(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.dwell = d
		}
	}
}

func WithColumns(cols int) Option {
	return func(c *Controller) {
		if cols > 0 {
			c.cols = cols
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithErrorHook is called once for every cycle that hit a display fault.
func WithErrorHook(f func(error)) Option {
	return func(c *Controller) { c.onError = f }
}

func NewController(screen Screen, room string, values *Values, opts ...Option) *Controller {
	c := &Controller{
		screen: screen,
		room:   room,
		values: values,
		dwell:  DefaultDwell,
		cols:   DefaultColumns,
		logger: zap.NewNop(),
		sleep:  time.Sleep,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

// Stop asks the controller to finish its current cycle and exit. Safe to call
// any number of times.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Done is closed once Run has cleared the screen and returned.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Run blocks until ctx is cancelled or Stop is called.
func (c *Controller) Run(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return ErrAlreadyStarted
	}
	defer close(c.done)
	c.logger.Info("display started", zap.String("room", c.room), zap.Duration("dwell", c.dwell))

	for !c.stopRequested(ctx) {
		if err := c.cycle(); err != nil {
			c.logger.Warn("display cycle failed", zap.Error(err))
			if c.onError != nil {
				c.onError(err)
			}
		}
	}

	c.state.Store(int32(Stopping))
	if err := c.screen.Clear(); err != nil {
		c.logger.Warn("display clear failed", zap.Error(err))
	}
	c.state.Store(int32(Stopped))
	c.logger.Info("display stopped", zap.String("room", c.room))
	return nil
}

func (c *Controller) stopRequested(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.stop:
		return true
	default:
		return false
	}
}

// cycle shows every screen for one dwell period. A failed write does not
// shorten the dwell, so a dead bus is not hammered.
func (c *Controller) cycle() error {
	var firstErr error
	for _, lines := range Screens(c.room, c.values.Snapshot(), c.cols) {
		if err := c.screen.Show(lines...); err != nil && firstErr == nil {
			firstErr = err
		}
		c.sleep(c.dwell)
	}
	return firstErr
}

// Screens renders the three pages of one display cycle.
func Screens(room string, s Snapshot, cols int) [][]string {
	name := []rune("Room: " + room)
	roomLines := []string{string(name)}
	if len(name) > cols {
		roomLines = []string{string(name[:cols]), string(name[cols:])}
	}

	climate := []string{"Temp: --", "Humid: --"}
	if s.HasClimate {
		climate = []string{
			fmt.Sprintf("Temp: %.1fC", s.Temperature),
			fmt.Sprintf("Humid: %.1f%%", s.Humidity),
		}
	}

	light, gas := "Light: --", "Gas: --"
	if s.HasLight {
		light = fmt.Sprintf("Light: %.1f lx", s.Lux)
	}
	if s.HasGas {
		gas = fmt.Sprintf("Gas: %.1f PPM", s.PPM)
	}
	return [][]string{roomLines, climate, {light, gas}}
}
