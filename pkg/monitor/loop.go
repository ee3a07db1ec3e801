package monitor

import (
	"context"
	"time"

	"github.com/ericogr/smarthomepi/pkg/display"
	"github.com/ericogr/smarthomepi/pkg/output"
	"github.com/ericogr/smarthomepi/pkg/sensor"
	"github.com/ericogr/smarthomepi/pkg/store"
	"go.uber.org/zap"
)

type namedOutput struct {
	name string
	out  output.Output
}

// Loop polls the rig's sensors for one room and persists what it reads.
type Loop struct {
	store    store.Gateway
	rig      *Rig
	values   *display.Values
	roomID   int64
	interval time.Duration
	cycles   int
	outputs  []namedOutput
	logger   *zap.Logger
	metrics  *Metrics
	now      func() time.Time
}

type LoopOption func(*Loop)

// WithCycles stops the loop after n cycles; 0 runs until cancelled.
func WithCycles(n int) LoopOption {
	return func(l *Loop) { l.cycles = n }
}

func WithOutput(name string, o output.Output) LoopOption {
	return func(l *Loop) { l.outputs = append(l.outputs, namedOutput{name: name, out: o}) }
}

func WithLoopLogger(logger *zap.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

func WithMetrics(m *Metrics) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

func NewLoop(gw store.Gateway, rig *Rig, values *display.Values, roomID int64, interval time.Duration, opts ...LoopOption) *Loop {
	l := &Loop{
		store:    gw,
		rig:      rig,
		values:   values,
		roomID:   roomID,
		interval: interval,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run executes cycles until ctx is cancelled or the cycle limit is reached.
// The climate sensor is released on every exit path, panics included.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		if err := l.rig.Climate.Release(); err != nil {
			l.logger.Warn("Failed to release climate sensor", zap.Error(err))
		}
	}()

	l.logger.Info("Acquisition loop started",
		zap.Int64("room_id", l.roomID),
		zap.Duration("interval", l.interval),
		zap.Int("cycles", l.cycles))

	for n := 0; l.cycles == 0 || n < l.cycles; n++ {
		if ctx.Err() != nil {
			break
		}
		l.RunCycle(ctx)

		if l.cycles > 0 && n+1 >= l.cycles {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(l.interval):
		}
	}
	l.logger.Info("Acquisition loop stopped", zap.Int64("room_id", l.roomID))
	return nil
}

// RunCycle reads every sensor once. A failing sensor or insert is logged and
// counted; the remaining sensors still run.
func (l *Loop) RunCycle(ctx context.Context) {
	ts := l.now()
	batch := make([]sensor.Reading, 0, len(sensor.Kinds))
	keep := func(r sensor.Reading) {
		if l.persist(ctx, r) {
			batch = append(batch, r)
		}
	}

	climate, err := l.rig.Climate.Read()
	switch {
	case err != nil:
		l.sensorFault(sensor.KindClimate, err)
	case climate == nil:
		l.logger.Debug("No climate reading this cycle", zap.Int64("room_id", l.roomID))
	default:
		keep(sensor.ClimateReading{RoomID: l.roomID, Timestamp: ts, Temperature: climate.Temperature, Humidity: climate.Humidity})
		l.values.SetClimate(climate.Temperature, climate.Humidity)
	}

	if raw, fire, err := l.rig.Flame.Sample(); err != nil {
		l.sensorFault(sensor.KindFlame, err)
	} else {
		keep(sensor.FlameReading{RoomID: l.roomID, Timestamp: ts, FireDetected: fire, RawValue: raw})
		if fire {
			l.logger.Warn("Fire detected", zap.Int64("room_id", l.roomID), zap.Float64("raw", raw))
		}
	}

	if ppm, raw, err := l.rig.Gas.Sample(); err != nil {
		l.sensorFault(sensor.KindGas, err)
	} else {
		keep(sensor.GasReading{RoomID: l.roomID, Timestamp: ts, PPM: ppm, RawValue: raw})
		l.values.SetPPM(ppm)
	}

	if lux, raw, err := l.rig.Light.Sample(); err != nil {
		l.sensorFault(sensor.KindLight, err)
	} else {
		keep(sensor.LightReading{RoomID: l.roomID, Timestamp: ts, Lux: lux, RawValue: raw})
		l.values.SetLux(lux)
	}

	l.publish(ctx, batch)
	l.metrics.Cycle()
}

func (l *Loop) persist(ctx context.Context, r sensor.Reading) bool {
	if err := l.store.Insert(ctx, r); err != nil {
		l.logger.Error("Failed to store reading",
			zap.Int64("room_id", l.roomID),
			zap.String("kind", string(r.Kind())),
			zap.Error(err))
		l.metrics.StorageFault(r.Kind())
		return false
	}
	l.metrics.Stored(r.Kind())
	return true
}

func (l *Loop) publish(ctx context.Context, batch []sensor.Reading) {
	if len(batch) == 0 {
		return
	}
	for _, o := range l.outputs {
		if err := o.out.Publish(ctx, batch); err != nil {
			l.logger.Warn("Failed to publish readings", zap.String("output", o.name), zap.Error(err))
			l.metrics.OutputFault(o.name)
		}
	}
}

func (l *Loop) sensorFault(kind sensor.Kind, err error) {
	l.logger.Error("Failed to read sensor",
		zap.Int64("room_id", l.roomID),
		zap.String("kind", string(kind)),
		zap.Error(err))
	l.metrics.SensorFault(kind)
}
