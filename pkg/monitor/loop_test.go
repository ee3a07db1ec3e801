package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ericogr/smarthomepi/pkg/display"
	"github.com/ericogr/smarthomepi/pkg/sensor"
	"github.com/ericogr/smarthomepi/pkg/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	lightChannel = 0
	flameChannel = 1
	gasChannel   = 2
)

// countingClimate wraps a climate sensor and counts releases.
type countingClimate struct {
	sensor.ClimateSensor
	released atomic.Int32
}

func (c *countingClimate) Release() error {
	c.released.Add(1)
	return c.ClimateSensor.Release()
}

// scriptedClimate returns its results in order, then repeats the last one.
type scriptedClimate struct {
	mu      sync.Mutex
	results []*sensor.Climate
	errs    []error
	calls   int
}

func (s *scriptedClimate) Read() (*sensor.Climate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i], s.errs[i]
}

func (s *scriptedClimate) Release() error { return nil }

type panickingClimate struct{ released atomic.Int32 }

func (p *panickingClimate) Read() (*sensor.Climate, error) { panic("gpio line vanished") }

func (p *panickingClimate) Release() error {
	p.released.Add(1)
	return nil
}

type failingChannel struct {
	sensor.ChannelReader
	channel int
}

func (f failingChannel) Read(ch int) (float64, error) {
	if ch == f.channel {
		return 0, fmt.Errorf("spi transfer: %w", sensor.ErrHardwareIO)
	}
	return f.ChannelReader.Read(ch)
}

type recordingOutput struct {
	mu      sync.Mutex
	batches [][]sensor.Reading
	err     error
}

func (o *recordingOutput) Publish(_ context.Context, readings []sensor.Reading) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches = append(o.batches, append([]sensor.Reading(nil), readings...))
	return o.err
}

func (o *recordingOutput) Close() error { return nil }

// flakyStore rejects inserts of one kind.
type flakyStore struct {
	*store.Memory
	reject sensor.Kind
}

func (f flakyStore) Insert(ctx context.Context, r sensor.Reading) error {
	if r.Kind() == f.reject {
		return fmt.Errorf("insert %s: %w: connection reset", r.Kind(), store.ErrStorage)
	}
	return f.Memory.Insert(ctx, r)
}

func bedroomReader() *sensor.Simulated {
	return sensor.NewSimulated(map[int]float64{lightChannel: 0.8, flameChannel: 0.3, gasChannel: 0.2}, 0, 1)
}

func newRig(reader sensor.ChannelReader, climate sensor.ClimateSensor) *Rig {
	return &Rig{
		Climate: climate,
		Flame:   sensor.NewFlame(reader, flameChannel, sensor.DefaultFireThreshold),
		Gas:     sensor.NewGas(reader, gasChannel),
		Light:   sensor.NewLight(reader, lightChannel),
		Screen:  &recordingScreen{},
	}
}

func newRoom(t *testing.T, m *store.Memory, name string) store.Room {
	t.Helper()
	room, err := m.InsertRoom(context.Background(), name)
	require.NoError(t, err)
	return room
}

func TestLoopBedroomScenario(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	room := newRoom(t, mem, "Bedroom")
	climate := &countingClimate{ClimateSensor: sensor.NewSimulatedClimate(21.0, 50.0, 0, 1)}
	values := display.NewValues()

	loop := NewLoop(mem, newRig(bedroomReader(), climate), values, room.ID, time.Millisecond, WithCycles(3))
	require.NoError(t, loop.Run(ctx))

	for _, kind := range sensor.Kinds {
		assert.Equal(t, 3, mem.Count(kind, room.ID), "rows in %s", kind)
	}

	flame, err := mem.Latest(ctx, sensor.KindFlame, room.ID)
	require.NoError(t, err)
	assert.True(t, flame.(sensor.FlameReading).FireDetected)

	gas, err := mem.Latest(ctx, sensor.KindGas, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 200.0, gas.(sensor.GasReading).PPM)

	light, err := mem.Latest(ctx, sensor.KindLight, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 200.0, light.(sensor.LightReading).Lux)

	c, err := mem.Latest(ctx, sensor.KindClimate, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 21.0, c.(sensor.ClimateReading).Temperature)
	assert.Equal(t, 50.0, c.(sensor.ClimateReading).Humidity)

	snap := values.Snapshot()
	assert.Equal(t, display.Snapshot{Temperature: 21, Humidity: 50, Lux: 200, PPM: 200, HasClimate: true, HasLight: true, HasGas: true}, snap)
	assert.Equal(t, int32(1), climate.released.Load())
}

func TestLoopTransientClimateFaultContinues(t *testing.T) {
	mem := store.NewMemory()
	room := newRoom(t, mem, "Office")
	climate := &scriptedClimate{
		results: []*sensor.Climate{nil, {Temperature: 19.5, Humidity: 40}},
		errs:    []error{nil, nil},
	}
	values := display.NewValues()
	loop := NewLoop(mem, newRig(bedroomReader(), climate), values, room.ID, time.Millisecond, WithCycles(2))
	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, 1, mem.Count(sensor.KindClimate, room.ID))
	assert.Equal(t, 2, mem.Count(sensor.KindFlame, room.ID))
	assert.Equal(t, 2, mem.Count(sensor.KindGas, room.ID))
	assert.Equal(t, 2, mem.Count(sensor.KindLight, room.ID))
	assert.True(t, values.Snapshot().HasClimate)
}

func TestLoopSensorFaultIsolated(t *testing.T) {
	mem := store.NewMemory()
	room := newRoom(t, mem, "Hall")
	metrics := NewMetrics()
	out := &recordingOutput{}
	climate := &scriptedClimate{
		results: []*sensor.Climate{nil},
		errs:    []error{fmt.Errorf("configure pin: %w", sensor.ErrHardwareIO)},
	}
	reader := failingChannel{ChannelReader: bedroomReader(), channel: gasChannel}

	loop := NewLoop(mem, newRig(reader, climate), display.NewValues(), room.ID, time.Millisecond,
		WithMetrics(metrics), WithOutput("recorder", out))
	loop.RunCycle(context.Background())

	assert.Equal(t, 0, mem.Count(sensor.KindGas, room.ID))
	assert.Equal(t, 0, mem.Count(sensor.KindClimate, room.ID))
	assert.Equal(t, 1, mem.Count(sensor.KindFlame, room.ID))
	assert.Equal(t, 1, mem.Count(sensor.KindLight, room.ID))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.sensorFaults.WithLabelValues("gas")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.sensorFaults.WithLabelValues("dht22")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cycles))

	require.Len(t, out.batches, 1)
	require.Len(t, out.batches[0], 2)
	assert.Equal(t, sensor.KindFlame, out.batches[0][0].Kind())
	assert.Equal(t, sensor.KindLight, out.batches[0][1].Kind())
}

func TestLoopStorageFaultIsolated(t *testing.T) {
	mem := store.NewMemory()
	room := newRoom(t, mem, "Garage")
	metrics := NewMetrics()
	out := &recordingOutput{err: errors.New("broker down")}
	gw := flakyStore{Memory: mem, reject: sensor.KindFlame}
	climate := sensor.NewSimulatedClimate(20, 45, 0, 1)

	loop := NewLoop(gw, newRig(bedroomReader(), climate), display.NewValues(), room.ID, time.Millisecond,
		WithMetrics(metrics), WithOutput("broker", out))
	loop.RunCycle(context.Background())

	assert.Equal(t, 0, mem.Count(sensor.KindFlame, room.ID))
	assert.Equal(t, 1, mem.Count(sensor.KindClimate, room.ID))
	assert.Equal(t, 1, mem.Count(sensor.KindGas, room.ID))
	assert.Equal(t, 1, mem.Count(sensor.KindLight, room.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.storageFaults.WithLabelValues("flame")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.outputFaults.WithLabelValues("broker")))

	// unpersisted readings are not published
	require.Len(t, out.batches, 1)
	for _, r := range out.batches[0] {
		assert.NotEqual(t, sensor.KindFlame, r.Kind())
	}
}

func TestLoopStopsOnCancel(t *testing.T) {
	mem := store.NewMemory()
	room := newRoom(t, mem, "Cellar")
	climate := &countingClimate{ClimateSensor: sensor.NewSimulatedClimate(12, 70, 0, 1)}
	loop := NewLoop(mem, newRig(bedroomReader(), climate), display.NewValues(), room.ID, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return mem.Count(sensor.KindLight, room.ID) == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
	assert.Equal(t, 1, mem.Count(sensor.KindLight, room.ID))
	assert.Equal(t, int32(1), climate.released.Load())
}

func TestLoopReleasesClimateOnPanic(t *testing.T) {
	mem := store.NewMemory()
	room := newRoom(t, mem, "Attic")
	climate := &panickingClimate{}
	loop := NewLoop(mem, newRig(bedroomReader(), climate), display.NewValues(), room.ID, time.Millisecond, WithCycles(1))

	assert.Panics(t, func() { _ = loop.Run(context.Background()) })
	assert.Equal(t, int32(1), climate.released.Load())
}
