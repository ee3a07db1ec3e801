package display

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingScreen struct {
	mu      sync.Mutex
	pages   [][]string
	clears  int
	showErr error
}

func (r *recordingScreen) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
	return nil
}

func (r *recordingScreen) Show(lines ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages = append(r.pages, append([]string(nil), lines...))
	return r.showErr
}

func (r *recordingScreen) pageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pages)
}

func TestScreens(t *testing.T) {
	pages := Screens("Bedroom", Snapshot{}, 16)
	require.Len(t, pages, 3)
	assert.Equal(t, []string{"Room: Bedroom"}, pages[0])
	assert.Equal(t, []string{"Temp: --", "Humid: --"}, pages[1])
	assert.Equal(t, []string{"Light: --", "Gas: --"}, pages[2])

	v := NewValues()
	v.SetClimate(21, 50)
	v.SetLux(200)
	v.SetPPM(200)
	pages = Screens("Living room east", v.Snapshot(), 16)
	assert.Equal(t, []string{"Room: Living roo", "m east"}, pages[0])
	assert.Equal(t, []string{"Temp: 21.0C", "Humid: 50.0%"}, pages[1])
	assert.Equal(t, []string{"Light: 200.0 lx", "Gas: 200.0 PPM"}, pages[2])
}

func TestScreensSplitsMultibyteRoomNames(t *testing.T) {
	pages := Screens("012345678ü Haus", Snapshot{}, 16)
	assert.Equal(t, []string{"Room: 012345678ü", " Haus"}, pages[0])
	for _, line := range pages[0] {
		assert.True(t, utf8.ValidString(line), "%q", line)
	}

	pages = Screens("Schlafzimmer", Snapshot{}, 16)
	assert.Equal(t, []string{"Room: Schlafzimm", "er"}, pages[0])
}

func TestValuesLastWriteWins(t *testing.T) {
	v := NewValues()
	v.SetPPM(10)
	v.SetPPM(20)
	s := v.Snapshot()
	assert.Equal(t, 20.0, s.PPM)
	assert.True(t, s.HasGas)
	assert.False(t, s.HasClimate)
}

func TestControllerStopsBetweenCycles(t *testing.T) {
	screen := &recordingScreen{}
	c := NewController(screen, "Bedroom", NewValues(), WithDwell(time.Millisecond))
	assert.Equal(t, Idle, c.State())

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background()) }()

	require.Eventually(t, func() bool { return screen.pageCount() >= 3 }, time.Second, time.Millisecond)
	c.Stop()
	c.Stop()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("controller did not stop")
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, Stopped, c.State())
	assert.Equal(t, 0, screen.pageCount()%3, "cycles always complete")
	assert.Equal(t, 1, screen.clears)

	assert.ErrorIs(t, c.Run(context.Background()), ErrAlreadyStarted)
}

func TestControllerStopsOnContextCancel(t *testing.T) {
	screen := &recordingScreen{}
	c := NewController(screen, "Kitchen", NewValues(), WithDwell(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()
	require.Eventually(t, func() bool { return c.State() == Running }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("controller did not stop")
	}
}

func TestControllerSurvivesDisplayFaults(t *testing.T) {
	screen := &recordingScreen{showErr: errors.New("i2c nack")}
	var faults atomic.Int32
	c := NewController(screen, "Bedroom", NewValues(),
		WithDwell(time.Millisecond),
		WithErrorHook(func(error) { faults.Add(1) }),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	require.Eventually(t, func() bool { return faults.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-c.Done()
	assert.Equal(t, Stopped, c.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "state(9)", State(9).String())
}
