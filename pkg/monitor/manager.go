package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ericogr/smarthomepi/pkg/display"
	"github.com/ericogr/smarthomepi/pkg/output"
	"github.com/ericogr/smarthomepi/pkg/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyRunning is returned when the room is already being monitored.
	ErrAlreadyRunning = errors.New("monitoring already running for this room")

	// ErrRigBusy is returned when another room holds the hardware.
	ErrRigBusy = errors.New("sensor rig is busy with another room")

	ErrNotRunning = errors.New("no active monitoring session")

	// ErrRoomMonitored is returned when deleting the room of the active session.
	ErrRoomMonitored = errors.New("room is being monitored; stop the session first")
)

const DefaultInterval = 10 * time.Second

// Session describes one running acquisition.
type Session struct {
	ID        uuid.UUID     `json:"id"`
	RoomID    int64         `json:"room_id"`
	RoomName  string        `json:"room_name"`
	Interval  time.Duration `json:"-"`
	StartedAt time.Time     `json:"started_at"`
}

type run struct {
	session Session
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// Manager owns the single hardware rig and runs at most one session on it.
type Manager struct {
	store    store.Gateway
	openRig  RigFactory
	outputs  []namedOutput
	logger   *zap.Logger
	metrics  *Metrics
	interval time.Duration
	cycles   int
	dwell    time.Duration
	columns  int

	mu     sync.Mutex
	active *run
	last   *run
}

type ManagerOption func(*Manager)

func WithManagerLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

func WithManagerMetrics(mt *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// WithDefaultInterval is used when Start is called with a zero interval.
func WithDefaultInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithSessionCycles bounds every session to n cycles.
func WithSessionCycles(n int) ManagerOption {
	return func(m *Manager) { m.cycles = n }
}

func WithDisplay(dwell time.Duration, columns int) ManagerOption {
	return func(m *Manager) {
		m.dwell = dwell
		m.columns = columns
	}
}

func WithSessionOutput(name string, o output.Output) ManagerOption {
	return func(m *Manager) { m.outputs = append(m.outputs, namedOutput{name: name, out: o}) }
}

func NewManager(gw store.Gateway, openRig RigFactory, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    gw,
		openRig:  openRig,
		logger:   zap.NewNop(),
		interval: DefaultInterval,
		dwell:    display.DefaultDwell,
		columns:  display.DefaultColumns,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ResolveRoom accepts a numeric room id or a room name.
func (m *Manager) ResolveRoom(ctx context.Context, target string) (store.Room, error) {
	if id, err := strconv.ParseInt(target, 10, 64); err == nil {
		return m.store.Room(ctx, id)
	}
	id, err := m.store.RoomIDByName(ctx, target)
	if err != nil {
		return store.Room{}, err
	}
	return m.store.Room(ctx, id)
}

// Start opens the rig and begins monitoring the target room. The session
// outlives ctx; it ends through Stop or its cycle limit.
func (m *Manager) Start(ctx context.Context, target string, interval time.Duration) (Session, error) {
	if interval <= 0 {
		interval = m.interval
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// resolved under the lock so DeleteRoom cannot remove it in between
	room, err := m.ResolveRoom(ctx, target)
	if err != nil {
		return Session{}, err
	}
	if m.active != nil {
		if m.active.session.RoomID == room.ID {
			return m.active.session, ErrAlreadyRunning
		}
		return m.active.session, ErrRigBusy
	}

	rig, err := m.openRig(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("open rig: %w", err)
	}

	sess := Session{
		ID:        uuid.New(),
		RoomID:    room.ID,
		RoomName:  room.Name,
		Interval:  interval,
		StartedAt: time.Now().UTC(),
	}
	logger := m.logger.With(zap.String("session_id", sess.ID.String()), zap.String("room", room.Name))

	values := display.NewValues()
	ctrl := display.NewController(rig.Screen, room.Name, values,
		display.WithDwell(m.dwell),
		display.WithColumns(m.columns),
		display.WithLogger(logger),
		display.WithErrorHook(m.metrics.DisplayFault))

	loopOpts := []LoopOption{WithCycles(m.cycles), WithLoopLogger(logger), WithMetrics(m.metrics)}
	for _, o := range m.outputs {
		loopOpts = append(loopOpts, WithOutput(o.name, o.out))
	}
	loop := NewLoop(m.store, rig, values, room.ID, interval, loopOpts...)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{session: sess, cancel: cancel, done: make(chan struct{})}
	m.active = r
	m.metrics.SetActive(true)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() (err error) {
		defer ctrl.Stop()
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("acquisition loop panic: %v", p)
			}
		}()
		return loop.Run(gctx)
	})
	g.Go(func() error {
		return ctrl.Run(gctx)
	})

	go func() {
		err := g.Wait()
		if cerr := rig.Close(); cerr != nil {
			logger.Warn("Failed to close rig", zap.Error(cerr))
		}
		cancel()

		m.mu.Lock()
		if m.active == r {
			m.active = nil
			m.last = r
		}
		m.mu.Unlock()
		m.metrics.SetActive(false)

		if err != nil {
			logger.Error("Session ended with error", zap.Error(err))
		} else {
			logger.Info("Session ended")
		}
		r.err = err
		close(r.done)
	}()

	logger.Info("Session started", zap.Int64("room_id", room.ID), zap.Duration("interval", interval))
	return sess, nil
}

// Stop ends the active session and waits until its loop, display and rig
// have shut down. Without an active session it reports how the last one
// ended, or nil if none ran.
func (m *Manager) Stop(ctx context.Context) error {
	r := m.current()
	if r == nil {
		return nil
	}
	r.cancel()
	return r.wait(ctx)
}

// Wait blocks until the active session ends on its own and returns its
// error. A session that already ended is reported the same way.
func (m *Manager) Wait(ctx context.Context) error {
	r := m.current()
	if r == nil {
		return nil
	}
	return r.wait(ctx)
}

func (m *Manager) current() *run {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return m.active
	}
	return m.last
}

func (r *run) wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeleteRoom removes a room and its readings unless a session is
// monitoring it.
func (m *Manager) DeleteRoom(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.session.RoomID == id {
		return ErrRoomMonitored
	}
	return m.store.DeleteRoom(ctx, id)
}

// Status returns the active session or ErrNotRunning.
func (m *Manager) Status() (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return Session{}, ErrNotRunning
	}
	return m.active.session, nil
}
