package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ericogr/smarthomepi/pkg/api"
	"github.com/ericogr/smarthomepi/pkg/config"
	"github.com/ericogr/smarthomepi/pkg/display"
	"github.com/ericogr/smarthomepi/pkg/logger"
	"github.com/ericogr/smarthomepi/pkg/monitor"
	"github.com/ericogr/smarthomepi/pkg/output"
	"github.com/ericogr/smarthomepi/pkg/output/console"
	"github.com/ericogr/smarthomepi/pkg/output/mqtt"
	"github.com/ericogr/smarthomepi/pkg/output/redis"
	"github.com/ericogr/smarthomepi/pkg/sensor"
	"github.com/ericogr/smarthomepi/pkg/store"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"
)

const shutdownTimeout = 15 * time.Second

type outputEntry struct {
	name string
	out  output.Output
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "smarthomepi")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("smarthomepi failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	gw, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer gw.Close()

	room, err := ensureRoom(ctx, gw, cfg.Room, log)
	if err != nil {
		return err
	}

	outputs, err := initOutputs(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, o := range outputs {
			if err := o.out.Close(); err != nil {
				log.Warn("Failed to close output", zap.String("output", o.name), zap.Error(err))
			}
		}
	}()

	metrics := monitor.NewMetrics()
	opts := []monitor.ManagerOption{
		monitor.WithManagerLogger(log),
		monitor.WithManagerMetrics(metrics),
		monitor.WithDefaultInterval(cfg.Interval()),
		monitor.WithDisplay(cfg.Dwell(), cfg.Display.Columns),
	}
	var forgetters []api.RoomForgetter
	for _, o := range outputs {
		opts = append(opts, monitor.WithSessionOutput(o.name, o.out))
		if f, ok := o.out.(api.RoomForgetter); ok {
			forgetters = append(forgetters, f)
		}
	}
	if cfg.Cycles > 0 {
		opts = append(opts, monitor.WithSessionCycles(cfg.Cycles))
	}
	manager := monitor.NewManager(gw, newRigFactory(cfg, log), opts...)

	if cfg.AutoStart {
		if _, err := manager.Start(ctx, room.Name, cfg.AutoStartInterval()); err != nil {
			return fmt.Errorf("auto-start: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           api.NewServer(gw, manager, metrics.Handler(), log, forgetters...).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTP.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-serveErr:
		if err != nil {
			log.Error("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown", zap.Error(err))
	}
	if err := manager.Stop(shutdownCtx); err != nil {
		log.Warn("Session ended with error", zap.Error(err))
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Gateway, error) {
	switch cfg.Store.Driver {
	case "memory":
		log.Warn("Using in-memory store; readings are lost on exit")
		return store.NewMemory(), nil
	case "postgres":
		pg, err := store.OpenPostgres(ctx, cfg.Store.DSN, cfg.Store.MaxConns, cfg.Store.MaxIdle, log)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// ensureRoom returns the configured room, creating it on first boot.
func ensureRoom(ctx context.Context, gw store.Gateway, name string, log *zap.Logger) (store.Room, error) {
	id, err := gw.RoomIDByName(ctx, name)
	if err == nil {
		return gw.Room(ctx, id)
	}
	if !errors.Is(err, store.ErrRoomNotFound) {
		return store.Room{}, err
	}
	room, err := gw.InsertRoom(ctx, name)
	if errors.Is(err, store.ErrRoomExists) {
		return ensureRoom(ctx, gw, name, log)
	}
	if err != nil {
		return store.Room{}, err
	}
	log.Info("Registered room", zap.Int64("room_id", room.ID), zap.String("name", room.Name))
	return room, nil
}

func initOutputs(ctx context.Context, cfg config.Config, log *zap.Logger) ([]outputEntry, error) {
	var entries []outputEntry
	for _, oc := range cfg.Outputs {
		typ := strings.ToLower(oc.Type)
		var (
			o   output.Output
			err error
		)
		switch typ {
		case "console":
			o = console.NewConsole()
		case "mqtt":
			if oc.MQTT == nil {
				err = errors.New("mqtt output without settings")
				break
			}
			o, err = mqtt.NewMQTT(*oc.MQTT, log)
		case "redis":
			if oc.Redis == nil {
				err = errors.New("redis output without settings")
				break
			}
			o, err = redis.NewRedis(ctx, *oc.Redis, log)
		default:
			err = fmt.Errorf("unknown output type %q", oc.Type)
		}
		if err != nil {
			for _, e := range entries {
				_ = e.out.Close()
			}
			return nil, fmt.Errorf("output %s: %w", typ, err)
		}
		entries = append(entries, outputEntry{name: typ, out: o})
	}
	return entries, nil
}

// newRigFactory opens the configured hardware, or simulated stand-ins, for
// each session.
func newRigFactory(cfg config.Config, log *zap.Logger) monitor.RigFactory {
	return func(context.Context) (*monitor.Rig, error) {
		if cfg.SensorType == "simulation" {
			return simulatedRig(cfg, log), nil
		}

		rig := &monitor.Rig{}
		fail := func(err error) (*monitor.Rig, error) {
			_ = rig.Close()
			return nil, err
		}

		var adc sensor.ChannelReader
		switch cfg.ADC.Type {
		case "ads1115":
			a, err := sensor.OpenADS1115(cfg.ADC.I2CBus, uint16(cfg.ADC.I2CAddress), cfg.ADC.SampleRate)
			if err != nil {
				return fail(err)
			}
			rig.Closers = append(rig.Closers, a)
			adc = a
		default:
			m, err := sensor.OpenMCP3008(cfg.ADC.SPIPort, physic.Frequency(cfg.ADC.SPISpeedHz)*physic.Hertz)
			if err != nil {
				return fail(err)
			}
			rig.Closers = append(rig.Closers, m)
			adc = m
		}
		rig.Flame = sensor.NewFlame(adc, cfg.Channels.Flame, cfg.FireThreshold)
		rig.Gas = sensor.NewGas(adc, cfg.Channels.Gas)
		rig.Light = sensor.NewLight(adc, cfg.Channels.Light)

		dht, err := sensor.OpenDHT22(cfg.DHT22Pin)
		if err != nil {
			return fail(err)
		}
		rig.Climate = dht

		screen, closer, err := openScreen(cfg, log)
		if err != nil {
			_ = dht.Release()
			return fail(err)
		}
		rig.Screen = screen
		if closer != nil {
			rig.Closers = append(rig.Closers, closer)
		}
		return rig, nil
	}
}

func openScreen(cfg config.Config, log *zap.Logger) (display.Screen, io.Closer, error) {
	switch cfg.Display.Type {
	case "lcd":
		lcd, err := display.OpenCharLCD(cfg.Display.I2CBus, uint16(cfg.Display.I2CAddress), cfg.Display.Columns, cfg.Display.Rows)
		if err != nil {
			return nil, nil, err
		}
		return lcd, lcd, nil
	case "log":
		return display.NewLogScreen(log.Named("display")), nil, nil
	}
	return nopScreen{}, nil, nil
}

type nopScreen struct{}

func (nopScreen) Clear() error { return nil }
func (nopScreen) Show(...string) error { return nil }

func simulatedRig(cfg config.Config, log *zap.Logger) *monitor.Rig {
	sim := cfg.Simulation
	seed := time.Now().UnixNano()
	reader := sensor.NewSimulated(map[int]float64{
		cfg.Channels.Light: sim.Light,
		cfg.Channels.Flame: sim.Flame,
		cfg.Channels.Gas:   sim.Gas,
	}, sim.Jitter, seed)

	var screen display.Screen = display.NewLogScreen(log.Named("display"))
	if cfg.Display.Type == "none" {
		screen = nopScreen{}
	}
	return &monitor.Rig{
		Climate: sensor.NewSimulatedClimate(sim.Temperature, sim.Humidity, sim.Jitter, seed+1),
		Flame:   sensor.NewFlame(reader, cfg.Channels.Flame, cfg.FireThreshold),
		Gas:     sensor.NewGas(reader, cfg.Channels.Gas),
		Light:   sensor.NewLight(reader, cfg.Channels.Light),
		Screen:  screen,
		Closers: []io.Closer{reader},
	}
}
