package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestUnmarshalConfigJSON(t *testing.T) {
	js := `{
        "sensor_type": "real",
        "adc": { "type": "ads1115", "i2c_bus": "2", "i2c_address": 72, "sample_rate": 250 },
        "channels": { "light": 0, "flame": 1, "gas": 3 },
        "display": { "type": "log", "dwell_ms": 1500 },
        "store": { "driver": "postgres", "dsn": "postgres://pi@db/home" },
        "outputs": [{"type":"console"}, {"type":"redis", "redis": {"addr": "cache:6379", "db": 2}}],
        "room": "Attic"
    }`

	cfg := DefaultConfig()
	if err := json.Unmarshal([]byte(js), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.ADC.Type != "ads1115" || cfg.ADC.I2CAddress != 72 || cfg.ADC.SampleRate != 250 {
		t.Fatalf("adc: %+v", cfg.ADC)
	}
	if cfg.Channels.Gas != 3 {
		t.Fatalf("channels: %+v", cfg.Channels)
	}
	if cfg.Display.Type != "log" || cfg.Dwell().Milliseconds() != 1500 {
		t.Fatalf("display: %+v", cfg.Display)
	}
	// fields missing from the file keep their defaults
	if cfg.Display.Columns != 16 || cfg.DHT22Pin != "GPIO4" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if len(cfg.Outputs) != 2 || cfg.Outputs[1].Redis == nil || cfg.Outputs[1].Redis.DB != 2 {
		t.Fatalf("outputs: %+v", cfg.Outputs)
	}
	if cfg.Room != "Attic" {
		t.Fatalf("room: %q", cfg.Room)
	}
}

func TestLoadFileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	js := `{"store": {"driver": "memory"}, "room": "Garage", "outputs": [{"type": "redis"}]}`
	if err := os.WriteFile(path, []byte(js), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SMARTHOME_REDIS_PASSWORD", "pw")

	cfg, err := Load([]string{"-c", path, "--room=Cellar"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != "memory" {
		t.Fatalf("store: %q", cfg.Store.Driver)
	}
	if cfg.Room != "Cellar" {
		t.Fatalf("flag should override file, got %q", cfg.Room)
	}
	r := cfg.Outputs[0].Redis
	if r == nil || r.Addr != "localhost:6379" || r.KeyPrefix != "smarthome:" || r.Password != "pw" {
		t.Fatalf("redis: %+v", r)
	}
}
