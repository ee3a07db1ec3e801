package sensor

import (
	"errors"
	"math"
	"testing"
	"time"

	"periph.io/x/conn/v3/conntest"
)

func TestConfigForChannelBytes(t *testing.T) {
	// channel 0, sample rate 128 -> expect msb 0xC3 lsb 0x83
	msb, lsb, err := configForChannel(0, 128)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msb != 0xC3 || lsb != 0x83 {
		t.Fatalf("channel0@128 => got %02X %02X; want C3 83", msb, lsb)
	}

	// channel 1, sample rate 128 -> D3 83
	msb, lsb, err = configForChannel(1, 128)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msb != 0xD3 || lsb != 0x83 {
		t.Fatalf("channel1@128 => got %02X %02X; want D3 83", msb, lsb)
	}

	// sample rate 8 for channel 0 -> msb C3 lsb 03 (dr=0)
	msb, lsb, err = configForChannel(0, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msb != 0xC3 || lsb != 0x03 {
		t.Fatalf("channel0@8 => got %02X %02X; want C3 03", msb, lsb)
	}

	if _, _, err = configForChannel(9, 128); err == nil {
		t.Fatalf("expected error for invalid channel")
	}
}

func TestADS1115ReadNormalizes(t *testing.T) {
	p := &conntest.Playback{
		Ops: []conntest.IO{
			{W: []byte{pointerConfig, 0xC3, 0x83}},
			{W: []byte{pointerConv}, R: []byte{0x40, 0x00}},
			{W: []byte{pointerConfig, 0xC3, 0x83}},
			{W: []byte{pointerConv}, R: []byte{0xFF, 0xF0}}, // negative reading at the rail
		},
		DontPanic: true,
	}
	a := NewADS1115(p, 128)
	a.sleep = func(time.Duration) {}

	got, err := a.Read(0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if want := 16384.0 / 32767.0; math.Abs(got-want) > 1e-9 {
		t.Fatalf("fraction: got %v want %v", got, want)
	}
	got, err = a.Read(0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != 0 {
		t.Fatalf("negative raw should clamp to 0, got %v", got)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("playback: %v", err)
	}
}

func TestADS1115BusFailure(t *testing.T) {
	a := NewADS1115(&failingConn{err: errors.New("nack")}, 128)
	a.sleep = func(time.Duration) {}
	if _, err := a.Read(2); !errors.Is(err, ErrHardwareIO) {
		t.Fatalf("expected hardware i/o error, got %v", err)
	}
}

func TestConversionDelay(t *testing.T) {
	if got := conversionDelay(128); got != 9*time.Millisecond {
		t.Fatalf("128 SPS: got %v", got)
	}
	if got := conversionDelay(0); got != 9*time.Millisecond {
		t.Fatalf("fallback: got %v", got)
	}
	if got := conversionDelay(860); got != 3*time.Millisecond {
		t.Fatalf("860 SPS: got %v", got)
	}
}
