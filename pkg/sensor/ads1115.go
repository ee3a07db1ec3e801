package sensor

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	pointerConv   = 0x00
	pointerConfig = 0x01

	ads1115FullScale = 32767.0
)

// ADS1115 is a 16-bit, 4-channel I2C converter. Single-ended conversions are
// normalized against the positive full scale, so the fraction is relative to
// the ±4.096V PGA range.
type ADS1115 struct {
	dev        conn.Conn
	bus        i2c.BusCloser
	sampleRate int
	sleep      func(time.Duration)
}

func NewADS1115(dev conn.Conn, sampleRate int) *ADS1115 {
	return &ADS1115{dev: dev, sampleRate: sampleRate, sleep: time.Sleep}
}

func OpenADS1115(busName string, addr uint16, sampleRate int) (*ADS1115, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	a := NewADS1115(&i2c.Dev{Addr: addr, Bus: bus}, sampleRate)
	a.bus = bus
	return a, nil
}

func (a *ADS1115) Close() error {
	if a.bus != nil {
		return a.bus.Close()
	}
	return nil
}

func (a *ADS1115) Read(channel int) (float64, error) {
	msb, lsb, err := configForChannel(channel, a.sampleRate)
	if err != nil {
		return 0, err
	}
	if err := a.dev.Tx([]byte{pointerConfig, msb, lsb}, nil); err != nil {
		return 0, fmt.Errorf("ads1115 write config: %w: %w", ErrHardwareIO, err)
	}
	// wait for the single-shot conversion
	a.sleep(conversionDelay(a.sampleRate))
	readBuf := make([]byte, 2)
	if err := a.dev.Tx([]byte{pointerConv}, readBuf); err != nil {
		return 0, fmt.Errorf("ads1115 read conv: %w: %w", ErrHardwareIO, err)
	}
	raw := int16(readBuf[0])<<8 | int16(readBuf[1])
	return clamp01(float64(raw) / ads1115FullScale), nil
}

func conversionDelay(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		sampleRate = 128
	}
	delayMs := int(1000.0/float64(sampleRate)) + 2
	return time.Duration(delayMs) * time.Millisecond
}

func configForChannel(channel, sampleRate int) (byte, byte, error) {
	var mux byte
	switch channel {
	case 0:
		mux = 0x4
	case 1:
		mux = 0x5
	case 2:
		mux = 0x6
	case 3:
		mux = 0x7
	default:
		return 0, 0, fmt.Errorf("invalid ads1115 channel %d", channel)
	}
	// PGA: use ±4.096V -> bits 001
	pga := byte(0x1)
	var dr byte
	switch sampleRate {
	case 8:
		dr = 0x0
	case 16:
		dr = 0x1
	case 32:
		dr = 0x2
	case 64:
		dr = 0x3
	case 128:
		dr = 0x4
	case 250:
		dr = 0x5
	case 475:
		dr = 0x6
	case 860:
		dr = 0x7
	default:
		dr = 0x4
	}
	var config uint16 = 0x8000 // OS = 1 (start single conversion)
	config |= uint16(mux) << 12
	config |= uint16(pga) << 9
	config |= 1 << 8 // single-shot mode
	config |= uint16(dr) << 5
	// comparator disabled (bits 1:0 = 11)
	config |= 0x3
	return byte(config >> 8), byte(config & 0xFF), nil
}
