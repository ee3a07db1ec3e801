package sensor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

const (
	dhtStartLow     = 1200 * time.Microsecond
	dhtEdgeTimeout  = 2 * time.Millisecond
	dhtBitThreshold = 50 * time.Microsecond
	dhtFrameBits    = 40
)

// Climate is one temperature (°C) and relative humidity (%) sample.
type Climate struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// ClimateSensor is a digital temperature/humidity sensor. Read returns
// (nil, nil) when a sample was missed; Release must run on every exit path.
type ClimateSensor interface {
	Read() (*Climate, error)
	Release() error
}

// DHT22 reads an AM2302/DHT22 over a single GPIO line by timing the data
// pulses. Linux scheduling makes missed edges common, those reads are
// reported as no reading.
type DHT22 struct {
	mu       sync.Mutex
	pin      gpio.PinIO
	frame    func() ([5]byte, error)
	released bool
}

func NewDHT22(pin gpio.PinIO) *DHT22 {
	d := &DHT22{pin: pin}
	d.frame = d.readFrame
	return d
}

// OpenDHT22 looks the pin up by name, e.g. "GPIO4".
func OpenDHT22(pinName string) (*DHT22, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	p := gpioreg.ByName(pinName)
	if p == nil {
		return nil, fmt.Errorf("dht22: %w: unknown pin %q", ErrHardwareIO, pinName)
	}
	return NewDHT22(p), nil
}

func (d *DHT22) Read() (*Climate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil, fmt.Errorf("dht22: %w", ErrReleased)
	}
	frame, err := d.frame()
	var c Climate
	if err == nil {
		c, err = decodeFrame(frame)
	}
	if errors.Is(err, ErrTransient) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Release leaves the line as a pulled-up input and halts edge detection.
// Calling it more than once is harmless.
func (d *DHT22) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil
	}
	d.released = true
	if d.pin == nil {
		return nil
	}
	if err := d.pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return fmt.Errorf("dht22 release %s: %w: %w", d.pin, ErrHardwareIO, err)
	}
	if err := d.pin.Halt(); err != nil {
		return fmt.Errorf("dht22 halt %s: %w: %w", d.pin, ErrHardwareIO, err)
	}
	return nil
}

func (d *DHT22) readFrame() ([5]byte, error) {
	var frame [5]byte
	if err := d.pin.Out(gpio.Low); err != nil {
		return frame, fmt.Errorf("dht22 start signal: %w: %w", ErrHardwareIO, err)
	}
	time.Sleep(dhtStartLow)
	if err := d.pin.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return frame, fmt.Errorf("dht22 listen: %w: %w", ErrHardwareIO, err)
	}
	// response: sensor pulls low, releases high, then pulls low for the first bit
	for i := 0; i < 3; i++ {
		if !d.pin.WaitForEdge(dhtEdgeTimeout) {
			return frame, fmt.Errorf("dht22 response edge %d: %w", i, ErrTransient)
		}
	}
	for bit := 0; bit < dhtFrameBits; bit++ {
		if !d.pin.WaitForEdge(dhtEdgeTimeout) {
			return frame, fmt.Errorf("dht22 bit %d rise: %w", bit, ErrTransient)
		}
		start := time.Now()
		if !d.pin.WaitForEdge(dhtEdgeTimeout) {
			return frame, fmt.Errorf("dht22 bit %d fall: %w", bit, ErrTransient)
		}
		if time.Since(start) > dhtBitThreshold {
			frame[bit/8] |= 1 << (7 - uint(bit%8))
		}
	}
	return frame, nil
}

func decodeFrame(b [5]byte) (Climate, error) {
	sum := b[0] + b[1] + b[2] + b[3]
	if sum != b[4] {
		return Climate{}, fmt.Errorf("dht22 checksum %#02x != %#02x: %w", sum, b[4], ErrTransient)
	}
	humidity := float64(uint16(b[0])<<8|uint16(b[1])) / 10
	temperature := float64(uint16(b[2]&0x7F)<<8|uint16(b[3])) / 10
	if b[2]&0x80 != 0 {
		temperature = -temperature
	}
	return Climate{Temperature: round2(temperature), Humidity: round2(humidity)}, nil
}
