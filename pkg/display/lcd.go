package display

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// PCF8574 backpack wiring: P0=RS, P1=RW, P2=EN, P3=backlight, P4..P7=D4..D7.
const (
	flagRS        = 0x01
	flagEN        = 0x04
	flagBacklight = 0x08

	cmdClear        = 0x01
	cmdEntryMode    = 0x06 // increment, no shift
	cmdDisplayOn    = 0x0C // display on, cursor off, blink off
	cmdFunctionSet  = 0x28 // 4-bit bus, 2 lines, 5x8 font
	cmdSetDDRAMAddr = 0x80
)

var rowOffsets = []byte{0x00, 0x40, 0x14, 0x54}

// CharLCD drives an HD44780 character display through a PCF8574 I2C expander.
type CharLCD struct {
	dev   conn.Conn
	bus   i2c.BusCloser
	cols  int
	rows  int
	sleep func(time.Duration)
}

// NewCharLCD wraps dev and runs the 4-bit initialization sequence.
func NewCharLCD(dev conn.Conn, cols, rows int) (*CharLCD, error) {
	return newCharLCD(dev, cols, rows, time.Sleep)
}

func newCharLCD(dev conn.Conn, cols, rows int, sleep func(time.Duration)) (*CharLCD, error) {
	if rows < 1 || rows > len(rowOffsets) {
		return nil, fmt.Errorf("lcd: unsupported row count %d", rows)
	}
	if cols < 1 {
		return nil, fmt.Errorf("lcd: unsupported column count %d", cols)
	}
	l := &CharLCD{dev: dev, cols: cols, rows: rows, sleep: sleep}
	if err := l.init(); err != nil {
		return nil, err
	}
	return l, nil
}

// OpenCharLCD opens the I2C bus (e.g. "1" for /dev/i2c-1) and talks to the
// backpack at addr, usually 0x27.
func OpenCharLCD(busName string, addr uint16, cols, rows int) (*CharLCD, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	l, err := NewCharLCD(&i2c.Dev{Addr: addr, Bus: bus}, cols, rows)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	l.bus = bus
	return l, nil
}

func (l *CharLCD) init() error {
	l.sleep(50 * time.Millisecond)
	// the controller may be in 8-bit or mid-nibble state after power up
	for _, d := range []time.Duration{4500 * time.Microsecond, 4500 * time.Microsecond, 150 * time.Microsecond} {
		if err := l.writeNibble(0x30, 0); err != nil {
			return err
		}
		l.sleep(d)
	}
	if err := l.writeNibble(0x20, 0); err != nil {
		return err
	}
	for _, c := range []byte{cmdFunctionSet, cmdDisplayOn, cmdEntryMode} {
		if err := l.command(c); err != nil {
			return err
		}
	}
	return l.Clear()
}

func (l *CharLCD) Clear() error {
	if err := l.command(cmdClear); err != nil {
		return err
	}
	l.sleep(2 * time.Millisecond)
	return nil
}

// Show clears the display and writes one line per row; extra lines are
// dropped and long lines are cut at the column count.
func (l *CharLCD) Show(lines ...string) error {
	if err := l.Clear(); err != nil {
		return err
	}
	for row, line := range lines {
		if row >= l.rows {
			break
		}
		if err := l.command(cmdSetDDRAMAddr | rowOffsets[row]); err != nil {
			return err
		}
		n := 0
		for _, r := range line {
			if n >= l.cols {
				break
			}
			b := byte('?')
			if r < 0x80 {
				b = byte(r)
			}
			if err := l.send(b, flagRS); err != nil {
				return err
			}
			n++
		}
	}
	return nil
}

func (l *CharLCD) Close() error {
	if l.bus != nil {
		return l.bus.Close()
	}
	return nil
}

func (l *CharLCD) command(c byte) error {
	return l.send(c, 0)
}

func (l *CharLCD) send(b, mode byte) error {
	if err := l.writeNibble(b&0xF0, mode); err != nil {
		return err
	}
	return l.writeNibble((b<<4)&0xF0, mode)
}

// writeNibble latches the upper four bits of n by pulsing EN.
func (l *CharLCD) writeNibble(n, mode byte) error {
	v := n | mode | flagBacklight
	if err := l.dev.Tx([]byte{v | flagEN, v}, nil); err != nil {
		return fmt.Errorf("lcd write: %w: %w", ErrDisplayIO, err)
	}
	return nil
}
