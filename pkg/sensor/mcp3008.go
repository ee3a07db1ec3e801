package sensor

import (
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	mcp3008Channels = 8
	mcp3008Max      = 1023
	mcpStartBit     = 0x01
	mcpSingleEnded  = 0x08
)

// MCP3008 is a 10-bit, 8-channel SPI analog-to-digital converter.
type MCP3008 struct {
	conn conn.Conn
	port spi.PortCloser
}

// NewMCP3008 wraps an already connected SPI conn.
func NewMCP3008(c conn.Conn) *MCP3008 {
	return &MCP3008{conn: c}
}

// OpenMCP3008 initializes the host drivers and connects to the SPI port
// ("" picks the first one, e.g. /dev/spidev0.0).
func OpenMCP3008(port string, speed physic.Frequency) (*MCP3008, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	p, err := spireg.Open(port)
	if err != nil {
		return nil, fmt.Errorf("open spi %q: %w", port, err)
	}
	c, err := p.Connect(speed, spi.Mode0, 8)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("connect spi %q: %w", port, err)
	}
	return &MCP3008{conn: c, port: p}, nil
}

func (m *MCP3008) Read(channel int) (float64, error) {
	if channel < 0 || channel >= mcp3008Channels {
		return 0, fmt.Errorf("invalid mcp3008 channel %d", channel)
	}
	w := []byte{mcpStartBit, byte(mcpSingleEnded|channel) << 4, 0x00}
	r := make([]byte, len(w))
	if err := m.conn.Tx(w, r); err != nil {
		return 0, fmt.Errorf("mcp3008 channel %d: %w: %w", channel, ErrHardwareIO, err)
	}
	value := int(r[1]&0x03)<<8 | int(r[2])
	return float64(value) / mcp3008Max, nil
}

func (m *MCP3008) Close() error {
	if m.port != nil {
		return m.port.Close()
	}
	return nil
}
