package console

import (
	"context"
	"fmt"
	"time"

	"github.com/ericogr/smarthomepi/pkg/output"
	"github.com/ericogr/smarthomepi/pkg/sensor"
)

type ConsoleOutput struct{}

func NewConsole() output.Output { return &ConsoleOutput{} }

func (c *ConsoleOutput) Publish(_ context.Context, readings []sensor.Reading) error {
	for _, r := range readings {
		fmt.Printf("%s room=%d kind=%s %s\n", r.Time().Format(time.RFC3339), r.Room(), r.Kind(), fields(r))
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }

func fields(r sensor.Reading) string {
	switch v := r.(type) {
	case sensor.ClimateReading:
		return fmt.Sprintf("temperature=%.2f humidity=%.2f", v.Temperature, v.Humidity)
	case sensor.FlameReading:
		return fmt.Sprintf("fire=%t raw=%.4f", v.FireDetected, v.RawValue)
	case sensor.GasReading:
		return fmt.Sprintf("ppm=%.2f raw=%.4f", v.PPM, v.RawValue)
	case sensor.LightReading:
		return fmt.Sprintf("lux=%.2f raw=%.4f", v.Lux, v.RawValue)
	}
	return ""
}
