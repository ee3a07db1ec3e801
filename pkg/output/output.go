package output

import (
	"context"

	"github.com/ericogr/smarthomepi/pkg/sensor"
)

// Output receives the readings persisted during one acquisition cycle.
type Output interface {
	Publish(ctx context.Context, readings []sensor.Reading) error
	Close() error
}

// helper constructors are in subpackages
