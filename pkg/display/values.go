package display

import "sync"

// Snapshot is a consistent copy of the values shown on the display.
type Snapshot struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Lux         float64 `json:"lux"`
	PPM         float64 `json:"ppm"`
	HasClimate  bool    `json:"has_climate"`
	HasLight    bool    `json:"has_light"`
	HasGas      bool    `json:"has_gas"`
}

// Values is the single-slot mailbox between the acquisition loop (writer) and
// the display controller (reader). Updates overwrite; readers always get a
// whole snapshot.
type Values struct {
	mu   sync.RWMutex
	snap Snapshot
}

func NewValues() *Values {
	return &Values{}
}

func (v *Values) SetClimate(temperature, humidity float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.snap.Temperature = temperature
	v.snap.Humidity = humidity
	v.snap.HasClimate = true
}

func (v *Values) SetLux(lux float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.snap.Lux = lux
	v.snap.HasLight = true
}

func (v *Values) SetPPM(ppm float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.snap.PPM = ppm
	v.snap.HasGas = true
}

func (v *Values) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snap
}
