package sensor

// DefaultFireThreshold is the raw level below which the flame module reports fire.
// Lower raw means a closer or stronger flame with this module's wiring.
const DefaultFireThreshold = 0.5

const (
	maxPPM = 1000.0
	maxLux = 1000.0
)

// FireDetected reports fire when raw is strictly below threshold.
func FireDetected(raw, threshold float64) bool {
	return raw < threshold
}

// PPM maps a raw fraction linearly onto 0..1000 ppm. This is not a calibrated
// MQ-2 curve.
func PPM(raw float64) float64 {
	return round2(raw * maxPPM)
}

// Lux maps a raw fraction onto 0..1000 lux with inverted polarity: raw 0 is
// full brightness.
func Lux(raw float64) float64 {
	return round2((1 - raw) * maxLux)
}

// Flame is the flame module on one converter channel.
type Flame struct {
	reader    ChannelReader
	channel   int
	threshold float64
}

func NewFlame(r ChannelReader, channel int, threshold float64) *Flame {
	if threshold <= 0 {
		threshold = DefaultFireThreshold
	}
	return &Flame{reader: r, channel: channel, threshold: threshold}
}

func (f *Flame) ReadRaw() (float64, error) {
	return f.reader.Read(f.channel)
}

func (f *Flame) IsFireDetected(threshold float64) (bool, error) {
	raw, err := f.ReadRaw()
	if err != nil {
		return false, err
	}
	return FireDetected(raw, threshold), nil
}

// Sample takes one raw value and derives the flag from it with the
// configured threshold, so both describe the same instant.
func (f *Flame) Sample() (raw float64, fire bool, err error) {
	raw, err = f.ReadRaw()
	if err != nil {
		return 0, false, err
	}
	return raw, FireDetected(raw, f.threshold), nil
}

// Gas is the MQ-2 module on one converter channel.
type Gas struct {
	reader  ChannelReader
	channel int
}

func NewGas(r ChannelReader, channel int) *Gas {
	return &Gas{reader: r, channel: channel}
}

func (g *Gas) ReadRaw() (float64, error) {
	return g.reader.Read(g.channel)
}

func (g *Gas) ReadGasLevel() (float64, error) {
	raw, err := g.ReadRaw()
	if err != nil {
		return 0, err
	}
	return PPM(raw), nil
}

func (g *Gas) Sample() (ppm, raw float64, err error) {
	raw, err = g.ReadRaw()
	if err != nil {
		return 0, 0, err
	}
	return PPM(raw), raw, nil
}

// Light is the photoresistor module on one converter channel.
type Light struct {
	reader  ChannelReader
	channel int
}

func NewLight(r ChannelReader, channel int) *Light {
	return &Light{reader: r, channel: channel}
}

func (l *Light) ReadRaw() (float64, error) {
	return l.reader.Read(l.channel)
}

func (l *Light) ReadLightLevel() (float64, error) {
	raw, err := l.ReadRaw()
	if err != nil {
		return 0, err
	}
	return Lux(raw), nil
}

func (l *Light) Sample() (lux, raw float64, err error) {
	raw, err = l.ReadRaw()
	if err != nil {
		return 0, 0, err
	}
	return Lux(raw), raw, nil
}
