package sensor

import (
	"math/rand"
	"sync"
)

// Simulated stands in for the converter when no hardware is attached. Each
// channel returns its base fraction plus up to ±Jitter of noise.
type Simulated struct {
	mu     sync.Mutex
	values map[int]float64
	jitter float64
	rnd    *rand.Rand
}

func NewSimulated(values map[int]float64, jitter float64, seed int64) *Simulated {
	vals := make(map[int]float64, len(values))
	for ch, v := range values {
		vals[ch] = clamp01(v)
	}
	return &Simulated{values: vals, jitter: jitter, rnd: rand.New(rand.NewSource(seed))}
}

// Set changes the base fraction of one channel.
func (s *Simulated) Set(channel int, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[channel] = clamp01(v)
}

func (s *Simulated) Read(channel int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[channel]
	if !ok {
		v = 0.5
	}
	if s.jitter > 0 {
		v += (s.rnd.Float64()*2 - 1) * s.jitter
	}
	return clamp01(v), nil
}

func (s *Simulated) Close() error { return nil }

// SimulatedClimate is the DHT22 counterpart of Simulated.
type SimulatedClimate struct {
	mu          sync.Mutex
	temperature float64
	humidity    float64
	jitter      float64
	rnd         *rand.Rand
	released    bool
}

func NewSimulatedClimate(temperature, humidity, jitter float64, seed int64) *SimulatedClimate {
	return &SimulatedClimate{
		temperature: temperature,
		humidity:    humidity,
		jitter:      jitter,
		rnd:         rand.New(rand.NewSource(seed)),
	}
}

func (s *SimulatedClimate) Read() (*Climate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, ErrReleased
	}
	t, h := s.temperature, s.humidity
	if s.jitter > 0 {
		t += (s.rnd.Float64()*2 - 1) * s.jitter
		h += (s.rnd.Float64()*2 - 1) * s.jitter
	}
	return &Climate{Temperature: round2(t), Humidity: round2(h)}, nil
}

func (s *SimulatedClimate) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	return nil
}
