package sensor

import (
	"errors"
	"math"
	"testing"
)

type stubReader struct {
	values map[int]float64
	err    error
	calls  int
}

func (s *stubReader) Read(channel int) (float64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.values[channel], nil
}

func TestConversionsOverRange(t *testing.T) {
	prevPPM, prevLux := -1.0, math.Inf(1)
	for i := 0; i <= 1000; i++ {
		raw := float64(i) / 1000
		ppm := PPM(raw)
		lux := Lux(raw)
		if want := math.Round(raw*1000*100) / 100; ppm != want {
			t.Fatalf("PPM(%v) = %v want %v", raw, ppm, want)
		}
		if want := math.Round((1-raw)*1000*100) / 100; lux != want {
			t.Fatalf("Lux(%v) = %v want %v", raw, lux, want)
		}
		if ppm < prevPPM {
			t.Fatalf("PPM not monotonic at %v", raw)
		}
		if lux > prevLux {
			t.Fatalf("Lux not monotonic at %v", raw)
		}
		prevPPM, prevLux = ppm, lux
	}
	if Lux(0) != 1000 || Lux(1) != 0 {
		t.Fatalf("lux rails: %v %v", Lux(0), Lux(1))
	}
}

func TestFireDetectedThreshold(t *testing.T) {
	tests := []struct {
		raw  float64
		want bool
	}{
		{0, true},
		{0.3, true},
		{0.4999, true},
		{0.5, false},
		{0.51, false},
		{1, false},
	}
	for _, tt := range tests {
		if got := FireDetected(tt.raw, DefaultFireThreshold); got != tt.want {
			t.Fatalf("FireDetected(%v) = %v want %v", tt.raw, got, tt.want)
		}
	}
}

func TestAdaptersSampleOneChannelEach(t *testing.T) {
	r := &stubReader{values: map[int]float64{0: 0.8, 1: 0.3, 2: 0.2}}
	flame := NewFlame(r, 1, 0)
	gas := NewGas(r, 2)
	light := NewLight(r, 0)

	raw, fire, err := flame.Sample()
	if err != nil || raw != 0.3 || !fire {
		t.Fatalf("flame sample: raw=%v fire=%v err=%v", raw, fire, err)
	}
	ppm, raw, err := gas.Sample()
	if err != nil || ppm != 200 || raw != 0.2 {
		t.Fatalf("gas sample: ppm=%v raw=%v err=%v", ppm, raw, err)
	}
	lux, raw, err := light.Sample()
	if err != nil || lux != 200 || raw != 0.8 {
		t.Fatalf("light sample: lux=%v raw=%v err=%v", lux, raw, err)
	}
	if r.calls != 3 {
		t.Fatalf("expected one bus transaction per sample, got %d", r.calls)
	}

	fire, err = flame.IsFireDetected(0.2)
	if err != nil || fire {
		t.Fatalf("custom threshold: fire=%v err=%v", fire, err)
	}
	if v, _ := gas.ReadGasLevel(); v != 200 {
		t.Fatalf("gas level %v", v)
	}
	if v, _ := light.ReadLightLevel(); v != 200 {
		t.Fatalf("light level %v", v)
	}
}

func TestAdaptersPropagateErrors(t *testing.T) {
	cause := errors.New("boom")
	r := &stubReader{err: cause}
	if _, _, err := NewFlame(r, 1, 0).Sample(); !errors.Is(err, cause) {
		t.Fatalf("flame: %v", err)
	}
	if _, err := NewGas(r, 2).ReadGasLevel(); !errors.Is(err, cause) {
		t.Fatalf("gas: %v", err)
	}
	if _, err := NewLight(r, 0).ReadLightLevel(); !errors.Is(err, cause) {
		t.Fatalf("light: %v", err)
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		if err != nil || got != k {
			t.Fatalf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseKind("smoke"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
