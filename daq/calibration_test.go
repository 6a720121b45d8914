package daq

import (
	"math"
	"testing"
)

func TestConverterCacheReuse(t *testing.T) {
	d := newTestDAQ(t, NewMockCard())
	if _, err := d.converterToPhys(mockSubAI, 0, 1); err != nil {
		t.Fatalf("expected converter, got %v", err)
	}
	if _, err := d.converterToPhys(mockSubAI, 0, 1); err != nil {
		t.Fatalf("expected converter, got %v", err)
	}
	if len(d.toPhys) != 1 {
		t.Errorf("expected one cached converter, got %d", len(d.toPhys))
	}
	if _, err := d.converterToPhys(mockSubAI, 1, 1); err != nil {
		t.Fatalf("expected converter, got %v", err)
	}
	if len(d.toPhys) != 2 {
		t.Errorf("expected distinct cache entries per channel, got %d", len(d.toPhys))
	}
}

func TestUncalibratedRoundTrip(t *testing.T) {
	d := newTestDAQ(t, NewMockCard())
	from, err := d.converterFromPhys(mockSubAI, 0, 1)
	if err != nil {
		t.Fatalf("expected converter, got %v", err)
	}
	to, err := d.converterToPhys(mockSubAI, 0, 1)
	if err != nil {
		t.Fatalf("expected converter, got %v", err)
	}
	v := 3.3
	got := to(from(v))
	// round trip is exact to within one code over the 0-10 V range
	if math.Abs(got-v) > 10.0/4095 {
		t.Errorf("round trip of %g V came back as %g", v, got)
	}
}

func TestFromPhysClamps(t *testing.T) {
	d := newTestDAQ(t, NewMockCard())
	from, err := d.converterFromPhys(mockSubAI, 0, 1)
	if err != nil {
		t.Fatalf("expected converter, got %v", err)
	}
	if raw := from(50); raw != 4095 {
		t.Errorf("expected clamp to full scale 4095, got %d", raw)
	}
	if raw := from(-50); raw != 0 {
		t.Errorf("expected clamp to zero scale, got %d", raw)
	}
}

func TestToPhysOutOfRangeIsNaN(t *testing.T) {
	v := toPhys(5000, Range{Min: 0, Max: 10}, 4095)
	if !math.IsNaN(v) {
		t.Errorf("expected NaN for a code beyond maxdata, got %g", v)
	}
}

func TestSoftcalDirectionFallback(t *testing.T) {
	card := NewMockCard()
	// calibration fit only in the raw -> volts direction, like an order > 1
	// AI fit; the opposite direction must fall back to linear
	card.SoftCal = &MockCalibration{Polynomials: map[CalKey]Polynomial{
		{mockSubAI, 0, 1, ToPhysical}: {Coefficients: []float64{0, 2}},
	}}
	d := newTestDAQ(t, card)

	to, err := d.converterToPhys(mockSubAI, 0, 1)
	if err != nil {
		t.Fatalf("expected calibrated converter, got %v", err)
	}
	if v := to(5); v != 10 {
		t.Errorf("expected calibrated conversion 10, got %g", v)
	}

	from, err := d.converterFromPhys(mockSubAI, 0, 1)
	if err != nil {
		t.Fatalf("expected fallback converter, got %v", err)
	}
	expected := uint32(math.Round(5.0 / 10 * 4095))
	if raw := from(5); raw != expected {
		t.Errorf("expected linear fallback code %d, got %d", expected, raw)
	}
}

func TestUnparseableCalibrationDegrades(t *testing.T) {
	card := NewMockCard()
	card.CalUnparseable = true
	d := newTestDAQ(t, card)
	if d.cal != nil {
		t.Error("expected no calibration after a parse failure")
	}
	to, err := d.converterToPhys(mockSubAI, 0, 1)
	if err != nil {
		t.Fatalf("expected linear converter, got %v", err)
	}
	expected := 2048.0 / 4095 * 10
	if v := to(2048); math.Abs(v-expected) > 1e-12 {
		t.Errorf("expected linear conversion %g, got %g", expected, v)
	}
}

func TestPolynomialEval(t *testing.T) {
	// 1 + 2(x-3) + 4(x-3)^2 at x=5
	p := Polynomial{Coefficients: []float64{1, 2, 4}, Origin: 3}
	if v := p.Eval(5); v != 21 {
		t.Errorf("expected 21, got %g", v)
	}
}
