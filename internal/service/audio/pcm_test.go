package audio

import (
	"errors"
	"math"
	"testing"
)

func TestDecodeLinear16(t *testing.T) {
	// 0, max positive, min negative, -1
	frame := []byte{0x00, 0x00, 0xff, 0x7f, 0x00, 0x80, 0xff, 0xff}

	samples, err := DecodeLinear16(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(samples))
	}

	want := []float64{0, 32767.0 / 32768, -1, -1.0 / 32768}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("sample %d: expected %v, got %v", i, want[i], samples[i])
		}
	}
}

func TestDecodeLinear16_SamplesInRange(t *testing.T) {
	frame := make([]byte, 0, 65536*2)
	for v := 0; v < 65536; v++ {
		frame = append(frame, byte(v), byte(v>>8))
	}

	samples, err := DecodeLinear16(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, s := range samples {
		if s < -1 || s > 1 {
			t.Fatalf("sample %d out of range: %v", i, s)
		}
	}
}

func TestDecodeLinear16_OddLength(t *testing.T) {
	_, err := DecodeLinear16([]byte{0x01, 0x02, 0x03})
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodeLinear16_Empty(t *testing.T) {
	samples, err := DecodeLinear16(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 0 {
		t.Errorf("expected no samples, got %d", len(samples))
	}
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float64
		expected float64
	}{
		{"empty", nil, 0},
		{"zero length slice", []float64{}, 0},
		{"silence", []float64{0, 0, 0, 0}, 0},
		{"constant", []float64{0.5, 0.5, 0.5, 0.5}, 0.5},
		{"square wave", []float64{0.25, -0.25, 0.25, -0.25}, 0.25},
		{"mixed", []float64{1, 0}, math.Sqrt(0.5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RMS(tt.samples)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("RMS(%v) = %v, want %v", tt.samples, got, tt.expected)
			}
		})
	}
}

func TestFrameEnergy_ToneFrame(t *testing.T) {
	energy, err := FrameEnergy(ToneFrame(320, 0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(energy-0.5) > 1e-4 {
		t.Errorf("expected energy ~0.5, got %v", energy)
	}

	energy, err = FrameEnergy(ToneFrame(320, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if energy != 0 {
		t.Errorf("expected zero energy for silent frame, got %v", energy)
	}
}

func TestFrameEnergy_Malformed(t *testing.T) {
	if _, err := FrameEnergy(make([]byte, 321)); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}
