// Package audio provides the local audio pipeline used for silence detection:
// linear-PCM decoding, RMS energy estimation and the silence detector.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedFrame is returned for audio buffers that cannot be decoded as
// 16-bit linear PCM (odd byte count).
var ErrMalformedFrame = errors.New("malformed audio frame")

// bytesPerSample for 16-bit mono PCM.
const bytesPerSample = 2

// DecodeLinear16 converts a 16-bit little-endian mono PCM buffer into samples
// normalized to [-1.0, 1.0]. No resampling or channel mixing is performed.
func DecodeLinear16(frame []byte) ([]float64, error) {
	if len(frame)%bytesPerSample != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrMalformedFrame, len(frame))
	}

	samples := make([]float64, len(frame)/bytesPerSample)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(frame[i*bytesPerSample:]))
		samples[i] = float64(v) / 32768
	}
	return samples, nil
}

// RMS returns the root-mean-square energy of samples. An empty sequence has
// energy 0.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// FrameEnergy decodes frame and returns its RMS energy.
func FrameEnergy(frame []byte) (float64, error) {
	samples, err := DecodeLinear16(frame)
	if err != nil {
		return 0, err
	}
	return RMS(samples), nil
}

// EncodeLinear16 is the inverse of DecodeLinear16. Samples outside [-1, 1]
// are clipped. Used by test tooling to synthesize frames.
func EncodeLinear16(samples []float64) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		v := int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(s*32768))))
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(v))
	}
	return out
}

// ToneFrame synthesizes a constant-amplitude square wave of n samples whose
// RMS equals amplitude.
func ToneFrame(n int, amplitude float64) []byte {
	samples := make([]float64, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amplitude
		} else {
			samples[i] = -amplitude
		}
	}
	return EncodeLinear16(samples)
}
