package main

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func wavHeader(format, channels uint16, rate uint32, bits uint16) []byte {
	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	copy(h[8:12], "WAVE")
	binary.LittleEndian.PutUint16(h[20:22], format)
	binary.LittleEndian.PutUint16(h[22:24], channels)
	binary.LittleEndian.PutUint32(h[24:28], rate)
	binary.LittleEndian.PutUint16(h[34:36], bits)
	return h
}

func TestReadWAVHeader(t *testing.T) {
	got, err := readWAVHeader(bytes.NewReader(wavHeader(1, 1, 16000, 16)))
	if err != nil {
		t.Fatalf("readWAVHeader() error = %v", err)
	}
	want := wavFormat{AudioFormat: 1, Channels: 1, SampleRate: 16000, BitsPerSample: 16}
	if got != want {
		t.Errorf("readWAVHeader() = %+v, want %+v", got, want)
	}
}

func TestReadWAVHeader_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"short", []byte("RIFF")},
		{"not riff", make([]byte, wavHeaderSize)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := readWAVHeader(bytes.NewReader(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
