// Command audioclient streams a WAV file to the gateway's media socket the way
// Vonage does: a JSON handshake text frame followed by binary linear16 frames.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// 20ms of 16 kHz 16-bit mono audio, the Vonage frame size.
const (
	frameBytes    = 640
	frameInterval = 20 * time.Millisecond
)

type wavFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

func readWAVHeader(r io.Reader) (wavFormat, error) {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return wavFormat{}, fmt.Errorf("read WAV header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return wavFormat{}, fmt.Errorf("not a valid WAV file")
	}
	return wavFormat{
		AudioFormat:   binary.LittleEndian.Uint16(header[20:22]),
		Channels:      binary.LittleEndian.Uint16(header[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(header[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(header[34:36]),
	}, nil
}

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	server := flag.String("server", "localhost:3000", "Gateway host:port")
	callId := flag.String("call", "test-call-"+time.Now().Format("150405"), "Call ID")
	trailingSilence := flag.Duration("silence", 1500*time.Millisecond, "Silence appended after the file")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audio file")
	}
	defer f.Close()

	wav, err := readWAVHeader(f)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid audio file")
	}
	log.Info().
		Uint16("format", wav.AudioFormat).
		Uint16("channels", wav.Channels).
		Uint32("sampleRate", wav.SampleRate).
		Uint16("bitsPerSample", wav.BitsPerSample).
		Msg("WAV file")

	if wav.AudioFormat != 1 || wav.BitsPerSample != 16 || wav.Channels != 1 {
		log.Fatal().Msg("Only 16-bit mono PCM is supported")
	}
	if wav.SampleRate != 16000 {
		log.Warn().Uint32("sampleRate", wav.SampleRate).Msg("Expected 16000 Hz audio")
	}

	u := url.URL{Scheme: "ws", Host: *server, Path: "/socket", RawQuery: url.Values{"call_id": {*callId}}.Encode()}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal().Err(err).Str("url", u.String()).Msg("Failed to connect")
	}
	defer conn.Close()
	log.Info().Str("url", u.String()).Msg("Connected")

	handshake := fmt.Sprintf(`{"event":"websocket:connected","content-type":"audio/l16;rate=%d"}`, wav.SampleRate)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(handshake)); err != nil {
		log.Fatal().Err(err).Msg("Failed to send handshake")
	}

	chunk := make([]byte, frameBytes)
	var total int64
	frames := 0
	start := time.Now()
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		n, err := io.ReadFull(f, chunk)
		if n > 0 {
			// Frames are whole samples.
			n -= n % 2
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk[:n]); err != nil {
				log.Fatal().Err(err).Msg("Failed to send frame")
			}
			frames++
			total += int64(n)
			if frames%50 == 0 {
				log.Info().Int("frames", frames).Int64("bytes", total).Msg("Streaming")
			}
			<-ticker.C
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read audio")
		}
	}

	silent := make([]byte, frameBytes)
	for i := 0; i < int(*trailingSilence/frameInterval); i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, silent); err != nil {
			log.Fatal().Err(err).Msg("Failed to send silence")
		}
		<-ticker.C
	}

	log.Info().
		Int("frames", frames).
		Int64("bytes", total).
		Dur("elapsed", time.Since(start)).
		Msg("Finished streaming, closing socket")

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	time.Sleep(500 * time.Millisecond)
}
