// testclient streams a WAV file to the service's WebSocket endpoint and
// prints the transcript events it receives.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"speech-stream-bridge/internal/models"
	"speech-stream-bridge/internal/observability/logging"
	"speech-stream-bridge/internal/pcm"
)

const chunkInterval = 100 * time.Millisecond

func main() {
	audioFile := flag.String("audio", "testdata/sample.wav", "Path to WAV file (16-bit PCM or 32-bit float)")
	serverAddr := flag.String("server", "localhost:8080", "Service HTTP address")
	realtime := flag.Bool("realtime", true, "Pace chunks at capture speed")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audio file")
	}
	defer f.Close()

	format, dataSize, err := pcm.ReadWAVHeader(f)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read WAV header")
	}

	sampleFormat := "s16"
	if format.IsFloat() {
		sampleFormat = "f32"
	}
	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/v1/stream"}
	q := u.Query()
	q.Set("rate", strconv.Itoa(int(format.SampleRate)))
	q.Set("channels", strconv.Itoa(int(format.NumChannels)))
	q.Set("format", sampleFormat)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			log.Fatal().Err(err).Int("status", resp.StatusCode).Msg("Failed to connect")
		}
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer conn.Close()
	log.Info().Str("url", u.String()).Msg("Connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		printEvents(conn)
	}()

	framesPerChunk := int(format.SampleRate) * int(chunkInterval/time.Millisecond) / 1000
	chunk := make([]byte, framesPerChunk*format.BytesPerFrame())
	data := io.LimitReader(f, int64(dataSize))

	var chunks int
	for {
		n, err := io.ReadFull(data, chunk)
		if n > 0 {
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk[:n]); err != nil {
				log.Fatal().Err(err).Msg("Failed to send audio")
			}
			chunks++
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read audio")
		}
		if *realtime {
			time.Sleep(chunkInterval)
		}
	}

	log.Info().Int("chunks", chunks).Msg("Finished streaming, waiting for final transcripts")
	if err := conn.WriteMessage(websocket.TextMessage, []byte("stop")); err != nil {
		log.Fatal().Err(err).Msg("Failed to send stop")
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Timed out waiting for the server to close the stream")
	}
}

func printEvents(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Read failed")
			}
			return
		}

		var head struct {
			EventType string `json:"eventType"`
		}
		if err := json.Unmarshal(payload, &head); err != nil {
			log.Warn().Err(err).Msg("Unexpected message")
			continue
		}

		switch head.EventType {
		case models.EventTypeStarted:
			var ev models.StreamStarted
			_ = json.Unmarshal(payload, &ev)
			fmt.Printf("stream %s (%s)\n", ev.StreamID, ev.Provider)
		case models.EventTypePartial:
			var ev models.TranscriptPartial
			_ = json.Unmarshal(payload, &ev)
			fmt.Printf("[partial %s #%d] %s\n", ev.SegmentID, ev.Sequence, ev.Text)
		case models.EventTypeFinal:
			var ev models.TranscriptFinal
			_ = json.Unmarshal(payload, &ev)
			fmt.Printf("[final   %s] %s (confidence %.2f, offset %dms)\n", ev.SegmentID, ev.Text, ev.Confidence, ev.AudioOffsetMs)
		case models.EventTypeError:
			var ev models.StreamError
			_ = json.Unmarshal(payload, &ev)
			fmt.Printf("[error] %s\n", ev.Message)
		}
	}
}
