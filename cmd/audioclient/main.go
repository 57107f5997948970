// audioclient drives a transcription worker directly, without the service:
// it feeds a WAV file in real-time chunks (or lets the worker listen to the
// microphone) and prints every result to stdout.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"speech-stream-bridge/internal/observability/logging"
	"speech-stream-bridge/internal/pcm"
	"speech-stream-bridge/internal/transcriber"
)

// Stream audio in 100 ms chunks to simulate real-time capture.
const chunkInterval = 100 * time.Millisecond

// drainTimeout bounds how long to wait for trailing results after the file ends.
const drainTimeout = 3 * time.Second

func main() {
	audioFile := flag.String("audio", "testdata/sample.wav", "Path to WAV file (16-bit PCM or 32-bit float, any rate)")
	helper := flag.String("helper", "", "Worker executable (default search order when empty)")
	mic := flag.Bool("mic", false, "Let the worker capture the microphone instead of feeding a file")
	realtime := flag.Bool("realtime", true, "Pace chunks at capture speed")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logging.Init(logging.Config{Level: *logLevel, Format: "console"})

	b := transcriber.NewBuilder().WithHelperPath(*helper)
	if !*mic {
		b = b.WithProgrammaticInput()
	}
	session, err := b.Build()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure session")
	}
	defer session.Stop()

	if err := session.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start worker")
	}
	log.Info().
		Str("helper", session.HelperPath()).
		Str("mode", session.Mode().String()).
		Int("pid", session.PID()).
		Msg("Worker started")

	if *mic {
		listen(session)
		return
	}

	if err := streamFile(session, *audioFile, *realtime); err != nil {
		log.Error().Err(err).Msg("Streaming failed")
		session.Stop()
		os.Exit(1)
	}
}

// listen prints results until interrupted or the worker exits.
func listen(session *transcriber.Session) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Msg("Listening, press Ctrl-C to stop")
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sig:
			return
		case <-ticker.C:
		}
		if ended := printResults(session); ended {
			return
		}
	}
}

func streamFile(session *transcriber.Session, path string, realtime bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	format, dataSize, err := pcm.ReadWAVHeader(f)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	log.Info().
		Uint16("format", format.AudioFormat).
		Uint16("channels", format.NumChannels).
		Uint32("sampleRate", format.SampleRate).
		Uint16("bitsPerSample", format.BitsPerSample).
		Uint32("dataBytes", dataSize).
		Msg("WAV file")

	framesPerChunk := int(format.SampleRate) * int(chunkInterval/time.Millisecond) / 1000
	chunk := make([]byte, framesPerChunk*format.BytesPerFrame())
	data := io.LimitReader(f, int64(dataSize))

	var (
		chunks     int
		totalBytes int64
		start      = time.Now()
	)
	for {
		n, err := io.ReadFull(data, chunk)
		if n > 0 {
			if feedErr := feed(session, format, chunk[:n]); feedErr != nil {
				return feedErr
			}
			chunks++
			totalBytes += int64(n)
			if chunks%10 == 0 {
				log.Debug().Int("chunks", chunks).Int64("bytes", totalBytes).Msg("Progress")
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return err
		}

		if printResults(session) {
			return errors.New("worker exited early")
		}
		if realtime {
			time.Sleep(chunkInterval)
		}
	}

	log.Info().
		Int("chunks", chunks).
		Int64("bytes", totalBytes).
		Dur("elapsed", time.Since(start).Round(time.Millisecond)).
		Msg("Finished streaming, waiting for trailing results")

	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		if printResults(session) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil
}

func feed(session *transcriber.Session, format pcm.WAVFormat, b []byte) error {
	if format.IsFloat() {
		return session.FeedF32(pcm.DecodeFloat32LE(b), int(format.SampleRate), int(format.NumChannels))
	}
	return session.FeedI16(pcm.DecodeLE(b), int(format.SampleRate), int(format.NumChannels))
}

// printResults drains buffered results to stdout. It reports true once the
// worker's output has ended.
func printResults(session *transcriber.Session) bool {
	for {
		res, ok, err := session.Poll()
		switch {
		case transcriber.IsKind(err, transcriber.KindDecode):
			log.Warn().Err(err).Msg("Skipping malformed line")
			continue
		case err != nil:
			log.Info().Err(err).Msg("Worker output ended")
			return true
		case !ok:
			return false
		}

		if res.IsFinal {
			fmt.Printf("[final]   %s\n", res.Text)
		} else {
			fmt.Printf("[partial] %s\n", res.Text)
		}
	}
}
