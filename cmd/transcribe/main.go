// transcribe runs the one-shot helper over recorded audio files and prints
// one transcript per file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"speech-stream-bridge/internal/config"
	"speech-stream-bridge/internal/observability/logging"
	"speech-stream-bridge/internal/transcriber"
)

func main() {
	cfg := config.Load()

	helper := flag.String("helper", cfg.Worker.FileHelperPath, "One-shot helper executable (default search order when empty)")
	timeout := flag.Duration("timeout", 5*time.Minute, "Per-file timeout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] file...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: "console",
	})

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	t, err := transcriber.NewFileTranscriber(*helper)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to locate helper")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failed := 0
	for _, path := range flag.Args() {
		fileCtx, cancel := context.WithTimeout(ctx, *timeout)
		text, err := t.TranscribeFile(fileCtx, path)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Transcription failed")
			failed++
			continue
		}
		if flag.NArg() > 1 {
			fmt.Printf("%s: %s\n", path, text)
		} else {
			fmt.Println(text)
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}
