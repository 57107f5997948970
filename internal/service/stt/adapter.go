// Package stt defines the interface for Speech-to-Text adapters.
package stt

import (
	"context"
	"errors"
	"time"
)

// Provider names accepted in configuration.
const (
	ProviderWorker = "worker"
	ProviderGoogle = "google"
	ProviderMock   = "mock"
)

// ErrUnknownProvider is returned for an unsupported provider name.
var ErrUnknownProvider = errors.New("unknown STT provider")

// Transcript is one recognition hypothesis.
type Transcript struct {
	Text string
	// Confidence in [0, 1]; zero when the provider does not report one.
	Confidence float64
	// Timestamp is when the provider produced the result.
	Timestamp time.Time
}

// Callback receives transcript results from the STT provider. Calls for one
// adapter are made from a single goroutine, in provider order.
type Callback interface {
	// OnPartial is called when an interim/partial transcript is received.
	OnPartial(t Transcript)

	// OnFinal is called when a final transcript is received.
	OnFinal(t Transcript)

	// OnEndOfUtterance is called after a final, when the provider considers
	// the utterance complete.
	OnEndOfUtterance()

	// OnError is called when transcription can not continue.
	OnError(err error)
}

// Adapter defines the interface for STT providers.
type Adapter interface {
	// Start begins a streaming transcription session.
	Start(ctx context.Context, cb Callback) error

	// SendAudio sends 16 kHz mono little-endian PCM16 to the provider.
	SendAudio(ctx context.Context, pcm []byte) error

	// Close ends the session and releases resources.
	Close() error
}
