// Package mock provides a scripted STT adapter for running the service
// without a worker binary or cloud credentials. Each audio frame advances a
// script of progressive partials, one final and an end-of-utterance.
package mock

import (
	"context"
	"sync"
	"time"

	"speech-stream-bridge/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"testing", "testing one", "testing one two"},
		Final:      "testing one two three",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"the quick", "the quick brown"},
		Final:      "the quick brown fox",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"can you", "can you hear", "can you hear me"},
		Final:      "can you hear me now",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"streaming", "streaming works"},
		Final:      "streaming works end to end",
		Confidence: 0.89,
	},
	{
		Partials:   []string{"thank you"},
		Final:      "thank you very much",
		Confidence: 0.98,
	},
}

// DefaultDelay simulates recognizer latency before each callback.
const DefaultDelay = 20 * time.Millisecond

// Adapter implements stt.Adapter with scripted responses. Callbacks are
// delivered in order from a single goroutine.
type Adapter struct {
	utterances []SimulatedUtterance
	delay      time.Duration

	mu           sync.Mutex
	cb           stt.Callback
	events       chan func(stt.Callback)
	done         chan struct{}
	current      int // index into utterances
	partialIndex int // next partial of the current utterance
	closed       bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithUtterances replaces the script.
func WithUtterances(u ...SimulatedUtterance) Option {
	return func(a *Adapter) {
		if len(u) > 0 {
			a.utterances = u
		}
	}
}

// WithDelay sets the simulated latency; zero delivers immediately.
func WithDelay(d time.Duration) Option {
	return func(a *Adapter) { a.delay = d }
}

// New creates a new mock STT adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		utterances: DefaultUtterances,
		delay:      DefaultDelay,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start begins a mock transcription session.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cb != nil || a.closed {
		return nil
	}
	a.cb = cb
	a.events = make(chan func(stt.Callback), 64)
	a.done = make(chan struct{})
	go a.deliver(cb)
	return nil
}

// SendAudio advances the script by one step per audio frame: the next
// partial, or the final followed by end-of-utterance once the partials are
// exhausted.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.cb == nil {
		return nil
	}

	utt := a.utterances[a.current]
	if a.partialIndex < len(utt.Partials) {
		text := utt.Partials[a.partialIndex]
		a.partialIndex++
		a.events <- func(cb stt.Callback) {
			cb.OnPartial(stt.Transcript{Text: text, Timestamp: time.Now()})
		}
		return nil
	}

	a.enqueueFinal(utt)
	a.events <- func(cb stt.Callback) { cb.OnEndOfUtterance() }
	a.current = (a.current + 1) % len(a.utterances)
	a.partialIndex = 0
	return nil
}

func (a *Adapter) enqueueFinal(utt SimulatedUtterance) {
	a.events <- func(cb stt.Callback) {
		cb.OnFinal(stt.Transcript{Text: utt.Final, Confidence: utt.Confidence, Timestamp: time.Now()})
	}
}

// Close ends the session. An utterance that already produced partials is
// finalized first. Pending callbacks are delivered before Close returns.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true

	done := a.done
	if a.cb != nil {
		if a.partialIndex > 0 {
			a.enqueueFinal(a.utterances[a.current])
		}
		close(a.events)
	}
	a.mu.Unlock()

	if done != nil {
		<-done
	}
	return nil
}

func (a *Adapter) deliver(cb stt.Callback) {
	defer close(a.done)
	for ev := range a.events {
		if a.delay > 0 {
			time.Sleep(a.delay)
		}
		ev(cb)
	}
}
