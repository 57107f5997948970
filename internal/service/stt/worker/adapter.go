// Package worker adapts a transcriber.Session (the external recognition
// process) to the stt.Adapter interface by polling it on a ticker.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"speech-stream-bridge/internal/observability/logging"
	"speech-stream-bridge/internal/observability/metrics"
	"speech-stream-bridge/internal/pcm"
	"speech-stream-bridge/internal/service/stt"
	"speech-stream-bridge/internal/transcriber"
)

// DefaultPollInterval is the sleep between empty polls.
const DefaultPollInterval = 5 * time.Millisecond

// Adapter drives one worker process for the length of a stream. Start spawns
// the worker, Close stops it. The session may be reused by a later Adapter
// once this one is closed.
type Adapter struct {
	session  *transcriber.Session
	interval time.Duration
	metrics  *metrics.Metrics
	log      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithPollInterval sets the sleep between empty polls.
func WithPollInterval(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithMetrics records worker metrics on m instead of the default instance.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithLogger sets the adapter logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

// New creates an adapter over session.
func New(session *transcriber.Session, opts ...Option) *Adapter {
	a := &Adapter{
		session:  session,
		interval: DefaultPollInterval,
		metrics:  metrics.DefaultMetrics,
		log:      logging.WithComponent("stt.worker"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start spawns the worker and begins delivering its results to cb.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.New("worker adapter closed")
	}
	if a.done != nil {
		return errors.New("worker adapter already started")
	}

	err := a.session.Start()
	a.metrics.RecordWorkerSpawn(a.session.Mode().String(), err)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.loop(loopCtx, cb)

	a.log.Info().
		Int("pid", a.session.PID()).
		Dur("pollInterval", a.interval).
		Msg("Worker adapter started")
	return nil
}

// SendAudio feeds 16 kHz mono PCM16 bytes to the worker. It blocks while the
// worker's stdin pipe is full.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.session.FeedI16(pcm.DecodeLE(audio), pcm.TargetSampleRate, 1); err != nil {
		return err
	}
	a.metrics.RecordWorkerAudio(len(audio) &^ 1)
	return nil
}

// Close stops polling and terminates the worker. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return a.session.Stop()
}

func (a *Adapter) loop(ctx context.Context, cb stt.Callback) {
	defer close(a.done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		if !a.drain(ctx, cb) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain delivers every buffered result. It returns false once the worker's
// output has ended or polling is no longer possible.
func (a *Adapter) drain(ctx context.Context, cb stt.Callback) bool {
	for {
		if ctx.Err() != nil {
			return false
		}

		res, ok, err := a.session.Poll()
		switch {
		case transcriber.IsKind(err, transcriber.KindDecode):
			a.metrics.RecordWorkerDecodeError()
			a.log.Warn().Err(err).Msg("Skipping malformed worker output")
			continue
		case err != nil:
			a.metrics.RecordSTTError(stt.ProviderWorker, transcriber.KindOf(err).String())
			a.log.Warn().Err(err).Msg("Worker output ended")
			cb.OnError(err)
			return false
		case !ok:
			return true
		}

		a.deliver(cb, res)
	}
}

func (a *Adapter) deliver(cb stt.Callback, res transcriber.Result) {
	ts := time.Now()
	if res.Timestamp > 0 {
		ts = res.Time()
		a.metrics.RecordWorkerResultLag(time.Since(ts).Seconds())
	}
	t := stt.Transcript{Text: res.Text, Timestamp: ts}

	if !res.IsFinal {
		cb.OnPartial(t)
		return
	}
	cb.OnFinal(t)
	cb.OnEndOfUtterance()
	a.metrics.RecordUtterance()
}
