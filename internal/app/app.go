package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"speech-stream-bridge/internal/config"
	"speech-stream-bridge/internal/events"
	"speech-stream-bridge/internal/observability/logging"
	"speech-stream-bridge/internal/observability/metrics"
	"speech-stream-bridge/internal/schema"
	"speech-stream-bridge/internal/service/audio"
	"speech-stream-bridge/internal/service/segment"
	"speech-stream-bridge/internal/service/stt"
	"speech-stream-bridge/internal/service/stt/google"
	"speech-stream-bridge/internal/service/stt/mock"
	"speech-stream-bridge/internal/service/stt/worker"
	"speech-stream-bridge/internal/transcriber"
)

// Application holds process-wide state for the service: the shared worker
// session, the event publisher and the single stream slot.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration
	Metrics     *metrics.Metrics
	Publisher   *events.Publisher
	Validator   *schema.Validator

	mode    transcriber.InputMode
	session *transcriber.Session // nil unless STT_PROVIDER=worker

	busy     atomic.Bool
	mu       sync.Mutex
	listener *audio.Handler
}

// Option configures an Application.
type Option func(*Application)

// WithMetrics records on m instead of metrics.DefaultMetrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Application) { a.Metrics = m }
}

// New constructs a new Application from the provided configuration. With the
// worker provider the helper is resolved here, so a missing binary fails at
// startup rather than on the first stream.
func New(cfg *config.Configuration, opts ...Option) (*Application, error) {
	a := &Application{
		Cfg:       cfg,
		Metrics:   metrics.DefaultMetrics,
		Validator: schema.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	switch cfg.STT.Provider {
	case stt.ProviderWorker:
		mode, err := transcriber.ParseInputMode(cfg.Worker.InputMode)
		if err != nil {
			return nil, err
		}
		session, err := transcriber.New(transcriber.Config{
			HelperPath:   cfg.Worker.HelperPath,
			Mode:         mode,
			StopTimeout:  cfg.Worker.StopTimeout,
			ResultBuffer: cfg.Worker.ResultBuffer,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring worker: %w", err)
		}
		a.mode = mode
		a.session = session
	case stt.ProviderGoogle, stt.ProviderMock:
		a.mode = transcriber.ModeProgrammatic
	default:
		return nil, fmt.Errorf("%w: %q", stt.ErrUnknownProvider, cfg.STT.Provider)
	}

	a.Publisher = events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.PartialTopic,
		TopicFinal:   cfg.Kafka.FinalTopic,
		Principal:    cfg.Kafka.Principal,
		BatchTimeout: cfg.Kafka.BatchTimeout,
		Metrics:      a.Metrics,
	})

	appLogger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Str("inputMode", a.mode.String()).
		Msg("Speech stream bridge application created")
	return a, nil
}

// InitLogging configures the global zerolog logger from the observability
// settings. Call it once, before New.
func InitLogging(cfg *config.Configuration) {
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})
}

// setupLogger derives the application logger from the global one.
func (a *Application) setupLogger() {
	a.Logger = logging.Logger().With().
		Str("service", "speech-stream-bridge").
		Str("component", "application").
		Logger()

	a.Logger.Debug().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", a.Cfg.Observability.LogFormat).
		Msg("Logger ready")
}

// Start performs any startup work required before serving traffic. In
// microphone mode this spawns the worker and publishes what it hears.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Speech stream bridge starting")

	if a.StreamsEnabled() {
		return nil
	}

	streamId := uuid.NewString()
	h := a.NewHandler(worker.New(a.session,
		worker.WithPollInterval(a.Cfg.Worker.PollInterval),
		worker.WithMetrics(a.Metrics),
	), streamId, a.Publisher)
	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("starting microphone listener: %w", err)
	}

	a.mu.Lock()
	a.listener = h
	a.mu.Unlock()

	startLogger.Info().Str("streamId", streamId).Msg("Microphone listener running")
	return nil
}

// StreamsEnabled reports whether clients may push audio. It is false in
// microphone mode, where the worker reads its own input.
func (a *Application) StreamsEnabled() bool {
	return a.mode == transcriber.ModeProgrammatic
}

// Ready reports whether the service can take work: a free stream slot, or a
// live microphone listener.
func (a *Application) Ready() bool {
	if !a.StreamsEnabled() {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.listener != nil && a.session.IsRunning()
	}
	return !a.busy.Load()
}

// AcquireStream claims the single stream slot. The worker is one process, so
// only one client streams at a time.
func (a *Application) AcquireStream() bool {
	return a.busy.CompareAndSwap(false, true)
}

// ReleaseStream frees the stream slot.
func (a *Application) ReleaseStream() {
	a.busy.Store(false)
}

// NewAdapter creates the configured STT adapter for one stream.
func (a *Application) NewAdapter(ctx context.Context) (stt.Adapter, error) {
	switch a.Cfg.STT.Provider {
	case stt.ProviderWorker:
		return worker.New(a.session,
			worker.WithPollInterval(a.Cfg.Worker.PollInterval),
			worker.WithMetrics(a.Metrics),
		), nil
	case stt.ProviderGoogle:
		return google.New(ctx, google.Config{
			LanguageCode:   a.Cfg.STT.LanguageCode,
			SampleRateHz:   a.Cfg.STT.SampleRateHz,
			InterimResults: a.Cfg.STT.InterimResults,
			AudioEncoding:  a.Cfg.STT.AudioEncoding,
		})
	case stt.ProviderMock:
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", stt.ErrUnknownProvider, a.Cfg.STT.Provider)
	}
}

// NewHandler wires an adapter to a stream handler publishing to sink.
func (a *Application) NewHandler(adapter stt.Adapter, streamId string, sink events.Sink) *audio.Handler {
	return audio.NewHandler(adapter, audio.Config{
		StreamId: streamId,
		Provider: a.Cfg.STT.Provider,
		Limits: segment.Limits{
			MaxAudioBytes: a.Cfg.SegmentLimits.MaxAudioBytes,
			MaxDuration:   a.Cfg.SegmentLimits.MaxDuration,
			MaxPartials:   a.Cfg.SegmentLimits.MaxPartials,
		},
		Sink:      sink,
		Validator: a.Validator,
		Metrics:   a.Metrics,
	})
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Msg("Speech stream bridge shutting down")

	a.mu.Lock()
	listener := a.listener
	a.listener = nil
	a.mu.Unlock()
	if listener != nil {
		if err := listener.Close(); err != nil {
			shutdownLogger.Warn().Err(err).Msg("Closing microphone listener")
		}
	}

	if a.session != nil {
		if err := a.session.Stop(); err != nil {
			shutdownLogger.Warn().Err(err).Msg("Stopping worker")
		}
	}
	if err := a.Publisher.Close(); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Closing publisher")
	}
}
