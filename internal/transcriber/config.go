package transcriber

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"speech-stream-bridge/internal/observability/logging"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultStopTimeout  = 2 * time.Second
	DefaultResultBuffer = 64
)

// Config describes a streaming session. It is copied by New and never
// changes afterwards.
type Config struct {
	// HelperPath is an explicit worker executable. Empty means SearchPaths
	// (or the default search order) is consulted.
	HelperPath  string
	SearchPaths []string

	Mode InputMode

	// StopTimeout bounds how long Stop waits after SIGTERM before killing.
	StopTimeout time.Duration
	// ResultBuffer is the number of undelivered stdout lines held in memory.
	ResultBuffer int
	// Env is appended to the parent environment of the worker.
	Env []string

	Logger *zerolog.Logger
}

// New validates cfg, resolves the helper executable and returns a session in
// the Configured state. No process is spawned.
func New(cfg Config) (*Session, error) {
	if cfg.Mode != ModeMicrophone && cfg.Mode != ModeProgrammatic {
		return nil, &Error{Kind: KindConfig, Op: "build", Err: fmt.Errorf("invalid input mode %d", int(cfg.Mode))}
	}
	if cfg.StopTimeout < 0 || cfg.ResultBuffer < 0 {
		return nil, &Error{Kind: KindConfig, Op: "build", Err: fmt.Errorf("negative stop timeout or result buffer")}
	}

	candidates := cfg.SearchPaths
	if candidates == nil {
		candidates = SearchPaths(StreamHelperName)
	}
	path, err := Locate(cfg.HelperPath, candidates)
	if err != nil {
		return nil, err
	}
	cfg.HelperPath = path
	cfg.SearchPaths = nil
	cfg.Env = append([]string(nil), cfg.Env...)

	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.ResultBuffer == 0 {
		cfg.ResultBuffer = DefaultResultBuffer
	}

	var log zerolog.Logger
	if cfg.Logger != nil {
		log = *cfg.Logger
	} else {
		log = logging.WithComponent("transcriber")
	}
	cfg.Logger = nil

	return &Session{
		cfg:   cfg,
		log:   log.With().Str("helper", path).Str("mode", cfg.Mode.String()).Logger(),
		state: StateConfigured,
	}, nil
}

// Builder assembles a Config with chained calls. The default mode is
// microphone.
type Builder struct {
	cfg Config
}

// NewBuilder returns a Builder for a microphone-mode session using the
// default helper search order.
func NewBuilder() *Builder {
	return &Builder{cfg: Config{Mode: ModeMicrophone}}
}

// WithHelperPath uses an explicit worker executable.
func (b *Builder) WithHelperPath(path string) *Builder {
	b.cfg.HelperPath = path
	return b
}

// WithMicrophone lets the worker capture audio itself.
func (b *Builder) WithMicrophone() *Builder {
	b.cfg.Mode = ModeMicrophone
	return b
}

// WithProgrammaticInput makes the worker read PCM from stdin.
func (b *Builder) WithProgrammaticInput() *Builder {
	b.cfg.Mode = ModeProgrammatic
	return b
}

// WithStopTimeout sets the SIGTERM grace period.
func (b *Builder) WithStopTimeout(d time.Duration) *Builder {
	b.cfg.StopTimeout = d
	return b
}

// WithEnv appends KEY=VALUE entries to the worker environment.
func (b *Builder) WithEnv(env ...string) *Builder {
	b.cfg.Env = append(b.cfg.Env, env...)
	return b
}

// WithLogger sets the session logger.
func (b *Builder) WithLogger(l zerolog.Logger) *Builder {
	b.cfg.Logger = &l
	return b
}

// Build validates the accumulated configuration. See New.
func (b *Builder) Build() (*Session, error) {
	return New(b.cfg)
}
