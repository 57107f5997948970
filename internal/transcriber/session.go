package transcriber

import (
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"speech-stream-bridge/internal/pcm"
)

// Session bridges caller audio to one external worker process.
//
// Start spawns the worker, FeedF32/FeedI16 normalize and write audio to its
// stdin, Poll drains decoded results without blocking and Stop terminates and
// reaps the process. A Session that becomes unreachable while running has its
// worker killed by a runtime cleanup, but callers should always defer Stop.
//
// Methods are safe for concurrent use. A blocked Feed does not prevent Poll
// or Stop from running.
type Session struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	state   State
	w       *worker
	cleanup runtime.Cleanup
}

// Mode returns the input mode chosen at build time.
func (s *Session) Mode() InputMode { return s.cfg.Mode }

// HelperPath returns the resolved worker executable.
func (s *Session) HelperPath() string { return s.cfg.HelperPath }

// State returns the current lifecycle state. A running session whose worker
// output has ended reports StateStopped.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning && s.w != nil && s.w.results.isEnded() {
		return StateStopped
	}
	return s.state
}

// IsRunning reports whether a worker is live and still producing output.
func (s *Session) IsRunning() bool {
	return s.State() == StateRunning
}

// PID returns the worker process id, or 0 when no worker is held.
func (s *Session) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return 0
	}
	return s.w.pid()
}

// Start spawns the worker. Starting a running session fails with
// ErrAlreadyRunning; a session whose worker has exited is restarted after
// the old process is reaped.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateUnconfigured {
		return &Error{Kind: KindState, Op: "start", Err: ErrNotStarted}
	}

	if s.w != nil {
		if !s.w.results.isEnded() {
			return &Error{Kind: KindState, Op: "start", Err: ErrAlreadyRunning}
		}
		pid := s.w.pid()
		if err := s.releaseLocked(); err != nil {
			s.log.Warn().Err(err).Int("pid", pid).Msg("Reaping exited worker failed")
		} else {
			s.log.Info().Int("pid", pid).Msg("Replaced exited worker")
		}
	}

	w, err := spawnWorker(s.cfg, s.log)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to spawn worker")
		return err
	}
	s.w = w
	s.state = StateRunning
	s.cleanup = runtime.AddCleanup(s, (*worker).abandon, w)

	s.log.Info().Int("pid", w.pid()).Msg("Worker started")
	return nil
}

// FeedF32 quantizes, resamples and downmixes float samples in [-1, 1] and
// writes them to the worker.
func (s *Session) FeedF32(samples []float32, sampleRate, channels int) error {
	if err := s.checkFeed(); err != nil {
		return err
	}
	return s.feed(pcm.NormalizeF32(samples, sampleRate, channels))
}

// FeedI16 resamples and downmixes PCM16 samples and writes them to the
// worker.
func (s *Session) FeedI16(samples []int16, sampleRate, channels int) error {
	if err := s.checkFeed(); err != nil {
		return err
	}
	return s.feed(pcm.NormalizeI16(samples, sampleRate, channels))
}

func (s *Session) checkFeed() error {
	if s.cfg.Mode != ModeProgrammatic {
		return &Error{Kind: KindMode, Op: "feed", Err: ErrMicrophoneMode}
	}
	return nil
}

func (s *Session) feed(samples []int16) error {
	w, err := s.current("feed")
	if err != nil {
		return err
	}
	if w.results.isEnded() {
		return &Error{Kind: KindChannelEnded, Op: "feed", Err: ErrChannelEnded}
	}
	if len(samples) == 0 {
		return nil
	}
	return w.write(pcm.EncodeLE(samples))
}

// Poll returns the next result without blocking. ok is false with a nil
// error when nothing has arrived yet. A malformed line yields a KindDecode
// error and the next call continues with the following line. Once the
// worker's output ends every call returns a KindChannelEnded error until
// Stop or Start.
func (s *Session) Poll() (res Result, ok bool, err error) {
	w, err := s.current("poll")
	if err != nil {
		return Result{}, false, err
	}
	return w.results.poll()
}

// Stop terminates and reaps the worker. Stopping a session without a worker
// is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.w == nil {
		return nil
	}
	pid := s.w.pid()
	err := s.releaseLocked()
	if err != nil {
		s.log.Error().Err(err).Int("pid", pid).Msg("Worker shutdown failed")
		return err
	}
	s.log.Info().Int("pid", pid).Msg("Worker stopped")
	return nil
}

func (s *Session) releaseLocked() error {
	w := s.w
	s.w = nil
	s.state = StateStopped
	s.cleanup.Stop()
	return w.terminate()
}

func (s *Session) current(op string) (*worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil, &Error{Kind: KindState, Op: op, Err: ErrNotStarted}
	}
	return s.w, nil
}
