package transcriber

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// worker supervises one helper process: it owns the stdin writer
// (programmatic mode only) and the result channel reading stdout.
type worker struct {
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	in          *bufio.Writer
	wmu         sync.Mutex
	results     *resultChannel
	stopTimeout time.Duration
	log         zerolog.Logger

	stopOnce sync.Once
	stopErr  error
}

func spawnWorker(cfg Config, log zerolog.Logger) (*worker, error) {
	cmd := exec.Command(cfg.HelperPath, cfg.Mode.args()...)
	cmd.Stderr = os.Stderr
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	w := &worker{
		cmd:         cmd,
		stopTimeout: cfg.StopTimeout,
	}

	if cfg.Mode == ModeProgrammatic {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, &Error{Kind: KindSpawn, Op: "start", Path: cfg.HelperPath, Err: err}
		}
		w.stdin = stdin
		w.in = bufio.NewWriterSize(stdin, 32*1024)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		if w.stdin != nil {
			w.stdin.Close()
		}
		return nil, &Error{Kind: KindSpawn, Op: "start", Path: cfg.HelperPath, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &Error{Kind: KindSpawn, Op: "start", Path: cfg.HelperPath, Err: err}
	}

	w.log = log.With().Int("pid", cmd.Process.Pid).Logger()
	w.results = newResultChannel(stdout, cfg.ResultBuffer, w.log)
	return w, nil
}

func (w *worker) pid() int {
	return w.cmd.Process.Pid
}

// write sends PCM to the worker and flushes immediately. It blocks while the
// pipe is full.
func (w *worker) write(p []byte) error {
	if w.in == nil {
		return &Error{Kind: KindMode, Op: "feed", Err: ErrMicrophoneMode}
	}

	w.wmu.Lock()
	defer w.wmu.Unlock()

	if _, err := w.in.Write(p); err != nil {
		return &Error{Kind: KindPipeWrite, Op: "feed", Err: err}
	}
	if err := w.in.Flush(); err != nil {
		return &Error{Kind: KindPipeWrite, Op: "feed", Err: err}
	}
	return nil
}

// terminate closes stdin, sends SIGTERM, kills the process if it has not
// exited within stopTimeout and reaps it. Safe to call more than once.
func (w *worker) terminate() error {
	w.stopOnce.Do(func() {
		w.stopErr = w.shutdown()
	})
	return w.stopErr
}

// abandon kills the process without waiting and reaps it in the background.
// It runs on the runtime's cleanup goroutine, which must not block.
func (w *worker) abandon() {
	w.stopOnce.Do(func() {
		if w.stdin != nil {
			w.stdin.Close()
		}
		if err := w.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			w.log.Warn().Err(err).Msg("Killing orphaned worker failed")
		}
		go func() {
			_ = w.cmd.Wait()
			w.results.stop()
			w.log.Warn().Msg("Orphaned worker reaped")
		}()
	})
}

func (w *worker) shutdown() error {
	// Closing the pipe also unblocks a writer stuck on a full buffer, so
	// wmu is deliberately not taken here.
	if w.stdin != nil {
		w.stdin.Close()
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- w.cmd.Wait() }()

	if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		w.log.Warn().Err(err).Msg("SIGTERM failed, killing worker")
		w.cmd.Process.Kill()
	}

	timer := time.NewTimer(w.stopTimeout)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-timer.C:
		w.log.Warn().Dur("timeout", w.stopTimeout).Msg("Worker ignored SIGTERM, killing")
		if err := w.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			w.results.stop()
			return &Error{Kind: KindShutdown, Op: "stop", Err: err}
		}
		waitErr = <-waitCh
	}
	w.results.stop()

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return &Error{Kind: KindShutdown, Op: "stop", Err: waitErr}
	}

	w.log.Debug().Str("state", w.cmd.ProcessState.String()).Msg("Worker reaped")
	return nil
}
