package transcriber

import (
	"errors"
	"os"
	"runtime"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"speech-stream-bridge/internal/pcm"
	"speech-stream-bridge/internal/transcriber/transcribertest"
)

func newFakeSession(t *testing.T, behavior string, mode InputMode) *Session {
	t.Helper()
	nop := zerolog.Nop()
	s, err := New(Config{
		HelperPath:  transcribertest.Executable(t),
		Mode:        mode,
		StopTimeout: 500 * time.Millisecond,
		Env:         []string{transcribertest.Env(behavior)},
		Logger:      &nop,
	})
	if err != nil {
		t.Fatalf("building session: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func startFakeSession(t *testing.T, behavior string, mode InputMode) *Session {
	t.Helper()
	s := newFakeSession(t, behavior, mode)
	if err := s.Start(); err != nil {
		t.Fatalf("starting session: %v", err)
	}
	return s
}

func processGone(pid int) bool {
	err := syscall.Kill(pid, 0)
	return errors.Is(err, syscall.ESRCH)
}

func TestSession_EchoRoundTrip(t *testing.T) {
	s := startFakeSession(t, transcribertest.Echo, ModeProgrammatic)

	if !s.IsRunning() || s.State() != StateRunning {
		t.Fatalf("expected RUNNING, got %v", s.State())
	}

	chunk := make([]int16, 1600) // 100 ms at 16 kHz mono
	for i := range chunk {
		chunk[i] = int16(i)
	}
	if err := s.FeedI16(chunk, pcm.TargetSampleRate, 1); err != nil {
		t.Fatalf("feed: %v", err)
	}

	res, err := pollUntil(t, s.Poll, 2*time.Second)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if res.Text != "hello" || !res.IsFinal || res.Timestamp != 1.0 {
		t.Errorf("unexpected result %+v", res)
	}

	time.Sleep(50 * time.Millisecond)
	if _, ok, err := s.Poll(); ok || err != nil {
		t.Errorf("expected exactly one result, got ok=%v err=%v", ok, err)
	}
}

func TestSession_FeedNormalizesBeforeWriting(t *testing.T) {
	s := startFakeSession(t, transcribertest.Count, ModeProgrammatic)

	// 100 ms of 48 kHz stereo float: 9600 values resample to 3200, downmix to
	// 1600 mono samples, 3200 bytes on the wire.
	in := make([]float32, 9600)
	for i := range in {
		in[i] = 0.25
	}
	if err := s.FeedF32(in, 48000, 2); err != nil {
		t.Fatalf("feed: %v", err)
	}

	want := strconv.Itoa(2 * len(pcm.NormalizeF32(in, 48000, 2)))
	deadline := time.Now().Add(2 * time.Second)
	for {
		res, err := pollUntil(t, s.Poll, 2*time.Second)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if res.Text == want {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker never reported %s bytes, last %s", want, res.Text)
		}
	}
	if want != "3200" {
		t.Errorf("expected 3200 normalized bytes, got %s", want)
	}
}

func TestSession_EmptyFeedWritesNothing(t *testing.T) {
	s := startFakeSession(t, transcribertest.Echo, ModeProgrammatic)

	if err := s.FeedI16(nil, 44100, 2); err != nil {
		t.Fatalf("empty feed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, ok, err := s.Poll(); ok || err != nil {
		t.Errorf("expected no output for an empty feed, got ok=%v err=%v", ok, err)
	}
}

func TestSession_MalformedLineThenUsable(t *testing.T) {
	s := startFakeSession(t, transcribertest.Malformed, ModeProgrammatic)

	_, err := pollUntil(t, s.Poll, 2*time.Second)
	var te *Error
	if !errors.As(err, &te) || te.Kind != KindDecode {
		t.Fatalf("expected decode error, got %v", err)
	}
	if te.Line != "not-json" {
		t.Errorf("expected offending line in error, got %q", te.Line)
	}

	res, err := pollUntil(t, s.Poll, 2*time.Second)
	if err != nil || res.Text != "after" {
		t.Fatalf("expected the next line after a decode error, got %+v err=%v", res, err)
	}
	if !s.IsRunning() {
		t.Error("a decode error must not end the session")
	}
}

func TestSession_WorkerExitReportsChannelEnded(t *testing.T) {
	s := startFakeSession(t, transcribertest.Exit, ModeMicrophone)

	res, err := pollUntil(t, s.Poll, 2*time.Second)
	if err != nil || res.Text != "bye" {
		t.Fatalf("expected bye, got %+v err=%v", res, err)
	}

	for i := 0; i < 3; i++ {
		_, err = pollUntil(t, s.Poll, 2*time.Second)
		if !IsKind(err, KindChannelEnded) {
			t.Fatalf("poll %d: expected channel ended, got %v", i, err)
		}
	}
	if s.IsRunning() || s.State() != StateStopped {
		t.Errorf("expected STOPPED after the worker exited, got %v", s.State())
	}

	// Restart spawns a fresh worker.
	oldPID := s.PID()
	if err := s.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if s.PID() == oldPID {
		t.Error("expected a new worker process")
	}
	if res, err := pollUntil(t, s.Poll, 2*time.Second); err != nil || res.Text != "bye" {
		t.Fatalf("expected bye from the new worker, got %+v err=%v", res, err)
	}
}

func TestSession_FeedAfterWorkerExit(t *testing.T) {
	s := startFakeSession(t, transcribertest.Exit, ModeProgrammatic)

	deadline := time.Now().Add(2 * time.Second)
	for s.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("worker did not exit")
		}
		time.Sleep(5 * time.Millisecond)
	}

	err := s.FeedI16([]int16{1, 2, 3}, pcm.TargetSampleRate, 1)
	if !IsKind(err, KindChannelEnded) && !IsKind(err, KindPipeWrite) {
		t.Errorf("expected channel ended or pipe write error, got %v", err)
	}
}

func TestSession_MicrophoneModeRejectsFeed(t *testing.T) {
	s := startFakeSession(t, transcribertest.Mic, ModeMicrophone)

	errs := []error{
		s.FeedF32([]float32{0.1, 0.2}, 16000, 1),
		s.FeedI16([]int16{1, 2}, 16000, 1),
	}
	for _, err := range errs {
		if !IsKind(err, KindMode) || !errors.Is(err, ErrMicrophoneMode) {
			t.Errorf("expected mode violation, got %v", err)
		}
	}

	res, err := pollUntil(t, s.Poll, 2*time.Second)
	if err != nil || res.Text != "listening" || res.IsFinal {
		t.Fatalf("expected interim result, got %+v err=%v", res, err)
	}
	res, err = pollUntil(t, s.Poll, 2*time.Second)
	if err != nil || res.Text != "listening done" || !res.IsFinal {
		t.Fatalf("expected final result, got %+v err=%v", res, err)
	}
}

func TestSession_ModeArguments(t *testing.T) {
	tests := []struct {
		mode InputMode
		want string
	}{
		{ModeProgrammatic, "--stdin"},
		{ModeMicrophone, ""},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			s := startFakeSession(t, transcribertest.Args, tt.mode)
			res, err := pollUntil(t, s.Poll, 2*time.Second)
			if err != nil {
				t.Fatalf("poll: %v", err)
			}
			if res.Text != tt.want {
				t.Errorf("worker args = %q, want %q", res.Text, tt.want)
			}
		})
	}
}

func TestSession_NotStarted(t *testing.T) {
	s := newFakeSession(t, transcribertest.Echo, ModeProgrammatic)

	if _, _, err := s.Poll(); !errors.Is(err, ErrNotStarted) || !IsKind(err, KindState) {
		t.Errorf("poll before start: expected not started, got %v", err)
	}
	if err := s.FeedI16([]int16{1}, 16000, 1); !errors.Is(err, ErrNotStarted) {
		t.Errorf("feed before start: expected not started, got %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("stop before start should be a no-op, got %v", err)
	}
}

func TestSession_StopThenOperations(t *testing.T) {
	s := startFakeSession(t, transcribertest.Echo, ModeProgrammatic)
	pid := s.PID()

	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	if s.IsRunning() || s.State() != StateStopped || s.PID() != 0 {
		t.Errorf("expected STOPPED without a worker, got %v pid=%d", s.State(), s.PID())
	}
	if !processGone(pid) {
		t.Errorf("worker %d still exists after Stop", pid)
	}
	if _, _, err := s.Poll(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("poll after stop: expected not started, got %v", err)
	}
	if err := s.FeedI16([]int16{1}, 16000, 1); !errors.Is(err, ErrNotStarted) {
		t.Errorf("feed after stop: expected not started, got %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("start after stop: %v", err)
	}
	if !s.IsRunning() {
		t.Error("expected RUNNING after restart")
	}
}

func TestSession_StartWhileRunning(t *testing.T) {
	s := startFakeSession(t, transcribertest.Silent, ModeProgrammatic)
	pid := s.PID()

	err := s.Start()
	if !errors.Is(err, ErrAlreadyRunning) || !IsKind(err, KindState) {
		t.Fatalf("expected already running, got %v", err)
	}
	if s.PID() != pid {
		t.Error("a rejected Start must keep the original worker")
	}
}

func TestSession_StopKillsStubbornWorker(t *testing.T) {
	nop := zerolog.Nop()
	s, err := New(Config{
		HelperPath:  transcribertest.Executable(t),
		Mode:        ModeMicrophone,
		StopTimeout: 100 * time.Millisecond,
		Env:         []string{transcribertest.Env(transcribertest.Stubborn)},
		Logger:      &nop,
	})
	if err != nil {
		t.Fatalf("building session: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Wait until SIGTERM is being ignored.
	if res, err := pollUntil(t, s.Poll, 2*time.Second); err != nil || res.Text != "ready" {
		t.Fatalf("expected ready, got %+v err=%v", res, err)
	}
	pid := s.PID()

	start := time.Now()
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 100*time.Millisecond || elapsed > 5*time.Second {
		t.Errorf("expected stop to wait for the timeout then kill, took %v", elapsed)
	}
	if !processGone(pid) {
		t.Errorf("worker %d survived Stop", pid)
	}
}

func TestSession_ConcurrentFeedAndPoll(t *testing.T) {
	s := startFakeSession(t, transcribertest.Echo, ModeProgrammatic)

	done := make(chan error, 1)
	go func() {
		chunk := make([]int16, 320)
		for i := 0; i < 20; i++ {
			if err := s.FeedI16(chunk, pcm.TargetSampleRate, 1); err != nil {
				done <- err
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
		done <- nil
	}()

	got := 0
	deadline := time.Now().Add(3 * time.Second)
	for got == 0 && time.Now().Before(deadline) {
		if _, ok, err := s.Poll(); err != nil {
			t.Fatalf("poll: %v", err)
		} else if ok {
			got++
		}
		time.Sleep(time.Millisecond)
	}
	if err := <-done; err != nil {
		t.Fatalf("feed: %v", err)
	}
	if got == 0 {
		t.Error("expected results while feeding concurrently")
	}
}

func TestSession_SpawnFailure(t *testing.T) {
	dir := t.TempDir()
	notExec := dir + "/transcribe_stream"
	if err := os.WriteFile(notExec, []byte("not a program"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := New(Config{HelperPath: notExec})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	err = s.Start()
	if !IsKind(err, KindSpawn) {
		t.Fatalf("expected spawn error, got %v", err)
	}
	if s.IsRunning() || s.State() != StateConfigured {
		t.Errorf("failed start must leave the session configured, got %v", s.State())
	}
}

func TestSession_UnreachableSessionReapsWorker(t *testing.T) {
	// The session is only reachable inside the closure; no Stop is deferred.
	pid := func() int {
		nop := zerolog.Nop()
		s, err := New(Config{
			HelperPath:  transcribertest.Executable(t),
			Mode:        ModeProgrammatic,
			StopTimeout: 500 * time.Millisecond,
			Env:         []string{transcribertest.Env(transcribertest.Silent)},
			Logger:      &nop,
		})
		if err != nil {
			t.Fatalf("building session: %v", err)
		}
		if err := s.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		return s.PID()
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !processGone(pid) {
		if time.Now().After(deadline) {
			syscall.Kill(pid, syscall.SIGKILL)
			t.Fatalf("worker %d survived its unreachable session", pid)
		}
		runtime.GC()
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSession_ReplacingExitedWorker(t *testing.T) {
	s := startFakeSession(t, transcribertest.Exit, ModeMicrophone)
	first := s.PID()

	if res, err := pollUntil(t, s.Poll, 2*time.Second); err != nil || res.Text != "bye" {
		t.Fatalf("expected bye, got %+v err=%v", res, err)
	}
	if _, err := pollUntil(t, s.Poll, 2*time.Second); !errors.Is(err, ErrChannelEnded) {
		t.Fatalf("expected channel ended, got %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if s.PID() == first || !s.IsRunning() {
		t.Errorf("expected a fresh worker, pid %d -> %d", first, s.PID())
	}
	if !processGone(first) {
		t.Errorf("exited worker %d was not reaped", first)
	}
}
