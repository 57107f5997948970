package transcriber

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("writing %s: %v", p, err)
	}
	return p
}

func TestSearchPaths_Order(t *testing.T) {
	paths := SearchPaths(StreamHelperName)

	if len(paths) < 2 {
		t.Fatalf("expected at least 2 search paths, got %v", paths)
	}
	if paths[0] != filepath.Join("helpers", StreamHelperName) {
		t.Errorf("expected local development path first, got %s", paths[0])
	}
	if last := paths[len(paths)-1]; last != "/usr/local/bin/"+StreamHelperName {
		t.Errorf("expected system path last, got %s", last)
	}
	if home, err := os.UserHomeDir(); err == nil {
		if want := filepath.Join(home, ".local", "bin", StreamHelperName); paths[1] != want {
			t.Errorf("expected user path %s second, got %s", want, paths[1])
		}
	}
}

func TestLocate(t *testing.T) {
	dir := t.TempDir()
	first := writeExecutable(t, dir, "first")
	second := writeExecutable(t, dir, "second")
	missing := filepath.Join(dir, "missing")

	tests := []struct {
		name       string
		explicit   string
		candidates []string
		want       string
		wantErr    bool
	}{
		{"explicit wins", second, []string{first}, second, false},
		{"explicit missing", missing, []string{first}, "", true},
		{"explicit directory", dir, nil, "", true},
		{"first existing candidate", "", []string{missing, first, second}, first, false},
		{"directory candidate skipped", "", []string{dir, second}, second, false},
		{"nothing found", "", []string{missing}, "", true},
		{"no candidates", "", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Locate(tt.explicit, tt.candidates)
			if tt.wantErr {
				if !errors.Is(err, ErrHelperNotFound) || !IsKind(err, KindConfig) {
					t.Errorf("expected config error wrapping ErrHelperNotFound, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestLocate_RelativeBecomesAbsolute(t *testing.T) {
	dir := t.TempDir()
	writeExecutable(t, dir, "helper")
	t.Chdir(dir)

	got, err := Locate("helper", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !filepath.IsAbs(got) || !strings.HasSuffix(got, "helper") {
		t.Errorf("expected absolute path, got %s", got)
	}
}

func TestNew_Validation(t *testing.T) {
	helper := writeExecutable(t, t.TempDir(), "transcribe_stream")

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing helper", Config{HelperPath: filepath.Join(t.TempDir(), "nope")}},
		{"empty search list", Config{SearchPaths: []string{}}},
		{"invalid mode", Config{HelperPath: helper, Mode: InputMode(7)}},
		{"negative timeout", Config{HelperPath: helper, StopTimeout: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg)
			if s != nil {
				t.Error("a failed build must not return a session")
			}
			if !IsKind(err, KindConfig) {
				t.Errorf("expected config error, got %v", err)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	helper := writeExecutable(t, t.TempDir(), "transcribe_stream")

	s, err := New(Config{HelperPath: helper})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.State() != StateConfigured {
		t.Errorf("expected CONFIGURED, got %v", s.State())
	}
	if s.Mode() != ModeMicrophone {
		t.Errorf("expected microphone default, got %v", s.Mode())
	}
	if s.HelperPath() != helper {
		t.Errorf("expected helper %s, got %s", helper, s.HelperPath())
	}
	if s.cfg.StopTimeout != DefaultStopTimeout || s.cfg.ResultBuffer != DefaultResultBuffer {
		t.Errorf("defaults not applied: %+v", s.cfg)
	}
	if s.IsRunning() || s.PID() != 0 {
		t.Error("a built session must not have a worker")
	}
}

func TestBuilder(t *testing.T) {
	helper := writeExecutable(t, t.TempDir(), "transcribe_stream")

	s, err := NewBuilder().
		WithHelperPath(helper).
		WithProgrammaticInput().
		WithStopTimeout(300 * time.Millisecond).
		WithEnv("A=1").
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Mode() != ModeProgrammatic {
		t.Errorf("expected programmatic, got %v", s.Mode())
	}
	if s.cfg.StopTimeout != 300*time.Millisecond {
		t.Errorf("expected stop timeout 300ms, got %v", s.cfg.StopTimeout)
	}
	if len(s.cfg.Env) != 1 || s.cfg.Env[0] != "A=1" {
		t.Errorf("unexpected env %v", s.cfg.Env)
	}

	s, err = NewBuilder().WithHelperPath(helper).WithProgrammaticInput().WithMicrophone().Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Mode() != ModeMicrophone {
		t.Errorf("expected the last mode call to win, got %v", s.Mode())
	}
}
