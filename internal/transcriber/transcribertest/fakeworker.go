// Package transcribertest provides a fake worker process for tests. The test
// binary re-executes itself with an environment variable selecting a
// scripted behavior, so no helper binary needs to be installed.
//
// Use it from TestMain:
//
//	func TestMain(m *testing.M) {
//		transcribertest.Main()
//		os.Exit(m.Run())
//	}
package transcribertest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

// EnvVar selects the fake behavior in the re-executed test binary.
const EnvVar = "SPEECH_BRIDGE_FAKE_WORKER"

// Behaviors.
const (
	// Echo requires --stdin and prints one final "hello" per stdin read.
	Echo = "echo"
	// Count requires --stdin and prints the running byte total after each read.
	Count = "count"
	// Malformed prints "not-json", then a valid "after" line, then waits for EOF.
	Malformed = "malformed"
	// Exit prints one "bye" line and exits.
	Exit = "exit"
	// Mic prints a partial and a final without reading stdin, then idles.
	Mic = "mic"
	// Stubborn ignores SIGTERM and idles until killed.
	Stubborn = "stubborn"
	// Args prints its command line arguments as the text, then waits for EOF.
	Args = "args"
	// Silent reads stdin until EOF without printing anything.
	Silent = "silent"
)

// Env returns the environment entry selecting behavior.
func Env(behavior string) string {
	return EnvVar + "=" + behavior
}

// Executable returns the path of the running test binary.
func Executable(t testing.TB) string {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("resolving test executable: %v", err)
	}
	return exe
}

// Main runs the selected fake behavior and exits when EnvVar is set. It
// returns immediately otherwise.
func Main() {
	behavior := os.Getenv(EnvVar)
	if behavior == "" {
		return
	}
	os.Exit(run(behavior, os.Args[1:], os.Stdin, os.Stdout))
}

type record struct {
	Text      string  `json:"text"`
	IsFinal   bool    `json:"isFinal"`
	Timestamp float64 `json:"timestamp"`
}

func emit(w *bufio.Writer, text string, final bool) {
	b, _ := json.Marshal(record{Text: text, IsFinal: final, Timestamp: float64(time.Now().UnixMilli()) / 1000})
	w.Write(b)
	w.WriteByte('\n')
	w.Flush()
}

func hasStdinFlag(args []string) bool {
	for _, a := range args {
		if a == "--stdin" {
			return true
		}
	}
	return false
}

func idle() {
	time.Sleep(time.Minute)
}

func run(behavior string, args []string, stdin io.Reader, stdout io.Writer) int {
	out := bufio.NewWriter(stdout)
	buf := make([]byte, 64*1024)

	switch behavior {
	case Echo:
		if !hasStdinFlag(args) {
			fmt.Fprintln(os.Stderr, "echo: --stdin required")
			return 2
		}
		for {
			n, err := stdin.Read(buf)
			if n > 0 {
				out.WriteString(`{"text":"hello","isFinal":true,"timestamp":1.0}` + "\n")
				out.Flush()
			}
			if err != nil {
				return 0
			}
		}

	case Count:
		if !hasStdinFlag(args) {
			fmt.Fprintln(os.Stderr, "count: --stdin required")
			return 2
		}
		total := 0
		for {
			n, err := stdin.Read(buf)
			if n > 0 {
				total += n
				emit(out, strconv.Itoa(total), false)
			}
			if err != nil {
				return 0
			}
		}

	case Malformed:
		out.WriteString("not-json\n")
		emit(out, "after", true)
		io.Copy(io.Discard, stdin)
		return 0

	case Exit:
		emit(out, "bye", true)
		return 0

	case Mic:
		emit(out, "listening", false)
		emit(out, "listening done", true)
		idle()
		return 0

	case Stubborn:
		signal.Ignore(syscall.SIGTERM)
		emit(out, "ready", false)
		idle()
		return 0

	case Args:
		emit(out, strings.Join(args, " "), true)
		io.Copy(io.Discard, stdin)
		return 0

	case Silent:
		io.Copy(io.Discard, stdin)
		return 0

	default:
		fmt.Fprintf(os.Stderr, "unknown fake worker behavior %q\n", behavior)
		return 2
	}
}
