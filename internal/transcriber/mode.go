package transcriber

import (
	"fmt"
	"strings"
)

// InputMode selects where the worker gets its audio.
type InputMode int

const (
	// ModeMicrophone - the worker captures audio itself; Feed is rejected.
	ModeMicrophone InputMode = iota
	// ModeProgrammatic - the caller feeds samples; the worker reads stdin.
	ModeProgrammatic
)

// String returns the string representation of the mode.
func (m InputMode) String() string {
	switch m {
	case ModeMicrophone:
		return "microphone"
	case ModeProgrammatic:
		return "programmatic"
	default:
		return fmt.Sprintf("InputMode(%d)", int(m))
	}
}

// ParseInputMode accepts "microphone"/"mic" and "programmatic"/"stdin".
func ParseInputMode(s string) (InputMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "microphone", "mic":
		return ModeMicrophone, nil
	case "programmatic", "stdin":
		return ModeProgrammatic, nil
	default:
		return 0, fmt.Errorf("unknown input mode %q", s)
	}
}

// args returns the worker command line for the mode.
func (m InputMode) args() []string {
	if m == ModeProgrammatic {
		return []string{"--stdin"}
	}
	return nil
}
