package transcriber

import (
	"os"
	"path/filepath"
)

// Helper binary names.
const (
	StreamHelperName = "transcribe_stream"
	FileHelperName   = "transcribe"
)

// SearchPaths lists where a helper is looked up when no explicit path is
// configured, in priority order: local development build, per-user install,
// system-wide install.
func SearchPaths(name string) []string {
	paths := []string{filepath.Join("helpers", name)}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".local", "bin", name))
	}
	return append(paths, filepath.Join("/usr/local/bin", name))
}

// Locate resolves the helper executable. An explicit path must exist;
// otherwise the first existing candidate wins. The result is absolute.
func Locate(explicit string, candidates []string) (string, error) {
	if explicit != "" {
		if !isFile(explicit) {
			return "", &Error{Kind: KindConfig, Op: "locate", Path: explicit, Err: ErrHelperNotFound}
		}
		return absolute(explicit), nil
	}

	for _, p := range candidates {
		if isFile(p) {
			return absolute(p), nil
		}
	}
	return "", &Error{Kind: KindConfig, Op: "locate", Err: ErrHelperNotFound}
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func absolute(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
