package ffmpeg

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// EnvBinary overrides the ffmpeg binary when no explicit path is configured.
const EnvBinary = "OMNICAPTURE_FFMPEG"

// ErrNotFound is returned when no usable ffmpeg binary exists.
var ErrNotFound = errors.New("ffmpeg binary not found")

// BinaryName is the platform executable name.
func BinaryName() string {
	if runtime.GOOS == "windows" {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}

// ResolveBinary picks the ffmpeg binary: preferred path, then EnvBinary,
// then the bare name resolved through PATH at run time.
func ResolveBinary(preferred string) string {
	if p := normalizeCandidate(preferred); p != "" {
		return p
	}
	if p := normalizeCandidate(os.Getenv(EnvBinary)); p != "" {
		return p
	}
	return "ffmpeg"
}

// normalizeCandidate trims whitespace and quotes. Directories get the
// executable name appended; relative paths that exist become absolute.
func normalizeCandidate(path string) string {
	trimmed := strings.Trim(strings.TrimSpace(path), `"'`)
	if trimmed == "" {
		return ""
	}
	cleaned := filepath.Clean(trimmed)

	if info, err := os.Stat(cleaned); err == nil {
		if info.IsDir() {
			cleaned = filepath.Join(cleaned, BinaryName())
		}
		if abs, err := filepath.Abs(cleaned); err == nil {
			return abs
		}
		return cleaned
	}
	return trimmed
}

// LookBinary resolves path to an executable, returning ErrNotFound when it
// does not exist.
func LookBinary(path string) (string, error) {
	if path == "" {
		return "", ErrNotFound
	}
	if strings.EqualFold(path, "ffmpeg") || strings.EqualFold(path, "ffmpeg.exe") {
		found, err := exec.LookPath(path)
		if err != nil {
			return "", errors.Join(ErrNotFound, err)
		}
		return found, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Join(ErrNotFound, err)
	}
	if info.IsDir() {
		return "", ErrNotFound
	}
	return path, nil
}
