// Package ffmpeg provides FFmpeg/FFprobe sidecar discovery, capability
// scanning, media probing, and progress-stream parsing.
package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/convertworks/convertd/internal/config"
)

// ErrBinaryMissing is wrapped by lookup failures for either sidecar.
var ErrBinaryMissing = fmt.Errorf("sidecar binary missing")

// Binaries holds the resolved sidecar paths and version information.
type Binaries struct {
	FFmpegPath   string `json:"ffmpeg_path"`
	FFprobePath  string `json:"ffprobe_path"`
	Version      string `json:"version"`
	MajorVersion int    `json:"major_version"`
	MinorVersion int    `json:"minor_version"`
}

// TargetTriple returns the Rust-style target triple used to name sidecar
// binaries, e.g. "aarch64-apple-darwin" or "x86_64-pc-windows-msvc".
func TargetTriple() string {
	arch := runtime.GOARCH
	switch arch {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	}

	switch runtime.GOOS {
	case "darwin":
		return arch + "-apple-darwin"
	case "windows":
		return arch + "-pc-windows-msvc"
	default:
		return arch + "-unknown-linux-gnu"
	}
}

// sidecarName returns the expected file name for a sidecar binary.
func sidecarName(base string) string {
	name := base + "-" + TargetTriple()
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return name
}

// Locate resolves the ffmpeg and ffprobe sidecars.
//
// Resolution order per binary:
//  1. explicit path from configuration
//  2. CONVERTD_FFMPEG_BINARY / CONVERTD_FFPROBE_BINARY environment variable
//  3. <binaries_dir>/<name>-<target-triple>[.exe]
//  4. plain name on PATH, when allow_path_fallback is set
//
// Both binaries are required; a missing one is an error wrapping
// ErrBinaryMissing so callers can refuse to start.
func Locate(cfg config.FFmpegConfig) (*Binaries, error) {
	dir := cfg.BinariesDir
	if dir == "" {
		if exe, err := os.Executable(); err == nil {
			dir = filepath.Dir(exe)
		} else {
			dir = "."
		}
	}

	ffmpegPath, err := locateOne("ffmpeg", cfg.BinaryPath, "CONVERTD_FFMPEG_BINARY", dir, cfg.AllowPathFallback)
	if err != nil {
		return nil, err
	}
	ffprobePath, err := locateOne("ffprobe", cfg.ProbePath, "CONVERTD_FFPROBE_BINARY", dir, cfg.AllowPathFallback)
	if err != nil {
		return nil, err
	}

	return &Binaries{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}, nil
}

// locateOne resolves a single sidecar binary by name.
func locateOne(base, explicit, envVar, dir string, allowPath bool) (string, error) {
	if explicit != "" {
		if isExecutable(explicit) {
			return explicit, nil
		}
		return "", fmt.Errorf("%w: configured path %s for %s is not executable", ErrBinaryMissing, explicit, base)
	}

	if envPath := os.Getenv(envVar); envPath != "" && isExecutable(envPath) {
		return envPath, nil
	}

	sidecar := filepath.Join(dir, sidecarName(base))
	if isExecutable(sidecar) {
		return sidecar, nil
	}

	if allowPath {
		if path, err := exec.LookPath(base); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w: %s not found (looked for %s)", ErrBinaryMissing, base, sidecar)
}

// isExecutable checks if a file exists and is executable by the current user.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0111 != 0
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// DetectVersion runs `ffmpeg -version` and fills in the version fields.
func (b *Binaries) DetectVersion(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, b.FFmpegPath, "-version")
	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("querying ffmpeg version: %w", err)
	}

	for _, line := range strings.Split(string(output), "\n") {
		if !strings.HasPrefix(line, "ffmpeg version") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			break
		}
		b.Version = parts[2]
		if matches := versionRegex.FindStringSubmatch(parts[2]); len(matches) >= 3 {
			b.MajorVersion, _ = strconv.Atoi(matches[1])
			b.MinorVersion, _ = strconv.Atoi(matches[2])
		}
		return nil
	}

	return fmt.Errorf("failed to parse ffmpeg version output")
}
