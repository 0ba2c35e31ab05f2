package mixer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const (
	dirPermissions = 0o750
	stderrTail     = 2048
)

// FFmpeg renders mixes with the ffmpeg binary.
type FFmpeg struct {
	path string
}

// NewFFmpeg creates a mixer that runs the ffmpeg binary at path.
func NewFFmpeg(path string) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{path: path}
}

// Mix renders req. ffmpeg writes to a temporary file beside req.Output which is
// renamed into place only when ffmpeg exits cleanly, so req.Output either does
// not exist or holds a complete mix.
func (f *FFmpeg) Mix(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(req.Output)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(req.Output)+"-*.part")
	if err != nil {
		return fmt.Errorf("creating temp output: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath) // no-op after a successful rename

	staged := req
	staged.Output = tmpPath
	args, err := Args(staged)
	if err != nil {
		return err
	}

	start := time.Now()
	slog.Debug("ffmpeg mix", "path", f.path, "inputs", len(req.Inputs), "output", req.Output)

	// #nosec G204 -- arguments are produced by Args from a validated Request
	cmd := exec.CommandContext(ctx, f.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w - output: %s", err, tail(stderr.Bytes(), stderrTail))
	}

	if err := os.Rename(tmpPath, req.Output); err != nil {
		return fmt.Errorf("moving mix into place: %w", err)
	}
	slog.Info("mix complete", "output", req.Output, "duration", time.Since(start))
	return nil
}

func tail(b []byte, n int) []byte {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		return b[len(b)-n:]
	}
	return b
}
