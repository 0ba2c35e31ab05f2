package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FFPlay plays sounds with ffplay and measures them with ffprobe.
type FFPlay struct {
	FFPlayPath  string
	FFProbePath string
}

// NewFFPlay creates a player using the given binaries.
func NewFFPlay(ffplay, ffprobe string) *FFPlay {
	if ffplay == "" {
		ffplay = "ffplay"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &FFPlay{FFPlayPath: ffplay, FFProbePath: ffprobe}
}

// Load probes path and returns a sound ready to play.
func (f *FFPlay) Load(ctx context.Context, path string) (Sound, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	dur, err := f.probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return &ffplaySound{bin: f.FFPlayPath, path: path, duration: dur}, nil
}

// probe returns the container duration reported by ffprobe.
func (f *FFPlay) probe(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, f.FFProbePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w - output: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseSeconds(string(out))
}

func parseSeconds(s string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", s, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// ffplaySound is one ffplay process per play segment. Pausing ends the
// process; resuming starts a new one at the retained position.
type ffplaySound struct {
	bin      string
	path     string
	duration time.Duration

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	started time.Time
	offset  time.Duration
	ended   bool // the last process played to the end
}

func (s *ffplaySound) Duration() time.Duration { return s.duration }

func (s *ffplaySound) Play(ctx context.Context, from time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return errors.New("already playing")
	}

	cmd := exec.CommandContext(ctx, s.bin,
		"-nodisp", "-autoexit",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(from.Seconds(), 'f', 3, 64),
		s.path,
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffplay: %w", err)
	}

	done := make(chan struct{})
	s.cmd, s.done = cmd, done
	s.started, s.offset, s.ended = time.Now(), from, false

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		if s.cmd == cmd {
			s.ended = err == nil
			s.offset = s.elapsedLocked()
			s.cmd = nil
		}
		s.mu.Unlock()
		close(done)
	}()
	return nil
}

func (s *ffplaySound) Pause() (time.Duration, error) {
	s.stop()
	return s.Position(), nil
}

func (s *ffplaySound) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return s.duration
	}
	if s.cmd == nil {
		return s.offset
	}
	return s.elapsedLocked()
}

func (s *ffplaySound) Unload() error {
	s.stop()
	return nil
}

// stop kills the running process, if any, and keeps its position.
func (s *ffplaySound) stop() {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	if cmd == nil {
		s.mu.Unlock()
		return
	}
	s.offset = s.elapsedLocked()
	s.cmd = nil
	s.mu.Unlock()

	_ = cmd.Process.Kill()
	<-done
}

func (s *ffplaySound) elapsedLocked() time.Duration {
	pos := s.offset + time.Since(s.started)
	if s.duration > 0 && pos > s.duration {
		return s.duration
	}
	return pos
}
