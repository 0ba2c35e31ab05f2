package playback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSound struct {
	mu        sync.Mutex
	path      string
	duration  time.Duration
	position  time.Duration
	playing   bool
	playedAt  []time.Duration
	unloaded  bool
	unloadErr error
}

func (s *fakeSound) Play(_ context.Context, from time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = true
	s.position = from
	s.playedAt = append(s.playedAt, from)
	return nil
}

func (s *fakeSound) Pause() (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = false
	return s.position, nil
}

func (s *fakeSound) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *fakeSound) Duration() time.Duration { return s.duration }

func (s *fakeSound) Unload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unloaded = true
	return s.unloadErr
}

func (s *fakeSound) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position += d
}

type fakePlayer struct {
	sounds []*fakeSound
	err    error
}

func (p *fakePlayer) Load(_ context.Context, path string) (Sound, error) {
	if p.err != nil {
		return nil, p.err
	}
	s := &fakeSound{path: path, duration: 10 * time.Second}
	p.sounds = append(p.sounds, s)
	return s, nil
}

func created(path string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return path, nil }
}

func TestLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := &fakePlayer{}
	c := NewController(p)
	assert.Equal(t, Idle, c.State())

	var during State
	require.NoError(t, c.Create(ctx, func(context.Context) (string, error) {
		during = c.State()
		return "/docs/a.mp3", nil
	}))
	assert.Equal(t, Loading, during)
	assert.Equal(t, Ready, c.State())
	assert.Equal(t, "/docs/a.mp3", c.Path())

	require.NoError(t, c.Toggle(ctx))
	assert.Equal(t, Playing, c.State())
	require.Len(t, p.sounds, 1)
	snd := p.sounds[0]

	snd.advance(3 * time.Second)
	assert.Equal(t, Playing, c.Tick())
	assert.Equal(t, 3*time.Second, c.Position())

	require.NoError(t, c.Toggle(ctx))
	assert.Equal(t, Paused, c.State())
	assert.Equal(t, 3*time.Second, c.Position(), "position retained")

	require.NoError(t, c.Toggle(ctx))
	assert.Equal(t, Playing, c.State())
	assert.Equal(t, []time.Duration{0, 3 * time.Second}, snd.playedAt, "resumes where it paused")
	assert.Len(t, p.sounds, 1, "resuming reuses the loaded sound")

	snd.advance(6*time.Second + 600*time.Millisecond) // 9.6s of 10s
	assert.Equal(t, Idle, c.Tick())
	assert.Zero(t, c.Position())
	assert.True(t, snd.unloaded)
}

func TestTickOutsideTolerance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := &fakePlayer{}
	c := NewController(p, WithEndTolerance(100*time.Millisecond))
	require.NoError(t, c.Select("/docs/a.mp3"))
	require.NoError(t, c.Toggle(ctx))

	p.sounds[0].advance(9*time.Second + 800*time.Millisecond)
	assert.Equal(t, Playing, c.Tick())
	p.sounds[0].advance(150 * time.Millisecond)
	assert.Equal(t, Idle, c.Tick())
}

func TestReplayAfterEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := &fakePlayer{}
	c := NewController(p)
	require.NoError(t, c.Select("/docs/a.mp3"))
	require.NoError(t, c.Toggle(ctx))
	p.sounds[0].advance(10 * time.Second)
	require.Equal(t, Idle, c.Tick())

	require.NoError(t, c.Toggle(ctx))
	assert.Equal(t, Playing, c.State())
	require.Len(t, p.sounds, 2, "the finished sound was unloaded")
	assert.Equal(t, []time.Duration{0}, p.sounds[1].playedAt)
}

func TestCreateFailureReturnsToIdle(t *testing.T) {
	t.Parallel()
	c := NewController(&fakePlayer{})

	err := c.Create(context.Background(), func(context.Context) (string, error) {
		return "", errors.New("status 500")
	})
	require.Error(t, err)
	assert.Equal(t, Idle, c.State())
	assert.ErrorIs(t, c.Toggle(context.Background()), ErrNoTrack)
}

func TestCreateNotAllowedWhilePlaying(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewController(&fakePlayer{})
	require.NoError(t, c.Create(ctx, created("/docs/a.mp3")))
	require.NoError(t, c.Toggle(ctx))

	err := c.Create(ctx, created("/docs/b.mp3"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, Playing, c.State())
}

func TestSecondTrackUnloadsFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := &fakePlayer{}
	c := NewController(p)

	require.NoError(t, c.Select("/docs/a.mp3"))
	require.NoError(t, c.Toggle(ctx))
	first := p.sounds[0]
	first.unloadErr = errors.New("device busy") // logged, not fatal

	require.NoError(t, c.Select("/docs/b.mp3"))
	assert.True(t, first.unloaded)
	assert.Equal(t, Ready, c.State())

	require.NoError(t, c.Toggle(ctx))
	require.Len(t, p.sounds, 2)
	assert.Equal(t, "/docs/b.mp3", p.sounds[1].path)
}

func TestLoadFailureKeepsState(t *testing.T) {
	t.Parallel()
	c := NewController(&fakePlayer{err: errors.New("no such file")})
	require.NoError(t, c.Select("/docs/a.mp3"))

	assert.Error(t, c.Toggle(context.Background()))
	assert.Equal(t, Ready, c.State())
}

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestFFPlay(t *testing.T) {
	t.Parallel()

	track := filepath.Join(t.TempDir(), "a.mp3")
	require.NoError(t, os.WriteFile(track, []byte("ID3"), 0o644))
	probe := writeScript(t, "ffprobe", `echo 12.500000`)
	ctx := context.Background()

	t.Run("pause keeps position", func(t *testing.T) {
		t.Parallel()
		player := NewFFPlay(writeScript(t, "ffplay", `exec sleep 30`), probe)

		snd, err := player.Load(ctx, track)
		require.NoError(t, err)
		assert.Equal(t, 12500*time.Millisecond, snd.Duration())

		require.NoError(t, snd.Play(ctx, 2*time.Second))
		time.Sleep(50 * time.Millisecond)
		pos, err := snd.Pause()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, pos, 2*time.Second)
		assert.Less(t, pos, 12*time.Second)
		assert.Equal(t, pos, snd.Position(), "position is frozen while paused")
		require.NoError(t, snd.Unload())
	})

	t.Run("natural end", func(t *testing.T) {
		t.Parallel()
		player := NewFFPlay(writeScript(t, "ffplay", `exit 0`), probe)

		snd, err := player.Load(ctx, track)
		require.NoError(t, err)
		require.NoError(t, snd.Play(ctx, 0))
		assert.Eventually(t, func() bool {
			return snd.Position() == snd.Duration()
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := NewFFPlay("ffplay", probe).Load(ctx, filepath.Join(t.TempDir(), "nope.mp3"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("probe failure", func(t *testing.T) {
		t.Parallel()
		bad := writeScript(t, "ffprobe", `echo "Invalid data found" >&2; exit 1`)
		_, err := NewFFPlay("ffplay", bad).Load(ctx, track)
		assert.ErrorContains(t, err, "Invalid data found")
	})
}

func TestParseSeconds(t *testing.T) {
	t.Parallel()

	d, err := parseSeconds("61.25\n")
	require.NoError(t, err)
	assert.Equal(t, 61250*time.Millisecond, d)

	_, err = parseSeconds("N/A")
	assert.Error(t, err)
}
