// Package playback drives the client's listening session.
//
// A Controller owns at most one loaded Sound and moves through
// idle → loading → ready → playing ⇄ paused, returning to idle when the track
// ends. Selecting a different track unloads the current one first.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultEndTolerance is how close to the end a track counts as finished.
const DefaultEndTolerance = 500 * time.Millisecond

// State is a playback state.
type State string

const (
	Idle    State = "idle"
	Loading State = "loading"
	Ready   State = "ready"
	Playing State = "playing"
	Paused  State = "paused"
)

var (
	// ErrInvalidTransition indicates an action the current state does not allow.
	ErrInvalidTransition = errors.New("invalid playback transition")
	// ErrNoTrack indicates that no track has been selected.
	ErrNoTrack = errors.New("no track selected")
)

// Sound is a loaded audio resource.
type Sound interface {
	// Play starts or resumes playback at from.
	Play(ctx context.Context, from time.Duration) error
	// Pause stops playback and returns the position reached.
	Pause() (time.Duration, error)
	// Position is the current playback position.
	Position() time.Duration
	// Duration is the length of the track. Zero means unknown.
	Duration() time.Duration
	// Unload releases the resource.
	Unload() error
}

// Player loads sounds from local files.
type Player interface {
	Load(ctx context.Context, path string) (Sound, error)
}

// Option customizes a Controller.
type Option func(*Controller)

// WithEndTolerance sets how close to the end a track counts as finished.
func WithEndTolerance(d time.Duration) Option {
	return func(c *Controller) { c.tolerance = d }
}

// Controller is the playback state machine.
type Controller struct {
	player    Player
	tolerance time.Duration

	mu       sync.Mutex
	state    State
	path     string
	sound    Sound
	position time.Duration
}

// NewController creates an idle controller.
func NewController(p Player, opts ...Option) *Controller {
	c := &Controller{player: p, tolerance: DefaultEndTolerance, state: Idle}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Path returns the selected track.
func (c *Controller) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// Position returns the retained or live playback position.
func (c *Controller) Position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Playing && c.sound != nil {
		return c.sound.Position()
	}
	return c.position
}

// Create fetches a track and selects it. fetch returns the path of the
// persisted file. The controller is loading while fetch runs, ready once it
// succeeds and idle if it fails.
func (c *Controller) Create(ctx context.Context, fetch func(ctx context.Context) (string, error)) error {
	c.mu.Lock()
	if c.state != Idle && c.state != Ready {
		c.mu.Unlock()
		return fmt.Errorf("%w: create while %s", ErrInvalidTransition, c.state)
	}
	c.unloadLocked()
	c.state = Loading
	c.path = ""
	c.position = 0
	c.mu.Unlock()

	path, err := fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = Idle
		return err
	}
	c.path = path
	c.state = Ready
	return nil
}

// Select makes an already persisted track current, unloading any other.
func (c *Controller) Select(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Loading {
		return fmt.Errorf("%w: select while loading", ErrInvalidTransition)
	}
	if path == c.path && c.state != Idle {
		return nil
	}
	c.unloadLocked()
	c.path = path
	c.position = 0
	c.state = Ready
	return nil
}

// Toggle plays from ready or paused, and pauses while playing. An idle
// controller that still has a track (it played to the end) starts over.
func (c *Controller) Toggle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Playing:
		pos, err := c.sound.Pause()
		if err != nil {
			return fmt.Errorf("pausing: %w", err)
		}
		c.position = pos
		c.state = Paused
		return nil
	case Ready, Paused, Idle:
		if c.path == "" {
			return ErrNoTrack
		}
		if c.sound == nil {
			snd, err := c.player.Load(ctx, c.path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", c.path, err)
			}
			c.sound = snd
		}
		if err := c.sound.Play(ctx, c.position); err != nil {
			return fmt.Errorf("playing %s: %w", c.path, err)
		}
		c.state = Playing
		return nil
	default:
		return fmt.Errorf("%w: toggle while %s", ErrInvalidTransition, c.state)
	}
}

// Tick checks for the end of the track while playing. A track within the end
// tolerance of its duration is unloaded and the controller returns to idle
// with the position reset. Tick returns the resulting state.
func (c *Controller) Tick() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Playing || c.sound == nil {
		return c.state
	}
	dur := c.sound.Duration()
	pos := c.sound.Position()
	if dur > 0 && dur-pos <= c.tolerance {
		slog.Debug("track ended", "path", c.path, "position", pos, "duration", dur)
		c.unloadLocked()
		c.position = 0
		c.state = Idle
	}
	return c.state
}

// Close unloads the current sound and returns to idle.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unloadLocked()
	c.position = 0
	c.state = Idle
}

// unloadLocked releases the current sound. Failures are logged only.
func (c *Controller) unloadLocked() {
	if c.sound == nil {
		return
	}
	if err := c.sound.Unload(); err != nil {
		slog.Warn("unloading sound failed", "path", c.path, "error", err)
	}
	c.sound = nil
}
