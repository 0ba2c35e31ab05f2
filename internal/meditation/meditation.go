// Package meditation implements the generation pipeline.
//
// A meditation track is identified by its (title, ambiance, voice) triple. The
// generator resolves the script and the ambiance, streams synthesized speech to
// a transient file, mixes it over the looped ambiance and caches the result
// under the triple's key. Cached tracks are served without touching the
// provider or the mixer. Concurrent requests for the same key share one run.
package meditation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nadzzz/serenity/internal/auth"
	"github.com/nadzzz/serenity/internal/catalog"
	"github.com/nadzzz/serenity/internal/events"
	"github.com/nadzzz/serenity/internal/mixer"
	"github.com/nadzzz/serenity/internal/tts"
)

const artifactExt = ".mp3"

var (
	// ErrInvalidRequest indicates a triple with a blank field.
	ErrInvalidRequest = errors.New("title, ambiance and voiceId are required")
	// ErrScriptNotFound indicates an unknown title.
	ErrScriptNotFound = catalog.ErrScriptNotFound
	// ErrAmbianceNotFound indicates an ambiance outside the library.
	ErrAmbianceNotFound = catalog.ErrAmbianceNotFound
	// ErrArtifactNotFound indicates that no cached track exists for the triple.
	ErrArtifactNotFound = errors.New("meditation file not found")
	// ErrEmptyIntermediate indicates a missing or zero-length speech or ambiance file.
	ErrEmptyIntermediate = errors.New("intermediate audio file is missing or empty")
)

// Scripts resolves meditation scripts by title.
type Scripts interface {
	Lookup(title string) (catalog.Script, error)
}

// Ambiances resolves ambiance names to files.
type Ambiances interface {
	Path(name string) (string, error)
}

// Options wires a Generator.
type Options struct {
	Scripts   Scripts
	Ambiances Ambiances
	Provider  tts.Provider
	Mixer     mixer.Mixer
	Policy    mixer.Policy

	// VoicesDir holds transient speech files.
	VoicesDir string
	// MeditationsDir holds the cached mixed tracks.
	MeditationsDir string
	// AudioFormat is requested from the provider. Defaults to "mp3".
	AudioFormat string

	// Publisher is notified of generated and removed tracks. Optional.
	Publisher events.Publisher
}

// Result is a generated or cached track.
type Result struct {
	Key    string
	Path   string
	Cached bool // served from the cache without running the pipeline
	Shared bool // joined a run started by another request
}

// Generator runs the pipeline.
type Generator struct {
	scripts     Scripts
	ambiances   Ambiances
	provider    tts.Provider
	mixer       mixer.Mixer
	policy      mixer.Policy
	voicesDir   string
	outDir      string
	audioFormat string
	publisher   events.Publisher

	group singleflight.Group
}

// New creates a Generator.
func New(opts Options) *Generator {
	format := opts.AudioFormat
	if format == "" {
		format = "mp3"
	}
	pub := opts.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	return &Generator{
		scripts:     opts.Scripts,
		ambiances:   opts.Ambiances,
		provider:    opts.Provider,
		mixer:       opts.Mixer,
		policy:      opts.Policy,
		voicesDir:   opts.VoicesDir,
		outDir:      opts.MeditationsDir,
		audioFormat: format,
		publisher:   pub,
	}
}

// ArtifactPath is where the mixed track for t is cached.
func (g *Generator) ArtifactPath(t Triple) string {
	return filepath.Join(g.outDir, t.Key()+artifactExt)
}

// Generate returns the cached track for t, producing it first if needed.
//
// If ctx is cancelled while a run is in progress, Generate returns ctx.Err()
// and the run carries on for the other waiters and the cache.
func (g *Generator) Generate(ctx context.Context, t Triple) (*Result, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	key := t.Key()
	path := g.ArtifactPath(t)

	cached, err := nonEmpty(path)
	if err != nil {
		return nil, fmt.Errorf("checking cache: %w", err)
	}
	if cached {
		slog.Debug("meditation cache hit", "key", key)
		return &Result{Key: key, Path: path, Cached: true}, nil
	}

	runCtx := context.WithoutCancel(ctx)
	ch := g.group.DoChan(key, func() (any, error) {
		return g.run(runCtx, t, key, path)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		out := *res.Val.(*Result)
		out.Shared = res.Shared
		return &out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run executes the pipeline once for key.
func (g *Generator) run(ctx context.Context, t Triple, key, path string) (*Result, error) {
	start := time.Now()
	logger := slog.With("key", key, "title", t.Title, "ambiance", t.Ambiance, "voice_id", t.VoiceID)

	// A run that finished between the caller's cache check and this one
	// already produced the track.
	if cached, err := nonEmpty(path); err == nil && cached {
		return &Result{Key: key, Path: path, Cached: true}, nil
	}

	logger.Info("generation started")

	// Step 1: Resolve inputs. Nothing is synthesized for an unknown title or ambiance.
	script, err := g.scripts.Lookup(t.Title)
	if err != nil {
		return nil, err
	}
	ambiance, err := g.ambiances.Path(t.Ambiance)
	if err != nil {
		return nil, err
	}

	// Step 2: Stream speech to a transient file.
	speech, err := g.synthesize(ctx, script.SSML, t)
	if err != nil {
		logger.Error("speech synthesis failed", "error", err)
		return nil, err
	}
	defer func() {
		if err := os.Remove(speech); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("removing speech file", "path", speech, "error", err)
		}
	}()
	logger.Debug("speech synthesized", "path", speech)

	// Step 3: Both intermediates must carry audio before ffmpeg sees them.
	for _, p := range []string{speech, ambiance} {
		ok, err := nonEmpty(p)
		if err != nil {
			return nil, fmt.Errorf("checking %s: %w", p, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrEmptyIntermediate, p)
		}
	}

	// Step 4: Mix. The mixer only exposes the output once it is complete.
	if err := g.mixer.Mix(ctx, g.policy.Request(speech, ambiance, path)); err != nil {
		logger.Error("mixing failed", "error", err)
		return nil, fmt.Errorf("mixing %s: %w", key, err)
	}

	logger.Info("generation complete", "duration", time.Since(start), "path", path)
	g.publish(ctx, events.Generated, t, key)

	return &Result{Key: key, Path: path}, nil
}

// synthesize streams speech for ssml into a uniquely named file in the voices directory.
func (g *Generator) synthesize(ctx context.Context, ssml string, t Triple) (string, error) {
	if err := os.MkdirAll(g.voicesDir, 0o755); err != nil {
		return "", fmt.Errorf("creating voices dir: %w", err)
	}

	stream, err := g.provider.Stream(ctx, ssml, tts.StreamOpts{
		VoiceID:     t.VoiceID,
		AudioFormat: g.audioFormat,
	})
	if err != nil {
		return "", fmt.Errorf("synthesizing speech: %w", err)
	}
	defer stream.Close()

	f, err := os.CreateTemp(g.voicesDir, t.speechStem()+"-*"+artifactExt)
	if err != nil {
		return "", fmt.Errorf("creating speech file: %w", err)
	}
	if _, err := io.Copy(f, stream); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing speech file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("closing speech file: %w", err)
	}
	return f.Name(), nil
}

// Remove deletes the cached track for t.
func (g *Generator) Remove(ctx context.Context, t Triple) error {
	if err := t.Validate(); err != nil {
		return err
	}

	key := t.Key()
	if err := os.Remove(g.ArtifactPath(t)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrArtifactNotFound, key)
		}
		return fmt.Errorf("removing %s: %w", key, err)
	}

	slog.Info("meditation removed", "key", key)
	g.publish(ctx, events.Removed, t, key)
	return nil
}

func (g *Generator) publish(ctx context.Context, typ events.Type, t Triple, key string) {
	var uid string
	if id, ok := auth.FromContext(ctx); ok {
		uid = id.UID
	}
	evt := events.New(typ, key, t.Title, t.Ambiance, t.VoiceID, uid)
	if err := g.publisher.Publish(ctx, evt); err != nil {
		slog.Warn("publishing event failed", "type", typ, "key", key, "error", err)
	}
}

// nonEmpty reports whether path is an existing file with content.
func nonEmpty(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular() && info.Size() > 0, nil
}
