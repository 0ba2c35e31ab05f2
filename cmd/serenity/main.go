// Serenity is the meditation audio daemon. It mixes synthesized meditation
// scripts over looped ambiance tracks and serves the cached results.
//
// Usage:
//
//	serenity [flags]
//	serenity --config /path/to/serenity.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/nadzzz/serenity/docs"
	"github.com/nadzzz/serenity/internal/auth"
	"github.com/nadzzz/serenity/internal/catalog"
	"github.com/nadzzz/serenity/internal/config"
	"github.com/nadzzz/serenity/internal/events"
	"github.com/nadzzz/serenity/internal/health"
	"github.com/nadzzz/serenity/internal/meditation"
	"github.com/nadzzz/serenity/internal/mixer"
	"github.com/nadzzz/serenity/internal/transport"
	grpctransport "github.com/nadzzz/serenity/internal/transport/grpc"
	httptransport "github.com/nadzzz/serenity/internal/transport/http"
	"github.com/nadzzz/serenity/internal/tts/speechify"
)

// version is set at build time via ldflags.
var version = "dev"

// @title                      Serenity API
// @version                    1.0
// @description                Generates meditation tracks by mixing synthesized speech over ambient soundscapes.
// @BasePath                   /
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
// @description                Firebase ID token as "Bearer <token>".
func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.String("config", "", "path to config file (e.g. configs/serenity.local.yaml)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("serenity %s\n", version)
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging.
	config.SetupLogging(cfg.Logging)
	slog.Info("serenity starting", "version", version)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Create root context with signal handling for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Token verification.
	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		slog.Error("failed to initialize token verification", "error", err)
		os.Exit(1)
	}

	// Voice provider.
	provider := speechify.New(cfg.Speechify)
	defer provider.Close()
	slog.Info("using speechify", "base_url", cfg.Speechify.BaseURL, "audio_format", cfg.Speechify.AudioFormat)

	// Lifecycle events.
	var publisher events.Publisher = events.Nop{}
	if cfg.Events.Enabled {
		nc, err := events.Connect(cfg.Events)
		if err != nil {
			slog.Error("failed to connect event publisher", "error", err)
			os.Exit(1)
		}
		publisher = nc
		slog.Info("publishing events", "url", cfg.Events.URL, "prefix", cfg.Events.SubjectPrefix)
	}
	defer publisher.Close()

	scripts := catalog.NewScripts(cfg.Paths.Catalog)
	ambiances := catalog.NewAmbiances(cfg.Paths.Ambiances)

	generator := meditation.New(meditation.Options{
		Scripts:        scripts,
		Ambiances:      ambiances,
		Provider:       provider,
		Mixer:          mixer.NewFFmpeg(cfg.Mixer.FFmpegPath),
		Policy:         mixer.PolicyFromConfig(cfg.Mixer),
		VoicesDir:      cfg.Paths.Voices,
		MeditationsDir: cfg.Paths.Meditations,
		AudioFormat:    cfg.Speechify.AudioFormat,
		Publisher:      publisher,
	})

	// Health checks.
	healthServer := health.New(cfg.Server.HealthPort)
	healthServer.AddCheck("catalog", func(context.Context) error {
		_, err := scripts.Titles()
		return err
	})
	healthServer.AddCheck("ambiances", func(context.Context) error {
		_, err := ambiances.List()
		return err
	})
	healthServer.AddCheck("ffmpeg", func(context.Context) error {
		_, err := exec.LookPath(cfg.Mixer.FFmpegPath)
		return err
	})
	go func() {
		if err := healthServer.ListenAndServe(ctx); err != nil {
			slog.Error("health server failed", "error", err)
		}
	}()

	// Initialize enabled transports.
	var transports []transport.Transport

	if cfg.Transports.HTTP.Enabled {
		transports = append(transports, httptransport.New(cfg.Transports.HTTP.Port, httptransport.Options{
			Titles:      scripts,
			Ambiances:   ambiances,
			Voices:      provider,
			Meditations: generator,
			Verifier:    verifier,
		}))
	}
	if cfg.Transports.GRPC.Enabled {
		transports = append(transports, grpctransport.New(cfg.Transports.GRPC.Port, healthServer))
	}

	if len(transports) == 0 {
		slog.Error("no transports enabled, enable at least one in config")
		os.Exit(1)
	}

	// Start all transports.
	var wg sync.WaitGroup
	for _, t := range transports {
		wg.Add(1)
		go func(t transport.Transport) {
			defer wg.Done()
			slog.Info("starting transport", "name", t.Name())
			if err := t.Listen(ctx); err != nil {
				slog.Error("transport failed", "name", t.Name(), "error", err)
			}
		}(t)
	}

	// Mark as ready once all transports are started.
	healthServer.SetReady(true)
	slog.Info("serenity ready",
		"transports", len(transports),
		"health_port", cfg.Server.HealthPort,
		"meditations_dir", cfg.Paths.Meditations)

	// Block until shutdown signal.
	<-ctx.Done()
	slog.Info("shutdown signal received, draining...")
	healthServer.SetReady(false)

	// Close all transports gracefully.
	for _, t := range transports {
		if err := t.Close(); err != nil {
			slog.Error("transport close error", "name", t.Name(), "error", err)
		}
	}

	wg.Wait()
	slog.Info("serenity stopped")
}
