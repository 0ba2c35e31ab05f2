// Serenityctl is the command-line client of the serenity API.
//
// Usage:
//
//	serenityctl [--config file] <command> [flags]
//
// Commands:
//
//	login      sign in with email and password
//	register   create an account and sign in
//	logout     forget the stored session
//	titles     list meditation titles
//	ambiances  list ambiance tracks
//	voices     list voices by gender
//	details    list ambiances, voices and downloaded tracks
//	create     generate a meditation and download it
//	play       play a downloaded meditation
//	remove     delete a meditation on the server and locally
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/nadzzz/serenity/internal/client"
	"github.com/nadzzz/serenity/internal/client/session"
	"github.com/nadzzz/serenity/internal/config"
	"github.com/nadzzz/serenity/internal/playback"
)

// version is set at build time via ldflags.
var version = "dev"

const tickInterval = 250 * time.Millisecond

type app struct {
	cfg     *config.Config
	session *session.Session
	client  *client.Client
	out     io.Writer
	in      *bufio.Reader
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.String("config", "", "path to config file")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("serenityctl %s\n", version)
		os.Exit(0)
	}
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading configuration:", err)
		os.Exit(1)
	}
	cfg.Logging.Format = "text"
	config.SetupLogging(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess := session.New(cfg.Client)
	a := &app{
		cfg:     cfg,
		session: sess,
		client: client.New(cfg.Client.ServerURL, sess,
			client.WithDocumentsDir(cfg.Client.DocumentsDir),
			client.WithLoginRequired(func() {
				fmt.Fprintln(os.Stderr, "session expired, run `serenityctl login`")
			}),
		),
		out: os.Stdout,
		in:  bufio.NewReader(os.Stdin),
	}

	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		slog.Debug("command failed", "command", flag.Arg(0), "error", err)
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: serenityctl [--config file] <command> [flags]

commands: login, register, logout, titles, ambiances, voices, details, create, play, remove`)
	flag.PrintDefaults()
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.login(ctx, args, false)
	case "register":
		return a.login(ctx, args, true)
	case "logout":
		return a.session.SignOut()
	case "titles":
		return a.titles(ctx)
	case "ambiances":
		return a.ambiances(ctx)
	case "voices":
		return a.voices(ctx)
	case "details":
		return a.details(ctx)
	case "create":
		return a.create(ctx, args)
	case "play":
		return a.play(ctx, args)
	case "remove":
		return a.remove(ctx, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) login(ctx context.Context, args []string, register bool) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", os.Getenv("SERENITY_PASSWORD"), "account password (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		*email = a.prompt("email: ")
	}
	if *password == "" {
		*password = a.prompt("password: ")
	}

	signIn := a.session.SignIn
	if register {
		signIn = a.session.SignUp
	}
	if err := signIn(ctx, *email, *password); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "signed in as %s (session stored in %s)\n", *email, a.session.Store().Path())
	return nil
}

func (a *app) prompt(label string) string {
	fmt.Fprint(a.out, label)
	line, _ := a.in.ReadString('\n')
	return strings.TrimSpace(line)
}

func (a *app) titles(ctx context.Context) error {
	titles, err := a.client.Titles(ctx)
	if err != nil {
		return err
	}
	for _, t := range titles {
		fmt.Fprintln(a.out, t)
	}
	return nil
}

func (a *app) ambiances(ctx context.Context) error {
	names, err := a.client.Ambiances(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(a.out, n)
	}
	return nil
}

func (a *app) voices(ctx context.Context) error {
	voices, err := a.client.Voices(ctx)
	if err != nil {
		return err
	}
	genders := make([]string, 0, len(voices))
	for g := range voices {
		genders = append(genders, g)
	}
	slices.Sort(genders)
	for _, g := range genders {
		fmt.Fprintf(a.out, "%s:\n", g)
		for _, v := range voices[g] {
			fmt.Fprintf(a.out, "  %-20s %-20s %s\n", v.ID, v.DisplayName, strings.Join(v.Tags, ", "))
		}
	}
	return nil
}

func (a *app) details(ctx context.Context) error {
	d, err := a.client.Details(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "ambiances:  %s\n", strings.Join(d.Ambiances, ", "))
	total := 0
	for _, vs := range d.Voices {
		total += len(vs)
	}
	fmt.Fprintf(a.out, "voices:     %d\n", total)
	fmt.Fprintln(a.out, "downloaded:")
	for _, f := range d.Downloaded {
		fmt.Fprintf(a.out, "  %s\n", f)
	}
	return nil
}

// tripleFlags registers the flags identifying a track.
func tripleFlags(fs *flag.FlagSet) *client.Triple {
	t := &client.Triple{}
	fs.StringVar(&t.Title, "title", "", "meditation title")
	fs.StringVar(&t.Ambiance, "ambiance", "", "ambiance name")
	fs.StringVar(&t.VoiceID, "voice", "", "voice id")
	return t
}

func requireTriple(t *client.Triple) error {
	if t.Title == "" || t.Ambiance == "" || t.VoiceID == "" {
		return errors.New("-title, -ambiance and -voice are required")
	}
	return nil
}

func (a *app) create(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	t := tripleFlags(fs)
	play := fs.Bool("play", false, "play the track once downloaded")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireTriple(t); err != nil {
		return err
	}

	ctl := a.controller()
	defer ctl.Close()

	fmt.Fprintf(a.out, "generating %q with %s by %s...\n", t.Title, t.Ambiance, t.VoiceID)
	err := ctl.Create(ctx, func(ctx context.Context) (string, error) {
		return a.client.Generate(ctx, *t, "")
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "saved %s\n", ctl.Path())

	if !*play {
		return nil
	}
	return a.listen(ctx, ctl)
}

func (a *app) play(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	t := tripleFlags(fs)
	file := fs.String("file", "", "play this file instead of a downloaded track")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := *file
	if path == "" {
		if err := requireTriple(t); err != nil {
			return err
		}
		path = a.client.LocalPath(*t)
	}

	ctl := a.controller()
	defer ctl.Close()
	if err := ctl.Select(path); err != nil {
		return err
	}
	return a.listen(ctx, ctl)
}

func (a *app) remove(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	t := tripleFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireTriple(t); err != nil {
		return err
	}
	if err := a.client.Remove(ctx, *t); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "removed")
	return nil
}

func (a *app) controller() *playback.Controller {
	return playback.NewController(playback.NewFFPlay(a.cfg.Client.FFPlayPath, a.cfg.Client.FFProbePath))
}

// listen plays the selected track to the end. Enter toggles pause.
func (a *app) listen(ctx context.Context, ctl *playback.Controller) error {
	if err := ctl.Toggle(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "playing, press Enter to pause or resume, Ctrl-C to stop")

	toggles := make(chan struct{})
	go func() {
		for {
			if _, err := a.in.ReadString('\n'); err != nil {
				return
			}
			toggles <- struct{}{}
		}
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-toggles:
			if err := ctl.Toggle(ctx); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s at %s\n", ctl.State(), ctl.Position().Truncate(time.Second))
		case <-ticker.C:
			if ctl.Tick() == playback.Idle {
				fmt.Fprintln(a.out, "finished")
				return nil
			}
		}
	}
}
