package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/periscope-dev/periscope/pkg/backend"
	"github.com/periscope-dev/periscope/pkg/config"
	"github.com/periscope-dev/periscope/pkg/logging"
	"github.com/periscope-dev/periscope/pkg/preview"
	"github.com/periscope-dev/periscope/pkg/session"
	"github.com/periscope-dev/periscope/pkg/stream"
	"github.com/periscope-dev/periscope/pkg/tui"
	"github.com/periscope-dev/periscope/pkg/viewer"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

type startupOptions struct {
	configPath  string
	backendURL  string
	streamURL   string
	startMode   string
	previewBind string
	noPreview   bool
	logLevel    string
	showVersion bool
}

func parseStartupOptions(args []string) (startupOptions, error) {
	var opts startupOptions
	fs := flag.NewFlagSet("periscope", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to config file (YAML)")
	fs.StringVar(&opts.backendURL, "backend", "", "backend base URL (overrides config)")
	fs.StringVar(&opts.streamURL, "stream-url", "", "websocket frame stream URL (overrides derived endpoint)")
	fs.StringVar(&opts.startMode, "mode", "", "starting view mode: stream or poll")
	fs.StringVar(&opts.previewBind, "preview-bind", "", "preview server bind address")
	fs.BoolVar(&opts.noPreview, "no-preview", false, "disable the local preview server")
	fs.StringVar(&opts.logLevel, "log-level", "", "minimum log level: debug, info, warn, error")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

func main() {
	opts, err := parseStartupOptions(os.Args[1:])
	if err != nil {
		os.Exit(1)
	}
	if opts.showVersion {
		fmt.Printf("periscope %s (%s, built %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(2)
	}
	applyFlagOverrides(cfg, opts)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(2)
	}

	sessionID := session.GenerateSessionID("periscope")
	logger, err := logging.NewLogger(cfg.Logging.Dir, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening session log: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()
	logger.SetMinLevel(logging.Level(cfg.Logging.Level))

	client, err := backend.NewClient(cfg.Backend.BaseURL,
		backend.WithLogger(logger),
		backend.WithTimeout(cfg.RequestTimeout()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid backend URL: %v\n", err)
		os.Exit(2)
	}

	streamURL := cfg.Backend.StreamURL
	if streamURL == "" {
		streamURL = client.StreamURL()
	}

	registry := prometheus.NewRegistry()
	conn := stream.New(stream.Config{
		URL:            streamURL,
		ReconnectDelay: cfg.ReconnectDelay(),
		DialTimeout:    cfg.DialTimeout(),
		ReadLimit:      cfg.Stream.ReadLimitBytes,
	}, stream.WithLogger(logger), stream.WithMetrics(stream.NewMetrics(registry)))

	display := &viewer.Display{}
	poller := viewer.NewPoller(cfg.PollInterval(), client.ScreenshotURL, display.Publish, logger)
	startMode, err := viewer.ParseMode(cfg.Viewer.StartMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	ctrl := viewer.NewController(poller, startMode, logger)

	sess := session.New(client, session.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(conn.Run(ctx))
	})
	if cfg.Preview.Enabled {
		srv := preview.NewServer(preview.ServerConfig{
			Bind:     cfg.Preview.Bind,
			Session:  sess,
			Frames:   conn,
			Modes:    ctrl,
			Display:  display,
			Gatherer: registry,
			Logger:   logger,
		})
		g.Go(func() error {
			return srv.Serve(ctx)
		})
	}

	// One-shot: failure is logged and the session runs without it.
	go sess.LoadDebugInfo(ctx, client)

	uiErr := tui.Run(tui.NewModel(sess, conn, ctrl, display))

	stop()
	conn.Close()
	ctrl.Shutdown()

	if err := g.Wait(); err != nil {
		logger.Error(logging.CategoryNetwork, "shutdown_error", "background task failed during shutdown",
			map[string]any{"error": err.Error()})
	}
	if uiErr != nil {
		fmt.Fprintf(os.Stderr, "Error running UI: %v\n", uiErr)
		os.Exit(1)
	}
}

func applyFlagOverrides(cfg *config.Config, opts startupOptions) {
	if opts.backendURL != "" {
		cfg.Backend.BaseURL = opts.backendURL
	}
	if opts.streamURL != "" {
		cfg.Backend.StreamURL = opts.streamURL
	}
	if opts.startMode != "" {
		cfg.Viewer.StartMode = opts.startMode
	}
	if opts.previewBind != "" {
		cfg.Preview.Bind = opts.previewBind
	}
	if opts.noPreview {
		cfg.Preview.Enabled = false
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
}

func ignoreCanceled(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
