// Command concentrador runs the classroom hub: it drives the devices over the
// radio and talks to its host with JSON lines over stdio or a serial port.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/exepirit/classradio/internal/config"
	"github.com/exepirit/classradio/internal/log"
	"github.com/exepirit/classradio/internal/radio"
	"github.com/exepirit/classradio/pkg/classradio"
	"github.com/exepirit/classradio/pkg/classradio/serial"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// parse CLI flags
	configPath := flag.String("config", "classradio.yaml", "Configuration file")
	envFile := flag.String("env", ".env", "Dotenv file")
	host := flag.String("host", "", "Host link: stdio or a serial port (overrides hub.host)")
	flag.Parse()

	if err := config.LoadEnv(*envFile); err != nil {
		slog.Error("Cannot load environment", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Config load failed", "error", err)
		os.Exit(1)
	}
	config.ApplyEnv(cfg)
	if *host != "" {
		cfg.Hub.Host = *host
	}
	if err := config.Validate(cfg); err != nil {
		slog.Error("Config validation failed", "error", err)
		os.Exit(1)
	}
	config.Normalize(cfg)

	// stdout may carry the host link; logs always go to stderr
	logger, err := log.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		slog.Error("Cannot create logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	settings := cfg.Settings()
	if err := settings.Validate(); err != nil {
		logger.Error("Invalid protocol settings", "error", err)
		os.Exit(1)
	}

	logger.Info("Connecting to radio...", "url", cfg.Radio.URL)
	r, closeRadio, err := radio.Open(cfg.Radio.URL, "concentrador", logger)
	if err != nil {
		logger.Error("Failed to open radio", "error", err)
		os.Exit(1)
	}
	defer closeRadio()

	var link *serial.StreamTransport
	if cfg.Hub.Host == "stdio" {
		link = serial.NewStdio(os.Stdin, os.Stdout)
	} else {
		link, err = serial.NewTransport(cfg.Hub.Host, cfg.Hub.BaudRate)
		if err != nil {
			logger.Error("Failed to open host port", "port", cfg.Hub.Host, "error", err)
			os.Exit(1)
		}
	}
	link.Logger = logger
	defer link.Close()

	bridge := &classradio.HubBridge{Conn: link, Logger: logger}
	hub := classradio.NewHub(classradio.HubOptions{
		Settings:     settings,
		Radio:        r,
		Sink:         bridge,
		RegistryFile: cfg.Hub.RegistryFile,
		Logger:       logger,
	})
	hub.LoadRegistry()

	// a blocked stdin read cannot be interrupted, so the bridge is not awaited
	go func() {
		if err := bridge.Serve(ctx, hub); err != nil && ctx.Err() == nil {
			logger.Error("Host link closed", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		return pressButtons(gctx, hub, logger)
	})

	logger.Info("Hub ready", "host", cfg.Hub.Host, "devices", hub.Registry().Len())
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Hub stopped", "error", err)
		os.Exit(1)
	}
}

// pressButtons maps SIGUSR1 and SIGUSR2 to the hub's A and B buttons.
func pressButtons(ctx context.Context, hub *classradio.Hub, logger log.Logger) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(signals)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-signals:
			button := classradio.ButtonA
			if sig == syscall.SIGUSR2 {
				button = classradio.ButtonB
			}
			if !hub.Press(button) {
				logger.Info("Button ignored", "button", button)
			}
		}
	}
}
