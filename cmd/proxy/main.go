// Command proxy is the host side of a hub: it forwards operator commands over
// the serial link, records every event in SQLite and serves a live WebSocket feed.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exepirit/classradio/internal/config"
	"github.com/exepirit/classradio/internal/feed"
	"github.com/exepirit/classradio/internal/log"
	"github.com/exepirit/classradio/internal/store"
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
	port := flag.String("port", "", "Serial port of the hub (overrides proxy.serial_port)")
	database := flag.String("db", "", "SQLite database (overrides proxy.database)")
	listen := flag.String("listen", "", "Live feed address (overrides proxy.listen)")
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
	if *port != "" {
		cfg.Proxy.SerialPort = *port
	}
	if *database != "" {
		cfg.Proxy.Database = *database
	}
	if *listen != "" {
		cfg.Proxy.Listen = *listen
	}
	if err := config.Validate(cfg); err != nil {
		slog.Error("Config validation failed", "error", err)
		os.Exit(1)
	}
	config.Normalize(cfg)

	logger, err := log.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		slog.Error("Cannot create logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	history, err := store.Open(cfg.Proxy.Database)
	if err != nil {
		logger.Error("Database setup failed", "error", err)
		os.Exit(1)
	}
	defer history.Close()
	history.Logger = logger
	logger.Info("Database ready", "path", cfg.Proxy.Database)

	link, err := serial.NewTransport(cfg.Proxy.SerialPort, cfg.Proxy.BaudRate)
	if err != nil {
		logger.Error("Failed to open hub port", "port", cfg.Proxy.SerialPort, "error", err)
		os.Exit(1)
	}
	link.Logger = logger
	defer link.Close()
	hostLink := &classradio.HostLink{Conn: link, Logger: logger}

	live := &feed.Handler{Logger: logger}
	defer live.Close()

	publisher := &classradio.FanOutEventPublisher{}
	publisher.Subscribe(history)
	publisher.Subscribe(live)
	publisher.Subscribe(consolePrinter{w: os.Stdout})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		publisher.PublishAll(gctx, hostLink.Events(gctx))
		return nil
	})

	if cfg.Proxy.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/events", live)
		server := &http.Server{Addr: cfg.Proxy.Listen, Handler: mux}
		g.Go(func() error {
			logger.Info("Live feed listening", "addr", cfg.Proxy.Listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	// a blocked stdin read cannot be interrupted, so the console is not awaited
	go runConsole(gctx, serial.NewStdio(os.Stdin, io.Discard), hostLink, logger)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Proxy stopped", "error", err)
		os.Exit(1)
	}
}

// runConsole reads operator commands and forwards them to the hub.
func runConsole(ctx context.Context, console *serial.StreamTransport, hostLink *classradio.HostLink, logger log.Logger) {
	for {
		line, err := console.ReadLine(ctx)
		if err != nil {
			return
		}
		if len(line) == 0 {
			continue
		}
		cmd, err := parseConsole(string(line))
		if err != nil {
			logger.Warn("Invalid command", "error", err)
			continue
		}
		if err := hostLink.Send(ctx, cmd); err != nil {
			logger.Error("Cannot send command", "command", cmd.Type, "error", err)
		}
	}
}
