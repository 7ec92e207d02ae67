// Command estudiante simulates one student device. Button presses are read
// from stdin, one per line (a, b, ab, cfg+a, cfg+b, logo).
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/exepirit/classradio/internal/config"
	"github.com/exepirit/classradio/internal/log"
	"github.com/exepirit/classradio/internal/radio"
	"github.com/exepirit/classradio/pkg/classradio"
	"github.com/exepirit/classradio/pkg/classradio/serial"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// parse CLI flags
	configPath := flag.String("config", "classradio.yaml", "Configuration file")
	envFile := flag.String("env", ".env", "Dotenv file")
	idHex := flag.String("id", "", "Device identity in hex (random when empty)")
	deviceFile := flag.String("device-config", "", "Device config file (overrides device.config_file)")
	voteFile := flag.String("vote-file", "", "Vote state file (overrides device.vote_file)")
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
	if *deviceFile != "" {
		cfg.Device.ConfigFile = *deviceFile
	}
	if *voteFile != "" {
		cfg.Device.VoteFile = *voteFile
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
	settings := cfg.Settings()

	id := classradio.RandomIdentity()
	if *idHex != "" {
		id = classradio.Identity(*idHex)
	}

	deviceConfig := classradio.NewDeviceConfig(cfg.Device.ConfigFile, settings.Roles, settings.MaxGroup, logger)
	if !deviceConfig.Load() {
		deviceConfig.Save()
	}
	votes := classradio.NewStore(cfg.Device.VoteFile, classradio.VoteFields(), logger)
	votes.Load()

	r, closeRadio, err := radio.Open(cfg.Radio.URL, "estudiante", logger)
	if err != nil {
		logger.Error("Failed to open radio", "error", err)
		os.Exit(1)
	}
	defer closeRadio()

	device := classradio.NewDevice(classradio.DeviceOptions{
		Identity: id,
		Config:   deviceConfig,
		Votes:    votes,
		Settings: settings,
		Radio:    r,
		Display:  consoleDisplay{w: os.Stdout},
		Logger:   logger,
	})
	logger.Info("Device ready", "deviceID", id, "group", deviceConfig.Group(), "role", deviceConfig.Role())

	inputs := make(chan classradio.Input, 4)
	console := serial.NewStdio(os.Stdin, io.Discard)

	// a blocked stdin read cannot be interrupted, so the console is not awaited
	go func() {
		for {
			line, err := console.ReadLine(ctx)
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					logger.Error("Console closed", "error", err)
				}
				return
			}
			if len(line) == 0 {
				continue
			}
			in, err := parseInput(string(line))
			if err != nil {
				logger.Warn("Ignoring input", "error", err)
				continue
			}
			select {
			case inputs <- in:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := device.Run(ctx, inputs); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Device stopped", "error", err)
		os.Exit(1)
	}
}
