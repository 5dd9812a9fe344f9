// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command wa-stickerbot is a WhatsApp bot that turns images into stickers
// and videos into looping GIFs. It links to a phone as a companion device
// by QR code and exposes a small control API for health checks, pairing
// and restarts.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.mau.fi/util/exzerolog"

	"github.com/aiku/wa-stickerbot/pkg/connector"
	"github.com/aiku/wa-stickerbot/pkg/connector/wanet"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const name = "wa-stickerbot"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var generateConfig, noUpdate, showVersion bool

	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	flagSet.BoolVarP(&generateConfig, "generate-example-config", "e", false, "write the example config to --config and exit")
	flagSet.BoolVar(&noUpdate, "no-update", false, "don't write the upgraded config back to disk")
	flagSet.BoolVar(&showVersion, "version", false, "print the version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("%s %s (commit %s, built %s)\n", name, Tag, Commit, BuildTime)
		return nil
	}
	if generateConfig {
		if err := os.WriteFile(configPath, []byte(connector.ExampleConfig), 0o600); err != nil {
			return fmt.Errorf("failed to write example config: %w", err)
		}
		fmt.Printf("Wrote example config to %s\n", configPath)
		return nil
	}

	cfg, err := connector.LoadConfig(configPath, !noUpdate)
	if err != nil {
		return err
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	exzerolog.SetupDefaults(log)
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("built_at", BuildTime).
		Msg("Starting WhatsApp sticker bot")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory := wanet.NewFactory(cfg, *log)
	defer func() {
		if err := factory.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close credential store")
		}
	}()

	bot := connector.NewStickerConnector(cfg, factory, *log)
	if err := bot.Start(ctx); err != nil {
		return err
	}
	defer bot.Stop()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		return nil
	case err := <-bot.Fatal():
		return err
	}
}
