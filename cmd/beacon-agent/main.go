// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// beacon-agent samples the device location and delivers it to the
// telemetry server, surviving network loss and process restarts.
//
// "beacon-agent run" is the long-running process (started by systemd
// or an init script). The other subcommands talk to it or manage its
// on-disk state.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/beacon/lib/config"
	"github.com/bureau-foundation/beacon/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := root().execute(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func root() *command {
	return &command{
		name: "beacon-agent",
		description: `Durable location telemetry agent.

Samples the device location on a fixed cadence, queues each sample in
a local SQLite database, and delivers it to the telemetry server with
exponential backoff until the server accepts it or the retry budget
runs out. The Active/Inactive state survives restarts.`,
		subcommands: []*command{
			runCommand(),
			startCommand(),
			stopCommand(),
			statusCommand(),
			enrollCommand(),
			auditCommand(),
			versionCommand(),
		},
		examples: []example{
			{"Enroll the device, reading the token from stdin", "beacon-agent enroll --imei 356938035643809 --phone +15550100 < token"},
			{"Run the agent", "beacon-agent run --config /etc/beacon/beacon.yaml"},
			{"Start sampling", "beacon-agent start"},
		},
	}
}

func versionCommand() *command {
	return &command{
		name:    "version",
		summary: "Print version information",
		run: func(_ context.Context, _ []string) error {
			fmt.Printf("beacon-agent %s\n", version.Full())
			return nil
		},
	}
}

// addConfigFlag registers --config on flagSet.
func addConfigFlag(flagSet *pflag.FlagSet, path *string) {
	flagSet.StringVar(path, "config", "", "path to beacon.yaml (default: $BEACON_CONFIG)")
}

// loadConfig loads and validates the config from path, or from
// BEACON_CONFIG when path is empty.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%w", err)
	}
	return cfg, nil
}

// controlAddress resolves the control API address for client
// commands: --address, then the config file when one is named, then
// the default.
func controlAddress(address, configPath string) (string, error) {
	if address != "" {
		return address, nil
	}
	if configPath == "" && os.Getenv("BEACON_CONFIG") == "" {
		return config.Default().Control.Listen, nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	if cfg.Control.Listen == "" {
		return "", errors.New("control.listen is empty in config")
	}
	return cfg.Control.Listen, nil
}
