// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/config"
	"github.com/bureau-foundation/beacon/lib/control"
	"github.com/bureau-foundation/beacon/lib/credential"
	"github.com/bureau-foundation/beacon/lib/location"
	"github.com/bureau-foundation/beacon/lib/lockfile"
	"github.com/bureau-foundation/beacon/lib/queue"
	"github.com/bureau-foundation/beacon/lib/retry"
	"github.com/bureau-foundation/beacon/lib/supervisor"
	"github.com/bureau-foundation/beacon/lib/transport"
	"github.com/bureau-foundation/beacon/lib/version"
)

func runCommand() *command {
	var configPath, logLevel string
	return &command{
		name:    "run",
		summary: "Run the agent in the foreground",
		description: `Run the agent in the foreground until SIGINT or SIGTERM.

On startup the agent returns any delivery interrupted by the previous
process to the queue and, if the agent was Active when that process
exited, starts sampling again. A failed precondition at that point
(no location fix source, not enrolled) is logged and the agent waits
for an explicit 'beacon-agent start'.

Signals stop the loops without changing the saved state. Use
'beacon-agent stop' to make the agent Inactive.`,
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			addConfigFlag(flagSet, &configPath)
			flagSet.StringVar(&logLevel, "log-level", "info", "minimum log level: debug, info, warn or error")
			return flagSet
		},
		run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			logger, err := newLogger(logLevel)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runAgent(ctx, cfg, logger)
		},
	}
}

func runAgent(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	lock, err := lockfile.Acquire(cfg.LockPath())
	if err != nil {
		return fmt.Errorf("another beacon-agent is using %s: %w", cfg.Paths.StateDir, err)
	}
	defer lock.Release()

	policy := retryPolicy(cfg)
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("retry policy: %w", err)
	}

	deliveryQueue, err := queue.Open(queue.Config{
		Path:        cfg.QueuePath(),
		Scheduler:   policy,
		MaxDepth:    cfg.Delivery.MaxQueueDepth,
		AuditRetain: cfg.Delivery.AuditRetain,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer deliveryQueue.Close()

	store, err := credential.OpenFileStore(cfg.CredentialsDir())
	if err != nil {
		return err
	}
	defer store.Close()

	sender := transport.NewHTTPSender(cfg.Delivery.SendTimeout.Std())
	updateURL, err := transport.LocationUpdateURL(cfg.ServerRoot)
	if err != nil {
		return err
	}

	source, err := newSource(cfg, clock.Real(), logger)
	if err != nil {
		return err
	}

	agent, err := supervisor.New(supervisor.Config{
		StatePath:    cfg.StatePath(),
		Queue:        deliveryQueue,
		Source:       source,
		Credentials:  store,
		Sender:       sender,
		URL:          updateURL,
		Cadence:      cadence(cfg),
		Workers:      cfg.Delivery.Workers,
		SendTimeout:  cfg.Delivery.SendTimeout.Std(),
		PollInterval: cfg.Delivery.PollInterval.Std(),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	if schedule := cfg.Credentials.RevalidateSchedule; schedule != "" {
		validator, err := credential.NewValidator(sender, cfg.ServerRoot)
		if err != nil {
			return err
		}
		revalidator := credential.NewRevalidator(store, validator, schedule, logger)
		if err := revalidator.Start(); err != nil {
			return err
		}
		defer revalidator.Stop()
	}

	listener, err := net.Listen("tcp", cfg.Control.Listen)
	if err != nil {
		return fmt.Errorf("control API: %w", err)
	}

	logger.Info("beacon-agent starting",
		"version", version.Short(),
		"environment", cfg.Environment,
		"server_root", cfg.ServerRoot,
		"state_dir", cfg.Paths.StateDir,
		"source", cfg.Sampling.Source,
	)

	if err := agent.Resume(ctx); err != nil {
		var precondition *supervisor.PreconditionError
		if !errors.As(err, &precondition) {
			listener.Close()
			return err
		}
	}
	defer agent.Shutdown()

	if err := control.NewServer(agent, logger).Serve(ctx, listener); err != nil {
		logger.Error("control API stopped", "error", err)
		return err
	}
	logger.Info("beacon-agent exiting")
	return nil
}

func retryPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		BaseDelay:   cfg.Delivery.BaseDelay.Std(),
		MaxDelay:    cfg.Delivery.MaxDelay.Std(),
		MaxAttempts: cfg.Delivery.MaxAttempts,
		Jitter:      cfg.Delivery.Jitter,
	}
}

func cadence(cfg *config.Config) location.Cadence {
	return location.Cadence{
		Min:    cfg.Sampling.MinInterval.Std(),
		Target: cfg.Sampling.TargetInterval.Std(),
	}
}

func newSource(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (location.Source, error) {
	switch cfg.Sampling.Source {
	case config.SourceGPSD:
		return location.NewGPSDSource(cfg.Sampling.GPSDAddr, clk, logger), nil
	case config.SourceFixed:
		return location.NewFixedSource(cfg.Sampling.FixedLat, cfg.Sampling.FixedLng, clk)
	default:
		return nil, fmt.Errorf("unknown sampling source %q", cfg.Sampling.Source)
	}
}
