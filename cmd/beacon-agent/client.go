// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/beacon/lib/control"
	"github.com/bureau-foundation/beacon/lib/supervisor"
)

// clientFlags are shared by the commands that talk to a running agent.
type clientFlags struct {
	configPath string
	address    string
	jsonOutput bool
}

func (f *clientFlags) flagSet(name string) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	addConfigFlag(flagSet, &f.configPath)
	flagSet.StringVar(&f.address, "address", "", "control API address (default: control.listen from config, or 127.0.0.1:7411)")
	flagSet.BoolVar(&f.jsonOutput, "json", false, "print the status as JSON")
	return flagSet
}

// call resolves the agent address, runs action against it and prints
// the resulting status.
func (f *clientFlags) call(ctx context.Context, args []string, action func(*control.Client, context.Context) (supervisor.Status, error)) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	address, err := controlAddress(f.address, f.configPath)
	if err != nil {
		return err
	}
	status, err := action(control.NewClient(address), ctx)
	if err != nil {
		return err
	}
	if f.jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(status)
	}
	printStatus(os.Stdout, status)
	return nil
}

func startCommand() *command {
	var flags clientFlags
	return &command{
		name:    "start",
		summary: "Make the agent Active",
		description: `Ask the running agent to start sampling and delivering.

The agent refuses when the location source is unavailable or the
device is not enrolled; the reason is printed and nothing changes.
The Active state is saved and survives restarts.`,
		flags: func() *pflag.FlagSet { return flags.flagSet("start") },
		run: func(ctx context.Context, args []string) error {
			return flags.call(ctx, args, (*control.Client).Start)
		},
	}
}

func stopCommand() *command {
	var flags clientFlags
	return &command{
		name:    "stop",
		summary: "Make the agent Inactive",
		description: `Ask the running agent to stop sampling and delivering.

Queued samples stay queued and are delivered after the next start.
Returns once any delivery attempt in progress has finished.`,
		flags: func() *pflag.FlagSet { return flags.flagSet("stop") },
		run: func(ctx context.Context, args []string) error {
			return flags.call(ctx, args, (*control.Client).Stop)
		},
	}
}

func statusCommand() *command {
	var flags clientFlags
	return &command{
		name:    "status",
		summary: "Show the agent's state and queue",
		flags:   func() *pflag.FlagSet { return flags.flagSet("status") },
		run: func(ctx context.Context, args []string) error {
			return flags.call(ctx, args, (*control.Client).Status)
		},
	}
}

func printStatus(w io.Writer, status supervisor.Status) {
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	state := status.State
	if !status.Since.IsZero() {
		state = fmt.Sprintf("%s since %s", state, status.Since.Local().Format(time.DateTime))
	}
	fmt.Fprintf(tw, "state:\t%s\n", state)
	fmt.Fprintf(tw, "samples:\taccepted %d, throttled %d, dropped %d\n",
		status.SamplesAccepted, status.SamplesThrottled, status.SamplesDropped)
	fmt.Fprintf(tw, "this run:\tdelivered %d, retried %d, abandoned %d\n",
		status.Delivery.Delivered, status.Delivery.Retried, status.Delivery.Abandoned)
	fmt.Fprintf(tw, "queue:\tpending %d, in flight %d\n", status.Queue.Pending, status.Queue.InFlight)
	fmt.Fprintf(tw, "lifetime:\tdelivered %d, abandoned %d, evicted %d\n",
		status.Queue.Delivered, status.Queue.Abandoned, status.Queue.Evicted)
	tw.Flush()
}
