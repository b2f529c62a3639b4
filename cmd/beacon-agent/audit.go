// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/beacon/lib/queue"
)

func auditCommand() *command {
	var configPath string
	var limit int
	return &command{
		name:    "audit",
		summary: "List samples that were given up on",
		description: `List the most recent samples that left the queue undelivered:
abandoned after the retry budget ran out, or evicted when the queue
reached max_queue_depth. Tokens are not recorded.

Reads the queue database directly; the agent may be running.`,
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("audit", pflag.ContinueOnError)
			addConfigFlag(flagSet, &configPath)
			flagSet.IntVar(&limit, "limit", 20, "number of records to show")
			return flagSet
		},
		run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			deliveryQueue, err := queue.Open(queue.Config{
				Path:      cfg.QueuePath(),
				Scheduler: retryPolicy(cfg),
			})
			if err != nil {
				return err
			}
			defer deliveryQueue.Close()

			records, err := deliveryQueue.DeadLetters(ctx, limit)
			if err != nil {
				return err
			}
			printDeadLetters(os.Stdout, records)
			return nil
		},
	}
}

func printDeadLetters(w io.Writer, records []queue.DeadLetter) {
	if len(records) == 0 {
		fmt.Fprintln(w, "no undelivered samples recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED\tCAPTURED\tLAT,LNG\tATTEMPTS\tREASON\tLAST ERROR")
	for _, record := range records {
		fmt.Fprintf(tw, "%s\t%s\t%.5f,%.5f\t%d\t%s\t%s\n",
			record.RecordedAt.Local().Format(time.DateTime),
			record.CapturedAt.Local().Format(time.DateTime),
			record.Lat, record.Lng,
			record.Attempts,
			record.Reason,
			record.LastError,
		)
	}
	tw.Flush()
}
