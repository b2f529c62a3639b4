// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/beacon/lib/config"
	"github.com/bureau-foundation/beacon/lib/credential"
	"github.com/bureau-foundation/beacon/lib/secret"
	"github.com/bureau-foundation/beacon/lib/transport"
)

const enrollTimeout = 30 * time.Second

func enrollCommand() *command {
	var configPath, deviceID, phone, tokenPath string
	return &command{
		name:    "enroll",
		summary: "Validate and store the device credentials",
		description: `Check the device credentials with the server and store them.

The server's validate_device endpoint must accept the IMEI, phone
number and token before anything is saved. Stored credentials are
encrypted at rest under the state directory. A running agent picks
up new credentials for the next sample it takes; samples already
queued keep the credentials they were taken with.

The token is read from --token-file, or from stdin when the flag is
"-" (the default), so it never appears in the process list.`,
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("enroll", pflag.ContinueOnError)
			addConfigFlag(flagSet, &configPath)
			flagSet.StringVar(&deviceID, "imei", "", "device IMEI (required)")
			flagSet.StringVar(&phone, "phone", "", "device phone number (required)")
			flagSet.StringVar(&tokenPath, "token-file", "-", `file holding the enrollment token, or "-" for stdin`)
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

			token, err := secret.ReadFromPath(tokenPath)
			if err != nil {
				return fmt.Errorf("reading token: %w", err)
			}
			defer token.Close()

			credentials := credential.Credentials{DeviceID: deviceID, Phone: phone, Token: token.String()}
			return enroll(ctx, cfg, credentials)
		},
	}
}

func enroll(ctx context.Context, cfg *config.Config, credentials credential.Credentials) error {
	if err := credentials.Check(); err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	store, err := credential.OpenFileStore(cfg.CredentialsDir())
	if err != nil {
		return err
	}
	defer store.Close()

	validator, err := credential.NewValidator(transport.NewHTTPSender(enrollTimeout), cfg.ServerRoot)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, enrollTimeout)
	defer cancel()
	if err := credential.Enroll(ctx, validator, store, credentials); err != nil {
		if errors.Is(err, credential.ErrRejected) {
			return fmt.Errorf("the server did not accept these credentials; check the IMEI, phone and token: %w", err)
		}
		return err
	}

	fmt.Printf("enrolled device %s (token %s)\n", credentials.DeviceID, credentials.Fingerprint())
	return nil
}
