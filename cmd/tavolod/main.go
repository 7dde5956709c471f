// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

// tavolod is the tavolo node daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/cobra"
	"gopkg.in/op/go-logging.v1"

	"github.com/tavolo/tavolo/config"
	"github.com/tavolo/tavolo/core/crypto"
	"github.com/tavolo/tavolo/core/log"
	"github.com/tavolo/tavolo/correlate"
	"github.com/tavolo/tavolo/internal/instrument"
	"github.com/tavolo/tavolo/relay"
	"github.com/tavolo/tavolo/reserve"
	"github.com/tavolo/tavolo/store"
)

func newRootCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:     "tavolod",
		Short:   "Tavolo node daemon",
		Version: versioninfo.Short(),
		Long: `tavolod publishes this establishment's profile and menu records to the
configured relays and keeps a subscription open for wrapped messages
addressed to its identity: reservation requests from external agents and
confirmations for requests this node has sent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to the node configuration file (TOML format)")
	cmd.MarkFlagRequired("config")

	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tavolod: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}

	logBackend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return err
	}
	logger := logBackend.GetLogger("tavolod")

	keys, err := loadOrCreateIdentity(dataPath(cfg, cfg.IdentityFile))
	if err != nil {
		return err
	}
	logger.Noticef("tavolod %s, identity %s", versioninfo.Short(), keys.PublicHex())

	recordStore, err := store.Open(dataPath(cfg, cfg.StoreFile), logBackend)
	if err != nil {
		return err
	}
	defer recordStore.Close()

	if cfg.Debug.MetricsAddress != "" {
		instrument.StartMetricsServer(cfg.Debug.MetricsAddress)
	}

	dialer := new(relay.WebSocketDialer)
	publisher := relay.NewPublisher(dialer, logBackend)
	correlator := correlate.NewCorrelator(logBackend)
	defer correlator.Stop()

	service := reserve.New(&reserve.Config{
		Keys:            keys,
		Relays:          cfg.Relays,
		Publisher:       publisher,
		Correlator:      correlator,
		Store:           recordStore,
		OnRequest:       acceptAllRequests(logger),
		PublishTimeout:  time.Duration(cfg.Debug.PublishTimeout) * time.Second,
		ResponseTimeout: time.Duration(cfg.Debug.ResponseTimeout) * time.Second,
		LogBackend:      logBackend,
	})
	defer service.Shutdown()

	subscriber := relay.NewSubscriber(&relay.SubscriberConfig{
		RelayURLs:      cfg.Relays,
		Keys:           keys,
		Dialer:         dialer,
		ReconnectDelay: time.Duration(cfg.Debug.ReconnectDelay) * time.Second,
		OnRumor:        service.HandleInbound,
		OnError: func(url string, err error) {
			logger.Warningf("%s: %v", url, err)
		},
		LogBackend: logBackend,
	})
	subscriber.Start()
	defer subscriber.Stop()

	if cfg.Venue.Name != "" {
		result, err := service.PublishProfile(context.Background(), &reserve.Profile{
			Name:    cfg.Venue.Name,
			About:   cfg.Venue.About,
			Address: cfg.Venue.Address,
		})
		if err != nil {
			return err
		}
		logger.Noticef("Published venue profile to %d/%d relays", result.SuccessCount, result.Total)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			if err := logBackend.Rotate(); err != nil {
				logger.Errorf("Failed to rotate log: %v", err)
			}
			continue
		}
		logger.Noticef("Received %v, shutting down", sig)
		break
	}
	return nil
}

func dataPath(cfg *config.Config, f string) string {
	if filepath.IsAbs(f) {
		return f
	}
	return filepath.Join(cfg.DataDir, f)
}

// loadOrCreateIdentity reads the identity seed, generating and persisting a
// fresh one on first run.
func loadOrCreateIdentity(path string) (*crypto.Keypair, error) {
	seed, err := os.ReadFile(path)
	switch {
	case err == nil:
		return crypto.KeypairFromSeed(seed)
	case errors.Is(err, os.ErrNotExist):
		keys, err := crypto.NewKeypair()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, keys.Seed(), 0600); err != nil {
			return nil, err
		}
		return keys, nil
	default:
		return nil, err
	}
}

// acceptAllRequests is the default handler until a booking policy is wired
// up: everything is confirmed.
func acceptAllRequests(logger *logging.Logger) reserve.RequestHandler {
	return func(from string, req *reserve.Request) *reserve.Confirmation {
		logger.Noticef("Reservation request from %s: party of %d", from, req.PartySize)
		return &reserve.Confirmation{
			Status:  "confirmed",
			Message: "See you then.",
		}
	}
}
