// config.go - Tavolo node configuration.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package config implements the configuration for a tavolo node.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	defaultLogLevel        = "NOTICE"
	defaultPublishTimeout  = 30 // seconds
	defaultReconnectDelay  = 5  // seconds
	defaultResponseTimeout = 30 // seconds
	defaultStoreFile       = "records.db"
	defaultIdentityFile    = "identity.seed"
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

// Venue describes the establishment this node publishes records for.
type Venue struct {
	// Name is the restaurant's display name.
	Name string

	// About is a short free-form description.
	About string

	// Address is the street address.
	Address string
}

// Debug holds the knobs that default sensibly and rarely need touching.
type Debug struct {
	// PublishTimeout is the per-relay publish acknowledgment deadline in
	// seconds.
	PublishTimeout int

	// ReconnectDelay is the fixed delay in seconds before a dropped
	// relay link is redialed.
	ReconnectDelay int

	// ResponseTimeout is the reservation round-trip deadline in seconds,
	// override-able per call.
	ResponseTimeout int

	// MetricsAddress, when set, serves the Prometheus scrape endpoint.
	MetricsAddress string
}

func (d *Debug) fixup() {
	if d.PublishTimeout == 0 {
		d.PublishTimeout = defaultPublishTimeout
	}
	if d.ReconnectDelay == 0 {
		d.ReconnectDelay = defaultReconnectDelay
	}
	if d.ResponseTimeout == 0 {
		d.ResponseTimeout = defaultResponseTimeout
	}
}

// Config is the top level tavolo node configuration.
type Config struct {
	// DataDir is the directory holding the identity seed and the record
	// store.
	DataDir string

	// Relays is the list of relay URLs this node publishes to and
	// subscribes on.
	Relays []string

	// IdentityFile is the identity seed file, relative to DataDir unless
	// absolute.
	IdentityFile string

	// StoreFile is the record store file, relative to DataDir unless
	// absolute.
	StoreFile string

	Venue   Venue
	Logging *Logging
	Debug   *Debug
}

// FixupAndValidate applies defaults and checks the configuration for
// errors.
func (c *Config) FixupAndValidate() error {
	if c.Logging == nil {
		c.Logging = &defaultLogging
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}
	if c.Debug == nil {
		c.Debug = &Debug{}
	}
	c.Debug.fixup()

	if c.DataDir == "" {
		return errors.New("config: DataDir is not set")
	}
	if len(c.Relays) == 0 {
		return errors.New("config: no Relays configured")
	}
	for _, u := range c.Relays {
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return fmt.Errorf("config: relay URL '%v' is not a ws:// or wss:// URL", u)
		}
	}
	if c.IdentityFile == "" {
		c.IdentityFile = defaultIdentityFile
	}
	if c.StoreFile == "" {
		c.StoreFile = defaultStoreFile
	}
	return nil
}

// Load parses and validates b as a config body.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
