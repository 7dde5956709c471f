// log.go - Logging backend.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package log provides a logging backend, based around the go-logging package.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/op/go-logging.v1"
)

type discardCloser struct {
	io.WriteCloser
}

func (d *discardCloser) Write(p []byte) (int, error) {
	return len(p), nil
}

func (d *discardCloser) Close() error {
	return nil
}

// Backend is a log backend.
type Backend struct {
	logging.LeveledBackend
	sync.RWMutex

	_backend logging.LeveledBackend
	w        io.WriteCloser

	file    string
	level   string
	disable bool
}

// Log is used to log a message as per the logging.Backend interface.
func (b *Backend) Log(level logging.Level, calldepth int, record *logging.Record) error {
	b.RLock()
	defer b.RUnlock()
	return b._backend.Log(level, calldepth, record)
}

// GetLevel returns the logging level for the specified module as per the
// logging.Leveled interface.
func (b *Backend) GetLevel(module string) logging.Level {
	b.RLock()
	defer b.RUnlock()
	return b._backend.GetLevel(module)
}

// SetLevel sets the logging level for the specified module.  The module
// corresponds to the string specified in GetLogger.
func (b *Backend) SetLevel(level logging.Level, module string) {
	b.RLock()
	defer b.RUnlock()
	b._backend.SetLevel(level, module)
}

// IsEnabledFor returns true if the logger is enabled for the given level.
func (b *Backend) IsEnabledFor(level logging.Level, module string) bool {
	b.RLock()
	defer b.RUnlock()
	return b._backend.IsEnabledFor(level, module)
}

// GetLogger returns a per-module logger that writes to the backend.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b)
	return l
}

// Rotate reopens the log file for writing and should be used to implement
// log rotation, invoked upon a HUP signal for example.
func (b *Backend) Rotate() error {
	b.Lock()
	defer b.Unlock()

	if err := b.w.Close(); err != nil {
		return err
	}
	return b.newBackend()
}

func (b *Backend) newBackend() error {
	lvl, err := logLevelFromString(b.level)
	if err != nil {
		return err
	}

	// Figure out where the log should go to, creating a log file as needed.
	if b.disable {
		b.w = new(discardCloser)
	} else if b.file == "" {
		b.w = os.Stdout
	} else {
		const fileMode = 0600

		flags := os.O_CREATE | os.O_APPEND | os.O_WRONLY
		b.w, err = os.OpenFile(b.file, flags, fileMode)
		if err != nil {
			return fmt.Errorf("log: failed to create log file: %v", err)
		}
	}

	logFmt := logging.MustStringFormatter("%{time:15:04:05.000} %{level:.4s} %{module}: %{message}")
	base := logging.NewLogBackend(b.w, "", 0)
	formatted := logging.NewBackendFormatter(base, logFmt)
	b._backend = logging.AddModuleLevel(formatted)
	b._backend.SetLevel(lvl, "")
	return nil
}

// New initializes a logging backend.
func New(f string, level string, disable bool) (*Backend, error) {
	b := new(Backend)
	b.file = f
	b.level = level
	b.disable = disable
	if err := b.newBackend(); err != nil {
		return nil, err
	}
	return b, nil
}

func logLevelFromString(l string) (logging.Level, error) {
	switch strings.ToUpper(l) {
	case "ERROR":
		return logging.ERROR, nil
	case "WARNING":
		return logging.WARNING, nil
	case "NOTICE":
		return logging.NOTICE, nil
	case "INFO":
		return logging.INFO, nil
	case "DEBUG":
		return logging.DEBUG, nil
	default:
		return logging.CRITICAL, fmt.Errorf("log: invalid level: '%v'", l)
	}
}
