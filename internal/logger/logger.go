// Package logger centralises Lighthouse's structured logging, mirroring
// coredhcp's logger.GetLogger(name) pattern (used throughout the teacher,
// e.g. plugins/leasestorage/transient/leases.go's `var log =
// logger.GetLogger("plugins/leasestorage/transient")`) and its go.mod
// logging stack: logrus, a prefixed terminal formatter, a tty-aware
// writer, and a file hook for durable audit lines.
package logger

import (
	"os"
	"sync"

	prefixed "github.com/chappjc/logrus-prefix"
	colorable "github.com/mattn/go-colorable"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	xprefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var (
	root = logrus.New()

	mu        sync.Mutex
	auditHook *lfshook.LfsHook
)

func init() {
	root.SetOutput(colorable.NewColorableStdout())
	root.SetFormatter(&prefixed.TextFormatter{
		FullTimestamp: true,
	})
	root.SetLevel(logrus.InfoLevel)
}

// GetLogger returns a logger scoped to component, tagged with a "prefix"
// field the formatter renders ahead of every message — the same shape as
// coredhcp's per-package loggers.
func GetLogger(component string) *logrus.Entry {
	return root.WithField("prefix", component)
}

// SetLevel adjusts the root logger's verbosity.
func SetLevel(level logrus.Level) {
	root.SetLevel(level)
}

// EnableAuditFile attaches a file hook that copies every Info, Warn and
// Error entry of the root logger to path, among them the "commit seq=..."
// line cmd/lighthouse's onCommit wiring logs for each commit or accepted
// remote push: a secondary, durable sink alongside the terminal formatter.
func EnableAuditFile(path string) error {
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	hook := lfshook.NewHook(lfshook.WriterMap{
		logrus.InfoLevel:  f,
		logrus.WarnLevel:  f,
		logrus.ErrorLevel: f,
	}, &xprefixed.TextFormatter{FullTimestamp: true, DisableColors: true})
	if auditHook != nil {
		root.ReplaceHooks(make(logrus.LevelHooks))
	}
	auditHook = hook
	root.AddHook(hook)
	return nil
}
