// Package logging builds the application and audit loggers.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/axelsamuelson/crowdvine-sub005/internal/config"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// Loggers holds the two log streams. App is operational output on stdout.
// Audit records pallet transitions and admin actions to a rotated file.
type Loggers struct {
	App   *logrus.Logger
	Audit *logrus.Logger

	rotator *lumberjack.Logger
}

type Option func(*options)

type options struct {
	console io.Writer
}

// WithConsole replaces stdout as the console stream. palletctl logs to stderr
// so its own output stays parseable.
func WithConsole(w io.Writer) Option {
	return func(o *options) {
		o.console = w
	}
}

// New builds both loggers from cfg. An empty AuditLogFile sends audit records
// to the console only.
func New(cfg config.Config, opts ...Option) (*Loggers, error) {
	o := options{console: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	l := &Loggers{App: newLogger(level, cfg.LogFormat, o.console)}

	var auditOut io.Writer = o.console
	if cfg.AuditLogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.AuditLogFile), 0o755); err != nil {
			return nil, fmt.Errorf("audit log dir: %w", err)
		}
		l.rotator = &lumberjack.Logger{
			Filename:   cfg.AuditLogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		}
		auditOut = io.MultiWriter(l.rotator, o.console)
	}
	// Audit records are always JSON so they can be shipped as-is.
	l.Audit = newLogger(logrus.InfoLevel, "json", auditOut)
	return l, nil
}

func newLogger(level logrus.Level, format string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(level)
	log.SetFormatter(formatter(format))
	return log
}

func formatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "text") {
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		}
	}
	return &logrus.JSONFormatter{
		TimestampFormat: timestampFormat,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	}
}

// Close flushes and closes the audit file.
func (l *Loggers) Close() error {
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Close()
}

// Action logs one admin action on the audit stream.
func Action(audit logrus.FieldLogger, actor, action, resource, resourceID string, fields logrus.Fields) {
	entry := audit.WithFields(logrus.Fields{
		"audit":       true,
		"actor":       actor,
		"action":      action,
		"resource":    resource,
		"resource_id": resourceID,
	})
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Info("admin action")
}
