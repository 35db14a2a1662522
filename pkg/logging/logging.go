// Package logging builds the logrus loggers shared by larder components.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config selects log level and output format.
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// New returns a logger writing to stderr. Unknown levels fall back to info.
func New(cfg Config) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// OrDiscard returns l, or a logger that drops everything when l is nil.
func OrDiscard(l *logrus.Logger) *logrus.Logger {
	if l != nil {
		return l
	}
	d := logrus.New()
	d.SetOutput(io.Discard)
	return d
}
