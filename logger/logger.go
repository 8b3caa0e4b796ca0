// Package logger builds the node's logrus logger from its configuration.
package logger

import (
	"io"
	"strings"

	"github.com/evalphobia/logrus_sentry"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config controls log output.
type Config struct {
	Format    string // text or json
	Verbosity int    // 0=fatal, 1=error, 2=warn, 3=info, 4=debug, 5=trace
	Color     bool
	SentryDSN string
}

func DefaultConfig() Config {
	return Config{
		Format:    "text",
		Verbosity: 3,
		Color:     true,
	}
}

var ErrUnknownFormat = errors.New("unknown log format")

// Level maps a verbosity to a logrus level. Out of range values are clamped.
func Level(verbosity int) logrus.Level {
	switch {
	case verbosity < 0:
		verbosity = 0
	case verbosity > 5:
		verbosity = 5
	}
	return logrus.Level(verbosity + 1)
}

// New returns a logger writing to out. With a Sentry DSN, errors and worse
// are also reported to Sentry.
func New(cfg Config, out io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(Level(cfg.Verbosity))

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   cfg.Color,
			DisableColors: !cfg.Color,
		})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, errors.Wrap(ErrUnknownFormat, cfg.Format)
	}

	if cfg.SentryDSN != "" {
		hook, err := logrus_sentry.NewSentryHook(cfg.SentryDSN, []logrus.Level{
			logrus.PanicLevel,
			logrus.FatalLevel,
			logrus.ErrorLevel,
		})
		if err != nil {
			return nil, errors.Wrap(err, "sentry hook")
		}
		hook.StacktraceConfiguration.Enable = true
		log.AddHook(hook)
	}
	return log, nil
}
