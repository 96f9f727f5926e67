package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

var (
	log  *logrus.Logger
	once sync.Once
)

// Init configures the shared logger. Safe to call more than once; only the
// first call takes effect.
func Init(cfg Config) {
	once.Do(func() {
		l := logrus.New()
		l.SetOutput(os.Stdout)

		level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			level = logrus.InfoLevel
		}
		l.SetLevel(level)

		if cfg.Format == "json" {
			l.SetFormatter(&logrus.JSONFormatter{})
		} else {
			l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		}

		log = l
	})
}

// L returns the shared logger, initializing it with defaults if needed.
func L() *logrus.Logger {
	if log == nil {
		Init(Config{Level: "info"})
	}
	return log
}

// WithBatch returns an entry tagged with batch and market identifiers.
func WithBatch(market string, batchID uint64) *logrus.Entry {
	return L().WithFields(logrus.Fields{
		"market":   market,
		"batch_id": batchID,
	})
}

// WithMarket returns an entry tagged with a market identifier.
func WithMarket(market string) *logrus.Entry {
	return L().WithField("market", market)
}
