// Package logging configures the process-wide structured logger from the
// bridge configuration. Components attach themselves with
// logrus.WithField("component", ...) entries.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"

	"gor2m/pkg/types"
)

// Apply sets the global log level and formatter. It is called at startup and
// again at configuration reload points so a level change takes effect without
// a restart. Unknown levels fall back to info.
func Apply(cfg *types.LoggingSettings) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}
}
