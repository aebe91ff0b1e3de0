// Package logging builds the logrus logger shared by the services.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/smukkama/beehive-server/pkg/config"
)

// New creates a logger writing to stderr. An unknown level falls back to info.
func New(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
