// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Setup applies level and format ("text" or "json") to the standard logger.
// An unknown level falls back to info.
func Setup(level, format string) {
	SetupWithOutput(level, format, os.Stdout)
}

// SetupWithOutput is Setup writing to w.
func SetupWithOutput(level, format string, w io.Writer) {
	if strings.EqualFold(format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetOutput(w)
	if err != nil && level != "" {
		log.WithField("level", level).Warn("⚠️ Unknown log level, using info")
	}
}
