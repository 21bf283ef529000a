// internal/logging/logging.go - Structured logger setup
package logging

import (
	"io"
	"os"
	"strings"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/shiena/ansicolor"
	"github.com/sirupsen/logrus"

	"github.com/valpere/building_tiles/internal/config"
)

// New creates a logger configured from the logging section.
// Unknown levels fall back to info; verbose forces debug.
func New(cfg config.LoggingConfig) *logrus.Logger {
	return NewWithOutput(cfg, os.Stderr)
}

// NewWithOutput is New with an explicit destination
func NewWithOutput(cfg config.LoggingConfig, out io.Writer) *logrus.Logger {
	log := logrus.New()

	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
		log.SetOutput(out)
	} else {
		log.SetFormatter(&nested.Formatter{
			ShowFullLevel:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
			FieldsOrder:     []string{"pass", "tile", "url", "status"},
		})
		log.SetOutput(ansicolor.NewAnsiColorWriter(out))
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if cfg.Verbose && level < logrus.DebugLevel {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)

	return log
}

// Discard returns a logger that drops every entry
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
