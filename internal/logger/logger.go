package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"identityrecon/internal/config"
)

// New builds the process logger from the logging config.
func New(cfg config.LoggingConfig) *logrus.Logger {
	return NewWithOutput(cfg, os.Stdout)
}

// NewWithOutput is New with an explicit destination.
func NewWithOutput(cfg config.LoggingConfig, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)

	if cfg.Format == "text" {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	return log
}

// Audit logs an audit entry tagged log_type=audit so it can be routed separately.
func Audit(log logrus.FieldLogger, level logrus.Level, event string, fields logrus.Fields) {
	log.WithFields(fields).WithFields(logrus.Fields{
		"event":    event,
		"log_type": "audit",
	}).Log(level, event)
}
