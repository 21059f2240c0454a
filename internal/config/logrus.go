package config

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	logg *logrus.Logger
)

func GetLogger() *logrus.Logger {
	return logg
}

func init() {
	logg = logrus.New()
	logg.SetFormatter(&logrus.JSONFormatter{})
	logg.SetLevel(parseLevel(os.Getenv("LOG_LEVEL")))
	logg.SetOutput(os.Stdout)
}

// SetLogLevel changes the process logger level; unknown names fall back to info.
func SetLogLevel(name string) {
	logg.SetLevel(parseLevel(name))
}

func parseLevel(name string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(name))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// LogError accepts a *logrus.Logger or an Entry that already carries request
// fields.
func LogError(logger logrus.FieldLogger, moduleName string, funcName string, context string, data any, err error) {
	fields := logrus.Fields{
		"module":   moduleName,
		"funcName": funcName,
		"context":  context,
	}
	if data != nil {
		fields["data"] = data
	}
	logger.WithFields(fields).Error(err.Error())
}
