package logging

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the process logger. Format is "text" or "json".
func New(level, format string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	log.SetLevel(lvl)

	switch format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return log, nil
}
