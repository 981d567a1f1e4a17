package vsm

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwarrum-ibm/ibmvsm/config"
	"github.com/sirupsen/logrus"
)

var logFormats = []string{"text", "json"}

type logTimestamps struct {
	format  string
	full    bool
	disable bool
}

// configLogger applies logging.* to l. Nothing is changed unless the whole
// section is valid.
func configLogger(l *logrus.Logger, c *config.C) error {
	level, err := logrus.ParseLevel(strings.ToLower(c.GetString("logging.level", "info")))
	if err != nil {
		return fmt.Errorf("%s; possible levels: %s", err, logrus.AllLevels)
	}

	ts := logTimestamps{
		format:  c.GetString("logging.timestamp_format", ""),
		disable: c.GetBool("logging.disable_timestamp", false),
	}
	ts.full = ts.format != ""
	if !ts.full {
		ts.format = time.RFC3339
	}

	f, err := newLogFormatter(c.GetString("logging.format", "text"), ts)
	if err != nil {
		return err
	}

	l.SetLevel(level)
	l.SetFormatter(f)
	return nil
}

func newLogFormatter(format string, ts logTimestamps) (logrus.Formatter, error) {
	switch format = strings.ToLower(format); format {
	case "text":
		return &logrus.TextFormatter{
			TimestampFormat:  ts.format,
			FullTimestamp:    ts.full,
			DisableTimestamp: ts.disable,
		}, nil
	case "json":
		return &logrus.JSONFormatter{
			TimestampFormat:  ts.format,
			DisableTimestamp: ts.disable,
		}, nil
	default:
		return nil, fmt.Errorf("unknown log format `%s`. possible formats: %s", format, logFormats)
	}
}
