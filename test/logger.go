package test

import (
	"bytes"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var testLogLevels = map[string]logrus.Level{
	"2": logrus.DebugLevel,
	"3": logrus.TraceLevel,
}

// NewLogger returns a logger for tests. Output is discarded unless TEST_LOGS
// is set, TEST_LOGS=2 logs at debug and 3 at trace.
func NewLogger() *logrus.Logger {
	l := logrus.New()

	v := os.Getenv("TEST_LOGS")
	if v == "" {
		l.SetOutput(io.Discard)
		return l
	}

	level, ok := testLogLevels[v]
	if !ok {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	return l
}

// NewBufferLogger returns a logger writing plain text lines without
// timestamps into the returned buffer.
func NewBufferLogger() (*logrus.Logger, *bytes.Buffer) {
	out := &bytes.Buffer{}
	l := logrus.New()
	l.SetOutput(out)
	l.Formatter = &logrus.TextFormatter{DisableTimestamp: true, DisableColors: true}
	return l, out
}
