package util

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ContextualError carries the message and fields an error should be logged
// with, so the code that finally logs it does not need to know where it came
// from.
type ContextualError struct {
	RealError error
	Fields    map[string]any
	Context   string
}

func NewContextualError(msg string, fields map[string]any, realError error) *ContextualError {
	return &ContextualError{Context: msg, Fields: fields, RealError: realError}
}

// ContextualizeIfNeeded wraps err under msg unless its chain already holds a
// ContextualError.
func ContextualizeIfNeeded(msg string, err error) error {
	var ce *ContextualError
	if errors.As(err, &ce) {
		return err
	}
	return NewContextualError(msg, nil, err)
}

// LogWithContextIfNeeded logs the first ContextualError in err's chain with its
// own message and fields, anything else is logged under msg.
func LogWithContextIfNeeded(msg string, err error, l logrus.FieldLogger) {
	var ce *ContextualError
	if errors.As(err, &ce) {
		ce.Log(l)
		return
	}
	l.WithError(err).Error(msg)
}

func (ce *ContextualError) Error() string {
	s := ce.Context
	if len(ce.Fields) > 0 {
		s = fmt.Sprintf("%s (%v)", s, ce.Fields)
	}
	if ce.RealError != nil {
		s += ": " + ce.RealError.Error()
	}
	return s
}

func (ce *ContextualError) Unwrap() error {
	return ce.RealError
}

// Log writes the error as a single error level line.
func (ce *ContextualError) Log(l logrus.FieldLogger) {
	e := l.WithFields(ce.Fields)
	if ce.RealError != nil {
		e = e.WithError(ce.RealError)
	}
	e.Error(ce.Context)
}
