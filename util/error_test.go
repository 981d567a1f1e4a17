package util

import (
	"errors"
	"fmt"
	"testing"

	"github.com/bwarrum-ibm/ibmvsm/test"
	"github.com/stretchr/testify/assert"
)

type m = map[string]any

var errRegister = errors.New("registration failed")

func TestContextualError_Log(t *testing.T) {
	tests := []struct {
		name string
		err  *ContextualError
		want string
	}{
		{
			name: "message fields and error",
			err:  NewContextualError("Failed to register the queue", m{"device": "vsm0"}, errRegister),
			want: "level=error msg=\"Failed to register the queue\" device=vsm0 error=\"registration failed\"\n",
		},
		{
			name: "message and error",
			err:  NewContextualError("Failed to register the queue", nil, errRegister),
			want: "level=error msg=\"Failed to register the queue\" error=\"registration failed\"\n",
		},
		{
			name: "message and fields",
			err:  NewContextualError("vterm.slots must be at least 1", m{"slots": 0}, nil),
			want: "level=error msg=\"vterm.slots must be at least 1\" slots=0\n",
		},
		{
			name: "just a message",
			err:  NewContextualError("No platform to attach devices to", nil, nil),
			want: "level=error msg=\"No platform to attach devices to\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, out := test.NewBufferLogger()
			tt.err.Log(l)
			assert.Equal(t, tt.want, out.String())

			// An entry keeps its own fields
			out.Reset()
			tt.err.Log(l.WithField("subsystem", "vsm"))
			assert.Contains(t, out.String(), "subsystem=vsm")
		})
	}
}

func TestContextualError_Error(t *testing.T) {
	e := NewContextualError("Failed to register the queue", m{"device": "vsm0", "rc": 2}, errRegister)
	assert.Equal(t, "Failed to register the queue (map[device:vsm0 rc:2]): registration failed", e.Error())
	assert.ErrorIs(t, e, errRegister)

	e = NewContextualError("No platform to attach devices to", nil, nil)
	assert.Equal(t, "No platform to attach devices to", e.Error())
	assert.Nil(t, e.Unwrap())
}

func TestLogWithContextIfNeeded(t *testing.T) {
	l, out := test.NewBufferLogger()

	// The contextual error is found even when wrapped
	e := NewContextualError("Failed to register the queue", m{"device": "vsm0"}, errRegister)
	LogWithContextIfNeeded("This should get thrown away", fmt.Errorf("probe: %w", e), l)
	assert.Equal(t, "level=error msg=\"Failed to register the queue\" device=vsm0 error=\"registration failed\"\n", out.String())

	out.Reset()
	LogWithContextIfNeeded("Failed to attach vsm0", errors.New("plain error"), l)
	assert.Equal(t, "level=error msg=\"Failed to attach vsm0\" error=\"plain error\"\n", out.String())
}

func TestContextualizeIfNeeded(t *testing.T) {
	e := NewContextualError("Failed to register the queue", nil, errRegister)
	assert.Same(t, e, ContextualizeIfNeeded("should be ignored", e))

	wrapped := fmt.Errorf("probe: %w", e)
	assert.Equal(t, wrapped, ContextualizeIfNeeded("should be ignored", wrapped))

	err := ContextualizeIfNeeded("Failed to configure the logger", errRegister)
	var ce *ContextualError
	if assert.ErrorAs(t, err, &ce) {
		assert.Equal(t, "Failed to configure the logger", ce.Context)
		assert.Same(t, errRegister, ce.RealError)
	}
}
