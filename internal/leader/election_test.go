package leader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSingleInstanceModeIsAlwaysLeader(t *testing.T) {
	e := New(nil, nil, "brain", "instance-1", 10*time.Second, Callbacks{})
	assert.True(t, e.IsLeader())
}

func TestSingleInstanceModeInvokesOnPromoted(t *testing.T) {
	promoted := false
	e := New(nil, nil, "brain", "instance-1", 10*time.Second, Callbacks{
		OnPromoted: func(ctx context.Context) { promoted = true },
	})
	e.Run(context.Background())
	assert.True(t, promoted)
}

func TestStopWithNilClientDoesNotPanic(t *testing.T) {
	e := New(nil, nil, "brain", "instance-1", 10*time.Second, Callbacks{})
	assert.NotPanics(t, func() { e.Stop(context.Background()) })
}
