package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdown_RunsHooksInReverseOrder(t *testing.T) {
	s := NewShutdown(slog.New(slog.NewTextHandler(io.Discard, nil)))

	var order []string
	s.Register("redis", func(context.Context) error { order = append(order, "redis"); return nil })
	s.Register("coordinator", func(context.Context) error { order = append(order, "coordinator"); return errors.New("boom") })
	s.Register("http", func(context.Context) error { order = append(order, "http"); return nil })
	s.Register("nil", nil)

	err := s.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coordinator: boom")
	assert.Equal(t, []string{"http", "coordinator", "redis"}, order)

	assert.NoError(t, s.Execute(context.Background()))
	assert.Len(t, order, 3, "hooks run once")
}

func TestShutdown_SkipsHooksAfterDeadline(t *testing.T) {
	s := NewShutdown(nil)

	ran := false
	s.Register("late", func(context.Context) error { ran = true; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Execute(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}
