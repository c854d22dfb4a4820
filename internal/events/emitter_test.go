package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestInMemoryEventEmitter(t *testing.T) {
	// Create a minimal logger that discards output
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("emit event with no handlers", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		event := NewTaskCreatedEvent(uuid.New(), SourcePostgres)

		// Should not error even with no handlers
		err := emitter.EmitEvent(context.Background(), event)
		assert.NoError(t, err)
	})

	t.Run("handler count", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		assert.Equal(t, 0, emitter.HandlerCount())

		emitter.RegisterHandler(&MockEventHandler{})
		assert.Equal(t, 1, emitter.HandlerCount())
	})

	t.Run("emit event with successful handlers", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)

		handler1 := &MockEventHandler{}
		handler2 := &MockEventHandler{}
		emitter.RegisterHandler(handler1)
		emitter.RegisterHandler(handler2)

		event := NewTaskCreatedEvent(uuid.New(), SourcePostgres)
		err := emitter.EmitEvent(context.Background(), event)
		assert.NoError(t, err)

		// Verify both handlers received the event
		assert.Equal(t, 1, handler1.HandledCount)
		assert.Equal(t, 1, handler2.HandledCount)
		assert.Equal(t, event, handler1.LastEvent)
		assert.Equal(t, event, handler2.LastEvent)
	})

	t.Run("emit event with failing handler", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)

		failingHandler := &MockEventHandler{
			HandlerError: errors.New("handler error"),
		}
		successHandler := &MockEventHandler{}

		emitter.RegisterHandler(failingHandler)
		emitter.RegisterHandler(successHandler)

		event := NewTaskCreatedEvent(uuid.New(), SourceAMQP)

		// Should return an error from the failing handler
		err := emitter.EmitEvent(context.Background(), event)
		assert.EqualError(t, err, "handler error")

		// Both handlers should still have received the event
		assert.Equal(t, 1, failingHandler.HandledCount)
		assert.Equal(t, 1, successHandler.HandledCount)
	})

	t.Run("cancelled context stops delivery", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		handler := &MockEventHandler{}
		emitter.RegisterHandler(handler)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := emitter.EmitEvent(ctx, NewTaskCreatedEvent(uuid.New(), SourcePostgres))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, handler.HandledCount)
	})
}
