package interceptors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-consumer/messaging"
)

func TestMemoryDuplicateDetector(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	detector := NewMemoryDuplicateDetector(time.Minute)
	detector.now = func() time.Time { return now }

	dup, err := detector.IsDuplicate(ctx, "a")
	require.NoError(t, err)
	assert.False(t, dup)

	require.NoError(t, detector.MarkProcessed(ctx, "a"))
	dup, _ = detector.IsDuplicate(ctx, "a")
	assert.True(t, dup)

	now = now.Add(2 * time.Minute)
	dup, _ = detector.IsDuplicate(ctx, "a")
	assert.False(t, dup)

	require.NoError(t, detector.MarkProcessed(ctx, "b"))
	assert.Len(t, detector.seen, 1)
}

func TestDeduplicationInterceptor(t *testing.T) {
	t.Run("second delivery of a processed id skips the handler", func(t *testing.T) {
		h := &mockHandler{}
		h.On("Handle", mock.Anything, mock.Anything, mock.Anything).Return(messaging.VerdictSuccess, nil).Once()
		interceptor := NewDeduplicationInterceptor[orderCreated](NewMemoryDuplicateDetector(time.Hour), discardLogger())

		for i := 0; i < 2; i++ {
			verdict, err := interceptor.Intercept(context.Background(), orderCreated{}, testMeta(), h)
			require.NoError(t, err)
			assert.Equal(t, messaging.VerdictSuccess, verdict)
		}
		h.AssertNumberOfCalls(t, "Handle", 1)
	})

	t.Run("declined messages are not remembered", func(t *testing.T) {
		h := &mockHandler{}
		h.On("Handle", mock.Anything, mock.Anything, mock.Anything).Return(messaging.VerdictDecline, nil)
		interceptor := NewDeduplicationInterceptor[orderCreated](NewMemoryDuplicateDetector(time.Hour), discardLogger())

		for i := 0; i < 2; i++ {
			verdict, _ := interceptor.Intercept(context.Background(), orderCreated{}, testMeta(), h)
			assert.Equal(t, messaging.VerdictDecline, verdict)
		}
		h.AssertNumberOfCalls(t, "Handle", 2)
	})

	t.Run("messages without id always run", func(t *testing.T) {
		h := &mockHandler{}
		h.On("Handle", mock.Anything, mock.Anything, mock.Anything).Return(messaging.VerdictSuccess, nil)
		interceptor := NewDeduplicationInterceptor[orderCreated](NewMemoryDuplicateDetector(time.Hour), discardLogger())
		meta := testMeta()
		meta.MessageID = ""

		interceptor.Intercept(context.Background(), orderCreated{}, meta, h)
		interceptor.Intercept(context.Background(), orderCreated{}, meta, h)
		h.AssertNumberOfCalls(t, "Handle", 2)
	})
}
