package queue

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"compvalue/server/internal/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func event(subject string, typ models.ProgressEventType) models.ProgressEvent {
	return models.ProgressEvent{Type: typ, SubjectID: subject, Source: "primary"}
}

func TestNewEventQueue(t *testing.T) {
	q := NewEventQueue(10, quietLogger())
	assert.NotNil(t, q)
	assert.Equal(t, 10, q.maxSize)
	assert.False(t, q.IsClosed())
}

func TestEventQueue_Push(t *testing.T) {
	q := NewEventQueue(2, quietLogger())

	// Test successful push
	err := q.Push(event("s1", models.EventSourceAttempted))
	assert.NoError(t, err)
	assert.Equal(t, 1, q.Len())

	// Test queue full
	_ = q.Push(event("s1", models.EventSourceSucceeded))
	err = q.Push(event("s1", models.EventMergeCompleted))
	assert.Equal(t, ErrQueueFull, err)

	// Test closed queue
	q.Close()
	err = q.Push(event("s1", models.EventMergeCompleted))
	assert.Equal(t, ErrQueueClosed, err)
}

func TestEventQueue_Subscribe(t *testing.T) {
	q := NewEventQueue(10, quietLogger())

	var processed []models.ProgressEvent
	var mu sync.Mutex

	q.Subscribe(func(ev models.ProgressEvent) error {
		mu.Lock()
		processed = append(processed, ev)
		mu.Unlock()
		return nil
	})

	q.Start()
	defer q.Close()

	assert.NoError(t, q.Push(event("s1", models.EventSourceAttempted)))
	assert.NoError(t, q.Push(event("s1", models.EventSourceSucceeded)))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(processed) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, models.EventSourceAttempted, processed[0].Type)
	assert.Equal(t, models.EventSourceSucceeded, processed[1].Type)
	mu.Unlock()
}

func TestEventQueue_Close(t *testing.T) {
	q := NewEventQueue(10, quietLogger())

	// Test first close
	err := q.Close()
	assert.NoError(t, err)
	assert.True(t, q.IsClosed())

	// Test second close (should be no-op)
	err = q.Close()
	assert.NoError(t, err)
}

func TestEventQueue_FanOut(t *testing.T) {
	q := NewEventQueue(10, quietLogger())

	var wg sync.WaitGroup
	processed := 0
	var mu sync.Mutex

	// Add multiple handlers
	for i := 0; i < 3; i++ {
		wg.Add(1)
		q.Subscribe(func(ev models.ProgressEvent) error {
			mu.Lock()
			processed++
			mu.Unlock()
			wg.Done()
			return nil
		})
	}

	q.Start()
	defer q.Close()

	assert.NoError(t, q.Push(event("s1", models.EventMergeCompleted)))
	wg.Wait()

	mu.Lock()
	assert.Equal(t, 3, processed)
	mu.Unlock()
}

func TestEventQueue_Forward(t *testing.T) {
	q := NewEventQueue(10, quietLogger())
	history := NewHistory(10, 0)
	q.Subscribe(history.Record)
	q.Start()
	defer q.Close()

	ch := make(chan models.ProgressEvent, 3)
	ch <- event("s1", models.EventSourceAttempted)
	ch <- event("s1", models.EventSourceFailed)
	ch <- event("s2", models.EventSourceAttempted)
	close(ch)
	q.Forward(ch)

	assert.Eventually(t, func() bool {
		return len(history.Events("s1")) == 2 && len(history.Events("s2")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHistory_KeepsMostRecent(t *testing.T) {
	h := NewHistory(2, 0)
	_ = h.Record(event("s1", models.EventSourceAttempted))
	_ = h.Record(event("s1", models.EventSourceSucceeded))
	_ = h.Record(event("s1", models.EventMergeCompleted))

	events := h.Events("s1")
	assert.Len(t, events, 2)
	assert.Equal(t, models.EventSourceSucceeded, events[0].Type)
	assert.Empty(t, h.Events("unknown"))
}

func TestHistory_EvictsLeastRecentSubject(t *testing.T) {
	h := NewHistory(5, 2)
	_ = h.Record(event("s1", models.EventSourceAttempted))
	_ = h.Record(event("s2", models.EventSourceAttempted))
	_ = h.Record(event("s1", models.EventSourceSucceeded))
	_ = h.Record(event("s3", models.EventSourceAttempted))

	assert.Equal(t, 2, h.Subjects())
	assert.Empty(t, h.Events("s2"))
	assert.Len(t, h.Events("s1"), 2)
	assert.Len(t, h.Events("s3"), 1)
}

func TestLogEvents(t *testing.T) {
	handler := LogEvents(quietLogger())
	assert.NoError(t, handler(event("s1", models.EventSourceFailed)))
	assert.NoError(t, handler(event("s1", models.EventSourceSucceeded)))
}
