package queue

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"compvalue/server/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// EventQueue is an in-memory queue of fetch progress events fanned out to
// subscribed handlers.
type EventQueue struct {
	items    chan models.ProgressEvent
	done     chan struct{}
	maxSize  int
	closed   bool
	mu       sync.RWMutex
	logger   *logrus.Logger
	handlers []func(models.ProgressEvent) error
}

// NewEventQueue creates a new event queue with the specified buffer size
func NewEventQueue(bufferSize int, logger *logrus.Logger) *EventQueue {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &EventQueue{
		items:    make(chan models.ProgressEvent, bufferSize),
		done:     make(chan struct{}),
		maxSize:  bufferSize,
		logger:   logger,
		handlers: make([]func(models.ProgressEvent) error, 0),
	}
}

// Push adds an event to the queue
func (q *EventQueue) Push(ev models.ProgressEvent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	// Non-blocking send to prevent deadlocks
	select {
	case q.items <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Forward pushes every event read from ch until ch is closed. Events that do
// not fit are dropped.
func (q *EventQueue) Forward(ch <-chan models.ProgressEvent) {
	for ev := range ch {
		if err := q.Push(ev); err != nil {
			q.logger.WithError(err).WithField("event", ev.Type).Debug("Dropped progress event")
		}
	}
}

// Subscribe adds a handler function that will be called for each event
func (q *EventQueue) Subscribe(handler func(models.ProgressEvent) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start begins processing items in the queue
func (q *EventQueue) Start() {
	go q.process()
}

func (q *EventQueue) process() {
	for {
		select {
		case <-q.done:
			return
		case ev, ok := <-q.items:
			if !ok {
				return
			}
			q.dispatch(ev)
		}
	}
}

// dispatch sends the event to all subscribed handlers
func (q *EventQueue) dispatch(ev models.ProgressEvent) {
	q.mu.RLock()
	handlers := q.handlers
	q.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ev); err != nil {
			q.logger.WithError(err).Error("Handler failed to process event")
		}
	}
}

// Close stops the queue and prevents new items from being added
func (q *EventQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.done)
	close(q.items)
	return nil
}

// Len returns the current number of events in the queue
func (q *EventQueue) Len() int {
	return len(q.items)
}

// IsClosed returns whether the queue has been closed
func (q *EventQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// LogEvents returns a subscriber that logs every event.
func LogEvents(logger *logrus.Logger) func(models.ProgressEvent) error {
	return func(ev models.ProgressEvent) error {
		entry := logger.WithFields(logrus.Fields{
			"event":   ev.Type,
			"subject": ev.SubjectID,
			"source":  ev.Source,
			"count":   ev.Count,
		})
		if ev.Type == models.EventSourceFailed {
			entry.WithField("error", ev.Error).Warn("Source fetch failed")
			return nil
		}
		entry.Info("Fetch progress")
		return nil
	}
}

// History keeps the most recent events per subject, for at most
// maxSubjects subjects. The subject recorded to least recently is evicted
// first.
type History struct {
	mu    sync.Mutex
	limit int
	byID  *lru.Cache[string, []models.ProgressEvent]
}

func NewHistory(limit, maxSubjects int) *History {
	if limit <= 0 {
		limit = 50
	}
	if maxSubjects <= 0 {
		maxSubjects = 1000
	}
	// New only fails on a non-positive size.
	byID, _ := lru.New[string, []models.ProgressEvent](maxSubjects)
	return &History{limit: limit, byID: byID}
}

// Record is a subscriber that stores ev.
func (h *History) Record(ev models.ProgressEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev, _ := h.byID.Peek(ev.SubjectID)
	events := append(append(make([]models.ProgressEvent, 0, len(prev)+1), prev...), ev)
	if len(events) > h.limit {
		events = events[len(events)-h.limit:]
	}
	h.byID.Add(ev.SubjectID, events)
	return nil
}

// Events returns a copy of the stored events for subjectID, oldest first.
func (h *History) Events(subjectID string) []models.ProgressEvent {
	events, _ := h.byID.Peek(subjectID)
	return append([]models.ProgressEvent(nil), events...)
}

// Subjects returns how many subjects have stored events.
func (h *History) Subjects() int {
	return h.byID.Len()
}
