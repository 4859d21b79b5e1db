package cerberus

import (
	"context"
	"sync"
	"time"

	"github.com/Wikid82/cerberus/internal/logger"
	"github.com/Wikid82/cerberus/internal/metrics"
	"github.com/Wikid82/cerberus/internal/models"
)

const (
	defaultQueueSize = 1024
	sinkTimeout      = 5 * time.Second
)

// Recorder hands threat events to an EventSink on a background goroutine so
// request decisions never wait on storage. When the queue is full new events
// are dropped and counted.
type Recorder struct {
	sink  models.EventSink
	queue chan *models.ThreatEvent
	wg    sync.WaitGroup

	mu     sync.RWMutex // guards closed against concurrent Record
	closed bool
}

// NewRecorder starts a recorder with a queue of the given size. A nil sink
// only logs events.
func NewRecorder(sink models.EventSink, size int) *Recorder {
	if size <= 0 {
		size = defaultQueueSize
	}
	r := &Recorder{sink: sink, queue: make(chan *models.ThreatEvent, size)}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record enqueues an event. It never blocks and reports whether the event was
// accepted.
func (r *Recorder) Record(event *models.ThreatEvent) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		metrics.IncEventDropped()
		return false
	}
	select {
	case r.queue <- event:
		return true
	default:
		metrics.IncEventDropped()
		logger.Component("events").WithFields(map[string]interface{}{
			"event_type": event.EventType,
			"ip":         event.SourceIP,
		}).Warn("Event queue full, dropping threat event")
		return false
	}
}

// Close stops accepting events and waits until queued ones are written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for event := range r.queue {
		r.write(event)
	}
}

func (r *Recorder) write(event *models.ThreatEvent) {
	entry := logger.Component("events").WithFields(map[string]interface{}{
		"event_type": event.EventType,
		"severity":   event.Severity,
		"ip":         event.SourceIP,
	})
	if r.sink == nil {
		entry.Debug(event.Description)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := r.sink.RecordEvent(ctx, event); err != nil {
		metrics.IncEventSinkFailure()
		entry.WithError(err).Error("Failed to record threat event")
	}
}
