package cerberus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/cerberus/internal/models"
)

type gatedSink struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu       sync.Mutex
	recorded []string
}

func (s *gatedSink) RecordEvent(_ context.Context, event *models.ThreatEvent) error {
	s.once.Do(func() {
		close(s.started)
		<-s.release
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, event.Description)
	return nil
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	sink := &gatedSink{started: make(chan struct{}), release: make(chan struct{})}
	r := NewRecorder(sink, 1)

	require.True(t, r.Record(&models.ThreatEvent{Description: "first"}))
	<-sink.started // worker is now blocked inside the sink

	assert.True(t, r.Record(&models.ThreatEvent{Description: "second"}))
	assert.False(t, r.Record(&models.ThreatEvent{Description: "third"}))

	close(sink.release)
	r.Close()
	assert.Equal(t, []string{"first", "second"}, sink.recorded)
}

func TestRecorder_CloseDrainsAndRejects(t *testing.T) {
	sink := &gatedSink{started: make(chan struct{}), release: make(chan struct{})}
	close(sink.release)
	r := NewRecorder(sink, 16)

	for i := 0; i < 10; i++ {
		require.True(t, r.Record(&models.ThreatEvent{Description: "e"}))
	}
	r.Close()
	assert.Len(t, sink.recorded, 10)

	assert.False(t, r.Record(&models.ThreatEvent{Description: "late"}))
	r.Close()
}

func TestRecorder_NilSink(t *testing.T) {
	r := NewRecorder(nil, 0)
	assert.True(t, r.Record(&models.ThreatEvent{EventType: models.EventIPBlocked, Description: "logged only"}))
	r.Close()
}
