package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *captureSink) Consume(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestHubDeliversToSinks(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{JobID: "j1", TS: time.Now().UTC(), Stage: StageJobStart, JobType: "discover"})
	hub.Emit(Event{TS: time.Now().UTC(), Stage: StageDrainDone, Processed: 3})

	require.NoError(t, hub.Close(context.Background()))

	events := sink.snapshot()
	require.Len(t, events, 2)
	require.Equal(t, StageJobStart, events[0].Stage)
	require.Equal(t, StageDrainDone, events[1].Stage)
	require.True(t, sink.closed)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{Stage: StageJobStart})                                 // no timestamp, no job id
	hub.Emit(Event{TS: time.Now().UTC(), Stage: Stage("MADE_UP")})        // unknown stage
	hub.Emit(Event{TS: time.Now().UTC(), Stage: StageJobDone, Dur: -1})   // negative duration
	hub.Emit(Event{TS: time.Now().UTC(), Stage: StageJobDone, JobID: ""}) // missing job id

	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.snapshot())
}

func TestHubEmitAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(Event{JobID: "j1", TS: time.Now().UTC(), Stage: StageJobStart})
	require.Empty(t, sink.snapshot())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	valid := Event{JobID: "j1", TS: time.Now().UTC(), Stage: StageJobDone, Dur: time.Second}
	require.NoError(t, valid.Validate())

	drain := Event{TS: time.Now().UTC(), Stage: StageDrainDone, Processed: 5}
	require.NoError(t, drain.Validate(), "drain events carry no job id")
}
