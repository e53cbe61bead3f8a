package ws

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSubscriber struct {
	mu       sync.Mutex
	messages [][]byte
	fail     bool
	closed   bool
	got      chan struct{}
}

func newRecordingSubscriber() *recordingSubscriber {
	return &recordingSubscriber{got: make(chan struct{}, 16)}
}

func (s *recordingSubscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broken pipe")
	}
	s.messages = append(s.messages, payload)
	s.got <- struct{}{}
	return nil
}

func (s *recordingSubscriber) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *recordingSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
}

func TestHubRoutesByWorkload(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	a := newRecordingSubscriber()
	b := newRecordingSubscriber()
	hub.Register("w1", a)
	hub.Register("w2", b)

	hub.Broadcast("w1", []byte("hello"))
	waitFor(t, a.got)

	// Broadcast is synchronous with the run loop, so a second message to w2
	// proves the first one never reached b.
	hub.Broadcast("w2", []byte("other"))
	waitFor(t, b.got)
	if len(b.messages) != 1 || string(b.messages[0]) != "other" {
		t.Fatalf("unexpected messages for w2: %q", b.messages)
	}
}

func TestHubDropsFailingSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	bad := newRecordingSubscriber()
	bad.fail = true
	hub.Register("w1", bad)
	hub.Broadcast("w1", []byte("x"))
	hub.Broadcast("w1", []byte("y"))

	if !bad.isClosed() {
		t.Fatalf("expected failing subscriber to be closed")
	}
}

func TestHubCloseStopsBroadcasts(t *testing.T) {
	hub := NewHub()
	sub := newRecordingSubscriber()
	hub.Register("w1", sub)
	hub.Close()

	done := make(chan struct{})
	go func() {
		hub.Broadcast("w1", []byte("late"))
		close(done)
	}()
	waitFor(t, done)
}
