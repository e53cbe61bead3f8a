package logs

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ironsupr/AutoDeployHub/internal/domain"
	"github.com/ironsupr/AutoDeployHub/internal/repository"
	"github.com/ironsupr/AutoDeployHub/internal/ws"
)

// Event types streamed to websocket subscribers.
const (
	EventCreated  = "attempt_created"
	EventLog      = "attempt_log"
	EventStatus   = "attempt_status"
	EventFinished = "attempt_finished"
)

// Service persists attempt writes and streams each one to the workload's
// websocket subscribers. Broadcasts happen only after the store accepted the write.
type Service struct {
	repo      repository.AttemptRepository
	hub       *ws.Hub
	logger    *slog.Logger
	workloads *sync.Map
}

var _ repository.AttemptWriter = Service{}

// New constructs a log service.
func New(repo repository.AttemptRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{repo: repo, hub: hub, logger: logger, workloads: &sync.Map{}}
}

// Hub returns the websocket hub (useful for HTTP handlers).
func (s Service) Hub() *ws.Hub {
	return s.hub
}

// CreateAttempt stores and announces a new attempt.
func (s Service) CreateAttempt(ctx context.Context, attempt *domain.Attempt) error {
	if err := s.repo.CreateAttempt(ctx, attempt); err != nil {
		return err
	}
	s.workloads.Store(attempt.ID, attempt.WorkloadID)
	s.broadcast(ctx, attempt.ID, Event{
		Type:      EventCreated,
		AttemptID: attempt.ID,
		Reference: attempt.Reference,
		Status:    string(attempt.Status),
		At:        attempt.CreatedAt,
	})
	for _, line := range attempt.Log {
		s.broadcastLine(ctx, attempt.ID, line)
	}
	return nil
}

// AppendAttemptLog stores and streams a log line.
func (s Service) AppendAttemptLog(ctx context.Context, attemptID string, line domain.LogLine) error {
	if err := s.repo.AppendAttemptLog(ctx, attemptID, line); err != nil {
		return err
	}
	s.broadcastLine(ctx, attemptID, line)
	return nil
}

// SetAttemptStatus stores and streams a status transition.
func (s Service) SetAttemptStatus(ctx context.Context, attemptID string, status domain.AttemptStatus) error {
	if err := s.repo.SetAttemptStatus(ctx, attemptID, status); err != nil {
		return err
	}
	s.broadcast(ctx, attemptID, Event{Type: EventStatus, AttemptID: attemptID, Status: string(status), At: time.Now().UTC()})
	return nil
}

// SetAttemptFinishedAt stores the finish time and ends the stream for the attempt.
func (s Service) SetAttemptFinishedAt(ctx context.Context, attemptID string, finishedAt time.Time) error {
	if err := s.repo.SetAttemptFinishedAt(ctx, attemptID, finishedAt); err != nil {
		return err
	}
	s.broadcast(ctx, attemptID, Event{Type: EventFinished, AttemptID: attemptID, At: finishedAt})
	s.workloads.Delete(attemptID)
	return nil
}

func (s Service) broadcastLine(ctx context.Context, attemptID string, line domain.LogLine) {
	s.broadcast(ctx, attemptID, Event{
		Type:      EventLog,
		AttemptID: attemptID,
		Seq:       line.Seq,
		Message:   line.Message,
		Line:      line.String(),
		At:        line.At,
	})
}

func (s Service) broadcast(ctx context.Context, attemptID string, event Event) {
	if s.hub == nil {
		return
	}
	workloadID, ok := s.workloadFor(ctx, attemptID)
	if !ok {
		return
	}
	event.WorkloadID = workloadID
	data, err := MarshalEvent(event)
	if err != nil {
		s.logger.Warn("failed to marshal attempt event", "error", err)
		return
	}
	s.hub.Broadcast(workloadID, data)
}

func (s Service) workloadFor(ctx context.Context, attemptID string) (string, bool) {
	if value, ok := s.workloads.Load(attemptID); ok {
		return value.(string), true
	}
	attempt, err := s.repo.GetAttemptByID(ctx, attemptID)
	if err != nil {
		s.logger.Warn("attempt lookup for broadcast failed", "attempt_id", attemptID, "error", err)
		return "", false
	}
	s.workloads.Store(attemptID, attempt.WorkloadID)
	return attempt.WorkloadID, true
}

// Event is the streaming payload for attempt progress.
type Event struct {
	Type       string
	WorkloadID string
	AttemptID  string
	Reference  string
	Status     string
	Seq        int
	Message    string
	Line       string
	At         time.Time
}

// MarshalEvent formats an attempt event for streaming payloads.
func MarshalEvent(event Event) ([]byte, error) {
	payload := map[string]any{
		"type":        event.Type,
		"workload_id": event.WorkloadID,
		"attempt_id":  event.AttemptID,
		"at":          event.At.UTC().Format(time.RFC3339Nano),
	}
	switch event.Type {
	case EventCreated:
		payload["reference"] = event.Reference
		payload["status"] = event.Status
	case EventLog:
		payload["seq"] = event.Seq
		payload["message"] = event.Message
		payload["line"] = event.Line
	case EventStatus:
		payload["status"] = event.Status
	}
	return json.Marshal(payload)
}
