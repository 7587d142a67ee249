// Package audit provides an append-only, best-effort record of security
// relevant actions. A failed append never fails the action it describes.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"flextraff.org/internal/ids"
	"flextraff.org/internal/obs"
)

// Event is one audit record. Actor and JunctionID are empty/zero when the
// action has no single subject (failed logins, bulk operations).
type Event struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor,omitempty"`
	JunctionID int64          `json:"junction_id,omitempty"`
	Action     string         `json:"action"`
	Detail     map[string]any `json:"detail,omitempty"`
	Origin     string         `json:"origin,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Action tags written by the service.
const (
	ActionLogin           = "auth.login"
	ActionLoginFailed     = "auth.login_failed"
	ActionRefresh         = "auth.refresh"
	ActionLogout          = "auth.logout"
	ActionUserCreate      = "user.create"
	ActionUserUpdate      = "user.update"
	ActionUserDeactivate  = "user.deactivate"
	ActionPasswordChange  = "user.password_change"
	ActionGrantAdd        = "grant.add"
	ActionGrantRemove     = "grant.remove"
	ActionGrantBulkAdd    = "grant.bulk_add"
	ActionGrantBulkRemove = "grant.bulk_remove"
)

// Sink persists events.
type Sink interface {
	Append(ctx context.Context, e *Event) error
}

// Recorder assigns ids/timestamps, echoes each event to the structured log,
// and appends it to the sink. Sink failures are logged and swallowed.
type Recorder struct {
	sink Sink
	now  func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder over the sink.
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record completes and persists the event. Best effort: the caller's
// mutation has already happened and is never rolled back over audit trouble.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now().UTC()
	}

	if line, err := json.Marshal(map[string]any{
		"ts":    e.OccurredAt.Format(time.RFC3339Nano),
		"level": "info",
		"msg":   "audit",
		"event": e,
	}); err == nil {
		obs.Logger().Println(string(line))
	}

	if r.sink == nil {
		return
	}
	if err := r.sink.Append(ctx, &e); err != nil {
		obs.LogRequest(map[string]any{
			"ts":    r.now().UTC().Format(time.RFC3339Nano),
			"level": "error",
			"msg":   "audit append failed",
			"error": err.Error(),
		})
	}
}

// MemorySink keeps events in memory for tests and storeless runs.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink constructs an empty MemorySink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Append(ctx context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return nil
}

// Events returns a copy of everything appended so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
