package audit

import (
	"context"
	"encoding/json"
	"os"
	"sync"
)

// fileEvent is the JSON-lines wire shape FileSink appends.
type fileEvent struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Severity  Severity       `json:"severity"`
	Category  Category       `json:"category"`
	Sub       string         `json:"sub,omitempty"`
	Message   string         `json:"message"`
	AgentID   string         `json:"agentId,omitempty"`
	TraceID   string         `json:"traceId,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Outcome   Outcome        `json:"outcome,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
}

// FileSink appends events as JSON-lines, fsync'ing on every flush. It is
// durable: a write failure propagates so the pipeline retries the event.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileSink opens (creating/appending) path for JSON-lines audit output.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f, enc: json.NewEncoder(f)}, nil
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) durable() bool { return true }

func (s *FileSink) Write(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(fileEvent{
		ID:        event.ID,
		Timestamp: event.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		Severity:  event.Severity,
		Category:  event.Category,
		Sub:       event.Sub,
		Message:   event.Message,
		AgentID:   event.AgentID,
		TraceID:   event.TraceID,
		Actor:     event.Actor,
		Outcome:   event.Outcome,
		Data:      event.Data,
		Tags:      event.Tags,
	})
}

func (s *FileSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Sync()
}

func (s *FileSink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.file.Sync()
	return s.file.Close()
}

var _ Durable = (*FileSink)(nil)
