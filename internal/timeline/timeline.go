package timeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Logger provides append-only event logging to the interview_timeline
// table. Every session event lands here with its timestamp so an
// interview can be replayed in order.
type Logger struct {
	db *pgxpool.Pool
}

// New creates a new timeline logger.
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Event is one replayable occurrence.
type Event struct {
	At         time.Time      `json:"timestamp"`
	Type       string         `json:"type"`
	QuestionID *int           `json:"question_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// Log writes an event synchronously.
func (l *Logger) Log(ctx context.Context, interviewID, eventType string, questionID *int, payload map[string]any) error {
	if l.db == nil || interviewID == "" {
		return nil // Silently skip if no DB or interview ID
	}

	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		payloadJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO interview_timeline (interview_id, question_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`, interviewID, questionID, eventType, payloadJSON)

	return err
}

// LogAsync logs an event without blocking the caller.
func (l *Logger) LogAsync(interviewID, eventType string, questionID *int, payload map[string]any) {
	if l.db == nil || interviewID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, interviewID, eventType, questionID, payload)
	}()
}

// Replay returns the full ordered event feed for one interview.
func (l *Logger) Replay(ctx context.Context, interviewID string) ([]Event, error) {
	if l.db == nil {
		return nil, nil
	}

	rows, err := l.db.Query(ctx, `
		SELECT created_at, event_type, question_id, payload
		FROM interview_timeline
		WHERE interview_id = $1
		ORDER BY created_at ASC, id ASC
	`, interviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			payload []byte
		)
		if err := rows.Scan(&e.At, &e.Type, &e.QuestionID, &payload); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &e.Payload)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ForInterview binds the logger to one interview so the session engine
// can log without knowing interview IDs.
func (l *Logger) ForInterview(interviewID string) *SessionLogger {
	return &SessionLogger{logger: l, interviewID: interviewID}
}

// SessionLogger adapts the timeline logger to a single interview.
type SessionLogger struct {
	logger      *Logger
	interviewID string
}

// LogAsync logs one session event for the bound interview.
func (s *SessionLogger) LogAsync(eventType string, questionID *int, payload map[string]any) {
	s.logger.LogAsync(s.interviewID, eventType, questionID, payload)
}
