package engine

import (
	"context"
	"sync"
	"time"
)

// FlagType tags one class of behavioral-integrity signal.
type FlagType string

const (
	FlagTabHidden     FlagType = "tab_hidden"
	FlagPasteDetected FlagType = "paste_detected"
	FlagLargeInsert   FlagType = "large_insert"
	FlagLowConfidence FlagType = "low_confidence"
)

// IntegrityEvent is one timestamped occurrence in the audit log.
type IntegrityEvent struct {
	Type   FlagType
	Detail string
	At     time.Time
}

// FlagSubmitter receives the deduplicated flag set for a question.
type FlagSubmitter interface {
	SubmitFlags(ctx context.Context, questionID int, flags []string) error
}

// IntegrityLog passively records tamper signals and confidence
// classifications. It never influences session control flow. Every
// occurrence is retained with its timestamp for replay; the candidate
// facing summary collapses repeated types to presence.
type IntegrityLog struct {
	mu     sync.Mutex
	events []IntegrityEvent
	order  []FlagType
	seen   map[FlagType]bool
	now    func() time.Time
}

// NewIntegrityLog creates an empty log.
func NewIntegrityLog() *IntegrityLog {
	return &IntegrityLog{
		seen: make(map[FlagType]bool),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Record appends one occurrence.
func (l *IntegrityLog) Record(t FlagType, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, IntegrityEvent{Type: t, Detail: detail, At: l.now()})
	if !l.seen[t] {
		l.seen[t] = true
		l.order = append(l.order, t)
	}
}

// Events returns every recorded occurrence in order.
func (l *IntegrityLog) Events() []IntegrityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]IntegrityEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Summary returns the deduplicated flag types in first-seen order.
func (l *IntegrityLog) Summary() []FlagType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]FlagType, len(l.order))
	copy(out, l.order)
	return out
}

// Flush submits the accumulated summary for the given question. The
// underlying event log is retained for audit.
func (l *IntegrityLog) Flush(ctx context.Context, questionID int, submitter FlagSubmitter) error {
	summary := l.Summary()
	if len(summary) == 0 {
		return nil
	}
	flags := make([]string, len(summary))
	for i, t := range summary {
		flags[i] = string(t)
	}
	return submitter.SubmitFlags(ctx, questionID, flags)
}
