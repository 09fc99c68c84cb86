package engine

import (
	"encoding/json"
	"fmt"
)

// Frame types carried on the interview channel.
const (
	// Inbound (agent side).
	FrameAgentMessage   = "agent_message"
	FrameScoringStarted = "scoring_started"
	FrameAIInterrupt    = "ai_interrupt"
	FrameLiveSignal     = "live_signal"
	FrameError          = "error"

	// Outbound (candidate side).
	FrameCandidateText = "candidate_text"
)

// Frame is one JSON message on the interview channel. Fields are a union
// across frame types; unused fields stay zero and are omitted on the wire.
type Frame struct {
	Type string `json:"type"`

	// agent_message / ai_interrupt / candidate_text
	Text       string `json:"text,omitempty"`
	QuestionID *int   `json:"question_id,omitempty"`
	AudioURL   string `json:"audio_url,omitempty"`
	Done       bool   `json:"done,omitempty"`

	// Optional per-question answer time limit. Falls back to the session
	// default when zero.
	DeadlineSeconds int `json:"deadline_seconds,omitempty"`

	// scoring_started
	TurnID int64  `json:"turn_id,omitempty"`
	TaskID string `json:"task_id,omitempty"`

	// ai_interrupt
	Reason string `json:"reason,omitempty"`

	// live_signal
	Confidence string `json:"confidence,omitempty"`
	WordCount  int    `json:"word_count,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// ParseFrame decodes a raw channel message. It rejects frames without a
// recognized type so the caller can drop them with a diagnostic.
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("malformed frame: %w", err)
	}
	switch f.Type {
	case FrameAgentMessage, FrameScoringStarted, FrameAIInterrupt, FrameLiveSignal, FrameError, FrameCandidateText:
		return f, nil
	case "":
		return Frame{}, fmt.Errorf("frame missing type")
	default:
		return Frame{}, fmt.Errorf("unknown frame type %q", f.Type)
	}
}
