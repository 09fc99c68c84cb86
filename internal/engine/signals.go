package engine

import (
	"strings"
	"sync"
)

// Confidence classifications for in-progress candidate speech. These are
// informational only and must never drive a turn transition.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// fillerWords are hesitation tokens counted against the rolling answer.
var fillerWords = map[string]bool{
	"uh": true, "um": true, "like": true, "you": true, "know": true,
	"basically": true, "actually": true, "so": true,
}

// maxAnswerWords is the rambling threshold, roughly 45-60 seconds of
// continuous speech.
const maxAnswerWords = 120

// LiveSignal is the classification of the candidate's in-progress answer
// for one question.
type LiveSignal struct {
	QuestionID  int
	WordCount   int
	FillerCount int
	Confidence  string
	Interrupt   bool
	Followup    string
}

type signalState struct {
	wordCount   int
	fillerCount int
	driftScore  int
	lastText    string
}

// SignalTracker keeps rolling per-question live-answer state and derives
// confidence and advisory interrupt hints from it.
type SignalTracker struct {
	mu     sync.Mutex
	states map[int]*signalState
}

// NewSignalTracker creates an empty tracker.
func NewSignalTracker() *SignalTracker {
	return &SignalTracker{states: make(map[int]*signalState)}
}

// Update folds the latest in-progress text for a question into the
// rolling state and returns the current classification.
func (t *SignalTracker) Update(questionID int, text string) LiveSignal {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.states[questionID]
	if st == nil {
		st = &signalState{}
		t.states[questionID] = st
	}

	words := strings.Fields(strings.ToLower(text))
	st.wordCount = len(words)
	st.lastText = text

	for _, w := range words {
		if fillerWords[strings.Trim(w, ".,!?")] {
			st.fillerCount++
		}
	}

	// Drift heuristic: long answers packed with fillers trend away from
	// the question; recoveries decay the score.
	if len(words) > 20 && st.fillerCount > 5 {
		st.driftScore++
	} else if st.driftScore > 0 {
		st.driftScore--
	}

	confidence := ConfidenceHigh
	switch {
	case st.wordCount < 15:
		confidence = ConfidenceLow
	case st.driftScore > 2:
		confidence = ConfidenceMedium
	}

	sig := LiveSignal{
		QuestionID:  questionID,
		WordCount:   st.wordCount,
		FillerCount: st.fillerCount,
		Confidence:  confidence,
	}

	switch {
	case st.wordCount > maxAnswerWords:
		sig.Interrupt = true
		sig.Followup = "Let me pause you there. Can you summarize your main point?"
	case st.driftScore >= 4:
		sig.Interrupt = true
		sig.Followup = "Can you focus on the core concept of the question?"
	}
	return sig
}

// Clear drops rolling state once a question is finalized.
func (t *SignalTracker) Clear(questionID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, questionID)
}
