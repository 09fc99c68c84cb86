package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// State is the session's turn-taking state.
type State string

const (
	// StateIdle covers both "before the first agent message" and
	// "candidate turn sealed, awaiting the next agent message".
	StateIdle              State = "idle"
	StateAgentSpeaking     State = "agent_speaking"
	StateCandidateSpeaking State = "candidate_speaking"
	StateFinished          State = "finished"
)

// DefaultDeadlineSeconds is the per-question answer limit applied when a
// question does not supply its own.
const DefaultDeadlineSeconds = 300

// Timeline event types emitted by the session. Persisted for replay.
const (
	EventSessionStarted   = "session_started"
	EventAgentMessage     = "agent_message"
	EventPlaybackEnqueued = "playback_enqueued"
	EventPlaybackDrained  = "playback_drained"
	EventTurnStarted      = "turn_started"
	EventTurnFinalized    = "turn_finalized"
	EventDeadlineExpired  = "deadline_expired"
	EventCaptureFailed    = "capture_failed"
	EventInterruptHint    = "ai_interrupt"
	EventLiveSignal       = "live_signal"
	EventIntegrityFlag    = "integrity_flag"
	EventScoringStarted   = "scoring_started"
	EventProtocolError    = "protocol_error"
	EventAgentError       = "agent_error"
	EventSessionClosed    = "session_closed"
	EventInterviewDone    = "interview_done"
)

// Outbound carries frames from the engine back up the channel.
type Outbound interface {
	Send(f Frame) error
}

// TimelineLogger receives every session event for the persisted replay
// feed. Implementations must not block the caller.
type TimelineLogger interface {
	LogAsync(eventType string, questionID *int, payload map[string]any)
}

// Config tunes one session.
type Config struct {
	// DefaultDeadlineSeconds overrides the 300 s answer limit when > 0.
	DefaultDeadlineSeconds int
	// Autoplay controls whether agent audio may start without an explicit
	// audio-enable gesture from the candidate.
	Autoplay bool
}

// Deps are the session's injected collaborators. All of them are
// interfaces so a reconnect/resume policy or a different transport can be
// added without touching the state machine.
type Deps struct {
	Player   Player
	Device   Device
	Uploader ChunkUploader
	Out      Outbound
	Timeline TimelineLogger

	// OnTurnFinalized fires after a candidate turn seals, outside the
	// session lock, with the best-effort transcript of the final artifact.
	OnTurnFinalized func(turn Turn, transcript string)
}

// ErrSessionFinished is returned for candidate submissions after the
// agent signaled completion.
var ErrSessionFinished = errors.New("interview is finished")

// ErrNoActiveQuestion is returned for candidate submissions arriving
// before any question reference was supplied.
var ErrNoActiveQuestion = errors.New("no active question")

// Session is the live turn-taking engine for one interview. All state is
// owned by the one instance constructed per interview id; asynchronous
// inputs (channel frames, playback completion, timer ticks, capture
// chunks) funnel through the session mutex, and state guards make stray
// late events no-ops.
type Session struct {
	ID     string
	cfg    Config
	deps   Deps
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queue     *PlaybackQueue
	capture   *CaptureController
	integrity *IntegrityLog
	signals   *SignalTracker

	mu           sync.Mutex
	state        State
	turn         *Turn
	turns        []Turn
	questionID   *int
	remaining    int
	nextDeadline int
	closed       bool
}

// NewSession constructs the engine for one interview. Run starts the
// deadline clock; the caller owns the goroutine.
func NewSession(parent context.Context, id string, cfg Config, deps Deps, logger *log.Logger) *Session {
	if cfg.DefaultDeadlineSeconds <= 0 {
		cfg.DefaultDeadlineSeconds = DefaultDeadlineSeconds
	}
	ctx, cancel := context.WithCancel(parent)

	s := &Session{
		ID:        id,
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		capture:   NewCaptureController(deps.Device, deps.Uploader, logger),
		integrity: NewIntegrityLog(),
		signals:   NewSignalTracker(),
		state:     StateIdle,
	}
	s.queue = NewPlaybackQueue(ctx, deps.Player, cfg.Autoplay, logger, s.onPlaybackDrained)
	s.timeline(EventSessionStarted, nil, nil)
	return s
}

// Run drives the 1 Hz deadline clock until the session context ends.
func (s *Session) Run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// State returns the current turn-taking state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Turns returns the sealed turn history.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Integrity exposes the session's integrity log.
func (s *Session) Integrity() *IntegrityLog { return s.integrity }

// Remaining returns the seconds left on the current candidate deadline.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// HandleInbound parses and dispatches one raw channel frame. Malformed
// frames are dropped with a diagnostic; the channel is never closed here.
func (s *Session) HandleInbound(raw []byte) {
	f, err := ParseFrame(raw)
	if err != nil {
		s.logger.Printf("session %s: dropping frame: %v", s.ID, err)
		s.timeline(EventProtocolError, nil, map[string]any{"error": err.Error()})
		return
	}
	s.HandleFrame(f)
}

// HandleFrame dispatches one parsed inbound frame.
func (s *Session) HandleFrame(f Frame) {
	switch f.Type {
	case FrameAgentMessage:
		s.handleAgentMessage(f)
	case FrameScoringStarted:
		s.handleScoringStarted(f)
	case FrameAIInterrupt:
		s.handleAIInterrupt(f)
	case FrameLiveSignal:
		s.handleLiveSignal(f)
	case FrameError:
		s.logger.Printf("session %s: agent error: %s", s.ID, f.Message)
		s.timeline(EventAgentError, nil, map[string]any{"message": f.Message})
	default:
		s.logger.Printf("session %s: dropping unroutable frame %q", s.ID, f.Type)
		s.timeline(EventProtocolError, nil, map[string]any{"type": f.Type})
	}
}

// handleAgentMessage moves the session into the agent turn: it records
// the question reference and enqueues the message for ordered playback.
// A message with no audio reference plays via local synthesis inside the
// Player; both paths raise the same drained signal.
func (s *Session) handleAgentMessage(f Frame) {
	var after []func()

	s.mu.Lock()
	if s.state == StateFinished || s.closed {
		s.mu.Unlock()
		s.logger.Printf("session %s: dropping agent message after finish", s.ID)
		return
	}

	// A barge-in while the candidate still holds the floor seals their
	// turn as interrupted before the agent takes over.
	if s.state == StateCandidateSpeaking {
		after = append(after, s.finalizeLocked(OutcomeInterrupted))
	}

	s.timeline(EventAgentMessage, f.QuestionID, map[string]any{
		"has_audio": f.AudioURL != "",
		"done":      f.Done,
	})

	if f.Done {
		s.state = StateFinished
		s.sealTurnLocked(OutcomeCompleted)
		s.timeline(EventInterviewDone, nil, nil)
	} else {
		if s.state != StateAgentSpeaking {
			s.state = StateAgentSpeaking
			s.turn = &Turn{Speaker: SpeakerAgent, QuestionID: f.QuestionID, StartedAt: time.Now().UTC()}
			s.timeline(EventTurnStarted, f.QuestionID, map[string]any{"speaker": string(SpeakerAgent)})
		}
		if f.QuestionID != nil {
			s.questionID = f.QuestionID
			if s.turn != nil && s.turn.QuestionID == nil {
				s.turn.QuestionID = f.QuestionID
			}
		}
		s.nextDeadline = f.DeadlineSeconds
	}
	item := PlaybackItem{Text: f.Text, AudioURL: f.AudioURL, QuestionID: f.QuestionID}
	s.timeline(EventPlaybackEnqueued, f.QuestionID, map[string]any{"has_audio": f.AudioURL != ""})
	s.mu.Unlock()

	if item.Text != "" || item.AudioURL != "" {
		s.queue.Enqueue(item)
	}
	for _, fn := range after {
		if fn != nil {
			fn()
		}
	}
}

// onPlaybackDrained fires when the agent output queue is fully empty, not
// merely when one item finishes. Only then may the candidate take the
// floor.
func (s *Session) onPlaybackDrained() {
	s.mu.Lock()
	// The queue can refill between the emptying and this callback: a new
	// agent message enqueued in that window starts its own drain loop,
	// whose drained signal supersedes this one. Opening the candidate
	// turn here would run capture and the deadline under agent audio.
	if !s.queue.Idle() {
		s.mu.Unlock()
		return
	}
	s.timeline(EventPlaybackDrained, s.questionID, nil)

	if s.state != StateAgentSpeaking || s.closed {
		s.mu.Unlock()
		return
	}
	s.sealTurnLocked(OutcomeCompleted)

	if s.questionID == nil {
		// Nothing to answer (e.g. a bare greeting with no question yet).
		s.state = StateIdle
		s.mu.Unlock()
		return
	}

	deadline := s.cfg.DefaultDeadlineSeconds
	if s.nextDeadline > 0 {
		deadline = s.nextDeadline
	}
	s.state = StateCandidateSpeaking
	s.remaining = deadline
	s.turn = &Turn{
		Speaker:         SpeakerCandidate,
		QuestionID:      s.questionID,
		StartedAt:       time.Now().UTC(),
		DeadlineSeconds: deadline,
	}
	s.timeline(EventTurnStarted, s.questionID, map[string]any{
		"speaker":          string(SpeakerCandidate),
		"deadline_seconds": deadline,
	})
	questionID := *s.questionID
	s.mu.Unlock()

	if err := s.capture.Start(s.ctx, questionID); err != nil {
		// Permission denied or device unavailable: surfaced, non-fatal.
		// The turn cannot capture and will resolve via the deadline.
		s.logger.Printf("session %s: capture unavailable for q=%d: %v", s.ID, questionID, err)
		s.timeline(EventCaptureFailed, &questionID, map[string]any{"error": err.Error()})
	}
}

// tick advances the 1 Hz deadline clock. At zero the turn finalizes
// through the same path as an explicit stop, exactly once.
func (s *Session) tick() {
	s.mu.Lock()
	if s.state != StateCandidateSpeaking {
		s.mu.Unlock()
		return
	}
	s.remaining--
	if s.remaining > 0 {
		s.mu.Unlock()
		return
	}
	s.timeline(EventDeadlineExpired, s.questionID, nil)
	after := s.finalizeLocked(OutcomeTimedOut)
	s.mu.Unlock()

	if after != nil {
		after()
	}
}

// OnAudioChunk feeds one captured candidate fragment into the engine.
// Chunks arriving outside a candidate turn are dropped.
func (s *Session) OnAudioChunk(data []byte) {
	s.mu.Lock()
	ok := s.state == StateCandidateSpeaking
	s.mu.Unlock()
	if !ok {
		return
	}
	s.capture.OnChunk(s.ctx, data)
}

// StopCapture is the candidate's explicit end-of-answer action.
func (s *Session) StopCapture() {
	s.mu.Lock()
	if s.state != StateCandidateSpeaking {
		s.mu.Unlock()
		return
	}
	after := s.finalizeLocked(OutcomeCompleted)
	s.mu.Unlock()

	if after != nil {
		after()
	}
}

// finalizeLocked seals the open candidate turn: capture stops and the
// final artifact is submitted synchronously under the session lock so a
// following agent turn can never race a new capture past the old one.
// The controller keeps the submission idempotent. The returned closure is
// the turn-finalized notification, which must run outside the lock.
func (s *Session) finalizeLocked(outcome Outcome) func() {
	if s.state != StateCandidateSpeaking {
		return nil
	}
	s.state = StateIdle
	s.remaining = 0
	sealed := s.sealTurnLocked(outcome)
	questionID := s.questionID

	transcript, submitted := s.capture.Stop(s.ctx)
	if questionID != nil {
		s.signals.Clear(*questionID)
	}
	s.timeline(EventTurnFinalized, questionID, map[string]any{
		"speaker":   string(SpeakerCandidate),
		"outcome":   string(outcome),
		"submitted": submitted,
	})

	if s.deps.OnTurnFinalized == nil || sealed == nil {
		return nil
	}
	return func() {
		s.deps.OnTurnFinalized(*sealed, transcript)
	}
}

// sealTurnLocked closes the open turn with the given outcome and appends
// it to history. Returns the sealed copy.
func (s *Session) sealTurnLocked(outcome Outcome) *Turn {
	if s.turn == nil {
		return nil
	}
	t := *s.turn
	t.EndedAt = time.Now().UTC()
	t.Outcome = outcome
	s.turns = append(s.turns, t)
	s.turn = nil
	if t.Speaker == SpeakerAgent {
		s.timeline(EventTurnFinalized, t.QuestionID, map[string]any{
			"speaker": string(SpeakerAgent),
			"outcome": string(outcome),
		})
	}
	return &t
}

// SubmitText is the text-based answer path used instead of pure audio. A
// question reference must be present before submissions are accepted.
func (s *Session) SubmitText(questionID int, text string) error {
	var after func()

	s.mu.Lock()
	if s.state == StateFinished || s.closed {
		s.mu.Unlock()
		return ErrSessionFinished
	}
	if s.questionID == nil {
		s.mu.Unlock()
		return ErrNoActiveQuestion
	}
	if s.state == StateCandidateSpeaking {
		after = s.finalizeLocked(OutcomeCompleted)
	}
	s.mu.Unlock()

	if after != nil {
		after()
	}
	return s.deps.Out.Send(Frame{
		Type:       FrameCandidateText,
		QuestionID: &questionID,
		Text:       text,
	})
}

// EnableAudio releases playback deferred by the autoplay policy.
func (s *Session) EnableAudio() {
	s.queue.EnableAudio()
}

// RecordIntegrity appends a tamper signal. Pure observation: no effect on
// turns or timers.
func (s *Session) RecordIntegrity(t FlagType, detail string) {
	s.integrity.Record(t, detail)
	s.mu.Lock()
	q := s.questionID
	s.mu.Unlock()
	s.timeline(EventIntegrityFlag, q, map[string]any{"flag": string(t), "detail": detail})
}

// UpdateLiveText folds in-progress answer text into the live-signal
// heuristics and records the resulting classification. The caller decides
// whether to surface an advisory interrupt; the session state never
// changes here.
func (s *Session) UpdateLiveText(questionID int, text string) LiveSignal {
	sig := s.signals.Update(questionID, text)
	s.handleLiveSignal(Frame{
		Type:       FrameLiveSignal,
		QuestionID: &questionID,
		Confidence: sig.Confidence,
		WordCount:  sig.WordCount,
	})
	return sig
}

// handleLiveSignal records an externally pushed confidence classification.
// Deliberately decoupled from control flow: a low-confidence signal never
// extends the timer or interrupts the turn.
func (s *Session) handleLiveSignal(f Frame) {
	if f.Confidence == ConfidenceLow {
		s.integrity.Record(FlagLowConfidence, f.Confidence)
	}
	s.timeline(EventLiveSignal, f.QuestionID, map[string]any{
		"confidence": f.Confidence,
		"word_count": f.WordCount,
	})
}

// handleAIInterrupt applies the advisory-only interrupt policy: the hint
// is logged and surfaced to the candidate, but capture keeps running and
// the turn is not reset. Silently terminating a candidate's answer is the
// higher-risk behavior.
func (s *Session) handleAIInterrupt(f Frame) {
	s.mu.Lock()
	q := s.questionID
	s.mu.Unlock()
	s.logger.Printf("session %s: advisory interrupt: %s", s.ID, f.Reason)
	s.timeline(EventInterruptHint, q, map[string]any{"reason": f.Reason, "text": f.Text})
}

// handleScoringStarted marks the latest sealed candidate turn as pending
// evaluation. Advisory: it never blocks the next agent message.
func (s *Session) handleScoringStarted(f Frame) {
	s.mu.Lock()
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].Speaker == SpeakerCandidate {
			s.turns[i].PendingScore = true
			break
		}
	}
	s.mu.Unlock()
	s.timeline(EventScoringStarted, f.QuestionID, map[string]any{
		"turn_id": f.TurnID,
		"task_id": f.TaskID,
	})
}

// FlushFlags submits the deduplicated integrity summary for the current
// question.
func (s *Session) FlushFlags(ctx context.Context, submitter FlagSubmitter) error {
	s.mu.Lock()
	q := s.questionID
	s.mu.Unlock()
	if q == nil {
		return ErrNoActiveQuestion
	}
	return s.integrity.Flush(ctx, *q, submitter)
}

// Close tears the session down: the deadline clock stops, any open
// candidate turn seals as interrupted with the device released, and no
// further events mutate state. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	var after func()
	if s.state == StateCandidateSpeaking {
		after = s.finalizeLocked(OutcomeInterrupted)
	} else {
		s.sealTurnLocked(OutcomeInterrupted)
	}
	if s.state != StateFinished {
		s.state = StateFinished
	}
	s.timeline(EventSessionClosed, nil, nil)
	s.mu.Unlock()

	if after != nil {
		after()
	}
	s.capture.Abort()
	s.cancel()
}

// timeline logs one replay event; a nil logger is tolerated.
func (s *Session) timeline(eventType string, questionID *int, payload map[string]any) {
	if s.deps.Timeline == nil {
		return
	}
	s.deps.Timeline.LogAsync(eventType, questionID, payload)
}
