package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lfialho/parley/internal/engine"
	"github.com/lfialho/parley/internal/store"
	"github.com/lfialho/parley/internal/timeline"
	"github.com/lfialho/parley/internal/transcribe"
	"github.com/lfialho/parley/internal/tts"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client-leg frame types, beyond the engine's own frame set.
const (
	clientAudioEnabled = "audio_enabled"
	clientAudioChunk   = "audio_chunk"
	clientStopCapture  = "stop_capture"
	clientLiveText     = "live_text"
	clientIntegrity    = "integrity"
	clientPlaybackDone = "playback_done"

	serverAgentAudio   = "agent_audio"
	serverCaptureStart = "capture_start"
	serverCaptureStop  = "capture_stop"
)

// clientFrame is one JSON message from the candidate's browser.
type clientFrame struct {
	Type       string `json:"type"`
	QuestionID *int   `json:"question_id,omitempty"`
	Text       string `json:"text,omitempty"`
	Data       string `json:"data,omitempty"` // base64 audio
	Seq        int    `json:"seq,omitempty"`
	Flag       string `json:"flag,omitempty"`
	Detail     string `json:"detail,omitempty"`
	ItemID     int    `json:"item_id,omitempty"`
}

// serverFrame is one JSON message to the candidate's browser that is not
// a mirrored engine frame.
type serverFrame struct {
	Type            string `json:"type"`
	ItemID          int    `json:"item_id,omitempty"`
	Data            string `json:"data,omitempty"` // base64 audio
	Final           bool   `json:"final,omitempty"`
	AudioURL        string `json:"audio_url,omitempty"`
	QuestionID      *int   `json:"question_id,omitempty"`
	DeadlineSeconds int    `json:"deadline_seconds,omitempty"`
	Reason          string `json:"reason,omitempty"`
	Text            string `json:"text,omitempty"`
}

// playbackAckTimeout bounds how long the player waits for the browser's
// playback_done acknowledgement before treating the item as finished.
const playbackAckTimeout = 60 * time.Second

// interviewSession glues one WebSocket connection to the turn-taking
// engine and drives the interviewer loop: greeting, question, candidate
// answer, scoring kick-off, next question, done.
type interviewSession struct {
	interviewID string
	recruiterID string

	conn   *websocket.Conn
	connMu sync.Mutex

	engine   *engine.Session
	store    *store.Store
	timeline *timeline.SessionLogger
	logger   *log.Logger
	router   *Router

	ttsClient *tts.ElevenLabsClient

	ackMu sync.Mutex
	acks  map[int]chan struct{}

	advMu       sync.Mutex
	answered    map[int]bool
	textAnswers map[int]string
	finished    bool

	ctx    context.Context
	cancel context.CancelFunc
}

func (r *Router) handleInterviewWS(w http.ResponseWriter, req *http.Request) {
	interviewID := req.PathValue("id")

	claims, err := r.parseCandidateToken(bearerToken(req))
	if err != nil || claims.InterviewID != interviewID {
		http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
		return
	}

	itv, err := r.store.GetInterview(req.Context(), interviewID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, `{"error": "interview not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		captureError(req, err, "interview_ws: load interview failed")
		http.Error(w, `{"error": "failed to load interview"}`, http.StatusInternalServerError)
		return
	}
	if itv.Status == store.InterviewCompleted || itv.Status == store.InterviewAbandoned {
		http.Error(w, `{"error": "interview already finished"}`, http.StatusConflict)
		return
	}

	if !r.sessions.Add() {
		r.logger.Printf("interview_ws: rejecting %s, server is draining", interviewID)
		http.Error(w, `{"error": "server is draining"}`, http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.sessions.Done()
		r.logger.Printf("interview_ws: upgrade failed for %s: %v", interviewID, err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &interviewSession{
		interviewID: interviewID,
		recruiterID: itv.RecruiterID,
		conn:        conn,
		store:       r.store,
		timeline:    r.timeline.ForInterview(interviewID),
		logger:      r.logger,
		router:      r,
		ttsClient:   r.tts,
		acks:        make(map[int]chan struct{}),
		answered:    make(map[int]bool),
		textAnswers: make(map[int]string),
		ctx:         ctx,
		cancel:      cancel,
	}

	var uploader engine.ChunkUploader
	if r.cfg.TranscribeEndpoint != "" {
		uploader = transcribe.NewUploader(r.cfg.TranscribeEndpoint, r.cfg.TranscribeAuthToken, r.cfg.TTSHTTPClient)
	} else {
		uploader = &localUploader{session: s}
	}

	s.engine = engine.NewSession(ctx, interviewID, engine.Config{
		DefaultDeadlineSeconds: r.cfg.DefaultDeadlineSeconds,
		Autoplay:               r.cfg.Autoplay,
	}, engine.Deps{
		Player:          (*wsPlayer)(s),
		Device:          (*wsDevice)(s),
		Uploader:        uploader,
		Out:             (*wsOutbound)(s),
		Timeline:        s.timeline,
		OnTurnFinalized: s.onTurnFinalized,
	}, r.logger)

	r.logger.Printf("interview_ws: session started for %s", interviewID)
	go s.engine.Run()
	go s.openInterview()

	s.run()
}

// run is the connection read loop. A read error tears the session down.
func (s *interviewSession) run() {
	defer s.cleanup()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("interview_ws: connection closed for %s", s.interviewID)
			} else {
				s.logger.Printf("interview_ws: read error for %s: %v", s.interviewID, err)
			}
			return
		}

		var f clientFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			s.logger.Printf("interview_ws: dropping malformed frame: %v", err)
			continue
		}
		s.handleClientFrame(f)
	}
}

func (s *interviewSession) handleClientFrame(f clientFrame) {
	switch f.Type {
	case clientAudioEnabled:
		s.engine.EnableAudio()

	case clientAudioChunk:
		audio, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			s.logger.Printf("interview_ws: bad audio chunk for %s: %v", s.interviewID, err)
			return
		}
		s.engine.OnAudioChunk(audio)

	case clientStopCapture:
		s.engine.StopCapture()

	case engine.FrameCandidateText:
		if f.QuestionID == nil {
			s.logger.Printf("interview_ws: dropping candidate_text without question reference")
			return
		}
		// Stash the text first: when SubmitText seals an open audio turn,
		// the finalize path advances before SubmitText returns, and the
		// typed answer must win over an empty capture transcript.
		s.advMu.Lock()
		s.textAnswers[*f.QuestionID] = f.Text
		s.advMu.Unlock()
		if err := s.engine.SubmitText(*f.QuestionID, f.Text); err != nil {
			s.logger.Printf("interview_ws: candidate_text rejected for %s: %v", s.interviewID, err)
			return
		}
		// A text answer outside an open capture turn still advances.
		s.advance(*f.QuestionID, f.Text, string(engine.OutcomeCompleted), nil)

	case clientLiveText:
		if f.QuestionID == nil {
			return
		}
		sig := s.engine.UpdateLiveText(*f.QuestionID, f.Text)
		if sig.Interrupt {
			// Advisory only: surfaced to the candidate, capture keeps running.
			s.engine.HandleFrame(engine.Frame{
				Type:       engine.FrameAIInterrupt,
				QuestionID: f.QuestionID,
				Reason:     "drift",
				Text:       sig.Followup,
			})
			s.sendServer(serverFrame{
				Type:       engine.FrameAIInterrupt,
				QuestionID: f.QuestionID,
				Reason:     "drift",
				Text:       sig.Followup,
			})
		}

	case clientIntegrity:
		s.engine.RecordIntegrity(engine.FlagType(f.Flag), f.Detail)

	case clientPlaybackDone:
		s.ackPlayback(f.ItemID)

	default:
		s.logger.Printf("interview_ws: dropping unknown frame %q for %s", f.Type, s.interviewID)
	}
}

// openInterview marks the interview live and sends the greeting plus the
// first unanswered question. Resuming after a dropped connection lands on
// the first question without a candidate turn.
func (s *interviewSession) openInterview() {
	ctx, cancelTimeout := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancelTimeout()

	if err := s.store.UpdateInterviewStatus(ctx, s.interviewID, store.InterviewLive, nowUTC()); err != nil {
		s.logger.Printf("interview_ws: mark live failed for %s: %v", s.interviewID, err)
	}

	greeting := s.router.cfg.GreetingText
	if greeting == "" {
		greeting = "Welcome, and thank you for taking the time today. I will ask a few questions; answer each one when the timer starts."
	}
	s.engine.HandleFrame(engine.Frame{Type: engine.FrameAgentMessage, Text: greeting})

	s.sendNextQuestion(ctx)
}

// sendNextQuestion feeds the next unanswered question to the engine, or
// ends the interview when none remain.
func (s *interviewSession) sendNextQuestion(ctx context.Context) {
	q, err := s.store.NextUnansweredQuestion(ctx, s.interviewID)
	if errors.Is(err, store.ErrNotFound) {
		s.finishInterview(ctx)
		return
	}
	if err != nil {
		s.logger.Printf("interview_ws: next question lookup failed for %s: %v", s.interviewID, err)
		s.engine.HandleFrame(engine.Frame{Type: engine.FrameError, Message: "failed to load next question"})
		return
	}

	if _, err := s.store.InsertTurn(ctx, store.Turn{
		InterviewID: s.interviewID,
		QuestionID:  &q.ID,
		Speaker:     string(engine.SpeakerAgent),
		Transcript:  q.Text,
		Outcome:     string(engine.OutcomeCompleted),
	}); err != nil {
		s.logger.Printf("interview_ws: persist agent turn failed for %s: %v", s.interviewID, err)
	}

	s.engine.HandleFrame(engine.Frame{
		Type:            engine.FrameAgentMessage,
		QuestionID:      &q.ID,
		Text:            q.Text,
		DeadlineSeconds: q.DeadlineSeconds,
	})
}

// onTurnFinalized runs after the engine seals a candidate turn. It
// persists the turn, kicks off scoring, and advances the interview.
func (s *interviewSession) onTurnFinalized(turn engine.Turn, transcript string) {
	if turn.QuestionID == nil {
		return
	}
	s.advance(*turn.QuestionID, transcript, string(turn.Outcome), &turn)
}

// advance is the single path that moves the interview past a question.
// The answered guard makes the audio-stop and text-submission paths
// converge without double-advancing.
func (s *interviewSession) advance(questionID int, transcript, outcome string, turn *engine.Turn) {
	s.advMu.Lock()
	if s.answered[questionID] || s.finished {
		s.advMu.Unlock()
		return
	}
	s.answered[questionID] = true
	if transcript == "" {
		transcript = s.textAnswers[questionID]
	}
	s.advMu.Unlock()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	row := store.Turn{
		InterviewID: s.interviewID,
		QuestionID:  &questionID,
		Speaker:     string(engine.SpeakerCandidate),
		Transcript:  transcript,
		Outcome:     outcome,
	}
	if turn != nil {
		row.StartedAt = &turn.StartedAt
		row.EndedAt = &turn.EndedAt
	}
	turnID, err := s.store.InsertTurn(ctx, row)
	if err != nil {
		s.logger.Printf("interview_ws: persist candidate turn failed for %s q=%d: %v", s.interviewID, questionID, err)
	}

	taskID := uuid.NewString()
	s.engine.HandleFrame(engine.Frame{
		Type:       engine.FrameScoringStarted,
		QuestionID: &questionID,
		TurnID:     turnID,
		TaskID:     taskID,
	})
	s.sendEngineFrame(engine.Frame{
		Type:       engine.FrameScoringStarted,
		QuestionID: &questionID,
		TurnID:     turnID,
		TaskID:     taskID,
	})

	s.sendNextQuestion(ctx)
}

// finishInterview sends the closing agent message and records completion.
func (s *interviewSession) finishInterview(ctx context.Context) {
	s.advMu.Lock()
	if s.finished {
		s.advMu.Unlock()
		return
	}
	s.finished = true
	s.advMu.Unlock()

	s.engine.HandleFrame(engine.Frame{
		Type: engine.FrameAgentMessage,
		Text: "That was the last question. Thank you for your time; the recruiter will be in touch.",
		Done: true,
	})

	if err := s.store.UpdateInterviewStatus(ctx, s.interviewID, store.InterviewCompleted, nowUTC()); err != nil {
		s.logger.Printf("interview_ws: mark completed failed for %s: %v", s.interviewID, err)
	}

	go s.router.notifyInterviewCompleted(s.interviewID, s.recruiterID)
}

// --- engine collaborators -------------------------------------------------

// wsOutbound mirrors engine frames to the browser.
type wsOutbound interviewSession

func (o *wsOutbound) Send(f engine.Frame) error {
	return (*interviewSession)(o).sendEngineFrame(f)
}

// wsPlayer delivers one agent playback item: pre-rendered audio by
// reference, otherwise synthesized through ElevenLabs and streamed as
// base64 chunks. It blocks until the browser acknowledges playback or the
// ack times out, so the engine's drained signal means "the candidate has
// actually heard everything".
type wsPlayer interviewSession

func (p *wsPlayer) Play(ctx context.Context, item engine.PlaybackItem) error {
	s := (*interviewSession)(p)

	ack := s.registerAck(item.ID)
	defer s.dropAck(item.ID)

	if item.AudioURL != "" {
		if err := s.sendServer(serverFrame{
			Type:       serverAgentAudio,
			ItemID:     item.ID,
			AudioURL:   item.AudioURL,
			QuestionID: item.QuestionID,
			Final:      true,
		}); err != nil {
			return err
		}
	} else {
		if err := s.streamSynthesized(ctx, item); err != nil {
			return err
		}
	}

	select {
	case <-ack:
		return nil
	case <-time.After(playbackAckTimeout):
		s.logger.Printf("interview_ws: playback ack timeout for item %d", item.ID)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// streamSynthesized is the local-synthesis fallback for agent messages
// without an audio reference.
func (s *interviewSession) streamSynthesized(ctx context.Context, item engine.PlaybackItem) error {
	if s.ttsClient == nil {
		// No synthesis available: deliver the text and let the browser
		// render it.
		return s.sendServer(serverFrame{
			Type:       serverAgentAudio,
			ItemID:     item.ID,
			Text:       item.Text,
			QuestionID: item.QuestionID,
			Final:      true,
		})
	}

	audioCh, err := s.ttsClient.SynthesizeStream(ctx, item.Text)
	if err != nil {
		return fmt.Errorf("synthesis failed: %w", err)
	}

	for chunk := range audioCh {
		select {
		case <-ctx.Done():
			for range audioCh {
			}
			return ctx.Err()
		default:
		}
		if err := s.sendServer(serverFrame{
			Type:   serverAgentAudio,
			ItemID: item.ID,
			Data:   base64.StdEncoding.EncodeToString(chunk),
		}); err != nil {
			return err
		}
	}

	return s.sendServer(serverFrame{Type: serverAgentAudio, ItemID: item.ID, Final: true})
}

// wsDevice asks the browser to acquire and release the microphone. The
// server cannot know about a permission denial synchronously; a denied
// device simply produces no chunks and the turn resolves via its deadline.
type wsDevice interviewSession

func (d *wsDevice) Acquire(ctx context.Context, questionID int) error {
	s := (*interviewSession)(d)
	return s.sendServer(serverFrame{
		Type:            serverCaptureStart,
		QuestionID:      &questionID,
		DeadlineSeconds: s.engine.Remaining(),
	})
}

func (d *wsDevice) Release() {
	s := (*interviewSession)(d)
	_ = s.sendServer(serverFrame{Type: serverCaptureStop})
}

// localUploader transcribes captured chunks in-process via Whisper and
// records final artifacts in the uploads table, mirroring the HTTP
// transcription endpoint.
type localUploader struct {
	session *interviewSession
}

func (u *localUploader) SubmitChunk(ctx context.Context, questionID, seq int, data []byte, partial bool) (string, error) {
	s := u.session
	r := s.router
	if r.whisper == nil {
		return "", fmt.Errorf("transcription not configured")
	}

	filename := fmt.Sprintf("chunk-%d-%d.webm", questionID, seq)
	if partial {
		return r.whisper.Transcribe(ctx, filename, data)
	}

	uploadID, err := s.store.InsertUpload(ctx, s.interviewID, &questionID, false, len(data))
	if err != nil {
		return "", fmt.Errorf("record upload: %w", err)
	}
	_ = s.store.SetUploadResult(ctx, uploadID, store.UploadProcessing, nil)

	text, err := r.whisper.Transcribe(ctx, filename, data)
	if err != nil {
		_ = s.store.SetUploadResult(ctx, uploadID, store.UploadFailed, nil)
		return "", err
	}
	if err := s.store.SetUploadResult(ctx, uploadID, store.UploadDone, &text); err != nil {
		s.logger.Printf("interview_ws: store transcript failed for upload %s: %v", uploadID, err)
	}
	return text, nil
}

// --- plumbing ---------------------------------------------------------------

func (s *interviewSession) sendEngineFrame(f engine.Frame) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn.WriteJSON(f)
}

func (s *interviewSession) sendServer(f serverFrame) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn.WriteJSON(f)
}

func (s *interviewSession) registerAck(itemID int) chan struct{} {
	ch := make(chan struct{}, 1)
	s.ackMu.Lock()
	s.acks[itemID] = ch
	s.ackMu.Unlock()
	return ch
}

func (s *interviewSession) dropAck(itemID int) {
	s.ackMu.Lock()
	delete(s.acks, itemID)
	s.ackMu.Unlock()
}

func (s *interviewSession) ackPlayback(itemID int) {
	s.ackMu.Lock()
	ch := s.acks[itemID]
	s.ackMu.Unlock()
	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// flagStore adapts the persistence layer to the engine's flag-submission
// interface for one interview.
type flagStore struct {
	store       *store.Store
	interviewID string
}

func (f *flagStore) SubmitFlags(ctx context.Context, questionID int, flags []string) error {
	return f.store.SaveIntegrityFlags(ctx, f.interviewID, questionID, flags)
}

func (s *interviewSession) cleanup() {
	s.engine.Close()

	// Flush whatever integrity summary is pending for the open question.
	ctx, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	if err := s.engine.FlushFlags(ctx, &flagStore{store: s.store, interviewID: s.interviewID}); err != nil &&
		!errors.Is(err, engine.ErrNoActiveQuestion) {
		s.logger.Printf("interview_ws: flag flush failed for %s: %v", s.interviewID, err)
	}

	// A disconnect before the last answer leaves the interview abandoned.
	s.advMu.Lock()
	finished := s.finished
	s.advMu.Unlock()
	if !finished {
		if err := s.store.UpdateInterviewStatus(ctx, s.interviewID, store.InterviewAbandoned, nowUTC()); err != nil {
			s.logger.Printf("interview_ws: mark abandoned failed for %s: %v", s.interviewID, err)
		}
		s.router.notifyInterviewAbandoned(s.interviewID, s.recruiterID)
	}

	s.cancel()
	s.connMu.Lock()
	_ = s.conn.Close()
	s.connMu.Unlock()

	s.router.sessions.Done()
	s.logger.Printf("interview_ws: session cleaned up for %s", s.interviewID)
}

// notifyInterviewCompleted pushes the completion to the recruiter over
// Discord and APNs.
func (r *Router) notifyInterviewCompleted(interviewID, recruiterID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r.discord.NotifyInterviewCompleted(interviewID, recruiterID)

	if r.apns == nil {
		return
	}
	tokens, err := r.store.ListPushTokens(ctx, recruiterID)
	if err != nil {
		r.logger.Printf("interview_ws: list push tokens failed for %s: %v", recruiterID, err)
		return
	}
	for _, token := range tokens {
		if err := r.apns.PushInterviewCompleted(token, interviewID); err != nil {
			r.logger.Printf("interview_ws: push failed for token: %v", err)
		}
	}
}

// notifyInterviewAbandoned tells the recruiter a candidate dropped out.
func (r *Router) notifyInterviewAbandoned(interviewID, recruiterID string) {
	r.discord.NotifyInterviewAbandoned(interviewID, recruiterID)
}
