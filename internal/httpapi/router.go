package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lfialho/parley/internal/notifications"
	"github.com/lfialho/parley/internal/store"
	"github.com/lfialho/parley/internal/timeline"
	"github.com/lfialho/parley/internal/transcribe"
	"github.com/lfialho/parley/internal/tts"
)

type RouterConfig struct {
	PublicBaseURL string

	// Speech providers
	OpenAIAPIKey     string
	ElevenLabsAPIKey string

	// Voice settings for the interviewer agent
	TTSVoiceID    string
	TTSStability  float64 // ElevenLabs voice stability (0.0-1.0)
	TTSSimilarity float64 // ElevenLabs voice similarity boost (0.0-1.0)
	TTSHTTPClient *http.Client

	// Interview pacing
	DefaultDeadlineSeconds int  // Per-question answer limit (default 300)
	Autoplay               bool // Start agent audio without a user gesture

	// GreetingText opens every interview before the first question.
	GreetingText string

	// External transcription service for streamed capture chunks. When
	// empty, chunks are transcribed in-process via Whisper.
	TranscribeEndpoint  string
	TranscribeAuthToken string

	// JWT Authentication
	JWTSecret       string
	JWTExpiry       time.Duration // Recruiter token lifetime
	CandidateExpiry time.Duration // Candidate link token lifetime

	// Recruiter API keys: key -> recruiter ID. Exchanged for a JWT at login.
	RecruiterKeys map[string]string

	// Notifications
	DiscordWebhookURL string

	// APNs Push Notifications
	APNsKeyPath    string // Path to .p8 key file
	APNsKeyID      string // Key ID from Apple Developer Portal
	APNsTeamID     string // Team ID from Apple Developer Portal
	APNsBundleID   string // App bundle ID
	APNsProduction bool   // Use production environment
}

type Router struct {
	cfg      RouterConfig
	logger   *log.Logger
	store    *store.Store
	timeline *timeline.Logger
	discord  *notifications.Discord
	apns     *notifications.APNsClient
	sessions *SessionRegistry
	tts      *tts.ElevenLabsClient
	whisper  transcribe.Recognizer
	mux      *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, s *store.Store, tl *timeline.Logger, sessions *SessionRegistry) http.Handler {
	// Initialize APNs client (may be nil if not configured)
	apnsClient, err := notifications.NewAPNsClient(notifications.APNsConfig{
		KeyPath:    cfg.APNsKeyPath,
		KeyID:      cfg.APNsKeyID,
		TeamID:     cfg.APNsTeamID,
		BundleID:   cfg.APNsBundleID,
		Production: cfg.APNsProduction,
	}, logger)
	if err != nil {
		logger.Printf("Warning: APNs client initialization failed: %v", err)
	}

	r := &Router{
		cfg:      cfg,
		logger:   logger,
		store:    s,
		timeline: tl,
		discord:  notifications.NewDiscord(cfg.DiscordWebhookURL, logger),
		apns:     apnsClient,
		sessions: sessions,
		mux:      http.NewServeMux(),
	}

	if cfg.ElevenLabsAPIKey != "" {
		r.tts = tts.NewElevenLabsClient(tts.ElevenLabsConfig{
			APIKey:     cfg.ElevenLabsAPIKey,
			VoiceID:    cfg.TTSVoiceID,
			Stability:  cfg.TTSStability,
			Similarity: cfg.TTSSimilarity,
			HTTPClient: cfg.TTSHTTPClient,
		})
	}
	if cfg.OpenAIAPIKey != "" {
		r.whisper = transcribe.NewWhisper(cfg.OpenAIAPIKey, "")
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health checks
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)

	// Auth (public)
	r.mux.HandleFunc("POST /auth/login", r.handleLogin)

	// Recruiter API (JWT protected)
	r.mux.HandleFunc("POST /api/interviews", r.withAuth(r.handleCreateInterview))
	r.mux.HandleFunc("GET /api/interviews", r.withAuth(r.handleListInterviews))
	r.mux.HandleFunc("GET /api/interviews/{id}", r.withAuth(r.handleGetInterview))
	r.mux.HandleFunc("GET /api/interviews/{id}/replay", r.withAuth(r.handleReplay))
	r.mux.HandleFunc("POST /api/interviews/{id}/link", r.withAuth(r.handleIssueCandidateLink))

	// Push notifications (protected)
	r.mux.HandleFunc("POST /api/push/register", r.withAuth(r.handlePushRegister))

	// Candidate endpoints (link token)
	r.mux.HandleFunc("GET /ws/interview/{id}", r.handleInterviewWS)
	r.mux.HandleFunc("POST /api/interviews/{id}/transcribe_audio", r.withCandidate(r.handleTranscribeAudio))
	r.mux.HandleFunc("POST /api/interviews/{id}/flags", r.withCandidate(r.handleSubmitFlags))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports 503 while draining so the load balancer stops
// routing new interviews here during shutdown.
func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.sessions != nil && r.sessions.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func nowUTC() time.Time { return time.Now().UTC() }

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}

func wsURLFromPublicBase(publicBase string) string {
	// http://x -> ws://x
	// https://x -> wss://x
	if strings.HasPrefix(publicBase, "https://") {
		return "wss://" + strings.TrimPrefix(publicBase, "https://")
	}
	if strings.HasPrefix(publicBase, "http://") {
		return "ws://" + strings.TrimPrefix(publicBase, "http://")
	}
	// assume already host[:port]
	return "wss://" + publicBase
}
