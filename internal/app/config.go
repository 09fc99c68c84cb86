package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr      string
	PublicBaseURL string
	DatabaseURL   string
	LogLevel      string

	// Speech providers
	OpenAIAPIKey     string
	ElevenLabsAPIKey string

	// Interviewer voice settings
	TTSVoiceID    string  // ElevenLabs voice ID
	TTSStability  float64 // negative = provider default
	TTSSimilarity float64 // negative = provider default

	// Interview pacing
	GreetingText           string
	DefaultDeadlineSeconds int
	Autoplay               bool

	// External transcription service for streamed capture chunks.
	// When empty, chunks are transcribed in-process via Whisper.
	TranscribeEndpoint  string
	TranscribeAuthToken string

	// JWT Authentication
	JWTSecret       string
	JWTExpiry       time.Duration
	CandidateExpiry time.Duration

	// Recruiter API keys: key -> recruiter ID
	RecruiterKeys map[string]string

	// Notifications
	DiscordWebhookURL string

	// APNs push notifications
	APNsKeyPath    string
	APNsKeyID      string
	APNsTeamID     string
	APNsBundleID   string
	APNsProduction bool

	// Background janitor sweep interval
	JanitorInterval time.Duration

	// Error monitoring
	SentryDSN string
}

func LoadConfigFromEnv() Config {
	jwtExpiry, err := time.ParseDuration(getenv("JWT_EXPIRY", "24h"))
	if err != nil {
		jwtExpiry = 24 * time.Hour
	}
	candidateExpiry, err := time.ParseDuration(getenv("CANDIDATE_LINK_EXPIRY", "168h"))
	if err != nil {
		candidateExpiry = 168 * time.Hour
	}
	janitorInterval, err := time.ParseDuration(getenv("JANITOR_INTERVAL", "15m"))
	if err != nil {
		janitorInterval = 15 * time.Minute
	}

	return Config{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL: getenv("PUBLIC_BASE_URL", "http://localhost:8080"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		LogLevel:      getenv("LOG_LEVEL", "info"),

		// Speech providers
		OpenAIAPIKey:     getenv("OPENAI_API_KEY", ""),
		ElevenLabsAPIKey: getenv("ELEVENLABS_API_KEY", ""),

		// Interviewer voice settings
		TTSVoiceID:    getenv("TTS_VOICE_ID", ""),
		TTSStability:  getenvFloat("TTS_STABILITY", -1),
		TTSSimilarity: getenvFloat("TTS_SIMILARITY", -1),

		// Interview pacing
		GreetingText:           getenv("GREETING_TEXT", ""),
		DefaultDeadlineSeconds: getenvInt("DEFAULT_DEADLINE_SECONDS", 300),
		Autoplay:               getenvBool("AUTOPLAY", false),

		// External transcription
		TranscribeEndpoint:  getenv("TRANSCRIBE_ENDPOINT", ""),
		TranscribeAuthToken: getenv("TRANSCRIBE_AUTH_TOKEN", ""),

		// JWT Authentication
		JWTSecret:       os.Getenv("JWT_SECRET"), // Required - no fallback for security
		JWTExpiry:       jwtExpiry,
		CandidateExpiry: candidateExpiry,

		// Recruiter API keys
		RecruiterKeys: parseRecruiterKeys(os.Getenv("RECRUITER_KEYS")),

		// Notifications
		DiscordWebhookURL: getenv("DISCORD_WEBHOOK_URL", ""),

		// APNs
		APNsKeyPath:    getenv("APNS_KEY_PATH", ""),
		APNsKeyID:      getenv("APNS_KEY_ID", ""),
		APNsTeamID:     getenv("APNS_TEAM_ID", ""),
		APNsBundleID:   getenv("APNS_BUNDLE_ID", ""),
		APNsProduction: getenvBool("APNS_PRODUCTION", false),

		JanitorInterval: janitorInterval,

		SentryDSN: getenv("SENTRY_DSN", ""),
	}
}

// parseRecruiterKeys parses "apikey1:recruiter1,apikey2:recruiter2".
// Entries without a colon are skipped.
func parseRecruiterKeys(s string) map[string]string {
	if s == "" {
		return nil
	}
	keys := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		key, id, ok := strings.Cut(pair, ":")
		if !ok || key == "" || id == "" {
			continue
		}
		keys[key] = id
	}
	if len(keys) == 0 {
		return nil
	}
	return keys
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
