package app

import (
	"os"
	"testing"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		defValue string
		want     string
	}{
		{
			name:     "env set",
			envKey:   "TEST_ENV_VAR",
			envValue: "custom_value",
			defValue: "default",
			want:     "custom_value",
		},
		{
			name:     "env not set",
			envKey:   "TEST_ENV_VAR_NOTSET",
			envValue: "",
			defValue: "default",
			want:     "default",
		},
		{
			name:     "empty default",
			envKey:   "TEST_ENV_VAR_EMPTY",
			envValue: "",
			defValue: "",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenv(tt.envKey, tt.defValue)
			if got != tt.want {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.envKey, tt.defValue, got, tt.want)
			}
		})
	}
}

func TestGetenvInt(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		def      int
		want     int
	}{
		{
			name:     "valid value",
			envKey:   "TEST_INT_NORMAL",
			envValue: "500",
			def:      100,
			want:     500,
		},
		{
			name:     "env not set - use default",
			envKey:   "TEST_INT_NOTSET",
			envValue: "",
			def:      100,
			want:     100,
		},
		{
			name:     "invalid value - use default",
			envKey:   "TEST_INT_INVALID",
			envValue: "not_a_number",
			def:      100,
			want:     100,
		},
		{
			name:     "negative value",
			envKey:   "TEST_INT_NEGATIVE",
			envValue: "-5",
			def:      100,
			want:     -5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenvInt(tt.envKey, tt.def)
			if got != tt.want {
				t.Errorf("getenvInt(%q, %d) = %d, want %d", tt.envKey, tt.def, got, tt.want)
			}
		})
	}
}

func TestGetenvFloat(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		def      float64
		want     float64
	}{
		{
			name:     "valid value",
			envKey:   "TEST_FLOAT_NORMAL",
			envValue: "0.5",
			def:      -1,
			want:     0.5,
		},
		{
			name:     "env not set - use default",
			envKey:   "TEST_FLOAT_NOTSET",
			envValue: "",
			def:      -1,
			want:     -1,
		},
		{
			name:     "invalid value - use default",
			envKey:   "TEST_FLOAT_INVALID",
			envValue: "not_a_float",
			def:      -1,
			want:     -1,
		},
		{
			name:     "zero preserved",
			envKey:   "TEST_FLOAT_ZERO",
			envValue: "0.0",
			def:      -1,
			want:     0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenvFloat(tt.envKey, tt.def)
			if got != tt.want {
				t.Errorf("getenvFloat(%q, %f) = %f, want %f", tt.envKey, tt.def, got, tt.want)
			}
		})
	}
}

func TestGetenvBool(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		def      bool
		want     bool
	}{
		{name: "true", envKey: "TEST_BOOL_TRUE", envValue: "true", def: false, want: true},
		{name: "one", envKey: "TEST_BOOL_ONE", envValue: "1", def: false, want: true},
		{name: "false", envKey: "TEST_BOOL_FALSE", envValue: "false", def: true, want: false},
		{name: "not set - default", envKey: "TEST_BOOL_NOTSET", envValue: "", def: true, want: true},
		{name: "invalid - default", envKey: "TEST_BOOL_INVALID", envValue: "maybe", def: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenvBool(tt.envKey, tt.def)
			if got != tt.want {
				t.Errorf("getenvBool(%q, %v) = %v, want %v", tt.envKey, tt.def, got, tt.want)
			}
		})
	}
}

func TestParseRecruiterKeys(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]string
	}{
		{
			name:  "single key",
			input: "sk_abc123:rec-1",
			want:  map[string]string{"sk_abc123": "rec-1"},
		},
		{
			name:  "multiple keys",
			input: "sk_abc123:rec-1,sk_def456:rec-2",
			want:  map[string]string{"sk_abc123": "rec-1", "sk_def456": "rec-2"},
		},
		{
			name:  "keys with spaces",
			input: " sk_abc123:rec-1 , sk_def456:rec-2 ",
			want:  map[string]string{"sk_abc123": "rec-1", "sk_def456": "rec-2"},
		},
		{
			name:  "empty string",
			input: "",
			want:  nil,
		},
		{
			name:  "entry without colon skipped",
			input: "sk_abc123:rec-1,garbage",
			want:  map[string]string{"sk_abc123": "rec-1"},
		},
		{
			name:  "only garbage",
			input: "garbage,:nope,alsonope:",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseRecruiterKeys(tt.input)

			if len(got) != len(tt.want) {
				t.Errorf("parseRecruiterKeys(%q) returned %d entries, want %d", tt.input, len(got), len(tt.want))
				return
			}

			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("parseRecruiterKeys(%q)[%q] = %q, want %q", tt.input, k, got[k], v)
				}
			}
		})
	}
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	// Clear any existing env vars that might interfere
	keysToClean := []string{
		"HTTP_ADDR", "PUBLIC_BASE_URL", "DATABASE_URL", "LOG_LEVEL",
		"DEFAULT_DEADLINE_SECONDS", "AUTOPLAY",
		"TTS_STABILITY", "TTS_SIMILARITY",
		"JWT_EXPIRY", "CANDIDATE_LINK_EXPIRY", "JANITOR_INTERVAL",
	}
	for _, key := range keysToClean {
		os.Unsetenv(key)
	}

	cfg := LoadConfigFromEnv()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}

	if cfg.PublicBaseURL != "http://localhost:8080" {
		t.Errorf("PublicBaseURL = %q, want %q", cfg.PublicBaseURL, "http://localhost:8080")
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}

	if cfg.DefaultDeadlineSeconds != 300 {
		t.Errorf("DefaultDeadlineSeconds = %d, want 300", cfg.DefaultDeadlineSeconds)
	}

	if cfg.Autoplay {
		t.Error("Autoplay = true, want false")
	}

	// Negative sentinel means the TTS client picks provider defaults.
	if cfg.TTSStability != -1 {
		t.Errorf("TTSStability = %f, want -1", cfg.TTSStability)
	}

	if cfg.TTSSimilarity != -1 {
		t.Errorf("TTSSimilarity = %f, want -1", cfg.TTSSimilarity)
	}

	if cfg.JWTExpiry.Hours() != 24 {
		t.Errorf("JWTExpiry = %v, want 24h", cfg.JWTExpiry)
	}

	if cfg.CandidateExpiry.Hours() != 168 {
		t.Errorf("CandidateExpiry = %v, want 168h", cfg.CandidateExpiry)
	}
}

func TestLoadConfigFromEnvCustomValues(t *testing.T) {
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("PUBLIC_BASE_URL", "https://api.example.com")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("DEFAULT_DEADLINE_SECONDS", "120")
	os.Setenv("AUTOPLAY", "true")
	os.Setenv("TTS_STABILITY", "0.7")
	os.Setenv("TTS_SIMILARITY", "0.85")
	os.Setenv("RECRUITER_KEYS", "sk_abc:rec-1,sk_def:rec-2")

	defer func() {
		os.Unsetenv("HTTP_ADDR")
		os.Unsetenv("PUBLIC_BASE_URL")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("DEFAULT_DEADLINE_SECONDS")
		os.Unsetenv("AUTOPLAY")
		os.Unsetenv("TTS_STABILITY")
		os.Unsetenv("TTS_SIMILARITY")
		os.Unsetenv("RECRUITER_KEYS")
	}()

	cfg := LoadConfigFromEnv()

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}

	if cfg.PublicBaseURL != "https://api.example.com" {
		t.Errorf("PublicBaseURL = %q, want %q", cfg.PublicBaseURL, "https://api.example.com")
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}

	if cfg.DefaultDeadlineSeconds != 120 {
		t.Errorf("DefaultDeadlineSeconds = %d, want 120", cfg.DefaultDeadlineSeconds)
	}

	if !cfg.Autoplay {
		t.Error("Autoplay = false, want true")
	}

	if cfg.TTSStability != 0.7 {
		t.Errorf("TTSStability = %f, want %f", cfg.TTSStability, 0.7)
	}

	if cfg.TTSSimilarity != 0.85 {
		t.Errorf("TTSSimilarity = %f, want %f", cfg.TTSSimilarity, 0.85)
	}

	if len(cfg.RecruiterKeys) != 2 {
		t.Errorf("RecruiterKeys length = %d, want 2", len(cfg.RecruiterKeys))
	}
}
