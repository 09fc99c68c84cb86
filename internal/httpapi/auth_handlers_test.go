package httpapi

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testRouter(cfg RouterConfig) *Router {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "test-secret"
	}
	if cfg.JWTExpiry == 0 {
		cfg.JWTExpiry = time.Hour
	}
	return &Router{
		cfg:    cfg,
		logger: log.New(io.Discard, "", 0),
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{name: "bearer header", header: "Bearer abc123", want: "abc123"},
		{name: "lowercase bearer", header: "bearer abc123", want: "abc123"},
		{name: "wrong scheme", header: "Basic abc123", want: ""},
		{name: "no header no query", want: ""},
		{name: "query fallback", query: "abc123", want: "abc123"},
		{name: "header wins over query", header: "Bearer fromheader", query: "fromquery", want: "fromheader"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/ws/interview/x"
			if tt.query != "" {
				url += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := bearerToken(req); got != tt.want {
				t.Errorf("bearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecruiterJWTRoundTrip(t *testing.T) {
	r := testRouter(RouterConfig{})

	token, expiresAt, err := r.generateRecruiterJWT("rec-42")
	if err != nil {
		t.Fatalf("generateRecruiterJWT: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	if time.Until(expiresAt) <= 0 {
		t.Error("token already expired")
	}

	var gotRecruiter string
	handler := r.withAuth(func(w http.ResponseWriter, req *http.Request) {
		gotRecruiter = getRecruiterID(req.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/interviews", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}
	if gotRecruiter != "rec-42" {
		t.Errorf("recruiter from context = %q, want %q", gotRecruiter, "rec-42")
	}
}

func TestWithAuthRejectsBadTokens(t *testing.T) {
	r := testRouter(RouterConfig{})

	handler := r.withAuth(func(w http.ResponseWriter, req *http.Request) {
		t.Error("handler should not be reached")
	})

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing token", token: ""},
		{name: "garbage token", token: "not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/interviews", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			handler(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestWithAuthRejectsTokenSignedWithWrongSecret(t *testing.T) {
	other := testRouter(RouterConfig{JWTSecret: "different-secret"})
	token, _, err := other.generateRecruiterJWT("rec-1")
	if err != nil {
		t.Fatalf("generateRecruiterJWT: %v", err)
	}

	r := testRouter(RouterConfig{})
	handler := r.withAuth(func(w http.ResponseWriter, req *http.Request) {
		t.Error("handler should not be reached")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/interviews", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestCandidateTokenRoundTrip(t *testing.T) {
	r := testRouter(RouterConfig{CandidateExpiry: time.Hour})

	token, _, err := r.generateCandidateToken("itv-123")
	if err != nil {
		t.Fatalf("generateCandidateToken: %v", err)
	}

	claims, err := r.parseCandidateToken(token)
	if err != nil {
		t.Fatalf("parseCandidateToken: %v", err)
	}
	if claims.InterviewID != "itv-123" {
		t.Errorf("InterviewID = %q, want %q", claims.InterviewID, "itv-123")
	}
	if claims.Role != candidateRole {
		t.Errorf("Role = %q, want %q", claims.Role, candidateRole)
	}
}

func TestCandidateTokenDefaultExpiry(t *testing.T) {
	r := testRouter(RouterConfig{}) // CandidateExpiry unset

	_, expiresAt, err := r.generateCandidateToken("itv-123")
	if err != nil {
		t.Fatalf("generateCandidateToken: %v", err)
	}

	until := time.Until(expiresAt)
	if until < 6*24*time.Hour || until > 8*24*time.Hour {
		t.Errorf("default expiry = %v from now, want ~7 days", until)
	}
}

func TestRecruiterTokenIsNotACandidateToken(t *testing.T) {
	r := testRouter(RouterConfig{})

	token, _, err := r.generateRecruiterJWT("rec-1")
	if err != nil {
		t.Fatalf("generateRecruiterJWT: %v", err)
	}

	if _, err := r.parseCandidateToken(token); err == nil {
		t.Error("recruiter token should not parse as candidate token")
	}
}

func TestWithCandidateInterviewMismatch(t *testing.T) {
	r := testRouter(RouterConfig{})

	token, _, err := r.generateCandidateToken("itv-aaa")
	if err != nil {
		t.Fatalf("generateCandidateToken: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/interviews/{id}/flags", r.withCandidate(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("matching interview", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/interviews/itv-aaa/flags", strings.NewReader("{}"))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("other interview", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/interviews/itv-bbb/flags", strings.NewReader("{}"))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})
}

func TestHandleLogin(t *testing.T) {
	r := testRouter(RouterConfig{
		RecruiterKeys: map[string]string{"sk_good": "rec-7"},
	})

	t.Run("valid api key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"api_key":"sk_good"}`))
		rec := httptest.NewRecorder()
		r.handleLogin(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
		}

		var resp struct {
			Token       string `json:"token"`
			RecruiterID string `json:"recruiter_id"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Token == "" {
			t.Error("expected non-empty token")
		}
		if resp.RecruiterID != "rec-7" {
			t.Errorf("recruiter_id = %q, want %q", resp.RecruiterID, "rec-7")
		}
	})

	t.Run("unknown api key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"api_key":"sk_bad"}`))
		rec := httptest.NewRecorder()
		r.handleLogin(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("empty api key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		r.handleLogin(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("invalid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("not json"))
		rec := httptest.NewRecorder()
		r.handleLogin(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}
