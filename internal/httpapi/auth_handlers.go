package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Context key for auth data
type contextKey string

const (
	recruiterContextKey contextKey = "recruiter"
	candidateContextKey contextKey = "candidate"
)

// RecruiterClaims are the claims in a recruiter API token.
type RecruiterClaims struct {
	jwt.RegisteredClaims
	RecruiterID string `json:"recruiter_id"`
}

// CandidateClaims are the claims in a candidate interview link token.
// The token admits its holder to exactly one interview.
type CandidateClaims struct {
	jwt.RegisteredClaims
	InterviewID string `json:"interview_id"`
	Role        string `json:"role"`
}

const candidateRole = "candidate"

// bearerToken extracts the token from an Authorization header or, for
// WebSocket upgrades where headers are awkward, from a ?token= query
// parameter.
func bearerToken(req *http.Request) string {
	authHeader := req.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return req.URL.Query().Get("token")
}

// withAuth is middleware that requires a valid recruiter JWT.
func (r *Router) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		tokenString := bearerToken(req)
		if tokenString == "" {
			http.Error(w, `{"error": "missing authorization header"}`, http.StatusUnauthorized)
			return
		}

		token, err := jwt.ParseWithClaims(tokenString, &RecruiterClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(r.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
			return
		}

		claims, ok := token.Claims.(*RecruiterClaims)
		if !ok || claims.RecruiterID == "" {
			http.Error(w, `{"error": "invalid token claims"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(req.Context(), recruiterContextKey, claims.RecruiterID)
		next.ServeHTTP(w, req.WithContext(ctx))
	}
}

// withCandidate is middleware that requires a candidate link token whose
// interview claim matches the {id} path segment.
func (r *Router) withCandidate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		claims, err := r.parseCandidateToken(bearerToken(req))
		if err != nil {
			http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
			return
		}
		if id := req.PathValue("id"); id != "" && id != claims.InterviewID {
			http.Error(w, `{"error": "token not valid for this interview"}`, http.StatusForbidden)
			return
		}

		ctx := context.WithValue(req.Context(), candidateContextKey, claims.InterviewID)
		next.ServeHTTP(w, req.WithContext(ctx))
	}
}

func (r *Router) parseCandidateToken(tokenString string) (*CandidateClaims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("missing token")
	}
	token, err := jwt.ParseWithClaims(tokenString, &CandidateClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(r.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(*CandidateClaims)
	if !ok || claims.Role != candidateRole || claims.InterviewID == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// getRecruiterID extracts the authenticated recruiter from context.
func getRecruiterID(ctx context.Context) string {
	id, _ := ctx.Value(recruiterContextKey).(string)
	return id
}

// generateRecruiterJWT creates a recruiter API token.
func (r *Router) generateRecruiterJWT(recruiterID string) (string, time.Time, error) {
	expiresAt := time.Now().Add(r.cfg.JWTExpiry)

	claims := RecruiterClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   recruiterID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		RecruiterID: recruiterID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(r.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// generateCandidateToken creates a single-interview link token.
func (r *Router) generateCandidateToken(interviewID string) (string, time.Time, error) {
	expiry := r.cfg.CandidateExpiry
	if expiry <= 0 {
		expiry = 7 * 24 * time.Hour
	}
	expiresAt := time.Now().Add(expiry)

	claims := CandidateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   interviewID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		InterviewID: interviewID,
		Role:        candidateRole,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(r.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// handleLogin exchanges a recruiter API key for a JWT.
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var body struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	recruiterID, ok := r.cfg.RecruiterKeys[body.APIKey]
	if !ok || body.APIKey == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid API key"})
		return
	}

	token, expiresAt, err := r.generateRecruiterJWT(recruiterID)
	if err != nil {
		r.logger.Printf("auth: failed to generate JWT: %v", err)
		http.Error(w, `{"error": "failed to create session"}`, http.StatusInternalServerError)
		return
	}

	r.logger.Printf("auth: recruiter %s logged in", recruiterID)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":        token,
		"expires_at":   expiresAt.Format(time.RFC3339),
		"recruiter_id": recruiterID,
	})
}
