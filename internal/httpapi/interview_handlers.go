package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lfialho/parley/internal/store"
)

// handleCreateInterview creates an interview with its question list.
func (r *Router) handleCreateInterview(w http.ResponseWriter, req *http.Request) {
	recruiterID := getRecruiterID(req.Context())

	var body struct {
		CandidateName string `json:"candidate_name"`
		RoleTitle     string `json:"role_title"`
		Questions     []struct {
			Text            string `json:"text"`
			DeadlineSeconds int    `json:"deadline_seconds"`
		} `json:"questions"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.CandidateName) == "" {
		http.Error(w, `{"error": "candidate_name is required"}`, http.StatusBadRequest)
		return
	}
	if len(body.Questions) == 0 {
		http.Error(w, `{"error": "at least one question is required"}`, http.StatusBadRequest)
		return
	}

	itv, err := r.store.CreateInterview(req.Context(), recruiterID, body.CandidateName, body.RoleTitle)
	if err != nil {
		r.logger.Printf("interviews: create failed: %v", err)
		captureError(req, err, "interviews: create failed")
		http.Error(w, `{"error": "failed to create interview"}`, http.StatusInternalServerError)
		return
	}

	var questions []store.Question
	for _, q := range body.Questions {
		if strings.TrimSpace(q.Text) == "" {
			continue
		}
		saved, err := r.store.AddQuestion(req.Context(), itv.ID, q.Text, q.DeadlineSeconds)
		if err != nil {
			r.logger.Printf("interviews: add question failed for %s: %v", itv.ID, err)
			http.Error(w, `{"error": "failed to save questions"}`, http.StatusInternalServerError)
			return
		}
		questions = append(questions, *saved)
	}

	r.logger.Printf("interviews: created %s with %d questions", itv.ID, len(questions))
	writeJSON(w, http.StatusCreated, map[string]any{
		"interview": itv,
		"questions": questions,
	})
}

// handleListInterviews returns the recruiter's interviews.
func (r *Router) handleListInterviews(w http.ResponseWriter, req *http.Request) {
	recruiterID := getRecruiterID(req.Context())

	interviews, err := r.store.ListInterviews(req.Context(), recruiterID)
	if err != nil {
		r.logger.Printf("interviews: list failed: %v", err)
		http.Error(w, `{"error": "failed to list interviews"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interviews": interviews})
}

// getOwnedInterview loads the interview and enforces recruiter ownership.
func (r *Router) getOwnedInterview(w http.ResponseWriter, req *http.Request) *store.Interview {
	itv, err := r.store.GetInterview(req.Context(), req.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, `{"error": "interview not found"}`, http.StatusNotFound)
		return nil
	}
	if err != nil {
		r.logger.Printf("interviews: get failed: %v", err)
		http.Error(w, `{"error": "failed to load interview"}`, http.StatusInternalServerError)
		return nil
	}
	if itv.RecruiterID != getRecruiterID(req.Context()) {
		http.Error(w, `{"error": "interview not found"}`, http.StatusNotFound)
		return nil
	}
	return itv
}

// handleGetInterview returns one interview with questions, turns and
// integrity flags.
func (r *Router) handleGetInterview(w http.ResponseWriter, req *http.Request) {
	itv := r.getOwnedInterview(w, req)
	if itv == nil {
		return
	}

	questions, err := r.store.ListQuestions(req.Context(), itv.ID)
	if err != nil {
		r.logger.Printf("interviews: list questions failed for %s: %v", itv.ID, err)
		http.Error(w, `{"error": "failed to load questions"}`, http.StatusInternalServerError)
		return
	}
	turns, err := r.store.ListTurns(req.Context(), itv.ID)
	if err != nil {
		r.logger.Printf("interviews: list turns failed for %s: %v", itv.ID, err)
		http.Error(w, `{"error": "failed to load turns"}`, http.StatusInternalServerError)
		return
	}
	flags, err := r.store.GetIntegrityFlags(req.Context(), itv.ID)
	if err != nil {
		r.logger.Printf("interviews: load flags failed for %s: %v", itv.ID, err)
		flags = nil
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"interview": itv,
		"questions": questions,
		"turns":     turns,
		"flags":     flags,
	})
}

// handleReplay returns the ordered timeline feed for one interview.
func (r *Router) handleReplay(w http.ResponseWriter, req *http.Request) {
	itv := r.getOwnedInterview(w, req)
	if itv == nil {
		return
	}

	events, err := r.timeline.Replay(req.Context(), itv.ID)
	if err != nil {
		r.logger.Printf("interviews: replay failed for %s: %v", itv.ID, err)
		http.Error(w, `{"error": "failed to load timeline"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleIssueCandidateLink mints the candidate's single-interview link.
func (r *Router) handleIssueCandidateLink(w http.ResponseWriter, req *http.Request) {
	itv := r.getOwnedInterview(w, req)
	if itv == nil {
		return
	}

	token, expiresAt, err := r.generateCandidateToken(itv.ID)
	if err != nil {
		r.logger.Printf("interviews: link token failed for %s: %v", itv.ID, err)
		http.Error(w, `{"error": "failed to issue link"}`, http.StatusInternalServerError)
		return
	}

	wsBase := wsURLFromPublicBase(r.cfg.PublicBaseURL)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
		"ws_url":     fmt.Sprintf("%s/ws/interview/%s?token=%s", wsBase, itv.ID, token),
	})
}

// handleSubmitFlags stores the deduplicated integrity flag set for one
// question. This is the engine's flag-submission target.
func (r *Router) handleSubmitFlags(w http.ResponseWriter, req *http.Request) {
	interviewID := req.PathValue("id")

	var body struct {
		QuestionID int      `json:"question_id"`
		Flags      []string `json:"flags"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.QuestionID == 0 {
		http.Error(w, `{"error": "question_id is required"}`, http.StatusBadRequest)
		return
	}

	if err := r.store.SaveIntegrityFlags(req.Context(), interviewID, body.QuestionID, body.Flags); err != nil {
		r.logger.Printf("interviews: save flags failed for %s q=%d: %v", interviewID, body.QuestionID, err)
		http.Error(w, `{"error": "failed to save flags"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handlePushRegister registers a recruiter device push token.
func (r *Router) handlePushRegister(w http.ResponseWriter, req *http.Request) {
	recruiterID := getRecruiterID(req.Context())

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.Token == "" {
		http.Error(w, `{"error": "token is required"}`, http.StatusBadRequest)
		return
	}

	if err := r.store.UpsertPushToken(req.Context(), recruiterID, body.Token); err != nil {
		r.logger.Printf("push: failed to register token: %v", err)
		http.Error(w, `{"error": "failed to register token"}`, http.StatusInternalServerError)
		return
	}

	r.logger.Printf("push: registered token for recruiter %s", recruiterID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
