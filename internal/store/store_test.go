package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// getTestDB returns a database pool for testing.
// Skips the test if DATABASE_URL is not set.
func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.Ping(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	return db
}

func TestInterviewLifecycle(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()

	itv, err := s.CreateInterview(ctx, "rec-1", "Ada Lovelace", "Backend Engineer")
	if err != nil {
		t.Fatalf("CreateInterview failed: %v", err)
	}
	if itv.ID == "" {
		t.Error("interview ID should not be empty")
	}
	if itv.Status != InterviewPending {
		t.Errorf("status = %q, want %q", itv.Status, InterviewPending)
	}

	retrieved, err := s.GetInterview(ctx, itv.ID)
	if err != nil {
		t.Fatalf("GetInterview failed: %v", err)
	}
	if retrieved.CandidateName != "Ada Lovelace" {
		t.Errorf("candidate_name = %q, want %q", retrieved.CandidateName, "Ada Lovelace")
	}

	// pending -> live stamps started_at
	now := time.Now().UTC()
	if err := s.UpdateInterviewStatus(ctx, itv.ID, InterviewLive, now); err != nil {
		t.Fatalf("UpdateInterviewStatus (live) failed: %v", err)
	}
	live, _ := s.GetInterview(ctx, itv.ID)
	if live.Status != InterviewLive {
		t.Errorf("status = %q, want %q", live.Status, InterviewLive)
	}
	if live.StartedAt == nil {
		t.Error("started_at should be set after going live")
	}

	// live -> completed stamps completed_at
	if err := s.UpdateInterviewStatus(ctx, itv.ID, InterviewCompleted, time.Now().UTC()); err != nil {
		t.Fatalf("UpdateInterviewStatus (completed) failed: %v", err)
	}
	done, _ := s.GetInterview(ctx, itv.ID)
	if done.CompletedAt == nil {
		t.Error("completed_at should be set after completion")
	}

	// Cleanup
	_, _ = db.Exec(ctx, "DELETE FROM interviews WHERE id = $1", itv.ID)
}

func TestGetInterviewNotFound(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	_, err := s.GetInterview(context.Background(), "00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestQuestionOrderingAndNextUnanswered(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()

	itv, err := s.CreateInterview(ctx, "rec-2", "Grace Hopper", "Platform Engineer")
	if err != nil {
		t.Fatalf("CreateInterview failed: %v", err)
	}

	q1, err := s.AddQuestion(ctx, itv.ID, "Tell me about a system you designed.", 300)
	if err != nil {
		t.Fatalf("AddQuestion failed: %v", err)
	}
	q2, err := s.AddQuestion(ctx, itv.ID, "How do you approach debugging?", 180)
	if err != nil {
		t.Fatalf("AddQuestion failed: %v", err)
	}

	questions, err := s.ListQuestions(ctx, itv.ID)
	if err != nil {
		t.Fatalf("ListQuestions failed: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(questions))
	}
	if questions[0].ID != q1.ID || questions[1].ID != q2.ID {
		t.Error("questions should come back in insertion order")
	}

	// Both unanswered: the first question is next.
	next, err := s.NextUnansweredQuestion(ctx, itv.ID)
	if err != nil {
		t.Fatalf("NextUnansweredQuestion failed: %v", err)
	}
	if next.ID != q1.ID {
		t.Errorf("next question = %d, want %d", next.ID, q1.ID)
	}

	// Answer the first; the second becomes next.
	started := time.Now().UTC()
	ended := started.Add(40 * time.Second)
	_, err = s.InsertTurn(ctx, Turn{
		InterviewID: itv.ID,
		QuestionID:  &q1.ID,
		Speaker:     "candidate",
		Transcript:  "I built a queueing system.",
		Outcome:     "completed",
		StartedAt:   &started,
		EndedAt:     &ended,
	})
	if err != nil {
		t.Fatalf("InsertTurn failed: %v", err)
	}

	next2, err := s.NextUnansweredQuestion(ctx, itv.ID)
	if err != nil {
		t.Fatalf("NextUnansweredQuestion (second) failed: %v", err)
	}
	if next2.ID != q2.ID {
		t.Errorf("next question = %d, want %d", next2.ID, q2.ID)
	}

	// Agent turns do not count as answers.
	_, err = s.InsertTurn(ctx, Turn{
		InterviewID: itv.ID,
		QuestionID:  &q2.ID,
		Speaker:     "agent",
		Transcript:  "How do you approach debugging?",
		Outcome:     "completed",
	})
	if err != nil {
		t.Fatalf("InsertTurn (agent) failed: %v", err)
	}
	next3, err := s.NextUnansweredQuestion(ctx, itv.ID)
	if err != nil {
		t.Fatalf("NextUnansweredQuestion (after agent turn) failed: %v", err)
	}
	if next3.ID != q2.ID {
		t.Errorf("agent turn must not mark a question answered, next = %d", next3.ID)
	}

	// Answer the second; no question remains.
	_, err = s.InsertTurn(ctx, Turn{
		InterviewID: itv.ID,
		QuestionID:  &q2.ID,
		Speaker:     "candidate",
		Transcript:  "I reproduce first, then bisect.",
		Outcome:     "completed",
	})
	if err != nil {
		t.Fatalf("InsertTurn failed: %v", err)
	}
	if _, err := s.NextUnansweredQuestion(ctx, itv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound when everything is answered", err)
	}

	// Cleanup
	_, _ = db.Exec(ctx, "DELETE FROM interview_turns WHERE interview_id = $1", itv.ID)
	_, _ = db.Exec(ctx, "DELETE FROM interview_questions WHERE interview_id = $1", itv.ID)
	_, _ = db.Exec(ctx, "DELETE FROM interviews WHERE id = $1", itv.ID)
}

func TestUploadResultTracking(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()

	itv, err := s.CreateInterview(ctx, "rec-3", "Alan Kay", "Staff Engineer")
	if err != nil {
		t.Fatalf("CreateInterview failed: %v", err)
	}
	q, err := s.AddQuestion(ctx, itv.ID, "What is your proudest project?", 300)
	if err != nil {
		t.Fatalf("AddQuestion failed: %v", err)
	}

	id, err := s.InsertUpload(ctx, itv.ID, &q.ID, false, 64000)
	if err != nil {
		t.Fatalf("InsertUpload failed: %v", err)
	}
	if id == "" {
		t.Fatal("upload ID should not be empty")
	}

	transcript := "It was a compiler for a teaching language."
	if err := s.SetUploadResult(ctx, id, UploadDone, &transcript); err != nil {
		t.Fatalf("SetUploadResult failed: %v", err)
	}

	// A fresh pending upload counts as stuck once past the cutoff.
	stuckID, err := s.InsertUpload(ctx, itv.ID, &q.ID, true, 32000)
	if err != nil {
		t.Fatalf("InsertUpload (partial) failed: %v", err)
	}
	stuck, err := s.ListStuckUploads(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListStuckUploads failed: %v", err)
	}
	found := false
	for _, u := range stuck {
		if u.ID == stuckID {
			found = true
			if !u.Partial {
				t.Error("partial flag should round-trip")
			}
		}
		if u.ID == id {
			t.Error("a done upload must not be listed as stuck")
		}
	}
	if !found {
		t.Error("pending upload should be listed as stuck past the cutoff")
	}

	// Cleanup
	_, _ = db.Exec(ctx, "DELETE FROM uploads WHERE interview_id = $1", itv.ID)
	_, _ = db.Exec(ctx, "DELETE FROM interview_questions WHERE interview_id = $1", itv.ID)
	_, _ = db.Exec(ctx, "DELETE FROM interviews WHERE id = $1", itv.ID)
}

func TestIntegrityFlagsReplaceOnResubmit(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()

	itv, err := s.CreateInterview(ctx, "rec-4", "Barbara Liskov", "Engineering Manager")
	if err != nil {
		t.Fatalf("CreateInterview failed: %v", err)
	}
	q, err := s.AddQuestion(ctx, itv.ID, "Describe a conflict you resolved.", 300)
	if err != nil {
		t.Fatalf("AddQuestion failed: %v", err)
	}

	if err := s.SaveIntegrityFlags(ctx, itv.ID, q.ID, []string{"tab_hidden"}); err != nil {
		t.Fatalf("SaveIntegrityFlags failed: %v", err)
	}
	if err := s.SaveIntegrityFlags(ctx, itv.ID, q.ID, []string{"tab_hidden", "paste_detected"}); err != nil {
		t.Fatalf("SaveIntegrityFlags (resubmit) failed: %v", err)
	}

	flags, err := s.GetIntegrityFlags(ctx, itv.ID)
	if err != nil {
		t.Fatalf("GetIntegrityFlags failed: %v", err)
	}
	if len(flags[q.ID]) != 2 {
		t.Errorf("got %d flags, want 2 after resubmission replaced the set", len(flags[q.ID]))
	}

	// Cleanup
	_, _ = db.Exec(ctx, "DELETE FROM interview_flags WHERE interview_id = $1", itv.ID)
	_, _ = db.Exec(ctx, "DELETE FROM interview_questions WHERE interview_id = $1", itv.ID)
	_, _ = db.Exec(ctx, "DELETE FROM interviews WHERE id = $1", itv.ID)
}

func TestPushTokenUpsert(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()

	token := "devtoken-" + time.Now().Format("150405.000")

	if err := s.UpsertPushToken(ctx, "rec-5", token); err != nil {
		t.Fatalf("UpsertPushToken failed: %v", err)
	}
	// Re-registering the same device for another recruiter moves it.
	if err := s.UpsertPushToken(ctx, "rec-6", token); err != nil {
		t.Fatalf("UpsertPushToken (move) failed: %v", err)
	}

	old, err := s.ListPushTokens(ctx, "rec-5")
	if err != nil {
		t.Fatalf("ListPushTokens failed: %v", err)
	}
	for _, tok := range old {
		if tok == token {
			t.Error("token should no longer belong to the old recruiter")
		}
	}

	moved, err := s.ListPushTokens(ctx, "rec-6")
	if err != nil {
		t.Fatalf("ListPushTokens failed: %v", err)
	}
	found := false
	for _, tok := range moved {
		if tok == token {
			found = true
		}
	}
	if !found {
		t.Error("token should belong to the new recruiter")
	}

	// Cleanup
	_, _ = db.Exec(ctx, "DELETE FROM push_tokens WHERE device_token = $1", token)
}
