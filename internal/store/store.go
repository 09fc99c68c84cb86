package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Interview statuses.
const (
	InterviewPending   = "pending"
	InterviewLive      = "live"
	InterviewCompleted = "completed"
	InterviewAbandoned = "abandoned"
)

// Upload statuses for submitted capture artifacts.
const (
	UploadPending    = "pending"
	UploadProcessing = "processing"
	UploadDone       = "done"
	UploadFailed     = "failed"
)

// Interview represents one scheduled interview instance.
type Interview struct {
	ID            string     `json:"id"`
	RecruiterID   string     `json:"recruiter_id"`
	CandidateName string     `json:"candidate_name"`
	RoleTitle     string     `json:"role_title"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Question is one configured interview question.
type Question struct {
	ID              int    `json:"id"`
	InterviewID     string `json:"interview_id"`
	Text            string `json:"text"`
	DeadlineSeconds int    `json:"deadline_seconds,omitempty"`
}

// Turn is one persisted exchange unit.
type Turn struct {
	ID          int64      `json:"id,omitempty"`
	InterviewID string     `json:"interview_id"`
	QuestionID  *int       `json:"question_id,omitempty"`
	Speaker     string     `json:"speaker"`
	Transcript  string     `json:"transcript"`
	Outcome     string     `json:"outcome,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// Upload is one submitted capture artifact awaiting transcription.
type Upload struct {
	ID          string     `json:"id"`
	InterviewID string     `json:"interview_id"`
	QuestionID  *int       `json:"question_id,omitempty"`
	Partial     bool       `json:"partial"`
	SizeBytes   int        `json:"size_bytes"`
	Status      string     `json:"status"`
	Transcript  *string    `json:"transcript,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

func (s *Store) CreateInterview(ctx context.Context, recruiterID, candidateName, roleTitle string) (*Interview, error) {
	var itv Interview
	err := s.db.QueryRow(ctx, `
		INSERT INTO interviews (id, recruiter_id, candidate_name, role_title, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
		RETURNING id, recruiter_id, candidate_name, role_title, status, created_at
	`, recruiterID, candidateName, roleTitle, InterviewPending).Scan(
		&itv.ID, &itv.RecruiterID, &itv.CandidateName, &itv.RoleTitle, &itv.Status, &itv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &itv, nil
}

func (s *Store) GetInterview(ctx context.Context, id string) (*Interview, error) {
	var itv Interview
	err := s.db.QueryRow(ctx, `
		SELECT id, recruiter_id, candidate_name, role_title, status, created_at, started_at, completed_at
		FROM interviews
		WHERE id = $1
	`, id).Scan(
		&itv.ID, &itv.RecruiterID, &itv.CandidateName, &itv.RoleTitle,
		&itv.Status, &itv.CreatedAt, &itv.StartedAt, &itv.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &itv, nil
}

func (s *Store) ListInterviews(ctx context.Context, recruiterID string) ([]Interview, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, recruiter_id, candidate_name, role_title, status, created_at, started_at, completed_at
		FROM interviews
		WHERE recruiter_id = $1
		ORDER BY created_at DESC
	`, recruiterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var interviews []Interview
	for rows.Next() {
		var itv Interview
		if err := rows.Scan(&itv.ID, &itv.RecruiterID, &itv.CandidateName, &itv.RoleTitle,
			&itv.Status, &itv.CreatedAt, &itv.StartedAt, &itv.CompletedAt); err != nil {
			return nil, err
		}
		interviews = append(interviews, itv)
	}
	return interviews, rows.Err()
}

// UpdateInterviewStatus moves an interview through its lifecycle and
// stamps started_at/completed_at on the matching transitions.
func (s *Store) UpdateInterviewStatus(ctx context.Context, id, status string, at time.Time) error {
	var col string
	switch status {
	case InterviewLive:
		col = "started_at"
	case InterviewCompleted, InterviewAbandoned:
		col = "completed_at"
	default:
		_, err := s.db.Exec(ctx, `UPDATE interviews SET status = $2 WHERE id = $1`, id, status)
		return err
	}
	_, err := s.db.Exec(ctx,
		`UPDATE interviews SET status = $2, `+col+` = $3 WHERE id = $1`,
		id, status, at)
	return err
}

func (s *Store) AddQuestion(ctx context.Context, interviewID, text string, deadlineSeconds int) (*Question, error) {
	var q Question
	err := s.db.QueryRow(ctx, `
		INSERT INTO interview_questions (interview_id, question_text, deadline_seconds)
		VALUES ($1, $2, $3)
		RETURNING id, interview_id, question_text, deadline_seconds
	`, interviewID, text, deadlineSeconds).Scan(&q.ID, &q.InterviewID, &q.Text, &q.DeadlineSeconds)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *Store) ListQuestions(ctx context.Context, interviewID string) ([]Question, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, interview_id, question_text, deadline_seconds
		FROM interview_questions
		WHERE interview_id = $1
		ORDER BY id ASC
	`, interviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.InterviewID, &q.Text, &q.DeadlineSeconds); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// NextUnansweredQuestion returns the first question without a sealed
// candidate turn, or ErrNotFound once every question is answered.
func (s *Store) NextUnansweredQuestion(ctx context.Context, interviewID string) (*Question, error) {
	var q Question
	err := s.db.QueryRow(ctx, `
		SELECT q.id, q.interview_id, q.question_text, q.deadline_seconds
		FROM interview_questions q
		WHERE q.interview_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM interview_turns t
			WHERE t.interview_id = q.interview_id
			  AND t.question_id = q.id
			  AND t.speaker = 'candidate'
		  )
		ORDER BY q.id ASC
		LIMIT 1
	`, interviewID).Scan(&q.ID, &q.InterviewID, &q.Text, &q.DeadlineSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *Store) InsertTurn(ctx context.Context, t Turn) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO interview_turns (interview_id, question_id, speaker, transcript, outcome, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, t.InterviewID, t.QuestionID, t.Speaker, t.Transcript, t.Outcome, t.StartedAt, t.EndedAt).Scan(&id)
	return id, err
}

func (s *Store) ListTurns(ctx context.Context, interviewID string) ([]Turn, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, interview_id, question_id, speaker, transcript, outcome, started_at, ended_at
		FROM interview_turns
		WHERE interview_id = $1
		ORDER BY id ASC
	`, interviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.InterviewID, &t.QuestionID, &t.Speaker, &t.Transcript,
			&t.Outcome, &t.StartedAt, &t.EndedAt); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *Store) InsertUpload(ctx context.Context, interviewID string, questionID *int, partial bool, sizeBytes int) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, `
		INSERT INTO uploads (id, interview_id, question_id, partial, size_bytes, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id
	`, interviewID, questionID, partial, sizeBytes, UploadPending).Scan(&id)
	return id, err
}

func (s *Store) SetUploadResult(ctx context.Context, id, status string, transcript *string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE uploads SET status = $2, transcript = $3, updated_at = now()
		WHERE id = $1
	`, id, status, transcript)
	return err
}

// ListStuckUploads returns non-terminal uploads older than the cutoff so
// the sweep job can fail them.
func (s *Store) ListStuckUploads(ctx context.Context, cutoff time.Time) ([]Upload, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, interview_id, question_id, partial, size_bytes, status, transcript, created_at, updated_at
		FROM uploads
		WHERE status IN ($1, $2) AND created_at < $3
	`, UploadPending, UploadProcessing, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []Upload
	for rows.Next() {
		var u Upload
		if err := rows.Scan(&u.ID, &u.InterviewID, &u.QuestionID, &u.Partial, &u.SizeBytes,
			&u.Status, &u.Transcript, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// ListStaleLiveInterviews returns interviews that went live before the
// cutoff and never completed.
func (s *Store) ListStaleLiveInterviews(ctx context.Context, cutoff time.Time) ([]Interview, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, recruiter_id, candidate_name, role_title, status, created_at, started_at, completed_at
		FROM interviews
		WHERE status = $1 AND started_at < $2
	`, InterviewLive, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var interviews []Interview
	for rows.Next() {
		var itv Interview
		if err := rows.Scan(&itv.ID, &itv.RecruiterID, &itv.CandidateName, &itv.RoleTitle,
			&itv.Status, &itv.CreatedAt, &itv.StartedAt, &itv.CompletedAt); err != nil {
			return nil, err
		}
		interviews = append(interviews, itv)
	}
	return interviews, rows.Err()
}

// SaveIntegrityFlags stores the deduplicated flag set submitted for a
// question. A re-submission replaces the previous set.
func (s *Store) SaveIntegrityFlags(ctx context.Context, interviewID string, questionID int, flags []string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO interview_flags (interview_id, question_id, flags)
		VALUES ($1, $2, $3)
		ON CONFLICT (interview_id, question_id) DO UPDATE SET flags = EXCLUDED.flags, updated_at = now()
	`, interviewID, questionID, flags)
	return err
}

func (s *Store) GetIntegrityFlags(ctx context.Context, interviewID string) (map[int][]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT question_id, flags FROM interview_flags WHERE interview_id = $1
	`, interviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	flags := make(map[int][]string)
	for rows.Next() {
		var (
			qid int
			set []string
		)
		if err := rows.Scan(&qid, &set); err != nil {
			return nil, err
		}
		flags[qid] = set
	}
	return flags, rows.Err()
}

func (s *Store) UpsertPushToken(ctx context.Context, recruiterID, deviceToken string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO push_tokens (recruiter_id, device_token)
		VALUES ($1, $2)
		ON CONFLICT (device_token) DO UPDATE SET recruiter_id = EXCLUDED.recruiter_id
	`, recruiterID, deviceToken)
	return err
}

func (s *Store) ListPushTokens(ctx context.Context, recruiterID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT device_token FROM push_tokens WHERE recruiter_id = $1
	`, recruiterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}
