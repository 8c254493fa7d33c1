package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"watportal/internal/wat"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var errDuplicateID = errors.New("assessment id already exists")

const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
)

// Postgres stores assessments and submissions. The unique key, the
// gist exclusion constraint on the window and the submissions primary key
// are what make concurrent writes safe; see internal/db/schema.sql.
type Postgres struct {
	db *sql.DB
}

var _ wat.Repository = (*Postgres)(nil)

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const assessmentColumns = `
	id, subject, year, semester, wat_number, faculty_id,
	questions, start_at, end_at, created_at, updated_at
`

func (p *Postgres) FindBySubjectYearSemester(ctx context.Context, subject, year, semester string) ([]wat.Assessment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+assessmentColumns+`
		FROM assessments
		WHERE subject = $1 AND year = $2 AND semester = $3
		ORDER BY start_at ASC, wat_number ASC
	`, subject, year, semester)
	if err != nil {
		return nil, fmt.Errorf("query assessments by group: %w", err)
	}
	return scanAssessments(rows)
}

func (p *Postgres) FindAssessment(ctx context.Context, id uuid.UUID) (*wat.Assessment, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+assessmentColumns+`
		FROM assessments
		WHERE id = $1
	`, id)
	a, err := scanAssessment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, wat.ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("load assessment: %w", err)
	}
	return a, nil
}

func (p *Postgres) InsertAssessment(ctx context.Context, a wat.Assessment) error {
	questions, err := json.Marshal(a.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO assessments (
			id, subject, year, semester, wat_number, faculty_id,
			questions, start_at, end_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11)
	`, a.ID, a.Subject, a.Year, a.Semester, a.WATNumber, a.FacultyID,
		questions, a.StartTime, a.EndTime, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isConstraintViolation(err) {
			return p.classifyConflict(ctx, a, err)
		}
		return fmt.Errorf("insert assessment: %w", err)
	}
	return nil
}

// UpdateAssessment locks the row first so it serializes with
// InsertSubmissionIfAbsent; questions may only change while nobody has
// submitted.
func (p *Postgres) UpdateAssessment(ctx context.Context, a wat.Assessment) error {
	questions, err := json.Marshal(a.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update assessment: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked uuid.UUID
	if err := tx.QueryRowContext(ctx, `
		SELECT id FROM assessments WHERE id = $1 FOR UPDATE
	`, a.ID).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return wat.ErrAssessmentNotFound
		}
		return fmt.Errorf("lock assessment: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE assessments
		SET subject = $2,
			year = $3,
			semester = $4,
			wat_number = $5,
			questions = $6::jsonb,
			start_at = $7,
			end_at = $8,
			updated_at = $9
		WHERE id = $1
		  AND (
			questions = $6::jsonb
			OR NOT EXISTS (SELECT 1 FROM submissions WHERE assessment_id = $1)
		  )
	`, a.ID, a.Subject, a.Year, a.Semester, a.WATNumber, questions, a.StartTime, a.EndTime, a.UpdatedAt)
	if err != nil {
		if isConstraintViolation(err) {
			_ = tx.Rollback()
			return p.classifyConflict(ctx, a, err)
		}
		return fmt.Errorf("update assessment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update assessment rows: %w", err)
	}
	if n == 0 {
		return wat.ErrHasSubmissions
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update assessment: %w", err)
	}
	return nil
}

func (p *Postgres) FindActiveByYear(ctx context.Context, year string, now time.Time) ([]wat.Assessment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+assessmentColumns+`
		FROM assessments
		WHERE year = $1
		  AND start_at <= $2
		  AND end_at > $2
		ORDER BY start_at ASC, wat_number ASC
	`, year, now)
	if err != nil {
		return nil, fmt.Errorf("query active assessments: %w", err)
	}
	return scanAssessments(rows)
}

func (p *Postgres) FindSubmissions(ctx context.Context, studentID string) ([]wat.Submission, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT assessment_id, student_id, answers, score, submitted_at
		FROM submissions
		WHERE student_id = $1
		ORDER BY submitted_at ASC
	`, studentID)
	if err != nil {
		return nil, fmt.Errorf("query student submissions: %w", err)
	}
	return scanSubmissions(rows)
}

func (p *Postgres) FindSubmissionsByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]wat.Submission, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT assessment_id, student_id, answers, score, submitted_at
		FROM submissions
		WHERE assessment_id = $1
		ORDER BY submitted_at ASC
	`, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("query assessment submissions: %w", err)
	}
	return scanSubmissions(rows)
}

// InsertSubmissionIfAbsent holds a share lock on the assessment row while
// it re-grades and inserts, so a concurrent question change either waits or
// is observed.
func (p *Postgres) InsertSubmissionIfAbsent(ctx context.Context, s wat.Submission) error {
	answers, err := json.Marshal(s.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert submission: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	if err := tx.QueryRowContext(ctx, `
		SELECT questions FROM assessments WHERE id = $1 FOR SHARE
	`, s.AssessmentID).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return wat.ErrAssessmentNotFound
		}
		return fmt.Errorf("lock assessment: %w", err)
	}
	var questions []wat.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return fmt.Errorf("decode questions: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO submissions (
			assessment_id,
			student_id,
			answers,
			score,
			submitted_at
		)
		SELECT $1::uuid, $2::text, $3::jsonb, $4::integer, $5::timestamptz
		WHERE $6::boolean
		ON CONFLICT (assessment_id, student_id) DO NOTHING
	`, s.AssessmentID, s.StudentID, answers, s.Score, s.SubmittedAt, s.GradedAgainst(questions))
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert submission rows: %w", err)
	}
	if n == 0 {
		return p.rejectedSubmission(ctx, tx, s)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit submission: %w", err)
	}
	return nil
}

// rejectedSubmission tells a duplicate apart from a stale grade.
func (p *Postgres) rejectedSubmission(ctx context.Context, tx *sql.Tx, s wat.Submission) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM submissions WHERE assessment_id = $1 AND student_id = $2
		)
	`, s.AssessmentID, s.StudentID).Scan(&exists); err != nil {
		return fmt.Errorf("check submission: %w", err)
	}
	if exists {
		return wat.ErrAlreadySubmitted
	}
	return wat.ErrAssessmentChanged
}

// classifyConflict turns a constraint violation into the same ConflictError
// the checker would have produced, re-reading the group that now blocks a.
func (p *Postgres) classifyConflict(ctx context.Context, a wat.Assessment, cause error) error {
	existing, err := p.FindBySubjectYearSemester(ctx, a.Subject, a.Year, a.Semester)
	if err != nil {
		return fmt.Errorf("classify conflict: %w", errors.Join(cause, err))
	}
	if conflict := wat.CheckConflict(wat.CandidateOf(a), existing).Err(); conflict != nil {
		return conflict
	}
	return fmt.Errorf("write assessment: %w", cause)
}

func isConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation || pgErr.Code == pgExclusionViolation
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAssessment(row rowScanner) (*wat.Assessment, error) {
	var (
		a         wat.Assessment
		questions []byte
	)
	if err := row.Scan(
		&a.ID,
		&a.Subject,
		&a.Year,
		&a.Semester,
		&a.WATNumber,
		&a.FacultyID,
		&questions,
		&a.StartTime,
		&a.EndTime,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(questions, &a.Questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	return &a, nil
}

func scanAssessments(rows *sql.Rows) ([]wat.Assessment, error) {
	defer rows.Close()

	out := make([]wat.Assessment, 0)
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assessments: %w", err)
	}
	return out, nil
}

func scanSubmissions(rows *sql.Rows) ([]wat.Submission, error) {
	defer rows.Close()

	out := make([]wat.Submission, 0)
	for rows.Next() {
		var (
			s       wat.Submission
			answers []byte
		)
		if err := rows.Scan(&s.AssessmentID, &s.StudentID, &answers, &s.Score, &s.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		if err := json.Unmarshal(answers, &s.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}
