package wat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Repository is the storage the service runs against. InsertAssessment and
// UpdateAssessment must reject conflicting writes atomically with a
// *ConflictError. UpdateAssessment must refuse a change of questions with
// ErrHasSubmissions while submissions exist. InsertSubmissionIfAbsent must
// return ErrAlreadySubmitted when the (assessment, student) pair already
// exists and ErrAssessmentChanged when the submission no longer grades the
// same against the stored questions.
type Repository interface {
	FindBySubjectYearSemester(ctx context.Context, subject, year, semester string) ([]Assessment, error)
	FindAssessment(ctx context.Context, id uuid.UUID) (*Assessment, error)
	InsertAssessment(ctx context.Context, a Assessment) error
	UpdateAssessment(ctx context.Context, a Assessment) error
	FindActiveByYear(ctx context.Context, year string, now time.Time) ([]Assessment, error)
	FindSubmissions(ctx context.Context, studentID string) ([]Submission, error)
	FindSubmissionsByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]Submission, error)
	InsertSubmissionIfAbsent(ctx context.Context, s Submission) error
}

type ServiceConfig struct {
	RepoTimeout time.Duration
	Now         func() time.Time
}

type Service struct {
	repo      Repository
	validator *Validator
	timeout   time.Duration
	now       func() time.Time
}

func NewService(repo Repository, cfg ServiceConfig) *Service {
	if cfg.RepoTimeout <= 0 {
		cfg.RepoTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		repo:      repo,
		validator: NewValidator(),
		timeout:   cfg.RepoTimeout,
		now:       cfg.Now,
	}
}

func (s *Service) CreateAssessment(ctx context.Context, facultyID string, in AssessmentInput) (*Assessment, error) {
	facultyID = strings.TrimSpace(facultyID)
	if facultyID == "" {
		return nil, &ValidationError{Fields: []FieldError{{Field: "faculty_id", Message: "faculty_id is required"}}}
	}

	a, err := s.validator.Assessment(in)
	if err != nil {
		return nil, err
	}

	existing, err := s.findGroup(ctx, a.Subject, a.Year, a.Semester)
	if err != nil {
		return nil, err
	}
	if err := CheckConflict(CandidateOf(a), existing).Err(); err != nil {
		return nil, err
	}

	now := s.now()
	a.ID = uuid.New()
	a.FacultyID = facultyID
	a.CreatedAt = now
	a.UpdatedAt = now

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.InsertAssessment(ctx, a); err != nil {
		return nil, storageError("insert assessment", err)
	}
	return &a, nil
}

func (s *Service) UpdateAssessment(ctx context.Context, facultyID string, id uuid.UUID, in AssessmentInput) (*Assessment, error) {
	current, err := s.GetAssessment(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.FacultyID != facultyID {
		return nil, ErrNotOwner
	}

	a, err := s.validator.Assessment(in)
	if err != nil {
		return nil, err
	}
	a.ID = current.ID
	a.FacultyID = current.FacultyID
	a.CreatedAt = current.CreatedAt
	a.UpdatedAt = s.now()

	if !SameQuestions(current.Questions, a.Questions) {
		if err := s.requireNoSubmissions(ctx, id); err != nil {
			return nil, err
		}
	}

	existing, err := s.findGroup(ctx, a.Subject, a.Year, a.Semester)
	if err != nil {
		return nil, err
	}
	if err := CheckConflict(CandidateOf(a), existing).Err(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.UpdateAssessment(ctx, a); err != nil {
		return nil, storageError("update assessment", err)
	}
	return &a, nil
}

func (s *Service) GetAssessment(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	a, err := s.repo.FindAssessment(ctx, id)
	if err != nil {
		return nil, storageError("find assessment", err)
	}
	return a, nil
}

// ListActiveFor returns the assessments open at now for the year cohort that
// the student has not attempted yet.
func (s *Service) ListActiveFor(ctx context.Context, year, studentID string, now time.Time) ([]Assessment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		active      []Assessment
		submissions []Submission
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		active, err = s.repo.FindActiveByYear(gctx, year, now)
		return storageError("find active assessments", err)
	})
	g.Go(func() error {
		var err error
		submissions, err = s.repo.FindSubmissions(gctx, studentID)
		return storageError("find submissions", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return ExcludeAttempted(ListActive(now, year, active), submissions), nil
}

func (s *Service) Submit(ctx context.Context, assessmentID uuid.UUID, studentID string, answers []string, now time.Time) (*Submission, error) {
	a, err := s.GetAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	prior, err := s.ListStudentSubmissions(ctx, studentID)
	if err != nil {
		return nil, err
	}

	sub, err := NewSubmission(now, a, studentID, answers, prior)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.InsertSubmissionIfAbsent(ctx, *sub); err != nil {
		return nil, storageError("insert submission", err)
	}
	return sub, nil
}

func (s *Service) ListStudentSubmissions(ctx context.Context, studentID string) ([]Submission, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	subs, err := s.repo.FindSubmissions(ctx, studentID)
	if err != nil {
		return nil, storageError("find submissions", err)
	}
	return subs, nil
}

// ListResults returns every submission of an assessment to its owner, best
// score first.
func (s *Service) ListResults(ctx context.Context, facultyID string, assessmentID uuid.UUID) ([]Submission, error) {
	a, err := s.GetAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if a.FacultyID != facultyID {
		return nil, ErrNotOwner
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	subs, err := s.repo.FindSubmissionsByAssessment(ctx, assessmentID)
	if err != nil {
		return nil, storageError("find results", err)
	}
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].Score != subs[j].Score {
			return subs[i].Score > subs[j].Score
		}
		return subs[i].SubmittedAt.Before(subs[j].SubmittedAt)
	})
	return subs, nil
}

// requireNoSubmissions fails with ErrHasSubmissions once anyone has submitted.
func (s *Service) requireNoSubmissions(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	subs, err := s.repo.FindSubmissionsByAssessment(ctx, id)
	if err != nil {
		return storageError("find results", err)
	}
	if len(subs) > 0 {
		return ErrHasSubmissions
	}
	return nil
}

func (s *Service) findGroup(ctx context.Context, subject, year, semester string) ([]Assessment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	existing, err := s.repo.FindBySubjectYearSemester(ctx, subject, year, semester)
	if err != nil {
		return nil, storageError("find assessments", err)
	}
	return existing, nil
}

// storageError passes business outcomes through and wraps everything else.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var conflict *ConflictError
	var storage *StorageError
	switch {
	case errors.As(err, &conflict), errors.As(err, &storage):
		return err
	case errors.Is(err, ErrAlreadySubmitted), errors.Is(err, ErrAssessmentNotFound):
		return err
	case errors.Is(err, ErrHasSubmissions), errors.Is(err, ErrAssessmentChanged):
		return err
	}
	return &StorageError{Op: op, Err: err}
}
