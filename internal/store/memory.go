package store

import (
	"context"
	"sync"
	"time"

	"watportal/internal/wat"

	"github.com/google/uuid"
)

type submissionKey struct {
	AssessmentID uuid.UUID
	StudentID    string
}

// Memory keeps assessments and submissions in process. Every guarded write
// re-checks its invariant under the write lock.
type Memory struct {
	mu          sync.RWMutex
	assessments map[uuid.UUID]wat.Assessment
	order       []uuid.UUID
	submissions map[submissionKey]wat.Submission
	subOrder    []submissionKey
}

var _ wat.Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		assessments: make(map[uuid.UUID]wat.Assessment),
		submissions: make(map[submissionKey]wat.Submission),
	}
}

func (m *Memory) FindBySubjectYearSemester(ctx context.Context, subject, year, semester string) ([]wat.Assessment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(func(a wat.Assessment) bool {
		return a.Subject == subject && a.Year == year && a.Semester == semester
	}), nil
}

func (m *Memory) FindAssessment(ctx context.Context, id uuid.UUID) (*wat.Assessment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assessments[id]
	if !ok {
		return nil, wat.ErrAssessmentNotFound
	}
	out := cloneAssessment(a)
	return &out, nil
}

func (m *Memory) InsertAssessment(ctx context.Context, a wat.Assessment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, exists := m.assessments[a.ID]; exists {
		return &wat.StorageError{Op: "insert assessment", Err: errDuplicateID}
	}
	if err := m.guard(a); err != nil {
		return err
	}
	m.assessments[a.ID] = cloneAssessment(a)
	m.order = append(m.order, a.ID)
	return nil
}

func (m *Memory) UpdateAssessment(ctx context.Context, a wat.Assessment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	current, exists := m.assessments[a.ID]
	if !exists {
		return wat.ErrAssessmentNotFound
	}
	if !wat.SameQuestions(current.Questions, a.Questions) && m.hasSubmissions(a.ID) {
		return wat.ErrHasSubmissions
	}
	if err := m.guard(a); err != nil {
		return err
	}
	m.assessments[a.ID] = cloneAssessment(a)
	return nil
}

func (m *Memory) FindActiveByYear(ctx context.Context, year string, now time.Time) ([]wat.Assessment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(func(a wat.Assessment) bool {
		return a.Year == year && a.IsOpen(now)
	}), nil
}

func (m *Memory) FindSubmissions(ctx context.Context, studentID string) ([]wat.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]wat.Submission, 0)
	for _, k := range m.subOrder {
		if k.StudentID == studentID {
			out = append(out, cloneSubmission(m.submissions[k]))
		}
	}
	return out, nil
}

func (m *Memory) FindSubmissionsByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]wat.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]wat.Submission, 0)
	for _, k := range m.subOrder {
		if k.AssessmentID == assessmentID {
			out = append(out, cloneSubmission(m.submissions[k]))
		}
	}
	return out, nil
}

func (m *Memory) InsertSubmissionIfAbsent(ctx context.Context, s wat.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	k := submissionKey{AssessmentID: s.AssessmentID, StudentID: s.StudentID}
	if _, exists := m.submissions[k]; exists {
		return wat.ErrAlreadySubmitted
	}
	a, ok := m.assessments[s.AssessmentID]
	if !ok {
		return wat.ErrAssessmentNotFound
	}
	if !s.GradedAgainst(a.Questions) {
		return wat.ErrAssessmentChanged
	}
	m.submissions[k] = cloneSubmission(s)
	m.subOrder = append(m.subOrder, k)
	return nil
}

func (m *Memory) hasSubmissions(assessmentID uuid.UUID) bool {
	for _, k := range m.subOrder {
		if k.AssessmentID == assessmentID {
			return true
		}
	}
	return false
}

// guard must be called with the write lock held.
func (m *Memory) guard(a wat.Assessment) error {
	group := m.filter(func(x wat.Assessment) bool {
		return x.Subject == a.Subject && x.Year == a.Year && x.Semester == a.Semester
	})
	return wat.CheckConflict(wat.CandidateOf(a), group).Err()
}

func (m *Memory) filter(keep func(wat.Assessment) bool) []wat.Assessment {
	out := make([]wat.Assessment, 0)
	for _, id := range m.order {
		a := m.assessments[id]
		if keep(a) {
			out = append(out, cloneAssessment(a))
		}
	}
	return out
}

func cloneAssessment(a wat.Assessment) wat.Assessment {
	a.Questions = append([]wat.Question(nil), a.Questions...)
	return a
}

func cloneSubmission(s wat.Submission) wat.Submission {
	s.Answers = append([]string(nil), s.Answers...)
	return s
}
