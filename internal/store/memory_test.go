package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"watportal/internal/wat"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func assessment(number int, start, end time.Time) wat.Assessment {
	return wat.Assessment{
		ID:        uuid.New(),
		Subject:   "DS",
		Year:      "E2",
		Semester:  "Sem1",
		WATNumber: number,
		FacultyID: "fac-1",
		Questions: []wat.Question{
			{Text: "q1", Options: [4]string{"A", "B", "C", "D"}, CorrectIndex: 0},
		},
		StartTime: start,
		EndTime:   end,
	}
}

func TestMemoryInsertGuards(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first := assessment(1, base, base.Add(time.Hour))
	require.NoError(t, m.InsertAssessment(ctx, first))

	err := m.InsertAssessment(ctx, assessment(2, base.Add(30*time.Minute), base.Add(90*time.Minute)))
	assert.ErrorIs(t, err, wat.ErrTimeOverlap)

	err = m.InsertAssessment(ctx, assessment(1, base.Add(5*time.Hour), base.Add(6*time.Hour)))
	assert.ErrorIs(t, err, wat.ErrDuplicateNumber)

	require.NoError(t, m.InsertAssessment(ctx, assessment(2, base.Add(time.Hour), base.Add(2*time.Hour))))

	group, err := m.FindBySubjectYearSemester(ctx, "DS", "E2", "Sem1")
	require.NoError(t, err)
	assert.Len(t, group, 2)
}

func TestMemoryUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a := assessment(1, base, base.Add(time.Hour))
	b := assessment(2, base.Add(time.Hour), base.Add(2*time.Hour))
	require.NoError(t, m.InsertAssessment(ctx, a))
	require.NoError(t, m.InsertAssessment(ctx, b))

	moved := a
	moved.StartTime = base.Add(-30 * time.Minute)
	require.NoError(t, m.UpdateAssessment(ctx, moved), "an update never conflicts with itself")

	clash := a
	clash.EndTime = base.Add(90 * time.Minute)
	assert.ErrorIs(t, m.UpdateAssessment(ctx, clash), wat.ErrTimeOverlap)

	missing := assessment(9, base.Add(10*time.Hour), base.Add(11*time.Hour))
	assert.ErrorIs(t, m.UpdateAssessment(ctx, missing), wat.ErrAssessmentNotFound)

	got, err := m.FindAssessment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, moved.StartTime, got.StartTime)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := assessment(1, base, base.Add(time.Hour))
	require.NoError(t, m.InsertAssessment(ctx, a))

	got, err := m.FindAssessment(ctx, a.ID)
	require.NoError(t, err)
	got.Questions[0].Text = "changed"

	again, err := m.FindAssessment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "q1", again.Questions[0].Text)
}

func TestMemoryFindActiveByYear(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	open := assessment(1, base, base.Add(time.Hour))
	later := assessment(2, base.Add(time.Hour), base.Add(2*time.Hour))
	require.NoError(t, m.InsertAssessment(ctx, open))
	require.NoError(t, m.InsertAssessment(ctx, later))

	got, err := m.FindActiveByYear(ctx, "E2", base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, open.ID, got[0].ID)

	got, err = m.FindActiveByYear(ctx, "E2", base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, later.ID, got[0].ID)
}

func TestMemoryConcurrentSubmitExactlyOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := assessment(1, base, base.Add(time.Hour))
	require.NoError(t, m.InsertAssessment(ctx, a))

	svc := wat.NewService(m, wat.ServiceConfig{})

	const attempts = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(ctx, a.ID, "stu-1", []string{"A"}, base.Add(10*time.Minute))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, wat.ErrAlreadySubmitted):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, rejected)

	subs, err := m.FindSubmissions(ctx, "stu-1")
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestMemoryConcurrentCreatesNeverOverlap(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	svc := wat.NewService(m, wat.ServiceConfig{})

	const writers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			start := base.Add(time.Duration(n) * time.Minute)
			idx := 0
			_, err := svc.CreateAssessment(ctx, "fac-1", wat.AssessmentInput{
				Subject:   "DS",
				Year:      "E2",
				Semester:  "Sem1",
				WATNumber: n + 1,
				Questions: []wat.QuestionInput{
					{Text: "q", Options: []string{"A", "B", "C", "D"}, CorrectIndex: &idx},
				},
				StartTime: start,
				EndTime:   start.Add(time.Hour),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, wat.ErrTimeOverlap):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	group, err := m.FindBySubjectYearSemester(ctx, "DS", "E2", "Sem1")
	require.NoError(t, err)
	assert.Len(t, group, 1)
}

func TestMemoryHonoursCancelledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.FindSubmissions(ctx, "stu-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryLocksQuestionsOnceSubmitted(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	svc := wat.NewService(m, wat.ServiceConfig{})

	a := assessment(1, base, base.Add(time.Hour))
	a.Questions = append(a.Questions,
		wat.Question{Text: "q2", Options: [4]string{"A", "B", "C", "D"}, CorrectIndex: 0},
		wat.Question{Text: "q3", Options: [4]string{"A", "B", "C", "D"}, CorrectIndex: 0},
		wat.Question{Text: "q4", Options: [4]string{"A", "B", "C", "D"}, CorrectIndex: 0},
	)
	require.NoError(t, m.InsertAssessment(ctx, a))

	sub, err := svc.Submit(ctx, a.ID, "stu-1", []string{"A", "A", "A", "A"}, base.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 4, sub.Score)

	shrunk := a
	shrunk.Questions = a.Questions[:1]
	assert.ErrorIs(t, m.UpdateAssessment(ctx, shrunk), wat.ErrHasSubmissions)

	idx := 0
	_, err = svc.UpdateAssessment(ctx, "fac-1", a.ID, wat.AssessmentInput{
		Subject:   "DS",
		Year:      "E2",
		Semester:  "Sem1",
		WATNumber: 1,
		Questions: []wat.QuestionInput{
			{Text: "q1", Options: []string{"A", "B", "C", "D"}, CorrectIndex: &idx},
		},
		StartTime: base,
		EndTime:   base.Add(time.Hour),
	})
	assert.ErrorIs(t, err, wat.ErrHasSubmissions)

	moved := a
	moved.EndTime = base.Add(30 * time.Minute)
	require.NoError(t, m.UpdateAssessment(ctx, moved), "same questions may be rescheduled")

	got, err := m.FindAssessment(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, got.Questions, 4)
	results, err := m.FindSubmissionsByAssessment(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.LessOrEqual(t, results[0].Score, len(got.Questions))
}

func TestMemoryRejectsStaleGrade(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := assessment(1, base, base.Add(time.Hour))
	require.NoError(t, m.InsertAssessment(ctx, a))

	err := m.InsertSubmissionIfAbsent(ctx, wat.Submission{
		AssessmentID: a.ID, StudentID: "stu-1", Answers: []string{"A", "B"}, Score: 1, SubmittedAt: base,
	})
	assert.ErrorIs(t, err, wat.ErrAssessmentChanged)

	err = m.InsertSubmissionIfAbsent(ctx, wat.Submission{
		AssessmentID: a.ID, StudentID: "stu-1", Answers: []string{"B"}, Score: 1, SubmittedAt: base,
	})
	assert.ErrorIs(t, err, wat.ErrAssessmentChanged)

	subs, err := m.FindSubmissions(ctx, "stu-1")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestMemoryWriteCancelledWhileWaiting(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	done := make(chan error, 1)
	go func() {
		done <- m.InsertAssessment(ctx, assessment(1, base, base.Add(time.Hour)))
	}()
	cancel()
	m.mu.Unlock()

	assert.ErrorIs(t, <-done, context.Canceled)
	group, err := m.FindBySubjectYearSemester(context.Background(), "DS", "E2", "Sem1")
	require.NoError(t, err)
	assert.Empty(t, group)
}
