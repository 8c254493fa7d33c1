package wat

import (
	"fmt"
	"strings"
	"time"
)

// NewSubmission admits and grades one attempt. prior holds the student's
// existing submissions; the store still has the final word on uniqueness.
// Checks run in order: already submitted, window, answer count.
func NewSubmission(now time.Time, a *Assessment, studentID string, answers []string, prior []Submission) (*Submission, error) {
	for _, s := range prior {
		if s.AssessmentID == a.ID && s.StudentID == studentID {
			return nil, ErrAlreadySubmitted
		}
	}

	if !a.IsOpen(now) {
		return nil, &WindowError{Now: now, StartTime: a.StartTime, EndTime: a.EndTime}
	}

	if len(answers) != len(a.Questions) {
		return nil, fmt.Errorf("%w: %w: got %d, want %d", ErrInvalidInput, ErrAnswerCountMismatch, len(answers), len(a.Questions))
	}

	return &Submission{
		AssessmentID: a.ID,
		StudentID:    studentID,
		Answers:      append([]string(nil), answers...),
		Score:        Grade(a.Questions, answers),
		SubmittedAt:  now,
	}, nil
}

// Grade counts the positions whose answer equals the question's correct
// option text. Comparison is exact and case-sensitive; blank answers never
// score.
func Grade(questions []Question, answers []string) int {
	score := 0
	for i, q := range questions {
		if i >= len(answers) {
			break
		}
		ans := answers[i]
		if strings.TrimSpace(ans) == "" {
			continue
		}
		if ans == q.CorrectAnswer() {
			score++
		}
	}
	return score
}

// GradedAgainst reports whether s lines up with questions and carries the
// score they produce. Stores use it to refuse a submission graded against a
// version of the assessment that has since been replaced.
func (s Submission) GradedAgainst(questions []Question) bool {
	return len(s.Answers) == len(questions) && s.Score == Grade(questions, s.Answers)
}
