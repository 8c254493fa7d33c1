package wat

import (
	"time"

	"github.com/google/uuid"
)

// OptionCount is the fixed number of options every question carries.
const OptionCount = 4

type Assessment struct {
	ID        uuid.UUID  `json:"id"`
	Subject   string     `json:"subject"`
	Year      string     `json:"year"`
	Semester  string     `json:"semester"`
	WATNumber int        `json:"wat_number"`
	FacultyID string     `json:"faculty_id"`
	Questions []Question `json:"questions"`
	StartTime time.Time  `json:"start_time"`
	EndTime   time.Time  `json:"end_time"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Key identifies an assessment within the portal.
type Key struct {
	Subject   string
	Year      string
	Semester  string
	WATNumber int
}

func (a Assessment) Key() Key {
	return Key{Subject: a.Subject, Year: a.Year, Semester: a.Semester, WATNumber: a.WATNumber}
}

func (a Assessment) sameGroup(subject, year, semester string) bool {
	return a.Subject == subject && a.Year == year && a.Semester == semester
}

// IsOpen reports whether now falls inside the half-open window [StartTime, EndTime).
func (a Assessment) IsOpen(now time.Time) bool {
	return !now.Before(a.StartTime) && now.Before(a.EndTime)
}

// Question stores its answer key as an option index; the correct text is
// resolved from Options when grading.
type Question struct {
	Text         string              `json:"question_text"`
	Options      [OptionCount]string `json:"options"`
	CorrectIndex int                 `json:"correct_index"`
}

// CorrectAnswer returns the option text at CorrectIndex, or "" when the
// index is out of range.
func (q Question) CorrectAnswer() string {
	if q.CorrectIndex < 0 || q.CorrectIndex >= OptionCount {
		return ""
	}
	return q.Options[q.CorrectIndex]
}

// SameQuestions reports whether a and b hold the same questions in the same
// order, answer keys included.
func SameQuestions(a, b []Question) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type Submission struct {
	AssessmentID uuid.UUID `json:"assessment_id"`
	StudentID    string    `json:"student_id"`
	Answers      []string  `json:"answers"`
	Score        int       `json:"score"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Candidate is the scheduling identity of an assessment about to be written.
// ID is uuid.Nil for a new assessment.
type Candidate struct {
	ID        uuid.UUID
	Subject   string
	Year      string
	Semester  string
	WATNumber int
	StartTime time.Time
	EndTime   time.Time
}

func CandidateOf(a Assessment) Candidate {
	return Candidate{
		ID:        a.ID,
		Subject:   a.Subject,
		Year:      a.Year,
		Semester:  a.Semester,
		WATNumber: a.WATNumber,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
	}
}

type QuestionView struct {
	Text    string              `json:"question_text"`
	Options [OptionCount]string `json:"options"`
}

// AssessmentView is an assessment without its answer key, shown to students.
type AssessmentView struct {
	ID        uuid.UUID      `json:"id"`
	Subject   string         `json:"subject"`
	Year      string         `json:"year"`
	Semester  string         `json:"semester"`
	WATNumber int            `json:"wat_number"`
	Questions []QuestionView `json:"questions"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
}

func (a Assessment) StudentView() AssessmentView {
	qs := make([]QuestionView, len(a.Questions))
	for i, q := range a.Questions {
		qs[i] = QuestionView{Text: q.Text, Options: q.Options}
	}
	return AssessmentView{
		ID:        a.ID,
		Subject:   a.Subject,
		Year:      a.Year,
		Semester:  a.Semester,
		WATNumber: a.WATNumber,
		Questions: qs,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
	}
}
