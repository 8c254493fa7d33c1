package wat

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// AssessmentInput is what a faculty member sends to create or update a WAT.
type AssessmentInput struct {
	Subject   string          `json:"subject" validate:"required,max=120"`
	Year      string          `json:"year" validate:"required,oneof=E1 E2 E3 E4"`
	Semester  string          `json:"semester" validate:"required,oneof=Sem1 Sem2"`
	WATNumber int             `json:"wat_number" validate:"required,min=1"`
	Questions []QuestionInput `json:"questions" validate:"required,min=1,dive"`
	StartTime time.Time       `json:"start_time" validate:"required"`
	EndTime   time.Time       `json:"end_time" validate:"required,gtfield=StartTime"`
}

// QuestionInput accepts the answer key either as an option index or as the
// option text; the text form is resolved to its index.
type QuestionInput struct {
	Text          string   `json:"question_text" validate:"required"`
	Options       []string `json:"options" validate:"len=4,unique,dive,required"`
	CorrectIndex  *int     `json:"correct_index" validate:"omitempty,min=0,max=3"`
	CorrectAnswer string   `json:"correct_answer"`
}

type Validator struct {
	validate *validator.Validate
	trans    ut.Translator
}

func NewValidator() *Validator {
	validate := validator.New()
	locale := en.New()
	uni := ut.New(locale, locale)
	trans, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, trans)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{validate: validate, trans: trans}
}

// Assessment validates in and returns the assessment it describes, without
// ID, owner or timestamps.
func (v *Validator) Assessment(in AssessmentInput) (Assessment, error) {
	in.Subject = strings.TrimSpace(in.Subject)
	in.Year = strings.TrimSpace(in.Year)
	in.Semester = strings.TrimSpace(in.Semester)
	in.Questions = append([]QuestionInput(nil), in.Questions...)
	for i := range in.Questions {
		q := &in.Questions[i]
		q.Text = strings.TrimSpace(q.Text)
		q.CorrectAnswer = strings.TrimSpace(q.CorrectAnswer)
		opts := make([]string, len(q.Options))
		for j, opt := range q.Options {
			opts[j] = strings.TrimSpace(opt)
		}
		q.Options = opts
	}

	if err := v.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return Assessment{}, fmt.Errorf("validate assessment: %w", err)
		}
		out := &ValidationError{}
		for _, fe := range verrs {
			out.Fields = append(out.Fields, FieldError{Field: fieldPath(fe.Namespace()), Message: fe.Translate(v.trans)})
		}
		return Assessment{}, out
	}

	questions := make([]Question, 0, len(in.Questions))
	var fields []FieldError
	for i, qi := range in.Questions {
		idx, msg := resolveCorrectIndex(qi)
		if msg != "" {
			fields = append(fields, FieldError{Field: fmt.Sprintf("questions[%d].correct_answer", i), Message: msg})
			continue
		}
		q := Question{Text: qi.Text, CorrectIndex: idx}
		copy(q.Options[:], qi.Options)
		questions = append(questions, q)
	}
	if len(fields) > 0 {
		return Assessment{}, &ValidationError{Fields: fields}
	}

	return Assessment{
		Subject:   in.Subject,
		Year:      in.Year,
		Semester:  in.Semester,
		WATNumber: in.WATNumber,
		Questions: questions,
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
	}, nil
}

func resolveCorrectIndex(q QuestionInput) (int, string) {
	textIdx := -1
	if q.CorrectAnswer != "" {
		for i, opt := range q.Options {
			if opt == q.CorrectAnswer {
				textIdx = i
				break
			}
		}
		if textIdx < 0 {
			return 0, "correct_answer must match one of the options"
		}
	}

	if q.CorrectIndex != nil {
		if textIdx >= 0 && textIdx != *q.CorrectIndex {
			return 0, "correct_answer does not match correct_index"
		}
		return *q.CorrectIndex, ""
	}
	if textIdx < 0 {
		return 0, "correct_index or correct_answer is required"
	}
	return textIdx, ""
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
