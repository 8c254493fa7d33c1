package wat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"watportal/internal/app/apiresp"
	"watportal/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	svc assessmentService
	now func() time.Time
}

type assessmentService interface {
	CreateAssessment(ctx context.Context, facultyID string, in AssessmentInput) (*Assessment, error)
	UpdateAssessment(ctx context.Context, facultyID string, id uuid.UUID, in AssessmentInput) (*Assessment, error)
	GetAssessment(ctx context.Context, id uuid.UUID) (*Assessment, error)
	ListActiveFor(ctx context.Context, year, studentID string, now time.Time) ([]Assessment, error)
	Submit(ctx context.Context, assessmentID uuid.UUID, studentID string, answers []string, now time.Time) (*Submission, error)
	ListStudentSubmissions(ctx context.Context, studentID string) ([]Submission, error)
	ListResults(ctx context.Context, facultyID string, assessmentID uuid.UUID) ([]Submission, error)
}

type submitRequest struct {
	Answers []string `json:"answers"`
}

// conflictSummary is the blocking assessment as reported to the client.
type conflictSummary struct {
	ID        uuid.UUID `json:"id"`
	Subject   string    `json:"subject"`
	Year      string    `json:"year"`
	Semester  string    `json:"semester"`
	WATNumber int       `json:"wat_number"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// NewHandler uses now as the clock for window checks; nil means time.Now.
func NewHandler(svc assessmentService, now func() time.Time) *Handler {
	if now == nil {
		now = time.Now
	}
	return &Handler{svc: svc, now: now}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var in AssessmentInput
	if err := decodeJSON(w, r, &in); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	a, err := h.svc.CreateAssessment(r.Context(), user.ID, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, a)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := parseAssessmentID(w, r)
	if !ok {
		return
	}

	var in AssessmentInput
	if err := decodeJSON(w, r, &in); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	a, err := h.svc.UpdateAssessment(r.Context(), user.ID, id, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, a)
}

// Get shows the answer key to the owner and admins only.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := parseAssessmentID(w, r)
	if !ok {
		return
	}

	a, err := h.svc.GetAssessment(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if user.Role == auth.RoleAdmin || a.FacultyID == user.ID {
		apiresp.WriteOK(w, r, http.StatusOK, a)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, a.StudentView())
}

// Active lists the open assessments for the caller's cohort year. The year
// in the token wins over the query parameter.
func (h *Handler) Active(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	year := user.Year
	if year == "" {
		year = strings.TrimSpace(r.URL.Query().Get("year"))
	}
	if year == "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, "year is required")
		return
	}

	list, err := h.svc.ListActiveFor(r.Context(), year, user.ID, h.now())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	views := make([]AssessmentView, 0, len(list))
	for _, a := range list {
		views = append(views, a.StudentView())
	}
	apiresp.WriteOK(w, r, http.StatusOK, views)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := parseAssessmentID(w, r)
	if !ok {
		return
	}

	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Answers == nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "answers is required")
		return
	}

	sub, err := h.svc.Submit(r.Context(), id, user.ID, req.Answers, h.now())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, sub)
}

func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := parseAssessmentID(w, r)
	if !ok {
		return
	}

	subs, err := h.svc.ListResults(r.Context(), user.ID, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, subs)
}

func (h *Handler) MySubmissions(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	subs, err := h.svc.ListStudentSubmissions(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, subs)
}

func parseAssessmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid assessment id")
		return uuid.Nil, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *ValidationError
		conflict   *ConflictError
		window     *WindowError
		storage    *StorageError
	)
	switch {
	case errors.As(err, &validation):
		apiresp.WriteErrorDetails(w, r, http.StatusBadRequest, "validation_failed", "invalid assessment",
			map[string]interface{}{"fields": validation.Fields})
	case errors.Is(err, ErrAnswerCountMismatch):
		apiresp.WriteErrorDetails(w, r, http.StatusBadRequest, "answer_count_mismatch", err.Error(), nil)
	case errors.As(err, &conflict):
		apiresp.WriteErrorDetails(w, r, http.StatusConflict, string(conflict.Kind), err.Error(),
			map[string]interface{}{"existing": summarize(conflict.Existing)})
	case errors.Is(err, ErrAlreadySubmitted):
		apiresp.WriteErrorDetails(w, r, http.StatusConflict, "already_submitted", err.Error(), nil)
	case errors.Is(err, ErrHasSubmissions):
		apiresp.WriteErrorDetails(w, r, http.StatusConflict, "has_submissions", err.Error(), nil)
	case errors.Is(err, ErrAssessmentChanged):
		apiresp.WriteErrorDetails(w, r, http.StatusConflict, "assessment_changed", err.Error(), nil)
	case errors.As(err, &window):
		state := "closed"
		if window.NotYetOpen() {
			state = "not_yet_open"
		}
		apiresp.WriteErrorDetails(w, r, http.StatusUnprocessableEntity, "out_of_window", err.Error(),
			map[string]interface{}{"state": state, "start_time": window.StartTime, "end_time": window.EndTime})
	case errors.Is(err, ErrAssessmentNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotOwner):
		apiresp.WriteError(w, r, http.StatusForbidden, err.Error())
	case errors.As(err, &storage):
		zerolog.Ctx(r.Context()).Error().Err(err).Str("op", storage.Op).Msg("storage failure")
		apiresp.WriteError(w, r, http.StatusServiceUnavailable, "storage unavailable")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unexpected failure")
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func summarize(a Assessment) conflictSummary {
	return conflictSummary{
		ID:        a.ID,
		Subject:   a.Subject,
		Year:      a.Year,
		Semester:  a.Semester,
		WATNumber: a.WATNumber,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
	}
}
