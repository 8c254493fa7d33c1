package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

func TestNormalizedPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "/api/v1/wats/5b8e3a52-6f5c-4c2e-9a55-0d1f1a2b3c4d/submissions", want: "/api/v1/wats/{id}/submissions"},
		{in: "/api/v1/wats/active", want: "/api/v1/wats/active"},
		{in: "/api/v1/items/123/x/9", want: "/api/v1/items/{id}/x/{id}"},
		{in: "", want: "/"},
	}
	for _, tc := range cases {
		if got := normalizedPath(tc.in); got != tc.want {
			t.Fatalf("normalizedPath(%q) got=%s want=%s", tc.in, got, tc.want)
		}
	}
}

func TestExtractAssessmentID(t *testing.T) {
	id := "5b8e3a52-6f5c-4c2e-9a55-0d1f1a2b3c4d"
	if got := extractAssessmentID("/api/v1/wats/" + id + "/submissions"); got != id {
		t.Fatalf("expected %s, got %q", id, got)
	}
	if got := extractAssessmentID("/api/v1/wats/active"); got != "" {
		t.Fatalf("expected empty id for non-assessment path, got %q", got)
	}
}

func TestMiddlewareLogsAndCounts(t *testing.T) {
	var buf bytes.Buffer
	c := NewCollector(zerolog.New(&buf), nil)

	h := middleware.RequestID(c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).UpdateContext(func(zc zerolog.Context) zerolog.Context {
			return zc.Str("user_id", "u-1")
		})
		w.WriteHeader(http.StatusConflict)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/wats", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if entry["level"] != "warn" || entry["user_id"] != "u-1" || entry["status"] != float64(http.StatusConflict) {
		t.Fatalf("unexpected log entry: %v", entry)
	}
	if entry["request_id"] == "" || entry["request_id"] == nil {
		t.Fatalf("request_id missing: %v", entry)
	}

	rec := httptest.NewRecorder()
	c.MetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	want := `watportal_http_requests_total{method="POST",path="/api/v1/wats",status="409"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("metrics missing %q:\n%s", want, rec.Body.String())
	}
}
