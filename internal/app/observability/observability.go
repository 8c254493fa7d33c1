package observability

import (
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type key struct {
	Method string
	Path   string
	Status int
}

type stat struct {
	Count     int64
	LatencyMS float64
}

// Collector keeps per-route request counters and writes one log line per
// request. db is optional; without it no pool gauges are exported.
type Collector struct {
	logger zerolog.Logger
	db     *sql.DB

	mu           sync.RWMutex
	requestStats map[key]stat
	startedAt    time.Time
}

func NewCollector(logger zerolog.Logger, db *sql.DB) *Collector {
	return &Collector{
		logger:       logger,
		db:           db,
		requestStats: make(map[key]stat),
		startedAt:    time.Now(),
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware must run after middleware.RequestID. It puts a request logger
// in the context; later middleware may enrich it with UpdateContext.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizedPath(r.URL.Path)

		reqLogger := c.logger.With().
			Str("request_id", middleware.GetReqID(r.Context())).
			Logger()
		ctx := reqLogger.WithContext(r.Context())

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		latencyMS := float64(time.Since(start).Microseconds()) / 1000.0

		c.mu.Lock()
		k := key{Method: r.Method, Path: path, Status: rec.status}
		s := c.requestStats[k]
		s.Count++
		s.LatencyMS += latencyMS
		c.requestStats[k] = s
		c.mu.Unlock()

		l := zerolog.Ctx(ctx)
		var ev *zerolog.Event
		switch {
		case rec.status >= 500:
			ev = l.Error()
		case rec.status >= 400:
			ev = l.Warn()
		default:
			ev = l.Info()
		}
		if id := extractAssessmentID(r.URL.Path); id != "" {
			ev = ev.Str("assessment_id", id)
		}
		ev.Str("method", r.Method).
			Str("path", path).
			Int("status", rec.status).
			Float64("latency_ms", latencyMS).
			Str("remote_ip", strings.TrimSpace(r.RemoteAddr)).
			Msg("http request")
	})
}

func (c *Collector) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	statsCopy := make(map[key]stat, len(c.requestStats))
	for k, v := range c.requestStats {
		statsCopy[k] = v
	}
	startedAt := c.startedAt
	c.mu.RUnlock()

	keys := make([]key, 0, len(statsCopy))
	for k := range statsCopy {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Status < keys[j].Status
	})

	var sb strings.Builder
	sb.WriteString("# watportal metrics\n")
	sb.WriteString("# TYPE watportal_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("watportal_uptime_seconds %.0f\n", time.Since(startedAt).Seconds()))

	sb.WriteString("# TYPE watportal_http_requests_total counter\n")
	sb.WriteString("# TYPE watportal_http_request_latency_ms_sum counter\n")
	for _, k := range keys {
		s := statsCopy[k]
		labels := fmt.Sprintf("method=\"%s\",path=\"%s\",status=\"%d\"", k.Method, k.Path, k.Status)
		sb.WriteString(fmt.Sprintf("watportal_http_requests_total{%s} %d\n", labels, s.Count))
		sb.WriteString(fmt.Sprintf("watportal_http_request_latency_ms_sum{%s} %.3f\n", labels, s.LatencyMS))
	}

	if c.db != nil {
		dbs := c.db.Stats()
		sb.WriteString("# TYPE watportal_db_open_connections gauge\n")
		sb.WriteString(fmt.Sprintf("watportal_db_open_connections %d\n", dbs.OpenConnections))
		sb.WriteString("# TYPE watportal_db_in_use_connections gauge\n")
		sb.WriteString(fmt.Sprintf("watportal_db_in_use_connections %d\n", dbs.InUse))
		sb.WriteString("# TYPE watportal_db_wait_count counter\n")
		sb.WriteString(fmt.Sprintf("watportal_db_wait_count %d\n", dbs.WaitCount))
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// normalizedPath folds numeric and UUID segments into {id} so metrics stay
// bounded per route.
func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
			continue
		}
		if _, err := uuid.Parse(p); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func extractAssessmentID(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "wats" {
			if id, err := uuid.Parse(parts[i+1]); err == nil {
				return id.String()
			}
		}
	}
	return ""
}
