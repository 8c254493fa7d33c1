package wat

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// ListActive returns the assessments of a cohort year that are open at now,
// ordered by start time and then WAT number. The input slice is not modified.
func ListActive(now time.Time, year string, assessments []Assessment) []Assessment {
	out := make([]Assessment, 0, len(assessments))
	for _, a := range assessments {
		if a.Year != year || !a.IsOpen(now) {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return startsBefore(&out[i], &out[j])
	})
	return out
}

// ExcludeAttempted drops every assessment the student already has a
// submission for.
func ExcludeAttempted(list []Assessment, submissions []Submission) []Assessment {
	attempted := make(map[uuid.UUID]struct{}, len(submissions))
	for _, s := range submissions {
		attempted[s.AssessmentID] = struct{}{}
	}

	out := make([]Assessment, 0, len(list))
	for _, a := range list {
		if _, ok := attempted[a.ID]; ok {
			continue
		}
		out = append(out, a)
	}
	return out
}
