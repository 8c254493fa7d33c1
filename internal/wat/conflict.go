package wat

import (
	"time"

	"github.com/google/uuid"
)

type ConflictResult struct {
	Kind     ConflictKind
	Existing *Assessment
}

func (r ConflictResult) OK() bool {
	return r.Kind == ConflictNone
}

// Err returns nil for an accepted candidate and a *ConflictError otherwise.
func (r ConflictResult) Err() error {
	if r.OK() || r.Existing == nil {
		return nil
	}
	return &ConflictError{Kind: r.Kind, Existing: *r.Existing}
}

// Overlaps reports whether [s1,e1) and [s2,e2) share at least one instant.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// CheckConflict decides whether candidate may be written next to existing.
// Records outside the candidate's subject/year/semester are ignored, as is
// the record being updated (same ID). A matching WAT number wins over any
// time overlap; among overlaps the earliest start is reported.
func CheckConflict(candidate Candidate, existing []Assessment) ConflictResult {
	var overlap *Assessment
	for i := range existing {
		a := &existing[i]
		if !a.sameGroup(candidate.Subject, candidate.Year, candidate.Semester) {
			continue
		}
		if isSelf(candidate, a) {
			continue
		}
		if a.WATNumber == candidate.WATNumber {
			found := *a
			return ConflictResult{Kind: ConflictDuplicateNumber, Existing: &found}
		}
		if !Overlaps(candidate.StartTime, candidate.EndTime, a.StartTime, a.EndTime) {
			continue
		}
		if overlap == nil || startsBefore(a, overlap) {
			overlap = a
		}
	}

	if overlap != nil {
		found := *overlap
		return ConflictResult{Kind: ConflictTimeOverlap, Existing: &found}
	}
	return ConflictResult{Kind: ConflictNone}
}

func isSelf(candidate Candidate, a *Assessment) bool {
	return candidate.ID != uuid.Nil && a.ID == candidate.ID
}

func startsBefore(a, b *Assessment) bool {
	if !a.StartTime.Equal(b.StartTime) {
		return a.StartTime.Before(b.StartTime)
	}
	return a.WATNumber < b.WATNumber
}
