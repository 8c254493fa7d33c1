package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"watportal/internal/wat"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	assessmentsBucket = []byte("Assessments")
	submissionsBucket = []byte("Submissions")
)

// Bolt is a single-node file store. bbolt runs one write transaction at a
// time, so the guards re-read and re-check inside Update.
type Bolt struct {
	db *bbolt.DB
}

var _ wat.Repository = (*Bolt)(nil)

func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bolt dir: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{assessmentsBucket, submissionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) FindBySubjectYearSemester(ctx context.Context, subject, year, semester string) ([]wat.Assessment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []wat.Assessment
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		out, err = scanBoltAssessments(tx, func(a wat.Assessment) bool {
			return a.Subject == subject && a.Year == year && a.Semester == semester
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query assessments by group: %w", err)
	}
	return out, nil
}

func (b *Bolt) FindAssessment(ctx context.Context, id uuid.UUID) (*wat.Assessment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var a *wat.Assessment
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		a, err = getAssessment(tx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, wat.ErrAssessmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load assessment: %w", err)
	}
	return a, nil
}

func (b *Bolt) InsertAssessment(ctx context.Context, a wat.Assessment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		bucket := tx.Bucket(assessmentsBucket)
		key := []byte(a.ID.String())
		if bucket.Get(key) != nil {
			return &wat.StorageError{Op: "insert assessment", Err: errDuplicateID}
		}
		if err := guardBolt(tx, a); err != nil {
			return err
		}
		return putJSON(bucket, key, a)
	})
}

func (b *Bolt) UpdateAssessment(ctx context.Context, a wat.Assessment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		bucket := tx.Bucket(assessmentsBucket)
		key := []byte(a.ID.String())
		current, err := getAssessment(tx, a.ID)
		if err != nil {
			return err
		}
		if !wat.SameQuestions(current.Questions, a.Questions) && hasBoltSubmissions(tx, a.ID) {
			return wat.ErrHasSubmissions
		}
		if err := guardBolt(tx, a); err != nil {
			return err
		}
		return putJSON(bucket, key, a)
	})
}

func (b *Bolt) FindActiveByYear(ctx context.Context, year string, now time.Time) ([]wat.Assessment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []wat.Assessment
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		out, err = scanBoltAssessments(tx, func(a wat.Assessment) bool {
			return a.Year == year && a.IsOpen(now)
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query active assessments: %w", err)
	}
	return out, nil
}

func (b *Bolt) FindSubmissions(ctx context.Context, studentID string) ([]wat.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := b.scanSubmissions(nil, func(s wat.Submission) bool { return s.StudentID == studentID })
	if err != nil {
		return nil, fmt.Errorf("query student submissions: %w", err)
	}
	return out, nil
}

func (b *Bolt) FindSubmissionsByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]wat.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := b.scanSubmissions([]byte(assessmentID.String()+":"), nil)
	if err != nil {
		return nil, fmt.Errorf("query assessment submissions: %w", err)
	}
	return out, nil
}

func (b *Bolt) InsertSubmissionIfAbsent(ctx context.Context, s wat.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		bucket := tx.Bucket(submissionsBucket)
		key := []byte(s.AssessmentID.String() + ":" + s.StudentID)
		if bucket.Get(key) != nil {
			return wat.ErrAlreadySubmitted
		}
		a, err := getAssessment(tx, s.AssessmentID)
		if err != nil {
			return err
		}
		if !s.GradedAgainst(a.Questions) {
			return wat.ErrAssessmentChanged
		}
		return putJSON(bucket, key, s)
	})
}

func (b *Bolt) scanSubmissions(prefix []byte, keep func(wat.Submission) bool) ([]wat.Submission, error) {
	out := make([]wat.Submission, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(submissionsBucket).Cursor()
		k, v := c.First()
		if len(prefix) > 0 {
			k, v = c.Seek(prefix)
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var s wat.Submission
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("decode submission %s: %w", k, err)
			}
			if keep == nil || keep(s) {
				out = append(out, s)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

func getAssessment(tx *bbolt.Tx, id uuid.UUID) (*wat.Assessment, error) {
	raw := tx.Bucket(assessmentsBucket).Get([]byte(id.String()))
	if raw == nil {
		return nil, wat.ErrAssessmentNotFound
	}
	var a wat.Assessment
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode assessment %s: %w", id, err)
	}
	return &a, nil
}

func hasBoltSubmissions(tx *bbolt.Tx, assessmentID uuid.UUID) bool {
	prefix := []byte(assessmentID.String() + ":")
	k, _ := tx.Bucket(submissionsBucket).Cursor().Seek(prefix)
	return k != nil && bytes.HasPrefix(k, prefix)
}

func guardBolt(tx *bbolt.Tx, a wat.Assessment) error {
	group, err := scanBoltAssessments(tx, func(x wat.Assessment) bool {
		return x.Subject == a.Subject && x.Year == a.Year && x.Semester == a.Semester
	})
	if err != nil {
		return err
	}
	return wat.CheckConflict(wat.CandidateOf(a), group).Err()
}

func scanBoltAssessments(tx *bbolt.Tx, keep func(wat.Assessment) bool) ([]wat.Assessment, error) {
	out := make([]wat.Assessment, 0)
	err := tx.Bucket(assessmentsBucket).ForEach(func(k, v []byte) error {
		var a wat.Assessment
		if err := json.Unmarshal(v, &a); err != nil {
			return fmt.Errorf("decode assessment %s: %w", k, err)
		}
		if keep(a) {
			out = append(out, a)
		}
		return nil
	})
	return out, err
}

func putJSON(bucket *bbolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return bucket.Put(key, data)
}
