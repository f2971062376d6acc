// Package evidence holds the study-count grading ladder. The synchronous
// discovery path and the background worker both import this package, so the
// thresholds exist in exactly one place.
package evidence

import (
	"errors"

	"github.com/suplementia/search-backend/internal/domain"
)

// DefaultMinStudies is the rejection threshold: terms with fewer studies
// are never indexed.
const DefaultMinStudies = 3

// ErrInsufficientEvidence marks a permanent rejection. Re-asking the
// bibliographic source will not change a settled fact, so a term that
// fails this way is never retried.
var ErrInsufficientEvidence = errors.New("insufficient evidence")

// Grade maps a study count to a letter grade. Pure and total; callers
// reject counts below the minimum threshold before indexing, but the
// ladder itself still answers for them (D).
func Grade(studyCount int) domain.EvidenceGrade {
	switch {
	case studyCount >= 100:
		return domain.GradeA
	case studyCount >= 50:
		return domain.GradeB
	case studyCount >= 10:
		return domain.GradeC
	default:
		return domain.GradeD
	}
}

// Sufficient reports whether a study count clears the minimum threshold.
// A non-positive min falls back to the default.
func Sufficient(studyCount, min int) bool {
	if min <= 0 {
		min = DefaultMinStudies
	}
	return studyCount >= min
}
