package evidence

import (
	"testing"

	"github.com/suplementia/search-backend/internal/domain"
)

func TestGradeLadder(t *testing.T) {
	cases := []struct {
		studyCount int
		want       domain.EvidenceGrade
	}{
		{150, domain.GradeA},
		{100, domain.GradeA},
		{99, domain.GradeB},
		{60, domain.GradeB},
		{50, domain.GradeB},
		{49, domain.GradeC},
		{25, domain.GradeC},
		{10, domain.GradeC},
		{9, domain.GradeD},
		{5, domain.GradeD},
		{3, domain.GradeD},
		{2, domain.GradeD},
		{0, domain.GradeD},
	}
	for _, tc := range cases {
		if got := Grade(tc.studyCount); got != tc.want {
			t.Fatalf("Grade(%d): want=%s got=%s", tc.studyCount, tc.want, got)
		}
	}
}

func TestGradeIsDeterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		if got := Grade(60); got != domain.GradeB {
			t.Fatalf("Grade(60) run %d: want=B got=%s", i, got)
		}
	}
}

func TestSufficient(t *testing.T) {
	for _, n := range []int{0, 1, 2} {
		if Sufficient(n, DefaultMinStudies) {
			t.Fatalf("Sufficient(%d, 3): want=false got=true", n)
		}
	}
	for _, n := range []int{3, 9, 100} {
		if !Sufficient(n, DefaultMinStudies) {
			t.Fatalf("Sufficient(%d, 3): want=true got=false", n)
		}
	}
	// Non-positive min falls back to the default threshold.
	if Sufficient(2, 0) {
		t.Fatalf("Sufficient(2, 0): want=false got=true")
	}
	if !Sufficient(3, -1) {
		t.Fatalf("Sufficient(3, -1): want=true got=false")
	}
}
