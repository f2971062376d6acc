package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// VectorDim is the fixed embedding width for every indexed record.
const VectorDim = 384

type EvidenceGrade string

const (
	GradeA EvidenceGrade = "A"
	GradeB EvidenceGrade = "B"
	GradeC EvidenceGrade = "C"
	GradeD EvidenceGrade = "D"
)

type DiscoveryMethod string

const (
	MethodLegacy DiscoveryMethod = "legacy"
	MethodSync   DiscoveryMethod = "sync"
	MethodAsync  DiscoveryMethod = "async"
)

// SupplementRecord is the canonical indexed entity. Rows are append-only in
// normal operation; renames and re-grading go through partial updates.
type SupplementRecord struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Name           string         `gorm:"not null" json:"name"`
	NameKey        string         `gorm:"uniqueIndex;not null" json:"-"`
	ScientificName string         `json:"scientific_name"`
	CommonNames    datatypes.JSON `json:"common_names"`
	Vector         datatypes.JSON `gorm:"type:jsonb" json:"-"`

	Category        string          `json:"category"`
	EvidenceGrade   EvidenceGrade   `json:"evidence_grade"`
	StudyCount      int             `gorm:"not null;default:0" json:"study_count"`
	PubmedQuery     string          `json:"pubmed_query"`
	DiscoveryMethod DiscoveryMethod `gorm:"not null;default:legacy" json:"discovery_method"`

	SearchCount    int64     `gorm:"not null;default:0" json:"search_count"`
	LastSearchedAt time.Time `json:"last_searched_at"`
	CreatedAt      time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null" json:"updated_at"`
}

func (SupplementRecord) TableName() string { return "supplement_records" }

// NormalizeName produces the case-insensitive identity key for a record or
// query term. Cache keys and queue ids are derived from the same form.
func NormalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func (r *SupplementRecord) SetVector(vec []float32) error {
	if len(vec) != VectorDim {
		return fmt.Errorf("vector dimension mismatch: expected=%d got=%d", VectorDim, len(vec))
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	r.Vector = datatypes.JSON(raw)
	return nil
}

func (r *SupplementRecord) VectorValues() ([]float32, error) {
	if len(r.Vector) == 0 {
		return nil, fmt.Errorf("record %d has no vector", r.ID)
	}
	var vec []float32
	if err := json.Unmarshal(r.Vector, &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (r *SupplementRecord) SetCommonNames(names []string) error {
	if names == nil {
		names = []string{}
	}
	raw, err := json.Marshal(names)
	if err != nil {
		return err
	}
	r.CommonNames = datatypes.JSON(raw)
	return nil
}

func (r *SupplementRecord) CommonNameList() []string {
	if len(r.CommonNames) == 0 {
		return []string{}
	}
	var names []string
	if err := json.Unmarshal(r.CommonNames, &names); err != nil {
		return []string{}
	}
	return names
}
