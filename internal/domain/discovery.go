package domain

import (
	"time"

	"gorm.io/datatypes"
)

type DiscoveryStatus string

const (
	DiscoveryPending    DiscoveryStatus = "pending"
	DiscoveryProcessing DiscoveryStatus = "processing"
	DiscoveryCompleted  DiscoveryStatus = "completed"
	DiscoveryFailed     DiscoveryStatus = "failed"
)

// DiscoveryItem tracks one in-flight or failed discovery attempt. The
// primary key is the normalized term, so a term can only ever occupy one
// slot in the queue. Completed and failed rows are kept for inspection and
// are never reprocessed automatically.
type DiscoveryItem struct {
	IngredientID string          `gorm:"primaryKey" json:"ingredient_id"`
	Query        string          `gorm:"not null" json:"query"`
	Status       DiscoveryStatus `gorm:"not null;index;default:pending" json:"status"`
	RetryCount   int             `gorm:"not null;default:0" json:"retry_count"`

	EvidenceGrade EvidenceGrade `json:"evidence_grade,omitempty"`
	StudyCount    int           `gorm:"not null;default:0" json:"study_count"`
	LastError     string        `json:"last_error,omitempty"`

	SearchContext datatypes.JSON `json:"search_context,omitempty"`

	// NextAttemptAt gates claim eligibility; backoff is never slept on.
	NextAttemptAt time.Time  `gorm:"not null;index" json:"next_attempt_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null" json:"updated_at"`
}

func (DiscoveryItem) TableName() string { return "discovery_queue" }

// Terminal reports whether the item has reached a state the worker must
// never transition out of on its own.
func (i *DiscoveryItem) Terminal() bool {
	return i.Status == DiscoveryCompleted || i.Status == DiscoveryFailed
}
