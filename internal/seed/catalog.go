// Package seed carries the embedded legacy catalog: the curated supplements
// the bulk indexer loads before any discovery has run.
package seed

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/suplementia/search-backend/internal/domain"
)

//go:embed catalog.yaml
var catalogYAML []byte

type Entry struct {
	Name           string   `yaml:"name"`
	ScientificName string   `yaml:"scientific_name"`
	CommonNames    []string `yaml:"common_names"`
	Category       string   `yaml:"category"`
	StudyCount     int      `yaml:"study_count"`
}

type catalog struct {
	Supplements []Entry `yaml:"supplements"`
}

// Load parses the embedded catalog. Entries with a blank name or a negative
// study count are a build-time mistake, so they fail loudly instead of
// being skipped.
func Load() ([]Entry, error) {
	var cat catalog
	if err := yaml.Unmarshal(catalogYAML, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	seen := make(map[string]bool, len(cat.Supplements))
	for i, e := range cat.Supplements {
		if e.Name == "" {
			return nil, fmt.Errorf("catalog entry %d has no name", i)
		}
		if e.StudyCount < 0 {
			return nil, fmt.Errorf("catalog entry %q has negative study count", e.Name)
		}
		key := domain.NormalizeName(e.Name)
		if seen[key] {
			return nil, fmt.Errorf("catalog entry %q duplicates an earlier name", e.Name)
		}
		seen[key] = true
	}
	return cat.Supplements, nil
}
