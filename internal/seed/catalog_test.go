package seed

import (
	"testing"

	"github.com/suplementia/search-backend/internal/evidence"
)

func TestLoadCatalog(t *testing.T) {
	entries, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) < 20 {
		t.Fatalf("catalog size: want at least 20 got %d", len(entries))
	}
	for _, e := range entries {
		if e.Name == "" {
			t.Fatalf("entry with empty name: %+v", e)
		}
		if !evidence.Sufficient(e.StudyCount, evidence.DefaultMinStudies) {
			t.Fatalf("catalog entry %q would not pass evidence validation (%d studies)", e.Name, e.StudyCount)
		}
	}
}

func TestLoadCatalogKnownEntry(t *testing.T) {
	entries, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var found bool
	for _, e := range entries {
		if e.Name == "Creatine" {
			found = true
			if e.ScientificName != "creatine monohydrate" {
				t.Fatalf("scientific name: got %q", e.ScientificName)
			}
			if e.StudyCount != 1900 {
				t.Fatalf("study count: got %d", e.StudyCount)
			}
		}
	}
	if !found {
		t.Fatalf("Creatine missing from catalog")
	}
}
