// The indexer bulk-loads the embedded catalog into the record store, the
// one-off migration run before the service takes live traffic. Entries
// already indexed are skipped, so reruns are safe.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/suplementia/search-backend/internal/clients/openai"
	"github.com/suplementia/search-backend/internal/clients/pubmed"
	"github.com/suplementia/search-backend/internal/data/db"
	"github.com/suplementia/search-backend/internal/data/repos"
	"github.com/suplementia/search-backend/internal/domain"
	"github.com/suplementia/search-backend/internal/evidence"
	"github.com/suplementia/search-backend/internal/platform/envutil"
	"github.com/suplementia/search-backend/internal/platform/logger"
	"github.com/suplementia/search-backend/internal/seed"
	"github.com/suplementia/search-backend/internal/vecindex"
)

func main() {
	log, err := logger.New(envutil.Str("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(context.Background(), log); err != nil {
		log.Fatal("Indexing run failed", "error", err)
	}
}

func run(ctx context.Context, log *logger.Logger) error {
	entries, err := seed.Load()
	if err != nil {
		return err
	}
	log.Info("Loaded catalog", "entries", len(entries))

	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		return err
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		return err
	}
	supplementRepo := repos.NewSupplementRepo(postgresService.DB(), log)

	index := vecindex.New(log, supplementRepo)
	if err := index.Load(ctx); err != nil {
		return err
	}

	embedder, err := openai.Shared(log)
	if err != nil {
		return err
	}

	var indexed, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(envutil.Int("INDEXER_PARALLELISM", 4))
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			if !evidence.Sufficient(entry.StudyCount, evidence.DefaultMinStudies) {
				log.Warn("Skipping catalog entry below evidence floor",
					"name", entry.Name, "study_count", entry.StudyCount)
				skipped.Add(1)
				return nil
			}
			vec, err := embedder.Embed(gctx, entry.Name)
			if err != nil {
				return fmt.Errorf("embed %q: %w", entry.Name, err)
			}
			rec := &domain.SupplementRecord{
				Name:            entry.Name,
				ScientificName:  entry.ScientificName,
				Category:        entry.Category,
				EvidenceGrade:   evidence.Grade(entry.StudyCount),
				StudyCount:      entry.StudyCount,
				PubmedQuery:     pubmed.BuildQuery(entry.Name),
				DiscoveryMethod: domain.MethodLegacy,
			}
			if err := rec.SetCommonNames(entry.CommonNames); err != nil {
				return fmt.Errorf("common names for %q: %w", entry.Name, err)
			}
			if _, err := index.Insert(gctx, rec, vec); err != nil {
				if errors.Is(err, repos.ErrDuplicateName) {
					skipped.Add(1)
					return nil
				}
				return fmt.Errorf("insert %q: %w", entry.Name, err)
			}
			indexed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("Indexing run complete",
		"indexed", indexed.Load(),
		"skipped", skipped.Load(),
		"total_records", index.Size(),
	)
	return nil
}
