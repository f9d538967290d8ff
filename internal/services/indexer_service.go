package services

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/kshitijatalathi-lab/kat-auditagent/internal/audit"
	"github.com/kshitijatalathi-lab/kat-auditagent/internal/models"
	"github.com/kshitijatalathi-lab/kat-auditagent/internal/repositories"
)

const minClauseRunes = 40

// IndexerService splits documents into paragraph-level clauses and stores
// them in the clause store for retrieval.
type IndexerService struct {
	repo   repositories.ClauseRepository
	ref    string
	logger *slog.Logger
}

func NewIndexerService(repo repositories.ClauseRepository, indexRef string, logger *slog.Logger) *IndexerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexerService{repo: repo, ref: indexRef, logger: logger}
}

func (s *IndexerService) Build(ctx context.Context, files []string) (audit.IndexResult, error) {
	if len(files) == 0 {
		return audit.IndexResult{}, fmt.Errorf("no files to index")
	}

	var clauses []models.Clause
	var sources []string
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return audit.IndexResult{}, err
		}
		text := readTextFile(f)
		if text == "" {
			continue
		}
		sources = append(sources, f)
		clauses = append(clauses, splitClauses(f, text)...)
	}
	if len(clauses) == 0 {
		return audit.IndexResult{}, fmt.Errorf("no clauses extracted from provided files")
	}

	if err := s.repo.ReplaceForSources(sources, clauses); err != nil {
		return audit.IndexResult{}, fmt.Errorf("store clauses: %w", err)
	}
	s.logger.Info("indexed documents", "files", len(sources), "clauses", len(clauses))
	return audit.IndexResult{IndexRef: s.ref, Count: len(files)}, nil
}

// splitClauses breaks a document into blank-line separated paragraphs, keeping
// only substantive ones.
func splitClauses(path, text string) []models.Clause {
	law := lawFromFilename(path)
	var out []models.Clause
	seq := 0
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if len([]rune(para)) < minClauseRunes {
			continue
		}
		seq++
		title := para
		if r := []rune(title); len(r) > 80 {
			title = string(r[:80])
		}
		out = append(out, models.Clause{
			Law:        law,
			Article:    fmt.Sprintf("%d", seq),
			ClauseID:   fmt.Sprintf("%s#%d", filepath.Base(path), seq),
			Title:      title,
			Text:       para,
			SourcePath: path,
		})
	}
	return out
}

// lawFromFilename derives the clause's law tag from the leading token of the
// file name, e.g. "gdpr_recitals.txt" -> "GDPR".
func lawFromFilename(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	sep := strings.IndexAny(stem, "_- .")
	if sep > 0 {
		stem = stem[:sep]
	}
	if stem == "" {
		return "DOC"
	}
	return strings.ToUpper(stem)
}
