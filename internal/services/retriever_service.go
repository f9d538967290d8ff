package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kshitijatalathi-lab/kat-auditagent/internal/audit"
	"github.com/kshitijatalathi-lab/kat-auditagent/internal/repositories"
)

// RetrieverService ranks stored clauses against a checklist question by
// keyword overlap. Clauses tagged with the active framework's law rank ahead
// of generic document clauses at equal keyword score.
type RetrieverService struct {
	repo repositories.ClauseRepository
}

func NewRetrieverService(repo repositories.ClauseRepository) *RetrieverService {
	return &RetrieverService{repo: repo}
}

func (s *RetrieverService) Search(ctx context.Context, question string, k int, framework string) ([]audit.Clause, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}
	if k <= 0 {
		k = 5
	}

	candidates, err := s.repo.SearchByKeywords(tokenize(question), k*8)
	if err != nil {
		return nil, fmt.Errorf("clause search: %w", err)
	}

	type ranked struct {
		clause audit.Clause
		score  float64
	}
	fw := strings.ToUpper(strings.TrimSpace(framework))
	results := make([]ranked, 0, len(candidates))
	for _, c := range candidates {
		score := keywordScore(c.Text, question)
		if score == 0 {
			continue
		}
		if fw != "" && c.Law == fw {
			score += 0.5
		}
		results = append(results, ranked{
			clause: audit.Clause{
				Law:     c.Law,
				Article: c.Article,
				ID:      c.ClauseID,
				Title:   c.Title,
				Text:    c.Text,
				Source:  c.SourcePath,
				Score:   score,
			},
			score: score,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > k {
		results = results[:k]
	}

	out := make([]audit.Clause, len(results))
	for i, r := range results {
		out[i] = r.clause
	}
	return out, nil
}
