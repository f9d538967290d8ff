package services

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kshitijatalathi-lab/kat-auditagent/internal/audit"
	"github.com/kshitijatalathi-lab/kat-auditagent/internal/llm"
)

// defaultScore is assumed when the model response contains no parseable digit.
const defaultScore = 3

var (
	scorePattern    = regexp.MustCompile(`[0-5]`)
	citationPattern = regexp.MustCompile(`\[([A-Za-z0-9_.#-]+)\]`)
)

// Generator is the slice of the generation router the scorer needs.
type Generator interface {
	Generate(ctx context.Context, prompt, preferred string, temperature float32) (*llm.Response, error)
}

// ScorerService grades one checklist item by sending the built prompt through
// the generation router and parsing the score, rationale and clause citations
// out of the reply.
type ScorerService struct {
	generator Generator
	logger    *slog.Logger
}

func NewScorerService(generator Generator, logger *slog.Logger) *ScorerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScorerService{generator: generator, logger: logger}
}

func (s *ScorerService) Score(ctx context.Context, prompt string, prefer string) (audit.ScoreOutcome, error) {
	resp, err := s.generator.Generate(ctx, prompt, prefer, llm.DefaultTemperature)
	if err != nil {
		return audit.ScoreOutcome{}, err
	}

	out := audit.ScoreOutcome{
		Score:    defaultScore,
		Provider: "unknown",
		Model:    "unknown",
	}
	if resp == nil {
		out.Rationale = "no provider produced a response"
		return out, nil
	}

	text := strings.TrimSpace(resp.Text)
	if m := scorePattern.FindString(text); m != "" {
		out.Score = int(m[0] - '0')
	}
	out.Rationale = text
	out.CitedClauses = parseCitations(text)
	if resp.Provider != "" {
		out.Provider = string(resp.Provider)
	}
	if resp.Model != "" {
		out.Model = resp.Model
	}
	return out, nil
}

func parseCitations(text string) []string {
	matches := citationPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	var cited []string
	for _, m := range matches {
		if _, dup := seen[m[1]]; dup {
			continue
		}
		seen[m[1]] = struct{}{}
		cited = append(cited, m[1])
	}
	return cited
}
