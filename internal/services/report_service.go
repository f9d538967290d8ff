package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kshitijatalathi-lab/kat-auditagent/internal/audit"
)

const (
	maxReportGaps        = 5
	maxReportSuggestions = 5
	maxReportChecklist   = 10
)

// ReportService renders a markdown audit report into the reports directory and
// exposes it under the /reports/ download path.
type ReportService struct {
	reportsDir string
	logger     *slog.Logger
	now        func() time.Time
}

func NewReportService(reportsDir string, logger *slog.Logger) *ReportService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportService{reportsDir: reportsDir, logger: logger, now: time.Now}
}

func (s *ReportService) Render(ctx context.Context, input audit.ReportInput) (audit.ReportArtifact, error) {
	if err := ctx.Err(); err != nil {
		return audit.ReportArtifact{}, err
	}

	policyType := input.PolicyType
	if policyType == "" {
		policyType = "general"
	}
	name := fmt.Sprintf("policy_audit_%s_%s.md", policyType, s.now().UTC().Format("20060102-150405"))
	path := filepath.Join(s.reportsDir, name)

	if err := os.MkdirAll(s.reportsDir, 0o755); err != nil {
		return audit.ReportArtifact{}, fmt.Errorf("create reports dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(s.render(input)), 0o644); err != nil {
		return audit.ReportArtifact{}, fmt.Errorf("write report: %w", err)
	}
	return audit.ReportArtifact{
		ReportPath:  path,
		DownloadURL: "/reports/" + name,
	}, nil
}

func (s *ReportService) render(input audit.ReportInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Policy Audit Report\n\n")
	fmt.Fprintf(&b, "- **Policy file:** %s\n", filepath.Base(input.PolicyFile))
	fmt.Fprintf(&b, "- **Policy type:** %s\n", input.PolicyType)
	fmt.Fprintf(&b, "- **Composite score:** %.2f / 5\n", input.Composite)
	fmt.Fprintf(&b, "- **Generated:** %s\n", s.now().UTC().Format(time.RFC3339))

	b.WriteString("\n## Key Gaps\n\n")
	if len(input.Gaps) == 0 {
		b.WriteString("No gaps detected.\n")
	}
	for i, g := range input.Gaps {
		if i >= maxReportGaps {
			break
		}
		fmt.Fprintf(&b, "%d. **%s** (score %d/5)\n", i+1, g.Question, g.Score)
	}

	b.WriteString("\n## Suggested Remediations\n\n")
	for i, g := range input.Gaps {
		if i >= maxReportSuggestions {
			break
		}
		fmt.Fprintf(&b, "- %s\n", g.Suggestion)
	}

	b.WriteString("\n## Checklist Coverage\n\n")
	b.WriteString("| # | Item | Score |\n|---|------|-------|\n")
	scores := map[string]int{}
	for _, sc := range input.Scores {
		scores[sc.Question] = sc.Score
	}
	for i, item := range input.Checklist {
		if i >= maxReportChecklist {
			break
		}
		q := audit.NormalizeQuestion(item)
		score := "-"
		if v, ok := scores[q]; ok {
			score = fmt.Sprintf("%d/5", v)
		}
		fmt.Fprintf(&b, "| %d | %s | %s |\n", i+1, q, score)
	}

	if input.CorrectedDraft != "" {
		b.WriteString("\n## Corrected Draft\n\n")
		b.WriteString(input.CorrectedDraft)
		b.WriteString("\n")
	}
	return b.String()
}
