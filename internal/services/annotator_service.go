package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kshitijatalathi-lab/kat-auditagent/internal/audit"
)

// AnnotatorService writes an annotated copy of the audited document: the
// original text followed by one annotation block per detected gap. Formats it
// cannot read as text get annotations only.
type AnnotatorService struct {
	logger *slog.Logger
}

func NewAnnotatorService(logger *slog.Logger) *AnnotatorService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnnotatorService{logger: logger}
}

func (s *AnnotatorService) Annotate(ctx context.Context, filePath string, gaps []audit.Gap, outPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(gaps) == 0 {
		return "", nil
	}

	var b strings.Builder
	if src := readTextFile(filePath); src != "" {
		b.WriteString(src)
		if !strings.HasSuffix(src, "\n") {
			b.WriteString("\n")
		}
	} else {
		s.logger.Debug("source not readable as text, writing annotations only", "file", filePath)
	}

	b.WriteString("\n---\nCOMPLIANCE ANNOTATIONS\n---\n")
	for i, g := range gaps {
		fmt.Fprintf(&b, "\n[GAP %d] score %d/5\n", i+1, g.Score)
		fmt.Fprintf(&b, "Item: %s\n", g.Question)
		fmt.Fprintf(&b, "Suggestion: %s\n", g.Suggestion)
		if len(g.Keywords) > 0 {
			fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(g.Keywords, ", "))
		}
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("create annotation dir: %w", err)
	}
	if err := os.WriteFile(outPath, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write annotated copy: %w", err)
	}
	return outPath, nil
}
