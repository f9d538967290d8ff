package services

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kshitijatalathi-lab/kat-auditagent/internal/audit"
)

//go:embed checklists/*.yaml
var embeddedChecklists embed.FS

// ChecklistService loads framework checklists from the embedded catalog, with
// an optional on-disk override directory taking precedence, and trims them to
// the items most relevant to the supplied documents.
type ChecklistService struct {
	overrideDir string
	logger      *slog.Logger
}

func NewChecklistService(overrideDir string, logger *slog.Logger) *ChecklistService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChecklistService{overrideDir: overrideDir, logger: logger}
}

type checklistFile struct {
	Framework string `yaml:"framework"`
	Version   string `yaml:"version"`
	Items     []struct {
		ID       string  `yaml:"id"`
		Question string  `yaml:"question"`
		Weight   float64 `yaml:"weight"`
	} `yaml:"items"`
}

// Generate loads the checklist for framework and keeps the topN items most
// relevant to the document text. With no readable document text the first
// topN items are kept in catalog order.
func (s *ChecklistService) Generate(ctx context.Context, framework string, files []string, topN int) (audit.ChecklistBundle, error) {
	if err := ctx.Err(); err != nil {
		return audit.ChecklistBundle{}, err
	}
	bundle, err := s.load(framework)
	if err != nil {
		return audit.ChecklistBundle{}, err
	}
	if topN <= 0 || topN > len(bundle.Items) {
		topN = len(bundle.Items)
	}

	docText := extractText(files)
	if docText == "" {
		bundle.Items = bundle.Items[:topN]
		return bundle, nil
	}

	type ranked struct {
		item  audit.ChecklistItem
		score float64
	}
	rankedItems := make([]ranked, 0, len(bundle.Items))
	for _, item := range bundle.Items {
		score := keywordScore(docText, item.Question)
		item.Rationale = fmt.Sprintf("selected_by_doc_relevance:%.1f", score)
		rankedItems = append(rankedItems, ranked{item: item, score: score})
	}
	sort.SliceStable(rankedItems, func(i, j int) bool {
		return rankedItems[i].score > rankedItems[j].score
	})

	out := make([]audit.ChecklistItem, 0, topN)
	for _, r := range rankedItems[:topN] {
		out = append(out, r.item)
	}
	bundle.Items = out
	return bundle, nil
}

// ListFrameworks returns the frameworks with an embedded or on-disk checklist.
func (s *ChecklistService) ListFrameworks() []string {
	seen := map[string]bool{}
	entries, _ := embeddedChecklists.ReadDir("checklists")
	for _, e := range entries {
		seen[strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))] = true
	}
	if s.overrideDir != "" {
		diskEntries, _ := os.ReadDir(s.overrideDir)
		for _, e := range diskEntries {
			if ext := strings.ToLower(filepath.Ext(e.Name())); ext == ".yaml" || ext == ".yml" {
				seen[strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, strings.ToUpper(name))
	}
	sort.Strings(names)
	return names
}

func (s *ChecklistService) load(framework string) (audit.ChecklistBundle, error) {
	name := strings.ToLower(strings.TrimSpace(framework))
	if name == "" {
		name = "gdpr"
	}

	var raw []byte
	if s.overrideDir != "" {
		for _, ext := range []string{".yaml", ".yml"} {
			buf, err := os.ReadFile(filepath.Join(s.overrideDir, name+ext))
			if err == nil {
				raw = buf
				break
			}
		}
	}
	if raw == nil {
		buf, err := embeddedChecklists.ReadFile("checklists/" + name + ".yaml")
		if err != nil {
			s.logger.Warn("no checklist for framework, falling back to gdpr", "framework", framework)
			buf, err = embeddedChecklists.ReadFile("checklists/gdpr.yaml")
			if err != nil {
				return audit.ChecklistBundle{}, fmt.Errorf("load checklist: %w", err)
			}
		}
		raw = buf
	}

	var parsed checklistFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return audit.ChecklistBundle{}, fmt.Errorf("parse checklist %s: %w", name, err)
	}

	bundle := audit.ChecklistBundle{
		Framework: parsed.Framework,
		Version:   parsed.Version,
	}
	for _, it := range parsed.Items {
		weight := it.Weight
		if weight <= 0 {
			weight = 1
		}
		bundle.Items = append(bundle.Items, audit.ChecklistItem{
			ID:       it.ID,
			Question: it.Question,
			Weight:   weight,
		})
	}
	return bundle, nil
}
