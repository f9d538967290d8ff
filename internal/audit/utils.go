package audit

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Bounds for the per-run retrieval depth.
const (
	MinTopK = 3
	MaxTopK = 30
)

var frameworkByPolicyType = map[string]string{
	"hr":    "GDPR",
	"posh":  "GDPR",
	"gdpr":  "GDPR",
	"dpdp":  "DPDP",
	"hipaa": "HIPAA",
}

// FrameworkForPolicyType maps a classified policy type onto the regulation
// framework used for checklists and retrieval. Unmapped types fall back to
// their upper-cased name; an empty type means GDPR.
func FrameworkForPolicyType(policyType string) string {
	pt := strings.ToLower(strings.TrimSpace(policyType))
	if fw, ok := frameworkByPolicyType[pt]; ok {
		return fw
	}
	if pt == "" {
		return "GDPR"
	}
	return strings.ToUpper(pt)
}

// ClampTopK bounds k to [MinTopK, MaxTopK].
func ClampTopK(k int) int {
	if k < MinTopK {
		return MinTopK
	}
	if k > MaxTopK {
		return MaxTopK
	}
	return k
}

// NormalizeQuestion extracts the question text from a checklist item,
// whichever field carries it.
func NormalizeQuestion(item ChecklistItem) string {
	if item.Question != "" {
		return item.Question
	}
	if item.Title != "" {
		return item.Title
	}
	return item.Text
}

// ClassifyPolicyType derives the policy type from an explicit value or, when
// absent, from filename substrings.
func ClassifyPolicyType(explicit, filePath string) string {
	pt := strings.ToLower(strings.TrimSpace(explicit))
	if pt != "" {
		return pt
	}
	name := strings.ToLower(filepath.Base(filePath))
	switch {
	case strings.Contains(name, "posh"):
		return "posh"
	case strings.Contains(name, "hr"):
		return "hr"
	default:
		return "general"
	}
}

// StableSessionID derives a deterministic session identifier for one org/file
// combination so reruns of the same document share a scoring log trail.
func StableSessionID(orgID, filePath string) string {
	return fmt.Sprintf("audit:%s:%s", orgID, filepath.Base(filePath))
}
