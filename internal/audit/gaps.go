package audit

import "strings"

// DefaultMinScore is the compliance threshold: items scoring below it become
// gaps.
const DefaultMinScore = 4

const gapSuggestion = "Strengthen controls for this checklist item. Document specific procedures, add monitoring, and align with the cited regulation clauses."

const maxGapKeywords = 5

// ComputeGaps filters scored items below minScore into the gap list, each with
// a remediation suggestion and the leading question words as annotation
// keywords.
func ComputeGaps(scored []ItemScore, minScore int) []Gap {
	gaps := make([]Gap, 0)
	for _, it := range scored {
		if it.Score >= minScore {
			continue
		}
		words := strings.Fields(it.Question)
		if len(words) > maxGapKeywords {
			words = words[:maxGapKeywords]
		}
		gaps = append(gaps, Gap{
			Question:      it.Question,
			CurrentAnswer: it.UserAnswer,
			Score:         it.Score,
			Suggestion:    gapSuggestion,
			Keywords:      words,
		})
	}
	return gaps
}
