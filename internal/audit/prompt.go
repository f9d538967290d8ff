package audit

import (
	"fmt"
	"strings"
)

const scorerSystemPrompt = "You are a legal compliance auditor."

// BuildScorerPrompt assembles the scoring prompt for one checklist question,
// embedding the retrieved clauses with their citation handles.
func BuildScorerPrompt(question, userAnswer string, clauses []Clause) string {
	var b strings.Builder
	b.WriteString("System:\n" + scorerSystemPrompt + "\n")
	b.WriteString("User:\n")
	fmt.Fprintf(&b, "Checklist Question: %s\n", question)
	fmt.Fprintf(&b, "User Answer: %s\n", userAnswer)
	b.WriteString("Relevant Legal Clauses:\n")
	for _, c := range clauses {
		law := c.Law
		if law == "" {
			law = "LAW"
		}
		article := c.Article
		if article == "" {
			article = "?"
		}
		fmt.Fprintf(&b, "[%s.%s#%s]: %s\n", law, article, c.ID, c.Text)
	}
	b.WriteString("\nInstruction:\n" +
		"1) Score the organization from 0 (non-compliant) to 5 (fully compliant).\n" +
		"2) Provide a concise rationale that directly quotes or paraphrases the most relevant clauses.\n" +
		"3) Explicitly cite clause IDs inline using the exact format [LAW.ARTICLE#CLAUSE_ID].\n" +
		"4) End with a separate line starting with 'Citations:' followed by a comma-separated list of unique clause IDs in the same format.\n" +
		"Keep the rationale crisp (3-6 sentences).")
	return b.String()
}

const (
	maxDraftGaps      = 8
	maxDraftCitations = 8
	maxExcerptRunes   = 220
)

// buildDraftPrompt assembles the remediation prompt for the corrected-draft
// stage from the gap summaries and the strongest citation excerpt per scored
// item.
func buildDraftPrompt(gaps []Gap, scores []ItemScore) string {
	bullets := make([]string, 0, maxDraftGaps)
	for _, g := range gaps {
		if len(bullets) >= maxDraftGaps {
			break
		}
		bullets = append(bullets, fmt.Sprintf("- %s: %s", g.Question, g.Suggestion))
	}

	citations := make([]string, 0, maxDraftCitations)
	for _, it := range scores {
		if len(it.Clauses) == 0 {
			continue
		}
		c := it.Clauses[0]
		src := c.Source
		if src == "" {
			src = c.Title
		}
		if src == "" {
			src = c.ID
		}
		if src == "" {
			src = "clause"
		}
		excerpt := strings.ReplaceAll(strings.TrimSpace(c.Text), "\n", " ")
		if excerpt == "" {
			continue
		}
		if r := []rune(excerpt); len(r) > maxExcerptRunes {
			excerpt = string(r[:maxExcerptRunes]) + "…"
		}
		citations = append(citations, fmt.Sprintf("- %s: %s", src, excerpt))
		if len(citations) >= maxDraftCitations {
			break
		}
	}

	return "You are a compliance policy editor. Based on the following gaps, draft succinct corrected policy paragraphs " +
		"(2-4 sentences each) suitable to insert into the organization's policy. Use clear, neutral tone. " +
		"Return one section per bullet, prefixed with 'Section:' and keep total under 800 words. " +
		"When appropriate, reference the provided citations inline in square brackets (e.g., [GDPR Art. 5]).\n\n" +
		"GAPS:\n" + strings.Join(bullets, "\n") + "\n\n" +
		"CITATIONS:\n" + strings.Join(citations, "\n") + "\n\n" +
		"Corrected Draft:\n"
}
