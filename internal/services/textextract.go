package services

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Plain-text formats the services read directly. PDF text extraction is an
// external concern; other formats contribute nothing to keyword matching.
var textExtensions = map[string]bool{
	".txt": true,
	".md":  true,
}

func readTextFile(path string) string {
	if !textExtensions[strings.ToLower(filepath.Ext(path))] {
		return ""
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(buf)
}

// extractText concatenates the readable text of all files.
func extractText(paths []string) string {
	var parts []string
	for _, p := range paths {
		if txt := readTextFile(p); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, "\n")
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(s string) []string {
	return tokenPattern.FindAllString(strings.ToLower(s), -1)
}

// keywordScore ranks text against query by token and phrase matching: one
// point per query token present, two extra when the whole phrase appears.
func keywordScore(text, query string) float64 {
	if text == "" || query == "" {
		return 0
	}
	t := strings.ToLower(text)
	q := strings.ToLower(query)
	var score float64
	for _, term := range tokenize(q) {
		if strings.Contains(t, term) {
			score++
		}
	}
	if strings.Contains(t, q) {
		score += 2
	}
	return score
}
