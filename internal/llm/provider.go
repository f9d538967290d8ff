package llm

import "strings"

// Provider identifies one external text-generation backend.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
	ProviderGroq   Provider = "groq"
	ProviderMock   Provider = "mock"
)

// DefaultOrder is the provider priority used when no preference is given.
func DefaultOrder() []Provider {
	return []Provider{ProviderGemini, ProviderOpenAI, ProviderGroq}
}

// KnownProvider reports whether name is one of the routable backends.
func KnownProvider(name string) bool {
	switch Provider(strings.ToLower(strings.TrimSpace(name))) {
	case ProviderGemini, ProviderOpenAI, ProviderGroq:
		return true
	}
	return false
}

// OrderFor rotates preferred to the front of defaults when it names a known
// provider. Unknown or empty preferences (including "auto") leave the order
// untouched.
func OrderFor(preferred string, defaults []Provider) []Provider {
	pref := Provider(strings.ToLower(strings.TrimSpace(preferred)))
	out := make([]Provider, 0, len(defaults))
	for _, p := range defaults {
		if p == pref {
			continue
		}
		out = append(out, p)
	}
	if len(out) != len(defaults) {
		return append([]Provider{pref}, out...)
	}
	return out
}

// Credentials carries the API keys for every backend. It is injected into the
// Router at construction; the router never reads process environment itself.
type Credentials struct {
	OpenAIKey string
	GeminiKey string
	GroqKey   string
}

func (c Credentials) forProvider(p Provider) string {
	switch p {
	case ProviderOpenAI:
		return c.OpenAIKey
	case ProviderGemini:
		return c.GeminiKey
	case ProviderGroq:
		return c.GroqKey
	}
	return ""
}

// Empty reports whether no backend is configured at all.
func (c Credentials) Empty() bool {
	return c.OpenAIKey == "" && c.GeminiKey == "" && c.GroqKey == ""
}
