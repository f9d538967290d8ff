package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

const (
	groqBaseURL = "https://api.groq.com/openai/v1"

	// Generous per-provider timeout; a slow backend is treated as a failed
	// attempt and the router moves on.
	requestTimeout = 120 * time.Second
)

// newChatModel builds the eino chat model for one provider. Returned alongside
// the model identifier so responses can be tagged.
func (r *Router) buildChatModel(ctx context.Context, p Provider) (model.BaseChatModel, string, error) {
	key := r.creds.forProvider(p)
	if key == "" {
		return nil, "", fmt.Errorf("%s: api key not configured", p)
	}

	switch p {
	case ProviderOpenAI:
		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:  key,
			Model:   r.cfg.OpenAIModel,
			Timeout: requestTimeout,
		})
		if err != nil {
			return nil, "", fmt.Errorf("openai chat model: %w", err)
		}
		return cm, r.cfg.OpenAIModel, nil
	case ProviderGroq:
		// Groq exposes an OpenAI-compatible surface, so it reuses the same
		// component with its own base URL.
		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:  key,
			Model:   r.cfg.GroqModel,
			BaseURL: groqBaseURL,
			Timeout: requestTimeout,
		})
		if err != nil {
			return nil, "", fmt.Errorf("groq chat model: %w", err)
		}
		return cm, r.cfg.GroqModel, nil
	case ProviderGemini:
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:     key,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: &http.Client{Timeout: requestTimeout},
		})
		if err != nil {
			return nil, "", fmt.Errorf("gemini client: %w", err)
		}
		cm, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  r.cfg.GeminiModel,
		})
		if err != nil {
			return nil, "", fmt.Errorf("gemini chat model: %w", err)
		}
		return cm, r.cfg.GeminiModel, nil
	}
	return nil, "", fmt.Errorf("unsupported provider: %s", p)
}
