package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const systemPrompt = "You are a helpful assistant."

// DefaultTemperature matches the sampling temperature the audit prompts were
// tuned against.
const DefaultTemperature float32 = 0.2

const defaultChunkSize = 80

// noProviderGuidance is streamed verbatim when no backend key is configured at
// all, so clients still receive a useful answer instead of an empty stream.
const noProviderGuidance = "I'm a compliance and audit assistant. I can help you understand regulatory frameworks like GDPR, HIPAA, and DPDP. I can assist with policy analysis, gap identification, and compliance requirements. However, I need API keys configured to provide detailed responses. Please configure LLM provider credentials or enable mock mode for testing."

// Response is the outcome of one successful generation.
type Response struct {
	Text     string   `json:"text"`
	Provider Provider `json:"provider"`
	Model    string   `json:"model"`
}

// Config tunes the router. Model names fall back to sensible defaults so a
// zero Config is usable in tests.
type Config struct {
	Prefer      string
	OpenAIModel string
	GeminiModel string
	GroqModel   string

	// Mock short-circuits every call with a canned response and never
	// touches the network.
	Mock bool
}

// Router tries a preference-ordered list of generation backends until one
// yields non-empty text. Provider failures are local and non-fatal; only full
// exhaustion is visible to callers, as an absent response.
type Router struct {
	creds  Credentials
	cfg    Config
	logger *slog.Logger

	// Seam for tests; defaults to buildChatModel.
	newChatModel func(ctx context.Context, p Provider) (model.BaseChatModel, string, error)
}

func NewRouter(creds Credentials, cfg Config, logger *slog.Logger) *Router {
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = "gemini-1.5-flash"
	}
	if cfg.GroqModel == "" {
		cfg.GroqModel = "llama3-70b-8192"
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{creds: creds, cfg: cfg, logger: logger}
	r.newChatModel = r.buildChatModel
	return r
}

func (r *Router) order(preferred string) []Provider {
	pref := strings.TrimSpace(preferred)
	if pref == "" {
		pref = r.cfg.Prefer
	}
	return OrderFor(pref, DefaultOrder())
}

func mockResponse(prompt string) *Response {
	return &Response{Text: "MOCK: " + prompt, Provider: ProviderMock, Model: "mock"}
}

// Generate returns the first non-empty completion in preference order. A nil
// response with a nil error means every provider failed; callers treat that as
// "no generation provider available", not as an exception.
func (r *Router) Generate(ctx context.Context, prompt, preferred string, temperature float32) (*Response, error) {
	if r.cfg.Mock {
		return mockResponse(prompt), nil
	}
	for _, p := range r.order(preferred) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp := r.tryProvider(ctx, p, prompt, temperature)
		if resp != nil && resp.Text != "" {
			return resp, nil
		}
	}
	return nil, nil
}

func (r *Router) tryProvider(ctx context.Context, p Provider, prompt string, temperature float32) *Response {
	cm, modelName, err := r.newChatModel(ctx, p)
	if err != nil {
		r.logger.Debug("provider unavailable", "provider", p, "err", err)
		return nil
	}
	msg, err := cm.Generate(ctx, chatMessages(prompt), model.WithTemperature(temperature))
	if err != nil {
		r.logger.Debug("provider generate failed", "provider", p, "err", err)
		return nil
	}
	text := ""
	if msg != nil {
		text = msg.Content
	}
	if text == "" {
		r.logger.Debug("provider returned empty content", "provider", p)
	}
	return &Response{Text: text, Provider: p, Model: modelName}
}

func chatMessages(prompt string) []*schema.Message {
	return []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(prompt),
	}
}

// GenerateStream yields text fragments for prompt. Provider-native incremental
// delivery is preferred; when it is unavailable or produces nothing, the
// stream degrades to one blocking Generate whose text is replayed in
// chunkSize-rune pieces. The concatenation of all fragments always equals what
// a blocking call against the same backend would have returned.
func (r *Router) GenerateStream(ctx context.Context, prompt, preferred string, temperature float32, chunkSize int) *schema.StreamReader[string] {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	sr, sw := schema.Pipe[string](8)
	go func() {
		defer sw.Close()
		r.streamInto(ctx, sw, prompt, preferred, temperature, chunkSize)
	}()
	return sr
}

func (r *Router) streamInto(ctx context.Context, sw *schema.StreamWriter[string], prompt, preferred string, temperature float32, chunkSize int) {
	if r.cfg.Mock {
		sendChunks(sw, "MOCK: "+prompt, chunkSize)
		return
	}
	if r.creds.Empty() {
		sendChunks(sw, noProviderGuidance, chunkSize)
		return
	}

	for _, p := range r.order(preferred) {
		if ctx.Err() != nil {
			return
		}
		// Only the OpenAI-compatible backends deliver usable incremental
		// frames; gemini goes through the chunked fallback below.
		if p != ProviderOpenAI && p != ProviderGroq {
			continue
		}
		if r.creds.forProvider(p) == "" {
			continue
		}
		if r.streamProvider(ctx, sw, p, prompt, preferred, temperature) {
			return
		}
	}

	// No native stream produced output; fall back to one blocking call.
	resp, err := r.Generate(ctx, prompt, preferred, temperature)
	if err != nil || resp == nil {
		return
	}
	sendChunks(sw, resp.Text, chunkSize)
}

// streamProvider opens a native stream against p and forwards each frame.
// Returns true when the stream was handled (including the yielded-nothing
// fallback); false means the attempt failed to open and the caller should try
// the next provider.
func (r *Router) streamProvider(ctx context.Context, sw *schema.StreamWriter[string], p Provider, prompt, preferred string, temperature float32) bool {
	cm, _, err := r.newChatModel(ctx, p)
	if err != nil {
		r.logger.Debug("provider unavailable", "provider", p, "err", err)
		return false
	}
	reader, err := cm.Stream(ctx, chatMessages(prompt), model.WithTemperature(temperature))
	if err != nil {
		r.logger.Debug("provider stream failed", "provider", p, "err", err)
		return false
	}
	defer reader.Close()

	yielded := false
	for {
		msg, recvErr := reader.Recv()
		if recvErr != nil {
			if !errors.Is(recvErr, io.EOF) {
				r.logger.Debug("stream recv error", "provider", p, "err", recvErr)
			}
			break
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		yielded = true
		if closed := sw.Send(msg.Content, nil); closed {
			return true
		}
	}

	if !yielded {
		resp, genErr := r.Generate(ctx, prompt, preferred, temperature)
		if genErr == nil && resp != nil && resp.Text != "" {
			sw.Send(resp.Text, nil)
		}
	}
	return true
}

// sendChunks replays text as chunkSize-rune fragments, preserving order.
func sendChunks(sw *schema.StreamWriter[string], text string, chunkSize int) {
	runes := []rune(text)
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if closed := sw.Send(string(runes[i:end]), nil); closed {
			return
		}
	}
}
