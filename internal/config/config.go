package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/kshitijatalathi-lab/kat-auditagent/internal/llm"
)

// serviceName is the keyring service under which API keys may be stored as a
// fallback when the environment carries none.
const serviceName = "kat-auditagent"

// Settings is the full daemon configuration, resolved once at startup.
type Settings struct {
	RootDir    string
	CorpusDir  string
	ReportsDir string
	DataDir    string

	DatabasePath   string
	HistoryPath    string
	SessionLogPath string
	ChecklistDir   string
	BundleDir      string

	Prefer      string
	OpenAIModel string
	GeminiModel string
	GroqModel   string
	Mock        bool

	MinGapScore int
	Heartbeat   time.Duration
	HTTPAddr    string
	LogLevel    slog.Level
}

// Load resolves settings from the process environment with working defaults
// for every field, so a bare environment yields a runnable daemon.
func Load() Settings {
	root := envOr("AUDIT_ROOT_DIR", ".")
	data := envOr("AUDIT_DATA_DIR", filepath.Join(root, "data"))

	return Settings{
		RootDir:    root,
		CorpusDir:  envOr("AUDIT_CORPUS_DIR", filepath.Join(root, "corpus")),
		ReportsDir: envOr("AUDIT_REPORTS_DIR", filepath.Join(root, "reports")),
		DataDir:    data,

		DatabasePath:   envOr("AUDIT_DB_PATH", filepath.Join(data, "clauses.db")),
		HistoryPath:    envOr("AUDIT_HISTORY_PATH", filepath.Join(data, "audit_jobs.jsonl")),
		SessionLogPath: envOr("AUDIT_SESSION_LOG_PATH", filepath.Join(data, "sessions.jsonl")),
		ChecklistDir:   os.Getenv("AUDIT_CHECKLIST_DIR"),
		BundleDir:      envOr("AUDIT_BUNDLE_DIR", filepath.Join(data, "bundles")),

		Prefer:      os.Getenv("LLM_PREFER"),
		OpenAIModel: os.Getenv("OPENAI_MODEL"),
		GeminiModel: os.Getenv("GEMINI_MODEL"),
		GroqModel:   os.Getenv("GROQ_MODEL"),
		Mock:        envBool("LLM_MOCK"),

		MinGapScore: envInt("AUDIT_MIN_GAP_SCORE", 0),
		Heartbeat:   envDuration("AUDIT_HEARTBEAT", 0),
		HTTPAddr:    envOr("AUDIT_HTTP_ADDR", ":8080"),
		LogLevel:    parseLogLevel(os.Getenv("LOG_LEVEL")),
	}
}

// ResolveCredentials reads provider API keys from the environment, falling
// back to the OS keyring for any key the environment does not carry. Keyring
// errors are ignored; an unreachable keyring just means fewer providers.
func ResolveCredentials() llm.Credentials {
	return llm.Credentials{
		OpenAIKey: resolveKey("openai", "OPENAI_API_KEY"),
		GeminiKey: resolveKey("gemini", "GEMINI_API_KEY", "GOOGLE_API_KEY"),
		GroqKey:   resolveKey("groq", "GROQ_API_KEY"),
	}
}

func resolveKey(provider string, envNames ...string) string {
	for _, name := range envNames {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	if v, err := keyring.Get(serviceName, provider); err == nil {
		return strings.TrimSpace(v)
	}
	return ""
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func envBool(name string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	return v == "1" || v == "true" || v == "yes"
}

func envInt(name string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseLogLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
