package audit

import "context"

// The pipeline treats everything that touches document contents as an
// external collaborator behind a narrow interface: indexing, checklist
// generation, retrieval, scoring, annotation and report rendering. Default
// implementations live in internal/services.

// IndexResult summarizes one index build.
type IndexResult struct {
	IndexRef string `json:"index_ref"`
	MetaRef  string `json:"meta_ref,omitempty"`
	Count    int    `json:"count"`
}

// Indexer embeds and stores clauses from the given files for later retrieval.
type Indexer interface {
	Build(ctx context.Context, files []string) (IndexResult, error)
}

// ChecklistBundle is a framework checklist trimmed to the most relevant items.
type ChecklistBundle struct {
	Framework string          `json:"framework"`
	Version   string          `json:"version"`
	Items     []ChecklistItem `json:"items"`
}

// ChecklistGenerator selects the topN checklist items most relevant to the
// supplied documents.
type ChecklistGenerator interface {
	Generate(ctx context.Context, framework string, files []string, topN int) (ChecklistBundle, error)
}

// Retriever searches previously indexed clauses.
type Retriever interface {
	Search(ctx context.Context, question string, k int, framework string) ([]Clause, error)
}

// ScoreOutcome is the parsed result of one scoring call.
type ScoreOutcome struct {
	Score        int      `json:"score"`
	Rationale    string   `json:"rationale"`
	Provider     string   `json:"provider"`
	Model        string   `json:"model"`
	CitedClauses []string `json:"cited_clauses,omitempty"`
}

// Scorer turns a fully built scoring prompt into a 0..5 score with rationale
// and citations.
type Scorer interface {
	Score(ctx context.Context, prompt string, prefer string) (ScoreOutcome, error)
}

// Annotator marks up the original document at gap-relevant locations and
// writes an annotated copy to outPath.
type Annotator interface {
	Annotate(ctx context.Context, filePath string, gaps []Gap, outPath string) (string, error)
}

// ReportInput collects every artifact the report renders.
type ReportInput struct {
	PolicyFile     string
	PolicyType     string
	Composite      float64
	Checklist      []ChecklistItem
	Scores         []ItemScore
	Gaps           []Gap
	CorrectedDraft string
}

// ReportArtifact locates a rendered report.
type ReportArtifact struct {
	ReportPath  string `json:"report_path"`
	DownloadURL string `json:"download_url"`
}

// ReportWriter renders the collected artifacts into a downloadable report.
type ReportWriter interface {
	Render(ctx context.Context, input ReportInput) (ReportArtifact, error)
}

// SessionEvent is one per-item scoring record appended to the session log.
type SessionEvent struct {
	OrgID     string   `json:"org_id"`
	UserID    string   `json:"user_id"`
	SessionID string   `json:"session_id"`
	Framework string   `json:"framework,omitempty"`
	Question  string   `json:"question"`
	Answer    string   `json:"user_answer"`
	Provider  string   `json:"llm_provider"`
	Model     string   `json:"llm_model"`
	Score     int      `json:"score"`
	Rationale string   `json:"rationale"`
	Clauses   []Clause `json:"retrieved_clauses,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// SessionRecorder persists scoring events, best-effort.
type SessionRecorder interface {
	Record(evt SessionEvent) error
}
