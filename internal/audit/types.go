package audit

// Params describes one requested audit run. Copied into a job at creation and
// immutable afterwards; a rerun gets its own copy.
type Params struct {
	FilePath   string `json:"file_path"`
	OrgID      string `json:"org_id"`
	PolicyType string `json:"policy_type,omitempty"`
	TopK       int    `json:"top_k"`
	Prefer     string `json:"prefer,omitempty"`
}

// ChecklistItem is one question from a compliance framework checklist.
// Checklists in the wild carry the question under different keys, so all
// three are preserved; NormalizeQuestion picks the first non-empty one.
type ChecklistItem struct {
	ID        string  `json:"id,omitempty"`
	Question  string  `json:"question,omitempty"`
	Title     string  `json:"title,omitempty"`
	Text      string  `json:"text,omitempty"`
	Weight    float64 `json:"weight,omitempty"`
	Rationale string  `json:"rationale,omitempty"`
}

// Clause is one retrieved legal clause supporting an item score.
type Clause struct {
	Law     string  `json:"law,omitempty"`
	Article string  `json:"article,omitempty"`
	ID      string  `json:"id,omitempty"`
	Title   string  `json:"title,omitempty"`
	Text    string  `json:"text,omitempty"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// ItemScore is the scored outcome for one checklist item.
type ItemScore struct {
	Question   string   `json:"question"`
	UserAnswer string   `json:"user_answer"`
	Score      int      `json:"score"`
	Rationale  string   `json:"rationale"`
	Clauses    []Clause `json:"clauses,omitempty"`
	Provider   string   `json:"llm_provider"`
	Model      string   `json:"llm_model"`
}

// Gap is a checklist item whose score fell below the compliance threshold.
type Gap struct {
	Question      string   `json:"question"`
	CurrentAnswer string   `json:"current_answer"`
	Score         int      `json:"score"`
	Suggestion    string   `json:"suggestion"`
	Keywords      []string `json:"keywords,omitempty"`
}

// Result is the complete outcome of an audit run. It is built incrementally;
// any stage may leave its contribution empty without aborting the rest.
type Result struct {
	PolicyType     string          `json:"policy_type"`
	Composite      float64         `json:"composite"`
	Checklist      []ChecklistItem `json:"checklist"`
	Scores         []ItemScore     `json:"scores"`
	Gaps           []Gap           `json:"gaps"`
	ReportPath     string          `json:"report_path,omitempty"`
	DownloadURL    string          `json:"download_url,omitempty"`
	AnnotatedPath  string          `json:"annotated_path,omitempty"`
	AnnotatedURL   string          `json:"annotated_url,omitempty"`
	CorrectedDraft string          `json:"corrected_draft,omitempty"`
}

// Pipeline stage names, in execution order. score emits score_start plus
// score_done, or score_skipped when the checklist yields no questions.
const (
	StageClassify       = "classify"
	StageFileCheck      = "file_check"
	StageDiscoverCorpus = "discover_corpus"
	StageIndex          = "index"
	StageChecklist      = "checklist"
	StageScoreStart     = "score_start"
	StageScoreDone      = "score_done"
	StageScoreSkipped   = "score_skipped"
	StageGaps           = "gaps"
	StageAnnotate       = "annotate"
	StageCorrectedDraft = "corrected_draft"
	StageReport         = "report"
	StageFinal          = "final"
)

// Stage names synthesized by the job layer rather than the pipeline.
const (
	StageHeartbeat = "heartbeat"
	StageError     = "error"
	StageCancelled = "cancelled"
)

// Event is one progress notification. Events are ordered and consumed at most
// once per subscriber per job. Err carries the per-stage failure (if any) for
// observability; a failed stage still lets the run continue.
type Event struct {
	Stage string `json:"stage"`
	Data  any    `json:"data"`
	Err   string `json:"error,omitempty"`
}
