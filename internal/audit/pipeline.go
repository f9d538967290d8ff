package audit

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yargevad/filepathx"

	"github.com/kshitijatalathi-lab/kat-auditagent/internal/llm"
)

// MaxCorpusFiles caps the discovered reference corpus to bound index cost.
const MaxCorpusFiles = 50

// Generator is the slice of the generation router the pipeline needs for the
// corrected-draft stage.
type Generator interface {
	Generate(ctx context.Context, prompt, preferred string, temperature float32) (*llm.Response, error)
}

// Config locates the directories the pipeline reads and writes.
type Config struct {
	// RootDir anchors relative artifact paths in results.
	RootDir string
	// CorpusDir is the well-known location of auxiliary reference documents.
	CorpusDir string
	// ReportsDir receives annotated copies and rendered reports.
	ReportsDir string
	// MinGapScore overrides the compliance threshold; zero means
	// DefaultMinScore.
	MinGapScore int
}

// Collaborators bundles the external interfaces the pipeline drives. Sessions
// may be nil; everything else is required.
type Collaborators struct {
	Indexer    Indexer
	Checklists ChecklistGenerator
	Retriever  Retriever
	Scorer     Scorer
	Annotator  Annotator
	Reports    ReportWriter
	Sessions   SessionRecorder
}

// Pipeline sequences the audit stages. Every stage is fault-isolated: its
// internal failure leaves that stage's contribution at its zero value and the
// run continues to the final result.
type Pipeline struct {
	cfg       Config
	collab    Collaborators
	generator Generator
	logger    *slog.Logger
}

func NewPipeline(cfg Config, collab Collaborators, generator Generator, logger *slog.Logger) *Pipeline {
	if cfg.MinGapScore == 0 {
		cfg.MinGapScore = DefaultMinScore
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, collab: collab, generator: generator, logger: logger}
}

// Run executes the full stage sequence and returns the assembled result. It
// never fails for expected degradations (missing file, provider exhaustion,
// collaborator outage); it only stops early when ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, params Params) *Result {
	return p.run(ctx, params, func(Event) {})
}

// RunStream executes the same sequence on a dedicated goroutine and yields one
// Event per stage, terminating with a "final" event that carries the complete
// result. The channel closes once the producer stops; cancellation closes it
// without a final event.
func (p *Pipeline) RunStream(ctx context.Context, params Params) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		emit := func(evt Event) {
			select {
			case ch <- evt:
			case <-ctx.Done():
			}
		}
		p.run(ctx, params, emit)
	}()
	return ch
}

func (p *Pipeline) run(ctx context.Context, params Params, emit func(Event)) *Result {
	res := &Result{
		Checklist: []ChecklistItem{},
		Scores:    []ItemScore{},
		Gaps:      []Gap{},
	}

	// classify
	res.PolicyType = ClassifyPolicyType(params.PolicyType, params.FilePath)
	emit(Event{Stage: StageClassify, Data: map[string]any{"policy_type": res.PolicyType}})
	if ctx.Err() != nil {
		return res
	}

	// file_check: a missing file does not abort the run; downstream stages
	// simply retrieve nothing for it.
	exists := false
	if st, err := os.Stat(params.FilePath); err == nil && !st.IsDir() {
		exists = true
	}
	emit(Event{Stage: StageFileCheck, Data: map[string]any{"file_path": params.FilePath, "exists": exists}})
	if ctx.Err() != nil {
		return res
	}

	// discover_corpus
	corpus := p.discoverCorpus()
	emit(Event{Stage: StageDiscoverCorpus, Data: map[string]any{"count": len(corpus)}})
	if ctx.Err() != nil {
		return res
	}

	// index
	files := append([]string{params.FilePath}, corpus...)
	if out, err := p.collab.Indexer.Build(ctx, files); err != nil {
		p.logger.Warn("index stage failed", "err", err)
		emit(Event{Stage: StageIndex, Data: map[string]any{"ok": false, "error": err.Error()}, Err: err.Error()})
	} else {
		emit(Event{Stage: StageIndex, Data: map[string]any{"ok": true, "files_indexed": out.Count}})
	}
	if ctx.Err() != nil {
		return res
	}

	// checklist
	framework := FrameworkForPolicyType(res.PolicyType)
	topn := ClampTopK(params.TopK)
	if bundle, err := p.collab.Checklists.Generate(ctx, framework, files, topn); err != nil {
		p.logger.Warn("checklist stage failed", "framework", framework, "err", err)
		emit(Event{Stage: StageChecklist, Data: map[string]any{"framework": framework, "count": 0}, Err: err.Error()})
	} else {
		res.Checklist = bundle.Items
		emit(Event{Stage: StageChecklist, Data: map[string]any{"framework": framework, "count": len(res.Checklist)}})
	}
	if ctx.Err() != nil {
		return res
	}

	// score (batch)
	p.scoreStage(ctx, params, framework, topn, res, emit)
	if ctx.Err() != nil {
		return res
	}

	// gaps
	res.Gaps = ComputeGaps(res.Scores, p.cfg.MinGapScore)
	emit(Event{Stage: StageGaps, Data: map[string]any{"count": len(res.Gaps)}})
	if ctx.Err() != nil {
		return res
	}

	// annotate
	p.annotateStage(ctx, params, res, emit)
	if ctx.Err() != nil {
		return res
	}

	// corrected_draft
	p.draftStage(ctx, params, res, emit)
	if ctx.Err() != nil {
		return res
	}

	// report
	if artifact, err := p.collab.Reports.Render(ctx, ReportInput{
		PolicyFile:     params.FilePath,
		PolicyType:     res.PolicyType,
		Composite:      res.Composite,
		Checklist:      res.Checklist,
		Scores:         res.Scores,
		Gaps:           res.Gaps,
		CorrectedDraft: res.CorrectedDraft,
	}); err != nil {
		p.logger.Warn("report stage failed", "err", err)
		emit(Event{Stage: StageReport, Data: map[string]any{"report_path": nil, "download_url": nil}, Err: err.Error()})
	} else {
		res.ReportPath = artifact.ReportPath
		res.DownloadURL = artifact.DownloadURL
		emit(Event{Stage: StageReport, Data: map[string]any{"report_path": res.ReportPath, "download_url": res.DownloadURL}})
	}
	if ctx.Err() != nil {
		return res
	}

	emit(Event{Stage: StageFinal, Data: res})
	return res
}

// discoverCorpus enumerates reference documents under the corpus directory,
// preferring text conversions, de-duplicated in order and capped at
// MaxCorpusFiles.
func (p *Pipeline) discoverCorpus() []string {
	base := p.cfg.CorpusDir
	if base == "" {
		return nil
	}
	if _, err := os.Stat(base); err != nil {
		return nil
	}

	var candidates []string
	if txtDir := filepath.Join(base, "txt"); dirExists(txtDir) {
		candidates = append(candidates, globAll(filepath.Join(txtDir, "**", "*.txt"))...)
	}
	candidates = append(candidates, globAll(filepath.Join(base, "**", "*.pdf"))...)
	candidates = append(candidates, globAll(filepath.Join(base, "**", "*.txt"))...)

	seen := make(map[string]struct{}, len(candidates))
	var corpus []string
	for _, c := range candidates {
		abs, err := filepath.Abs(c)
		if err != nil {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		corpus = append(corpus, abs)
		if len(corpus) >= MaxCorpusFiles {
			break
		}
	}
	return corpus
}

func globAll(pattern string) []string {
	matches, err := filepathx.Glob(pattern)
	if err != nil {
		return nil
	}
	return matches
}

func dirExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

func (p *Pipeline) scoreStage(ctx context.Context, params Params, framework string, topn int, res *Result, emit func(Event)) {
	type workItem struct{ question, answer string }
	var items []workItem
	for _, it := range res.Checklist {
		if q := NormalizeQuestion(it); q != "" {
			items = append(items, workItem{question: q})
		}
	}
	if len(items) == 0 {
		emit(Event{Stage: StageScoreSkipped, Data: map[string]any{"reason": "no_items"}})
		return
	}

	sid := StableSessionID(params.OrgID, params.FilePath)
	emit(Event{Stage: StageScoreStart, Data: map[string]any{"items": len(items), "session_id": sid, "k": topn}})

	var total float64
	var stageErr string
	for _, it := range items {
		if ctx.Err() != nil {
			break
		}
		clauses, err := p.collab.Retriever.Search(ctx, it.question, topn, framework)
		if err != nil {
			p.logger.Warn("retrieval failed", "question", it.question, "err", err)
			clauses = nil
		}
		prompt := BuildScorerPrompt(it.question, it.answer, clauses)
		out, err := p.collab.Scorer.Score(ctx, prompt, params.Prefer)
		if err != nil {
			// The scorer itself degrading is a stage-level failure; keep
			// whatever was scored so far.
			p.logger.Warn("scoring failed", "question", it.question, "err", err)
			stageErr = err.Error()
			break
		}
		score := ItemScore{
			Question:   it.question,
			UserAnswer: it.answer,
			Score:      out.Score,
			Rationale:  out.Rationale,
			Clauses:    clauses,
			Provider:   out.Provider,
			Model:      out.Model,
		}
		res.Scores = append(res.Scores, score)
		total += float64(out.Score)

		if p.collab.Sessions != nil {
			if err := p.collab.Sessions.Record(SessionEvent{
				OrgID:     params.OrgID,
				UserID:    "system",
				SessionID: sid,
				Framework: framework,
				Question:  it.question,
				Answer:    it.answer,
				Provider:  out.Provider,
				Model:     out.Model,
				Score:     out.Score,
				Rationale: out.Rationale,
				Clauses:   clauses,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			}); err != nil {
				p.logger.Debug("session log write failed", "err", err)
			}
		}
	}
	if len(res.Scores) > 0 {
		res.Composite = total / float64(len(res.Scores))
	}
	emit(Event{Stage: StageScoreDone, Data: map[string]any{"items": len(res.Scores), "composite": res.Composite}, Err: stageErr})
}

func (p *Pipeline) annotateStage(ctx context.Context, params Params, res *Result, emit func(Event)) {
	stem := strings.TrimSuffix(filepath.Base(params.FilePath), filepath.Ext(params.FilePath))
	outPath := filepath.Join(p.cfg.ReportsDir, stem+".annotated"+annotatedExt(params.FilePath))

	annotated, err := p.collab.Annotator.Annotate(ctx, params.FilePath, res.Gaps, outPath)
	if err != nil {
		p.logger.Warn("annotate stage failed", "err", err)
		emit(Event{Stage: StageAnnotate, Data: map[string]any{"annotated_path": nil, "annotated_url": nil}, Err: err.Error()})
		return
	}
	if _, statErr := os.Stat(annotated); statErr != nil {
		emit(Event{Stage: StageAnnotate, Data: map[string]any{"annotated_path": nil, "annotated_url": nil}})
		return
	}
	res.AnnotatedPath = relativeTo(p.cfg.RootDir, annotated)
	res.AnnotatedURL = "/reports/" + filepath.Base(annotated)
	emit(Event{Stage: StageAnnotate, Data: map[string]any{"annotated_path": res.AnnotatedPath, "annotated_url": res.AnnotatedURL}})
}

func annotatedExt(filePath string) string {
	if ext := filepath.Ext(filePath); ext != "" {
		return ext
	}
	return ".txt"
}

func relativeTo(root, path string) string {
	if root == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

func (p *Pipeline) draftStage(ctx context.Context, params Params, res *Result, emit func(Event)) {
	if len(res.Gaps) == 0 || p.generator == nil {
		emit(Event{Stage: StageCorrectedDraft, Data: map[string]any{"present": false}})
		return
	}
	prompt := buildDraftPrompt(res.Gaps, res.Scores)
	resp, err := p.generator.Generate(ctx, prompt, params.Prefer, llm.DefaultTemperature)
	if err != nil {
		p.logger.Warn("corrected draft failed", "err", err)
		emit(Event{Stage: StageCorrectedDraft, Data: map[string]any{"present": false}, Err: err.Error()})
		return
	}
	if resp != nil && resp.Text != "" {
		res.CorrectedDraft = strings.TrimSpace(resp.Text)
	}
	emit(Event{Stage: StageCorrectedDraft, Data: map[string]any{"present": res.CorrectedDraft != ""}})
}
