package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kshitijatalathi-lab/kat-auditagent/internal/llm"
)

type indexerMock struct {
	BuildFunc func(ctx context.Context, files []string) (IndexResult, error)
}

func (m *indexerMock) Build(ctx context.Context, files []string) (IndexResult, error) {
	return m.BuildFunc(ctx, files)
}

type checklistMock struct {
	GenerateFunc func(ctx context.Context, framework string, files []string, topN int) (ChecklistBundle, error)
}

func (m *checklistMock) Generate(ctx context.Context, framework string, files []string, topN int) (ChecklistBundle, error) {
	return m.GenerateFunc(ctx, framework, files, topN)
}

type retrieverMock struct {
	SearchFunc func(ctx context.Context, question string, k int, framework string) ([]Clause, error)
}

func (m *retrieverMock) Search(ctx context.Context, question string, k int, framework string) ([]Clause, error) {
	return m.SearchFunc(ctx, question, k, framework)
}

type scorerMock struct {
	ScoreFunc func(ctx context.Context, prompt string, prefer string) (ScoreOutcome, error)
}

func (m *scorerMock) Score(ctx context.Context, prompt string, prefer string) (ScoreOutcome, error) {
	return m.ScoreFunc(ctx, prompt, prefer)
}

type annotatorMock struct {
	AnnotateFunc func(ctx context.Context, filePath string, gaps []Gap, outPath string) (string, error)
}

func (m *annotatorMock) Annotate(ctx context.Context, filePath string, gaps []Gap, outPath string) (string, error) {
	return m.AnnotateFunc(ctx, filePath, gaps, outPath)
}

type reportMock struct {
	RenderFunc func(ctx context.Context, input ReportInput) (ReportArtifact, error)
}

func (m *reportMock) Render(ctx context.Context, input ReportInput) (ReportArtifact, error) {
	return m.RenderFunc(ctx, input)
}

type sessionMock struct {
	RecordFunc func(evt SessionEvent) error
}

func (m *sessionMock) Record(evt SessionEvent) error {
	return m.RecordFunc(evt)
}

type generatorMock struct {
	GenerateFunc func(ctx context.Context, prompt, preferred string, temperature float32) (*llm.Response, error)
}

func (m *generatorMock) Generate(ctx context.Context, prompt, preferred string, temperature float32) (*llm.Response, error) {
	return m.GenerateFunc(ctx, prompt, preferred, temperature)
}

func happyCollaborators(t *testing.T, score int) Collaborators {
	t.Helper()
	return Collaborators{
		Indexer: &indexerMock{
			BuildFunc: func(ctx context.Context, files []string) (IndexResult, error) {
				return IndexResult{IndexRef: "ref", Count: len(files)}, nil
			},
		},
		Checklists: &checklistMock{
			GenerateFunc: func(ctx context.Context, framework string, files []string, topN int) (ChecklistBundle, error) {
				return ChecklistBundle{
					Framework: framework,
					Items: []ChecklistItem{
						{ID: "i1", Question: "is data retention documented"},
						{ID: "i2", Question: "is a breach process defined"},
					},
				}, nil
			},
		},
		Retriever: &retrieverMock{
			SearchFunc: func(ctx context.Context, question string, k int, framework string) ([]Clause, error) {
				return []Clause{{Law: "GDPR", Article: "5", ID: "c1", Text: "lawful processing"}}, nil
			},
		},
		Scorer: &scorerMock{
			ScoreFunc: func(ctx context.Context, prompt string, prefer string) (ScoreOutcome, error) {
				return ScoreOutcome{Score: score, Rationale: "rationale", Provider: "mock", Model: "mock"}, nil
			},
		},
		Annotator: &annotatorMock{
			AnnotateFunc: func(ctx context.Context, filePath string, gaps []Gap, outPath string) (string, error) {
				if len(gaps) == 0 {
					return "", nil
				}
				if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
					return "", err
				}
				if err := os.WriteFile(outPath, []byte("annotated"), 0o644); err != nil {
					return "", err
				}
				return outPath, nil
			},
		},
		Reports: &reportMock{
			RenderFunc: func(ctx context.Context, input ReportInput) (ReportArtifact, error) {
				return ReportArtifact{ReportPath: "/tmp/report.md", DownloadURL: "/reports/report.md"}, nil
			},
		},
	}
}

func writePolicyFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hr_policy.txt")
	require.NoError(t, os.WriteFile(path, []byte("employee data handling policy"), 0o644))
	return path
}

func TestPipeline_Run_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	p := NewPipeline(
		Config{RootDir: dir, ReportsDir: filepath.Join(dir, "reports")},
		happyCollaborators(t, 3),
		&generatorMock{
			GenerateFunc: func(ctx context.Context, prompt, preferred string, temperature float32) (*llm.Response, error) {
				return &llm.Response{Text: "Section: corrected", Provider: llm.ProviderMock, Model: "mock"}, nil
			},
		},
		nil,
	)

	res := p.Run(context.Background(), Params{FilePath: writePolicyFile(t), OrgID: "acme"})

	require.NotNil(t, res)
	assert.Equal(t, "hr", res.PolicyType)
	assert.Len(t, res.Scores, 2)
	assert.InDelta(t, 3.0, res.Composite, 0.001)
	assert.Len(t, res.Gaps, 2)
	assert.Equal(t, "/tmp/report.md", res.ReportPath)
	assert.Equal(t, "/reports/report.md", res.DownloadURL)
	assert.Equal(t, "Section: corrected", res.CorrectedDraft)
	assert.NotEmpty(t, res.AnnotatedPath)
	assert.Equal(t, "/reports/hr_policy.annotated.txt", res.AnnotatedURL)
}

func TestPipeline_Run_MissingFileDoesNotPanic(t *testing.T) {
	collab := happyCollaborators(t, 5)
	collab.Checklists = &checklistMock{
		GenerateFunc: func(ctx context.Context, framework string, files []string, topN int) (ChecklistBundle, error) {
			return ChecklistBundle{Framework: framework}, nil
		},
	}
	p := NewPipeline(Config{ReportsDir: t.TempDir()}, collab, nil, nil)

	res := p.Run(context.Background(), Params{FilePath: "/definitely/not/there.pdf"})

	require.NotNil(t, res)
	assert.Equal(t, 0.0, res.Composite)
	assert.Empty(t, res.Scores)
	assert.Empty(t, res.Gaps)
}

func TestPipeline_Run_CollaboratorFailuresAreIsolated(t *testing.T) {
	collab := happyCollaborators(t, 5)
	collab.Indexer = &indexerMock{
		BuildFunc: func(ctx context.Context, files []string) (IndexResult, error) {
			return IndexResult{}, errors.New("store down")
		},
	}
	collab.Retriever = &retrieverMock{
		SearchFunc: func(ctx context.Context, question string, k int, framework string) ([]Clause, error) {
			return nil, errors.New("search down")
		},
	}
	p := NewPipeline(Config{ReportsDir: t.TempDir()}, collab, nil, nil)

	res := p.Run(context.Background(), Params{FilePath: writePolicyFile(t)})

	require.NotNil(t, res)
	// Scoring still ran, with no retrieved clauses.
	assert.Len(t, res.Scores, 2)
	assert.InDelta(t, 5.0, res.Composite, 0.001)
	assert.Empty(t, res.Scores[0].Clauses)
}

func TestPipeline_Run_ScorerFailureKeepsPartials(t *testing.T) {
	collab := happyCollaborators(t, 5)
	calls := 0
	collab.Scorer = &scorerMock{
		ScoreFunc: func(ctx context.Context, prompt string, prefer string) (ScoreOutcome, error) {
			calls++
			if calls > 1 {
				return ScoreOutcome{}, errors.New("provider exhausted")
			}
			return ScoreOutcome{Score: 4, Provider: "mock", Model: "mock"}, nil
		},
	}
	p := NewPipeline(Config{ReportsDir: t.TempDir()}, collab, nil, nil)

	res := p.Run(context.Background(), Params{FilePath: writePolicyFile(t)})

	require.Len(t, res.Scores, 1)
	assert.InDelta(t, 4.0, res.Composite, 0.001)
}

func TestPipeline_RunStream_EventOrdering(t *testing.T) {
	dir := t.TempDir()
	p := NewPipeline(Config{RootDir: dir, ReportsDir: filepath.Join(dir, "reports")}, happyCollaborators(t, 3), nil, nil)

	var stages []string
	var final *Result
	for evt := range p.RunStream(context.Background(), Params{FilePath: writePolicyFile(t)}) {
		stages = append(stages, evt.Stage)
		if evt.Stage == StageFinal {
			res, ok := evt.Data.(*Result)
			require.True(t, ok)
			final = res
		}
	}

	assert.Equal(t, []string{
		StageClassify, StageFileCheck, StageDiscoverCorpus, StageIndex, StageChecklist,
		StageScoreStart, StageScoreDone, StageGaps, StageAnnotate, StageCorrectedDraft,
		StageReport, StageFinal,
	}, stages)
	require.NotNil(t, final)
	assert.Len(t, final.Gaps, 2)
}

func TestPipeline_RunStream_EmptyChecklistSkipsScoring(t *testing.T) {
	collab := happyCollaborators(t, 3)
	collab.Checklists = &checklistMock{
		GenerateFunc: func(ctx context.Context, framework string, files []string, topN int) (ChecklistBundle, error) {
			return ChecklistBundle{Framework: framework}, nil
		},
	}
	p := NewPipeline(Config{ReportsDir: t.TempDir()}, collab, nil, nil)

	var stages []string
	for evt := range p.RunStream(context.Background(), Params{FilePath: writePolicyFile(t)}) {
		stages = append(stages, evt.Stage)
	}
	assert.Contains(t, stages, StageScoreSkipped)
	assert.NotContains(t, stages, StageScoreStart)
	assert.NotContains(t, stages, StageScoreDone)
}

func TestPipeline_RunStream_CancellationStopsWithoutFinal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	collab := happyCollaborators(t, 3)
	collab.Scorer = &scorerMock{
		ScoreFunc: func(c context.Context, prompt string, prefer string) (ScoreOutcome, error) {
			cancel()
			<-c.Done()
			return ScoreOutcome{}, c.Err()
		},
	}
	p := NewPipeline(Config{ReportsDir: t.TempDir()}, collab, nil, nil)

	sawFinal := false
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range p.RunStream(ctx, Params{FilePath: writePolicyFile(t)}) {
			if evt.Stage == StageFinal {
				sawFinal = true
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close after cancellation")
	}
	assert.False(t, sawFinal)
}

func TestPipeline_Run_RecordsSessions(t *testing.T) {
	collab := happyCollaborators(t, 2)
	var events []SessionEvent
	collab.Sessions = &sessionMock{
		RecordFunc: func(evt SessionEvent) error {
			events = append(events, evt)
			return nil
		},
	}
	p := NewPipeline(Config{ReportsDir: t.TempDir()}, collab, nil, nil)

	file := writePolicyFile(t)
	p.Run(context.Background(), Params{FilePath: file, OrgID: "acme"})

	require.Len(t, events, 2)
	assert.Equal(t, "acme", events[0].OrgID)
	assert.Equal(t, StableSessionID("acme", file), events[0].SessionID)
	assert.Equal(t, "system", events[0].UserID)
}
