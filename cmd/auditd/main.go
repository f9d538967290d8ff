package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/gorm/logger"

	"github.com/kshitijatalathi-lab/kat-auditagent/internal/audit"
	"github.com/kshitijatalathi-lab/kat-auditagent/internal/config"
	"github.com/kshitijatalathi-lab/kat-auditagent/internal/database"
	"github.com/kshitijatalathi-lab/kat-auditagent/internal/jobs"
	"github.com/kshitijatalathi-lab/kat-auditagent/internal/llm"
	"github.com/kshitijatalathi-lab/kat-auditagent/internal/repositories"
	"github.com/kshitijatalathi-lab/kat-auditagent/internal/services"
)

func main() {
	// A missing .env is fine; the environment may be set externally.
	_ = godotenv.Load()

	settings := config.Load()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: settings.LogLevel,
	}))
	slog.SetDefault(log)

	if err := os.MkdirAll(settings.DataDir, 0o755); err != nil {
		log.Error("create data dir", "err", err)
		os.Exit(1)
	}

	db, err := database.Init(database.Config{Path: settings.DatabasePath, LogLevel: logger.Warn})
	if err != nil {
		log.Error("open clause store", "err", err)
		os.Exit(1)
	}

	clauses := repositories.NewClauseRepository(db)
	router := llm.NewRouter(config.ResolveCredentials(), llm.Config{
		Prefer:      settings.Prefer,
		OpenAIModel: settings.OpenAIModel,
		GeminiModel: settings.GeminiModel,
		GroqModel:   settings.GroqModel,
		Mock:        settings.Mock,
	}, log)

	checklists := services.NewChecklistService(settings.ChecklistDir, log)
	pipeline := audit.NewPipeline(
		audit.Config{
			RootDir:     settings.RootDir,
			CorpusDir:   settings.CorpusDir,
			ReportsDir:  settings.ReportsDir,
			MinGapScore: settings.MinGapScore,
		},
		audit.Collaborators{
			Indexer:    services.NewIndexerService(clauses, settings.DatabasePath, log),
			Checklists: checklists,
			Retriever:  services.NewRetrieverService(clauses),
			Scorer:     services.NewScorerService(router, log),
			Annotator:  services.NewAnnotatorService(log),
			Reports:    services.NewReportService(settings.ReportsDir, log),
			Sessions:   services.NewSessionLog(settings.SessionLogPath),
		},
		router,
		log,
	)

	scheduler := jobs.NewScheduler(pipeline, jobs.NewHistory(settings.HistoryPath), log, jobs.Config{
		Heartbeat: settings.Heartbeat,
		RootDir:   settings.RootDir,
		BundleDir: settings.BundleDir,
	})

	srv := newServer(scheduler, router, checklists, clauses, settings, log)
	log.Info("auditd listening", "addr", settings.HTTPAddr)
	if err := http.ListenAndServe(settings.HTTPAddr, srv.routes()); err != nil {
		log.Error("http server stopped", "err", err)
		os.Exit(1)
	}
}
