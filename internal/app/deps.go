package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/podclip/backend/internal/ai"
	"github.com/podclip/backend/internal/auth"
	"github.com/podclip/backend/internal/chat"
	"github.com/podclip/backend/internal/config"
	"github.com/podclip/backend/internal/credits"
	"github.com/podclip/backend/internal/db"
	"github.com/podclip/backend/internal/edits"
	"github.com/podclip/backend/internal/handlers"
	"github.com/podclip/backend/internal/middleware"
	"github.com/podclip/backend/internal/repositories"
	"github.com/podclip/backend/internal/search"
	"github.com/podclip/backend/internal/storage"
	"github.com/podclip/backend/internal/workflow"
)

// buildDependencies wires together the concrete implementations used by the
// HTTP handlers, and returns the workflow engine so the caller can drain it
// on shutdown.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (handlers.Dependencies, *workflow.Engine, error) {
	users := repositories.NewPostgresUserRepository(pool)
	files := repositories.NewPostgresFileRepository(pool)
	transcripts := repositories.NewPostgresTranscriptRepository(pool)
	clips := repositories.NewPostgresClipRepository(pool)
	editRecords := repositories.NewPostgresEditRepository(pool)
	chatMessages := repositories.NewPostgresChatRepository(pool)
	sessionStore := repositories.NewPostgresSessionStore(pool)

	objectStore, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
	if err != nil {
		return handlers.Dependencies{}, nil, err
	}

	aiClient := ai.NewClient(cfg.OpenAI)
	index := search.NewIndex(aiClient, transcripts, transcripts, 100, logger)
	admission := credits.NewController(users)
	transformer := workflow.NewHTTPTransformClient(cfg.Transform)

	engine := workflow.NewEngine(files, admission, transcripts, clips, index, objectStore, transformer,
		workflow.Config{
			QueueSize:     cfg.Workflow.QueueSize,
			MaxConcurrent: cfg.Workflow.Workers,
			JobTimeout:    cfg.Workflow.JobTimeout,
		}, logger)

	planner := edits.NewPlanner(transcripts, clips, aiClient)
	applier := edits.NewApplier(files, clips, editRecords, transcripts)
	chatService := chat.NewService(index, aiClient, files, clips, chatMessages)

	deps := handlers.Dependencies{
		Users:           users,
		Sessions:        auth.NewManager(cfg.Session.AccessTTL, cfg.Session.RefreshTTL, sessionStore),
		Files:           files,
		Clips:           clips,
		Transcripts:     transcripts,
		Engine:          engine,
		Credits:         admission,
		Uploads:         objectStore,
		Objects:         objectStore,
		Planner:         planner,
		Applier:         applier,
		EditHistory:     editRecords,
		Chat:            chatService,
		AuthLimiter:     middleware.NewKeyedLimiter(10, time.Minute, 5, 10*time.Minute),
		StartingCredits: cfg.StartingCredits,
	}

	return deps, engine, nil
}
