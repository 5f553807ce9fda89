package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"deckmerge/internal/merge"
	"deckmerge/internal/services/health"
	"deckmerge/internal/shared/config"
	"deckmerge/internal/shared/server"
	"deckmerge/internal/shared/storage/object"
	localstore "deckmerge/internal/shared/storage/object/local"
	s3store "deckmerge/internal/shared/storage/object/s3"
	"deckmerge/internal/shared/telemetry"
)

// App holds shared dependencies and the wired router.
type App struct {
	Config       config.Config
	Router       *gin.Engine
	Store        object.ObjectStore
	Orchestrator *merge.Orchestrator
	MergeHandler *merge.Handler
	Health       *health.Service
}

// Build prepares dependencies and routes.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.OutputStoreType) == "" {
		cfg.OutputStoreType = "local"
	}
	if strings.TrimSpace(cfg.UploadDir) == "" {
		cfg.UploadDir = "uploads"
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	orch := merge.NewOrchestrator(merge.Options{
		UploadDir: cfg.UploadDir,
		Store:     store,
		Numbering: merge.ParseNumbering(cfg.SlideNumbering),
	})

	app := &App{
		Config:       cfg,
		Store:        store,
		Orchestrator: orch,
		MergeHandler: merge.NewHandler(orch, store, int64(cfg.MaxUploadMB)<<20),
		Health:       health.NewService(cfg.UploadDir),
	}
	app.Router = server.NewRouter(server.RouterDeps{
		Config:       cfg,
		MergeHandler: app.MergeHandler,
		Health:       app.Health,
	})

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":          cfg.Env,
		"output_store": cfg.OutputStoreType,
		"upload_dir":   cfg.UploadDir,
		"numbering":    cfg.SlideNumbering,
	})
	return app, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.OutputStoreType {
	case "s3":
		if strings.TrimSpace(cfg.AWSRegion) == "" || strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OUTPUT_STORE=s3 requires AWS_REGION and S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		dir := cfg.OutputDir
		if strings.TrimSpace(dir) == "" {
			dir = "public/output"
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
		return localstore.New(dir), nil
	}
}
