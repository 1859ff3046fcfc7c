// cmd/server/app.go
package main

import (
	"companion-back/internal/ai"
	"companion-back/internal/config"
	"companion-back/internal/database"
	"companion-back/internal/pipeline"
	"companion-back/internal/storage"
	"companion-back/internal/store"
	"companion-back/internal/tts"
	"companion-back/internal/whatsapp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// app holds what every command needs: config, logger and the record store.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	store *store.Store
}

func loadApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg)

	db, err := database.InitDB(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log, store: store.New(db)}, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if !cfg.IsProduction() {
		level = slog.LevelDebug
	}
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// services are the external collaborators shared by the pipeline and the
// webhook processor.
type services struct {
	storage   *storage.MinIOClient
	ai        *ai.Client
	speech    *tts.ElevenLabs
	messenger *whatsapp.Client
}

func (a *app) connect(ctx context.Context) (*services, error) {
	minioClient, err := storage.NewMinIOClient(ctx, a.cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	return &services{
		storage:   minioClient,
		ai:        ai.NewClient(a.cfg.OpenAI, a.log),
		speech:    tts.NewElevenLabs(a.cfg.ElevenLabs, a.log),
		messenger: whatsapp.NewClient(a.cfg.WhatsApp, a.log),
	}, nil
}

func (a *app) runner(svc *services) *pipeline.Runner {
	return pipeline.NewRunner(pipeline.Deps{
		Store:       a.store,
		Storage:     svc.storage,
		Transcriber: svc.ai,
		Extractor:   svc.ai,
		Generator:   svc.ai,
		Synthesizer: svc.speech,
		Messenger:   svc.messenger,
	}, pipeline.Templates{
		OptIn:    a.cfg.WhatsApp.OptInTemplate,
		CheckIn:  a.cfg.WhatsApp.CheckInTemplate,
		Language: a.cfg.WhatsApp.TemplateLanguage,
	}, a.cfg.Pipeline.CallTimeout, a.log)
}
