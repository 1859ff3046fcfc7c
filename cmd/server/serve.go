// cmd/server/serve.go
package main

import (
	"companion-back/internal/auth"
	"companion-back/internal/database"
	"companion-back/internal/handlers"
	"companion-back/internal/jobs"
	"companion-back/internal/middleware"
	"companion-back/internal/whatsapp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, webhook and job workers",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	cfg, log := a.cfg, a.log
	log.Info("starting server", "port", cfg.Server.Port, "env", cfg.Server.Env, "config", cfg.Presence())

	// Auto-migrate models
	if err := database.MigrateDB(a.store.DB()); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := a.connect(ctx)
	if err != nil {
		return err
	}
	runner := a.runner(svc)

	var dispatcher jobs.Dispatcher
	switch cfg.Pipeline.DispatchMode {
	case "http":
		dispatcher = jobs.NewHTTP(cfg.Server.BaseURL, cfg.Server.InternalToken, 15*time.Minute, log)
	case "local", "":
		dispatcher = jobs.NewLocal(runner, log)
	default:
		return fmt.Errorf("unknown dispatch mode %q", cfg.Pipeline.DispatchMode)
	}

	processor := whatsapp.NewProcessor(a.store, svc.messenger, svc.ai, log)

	monitor, err := jobs.NewStaleJobMonitor(a.store, cfg.Pipeline.StaleSchedule, cfg.Pipeline.StaleAfter, log)
	if err != nil {
		return err
	}
	monitor.Start()

	tokens := auth.NewTokenManager(cfg.Server.JWTSecret)
	cookie := handlers.Cookie{Domain: cfg.Server.CookieDomain, Secure: cfg.IsProduction()}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))

	// CORS middleware
	r.Use(middleware.CORSMiddleware())

	r.GET("/health", handlers.Health)

	// Public routes
	public := r.Group("/api")
	{
		public.POST("/register", handlers.Register(a.store, tokens, cookie))
		public.POST("/login", handlers.Login(a.store, tokens, cookie))
		public.POST("/logout", handlers.Logout(cookie))
	}

	// Protected routes
	protected := r.Group("/api")
	protected.Use(middleware.AuthMiddleware(tokens))
	{
		protected.GET("/profile", handlers.GetProfile(a.store))
		protected.PUT("/profile/whatsapp", handlers.UpdateWhatsApp(a.store))
		protected.POST("/recordings", handlers.CreateRecording(a.store, svc.storage, log))
		protected.POST("/recordings/:id/upload", handlers.UploadRecording(a.store, svc.storage, log))
		protected.POST("/recordings/:id/finalize", handlers.FinalizeRecording(a.store, svc.storage, dispatcher, log))
		protected.GET("/jobs", handlers.ListJobs(a.store))
		protected.GET("/jobs/:id", handlers.GetJob(a.store, svc.storage, log))
	}

	// Worker routes
	internal := r.Group("/api/internal")
	internal.Use(middleware.InternalAuth(cfg.Server.InternalToken))
	{
		internal.POST("/process-recording", handlers.ProcessRecording(runner))
	}

	// WhatsApp webhook
	r.GET("/webhook/whatsapp", handlers.VerifyWebhook(cfg.WhatsApp.WebhookVerifyToken))
	r.POST("/webhook/whatsapp", handlers.ReceiveWebhook(cfg.WhatsApp.AppSecret, processor, log))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-sigChan:
		log.Info("shutdown signal received, stopping...")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	monitor.Stop()

	// Background work started before shutdown is allowed to finish.
	done := make(chan struct{})
	go func() {
		dispatcher.Wait()
		processor.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("shutdown complete")
	case <-time.After(5 * time.Minute):
		log.Warn("shutdown timed out, abandoning in-flight jobs")
	}
	return nil
}
