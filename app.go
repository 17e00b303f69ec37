package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeti47/replaybuffer/capture"
	"github.com/yeti47/replaybuffer/ccc/auth"
	"github.com/yeti47/replaybuffer/ccc/db"
	"github.com/yeti47/replaybuffer/ccc/logging"
	"github.com/yeti47/replaybuffer/clips"
	clocksync "github.com/yeti47/replaybuffer/clock-sync"
	"github.com/yeti47/replaybuffer/config"
	"github.com/yeti47/replaybuffer/ffmpeg"
	"github.com/yeti47/replaybuffer/replay"
	"github.com/yeti47/replaybuffer/retention"
	"github.com/yeti47/replaybuffer/segments"
	"github.com/yeti47/replaybuffer/web/events"
	"github.com/yeti47/replaybuffer/web/handlers"
	"github.com/yeti47/replaybuffer/web/middleware"
)

const shutdownTimeout = 10 * time.Second

// ReplayApp wires the engine components together and owns their lifetimes
type ReplayApp struct {
	config   *config.Config
	logger   logging.Logger
	database *sql.DB

	clock      *clocksync.Manager
	supervisor *capture.Supervisor
	stitcher   *replay.Stitcher
	hub        *events.Hub
	server     *http.Server
}

// NewReplayApp builds every component from the validated configuration
func NewReplayApp(logger logging.Logger, cfg *config.Config, provider config.SettingsProvider[*config.Config]) (*ReplayApp, error) {
	database, err := db.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	catalog, err := clips.NewSQLiteReplayRepository(database)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create replay repository: %w", err)
	}

	clock := clocksync.NewManager(logger, clocksync.NewNTPSource(cfg.Clock.Server, time.Duration(cfg.Clock.TimeoutSeconds)*time.Second), clocksync.Settings{
		Samples:  cfg.Clock.Samples,
		Interval: time.Duration(cfg.Clock.IntervalMinutes) * time.Minute,
	})

	// the buffer layout is fixed for the lifetime of the process
	store := segments.NewStore(logger, cfg.BufferDir, cfg.SegmentDuration(), time.Local)
	sweeper := retention.NewSweeper(logger, cfg.BufferDir, cfg.RetentionPeriod(), time.Local)

	supervisor := capture.NewSupervisor(logger, captureSettingsProvider{source: provider}, sweeper)
	supervisor.SetSweepInterval(cfg.SweepInterval())

	ffprobePath := cfg.FFprobePath
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	stitcher := replay.NewStitcher(
		logger,
		replaySettingsProvider{logger: logger, source: provider},
		store,
		clock,
		ffmpeg.NewExecRunner(logger, cfg.FFmpegPath),
		ffmpeg.NewFFProbe(logger, ffprobePath),
		catalog,
	)

	hub := events.NewHub(logger)
	stitcher.SetNotifier(hub)
	supervisor.OnStateChange(hub.CaptureStateChanged)

	app := &ReplayApp{
		config:     cfg,
		logger:     logger,
		database:   database,
		clock:      clock,
		supervisor: supervisor,
		stitcher:   stitcher,
		hub:        hub,
	}

	if cfg.HTTPAddr != "" {
		verifier, err := auth.NewTokenVerifier(auth.HashedToken{Hash: cfg.Trigger.TokenHash, Salt: cfg.Trigger.TokenSalt})
		if err != nil {
			database.Close()
			return nil, config.NewConfigurationError("trigger", err.Error())
		}
		if !verifier.Enabled() {
			logger.Warn("No trigger token configured, the HTTP API is unauthenticated", "address", cfg.HTTPAddr)
		}
		tracker := auth.NewMemoryFailureTracker(auth.LockoutSettings{
			Threshold:  cfg.Trigger.LockoutThreshold,
			TimeWindow: time.Duration(cfg.Trigger.LockoutWindowSeconds) * time.Second,
		})

		router := initializeGin(cfg)
		router.Use(gin.Logger())
		router.Use(gin.Recovery())

		setupRoutes(router,
			middleware.NewAuthMiddleware(logger, verifier, tracker),
			handlers.NewReplayHandler(logger, stitcher, catalog, clips.NewReplayDeleter(logger, catalog)),
			handlers.NewCaptureHandler(logger, supervisor, clock, sweeper),
			hub,
		)

		app.server = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return app, nil
}

// setupRoutes configures the HTTP routes
func setupRoutes(router *gin.Engine, authMiddleware *middleware.AuthMiddleware, replayHandler *handlers.ReplayHandler, captureHandler *handlers.CaptureHandler, hub *events.Hub) {
	// Health check endpoint (no auth required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "replaybuffer",
		})
	})

	api := router.Group("/api")
	api.Use(authMiddleware.RequireToken())

	api.POST("/replay", replayHandler.SaveReplay)
	api.GET("/replays", replayHandler.ListReplays)
	api.GET("/replays/:id", replayHandler.GetReplay)
	api.GET("/replays/:id/file", replayHandler.DownloadReplay)
	api.DELETE("/replays", replayHandler.DeleteReplays)

	api.GET("/status", captureHandler.GetStatus)
	api.POST("/capture/start", captureHandler.StartCapture)
	api.POST("/capture/stop", captureHandler.StopCapture)

	api.GET("/events", hub.ServeWS)
}

// Run starts the background loops and blocks until ctx is cancelled and
// everything has shut down
func (a *ReplayApp) Run(ctx context.Context) error {
	defer a.database.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	if !a.config.Clock.Disabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.clock.Run(ctx)
		}()
	} else {
		a.logger.Info("Clock sync disabled, using the local clock")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.supervisor.Run(ctx)
	}()

	serverErr := make(chan error, 1)
	if a.server != nil {
		go func() {
			a.logger.Info("Server listening", "address", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	if a.config.AutoStart {
		if err := a.supervisor.Start(ctx); err != nil {
			a.logger.Error("Failed to start capture", "error", err)
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		a.logger.Error("Server failed", "error", runErr)
	}

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Server shutdown incomplete", "error", err)
		}
		cancel()
	}

	// the supervisor stops a running session before its loop returns
	cancel()
	wg.Wait()

	return runErr
}
