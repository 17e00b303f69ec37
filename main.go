package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/yeti47/replaybuffer/ccc/auth"
	"github.com/yeti47/replaybuffer/ccc/logging"
	"github.com/yeti47/replaybuffer/config"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath(), "Path to the configuration file")
	hashSecret := flag.String("hash-secret", "", "Print the token_hash and token_salt for the given trigger secret and exit")

	// Config override flags
	bufferDir := flag.String("buffer-dir", "", "Segment buffer directory (overrides config)")
	outputDir := flag.String("output-dir", "", "Directory saved replays are written to (overrides config)")
	httpAddr := flag.String("http-addr", "", "Trigger API listen address (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn or error (overrides config)")
	ffmpegPath := flag.String("ffmpeg", "", "Path to the ffmpeg binary (overrides config)")
	encoder := flag.String("encoder", "", "Preferred video encoder: auto, nvenc, amf, qsv, vaapi or x264 (overrides config)")
	replaySeconds := flag.Int("replay-seconds", 0, "Length of saved replays in seconds (overrides config)")
	segmentSeconds := flag.Int("segment-seconds", 0, "Buffer segment length in seconds (overrides config)")

	flag.Parse()

	if *hashSecret != "" {
		hashed, err := auth.HashToken(*hashSecret)
		if err != nil {
			log.Fatalf("Failed to hash secret: %v", err)
		}
		out, _ := json.MarshalIndent(hashed, "", "  ")
		fmt.Println(string(out))
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Save the config in case it was not found, before CLI overrides are applied
	if _, statErr := os.Stat(*configPath); os.IsNotExist(statErr) {
		if err := cfg.SaveConfig(*configPath); err != nil {
			log.Printf("Failed to save configuration: %v", err)
		}
	}

	// Apply CLI overrides if provided
	overrides := config.ConfigOverrides{
		BufferDir:      bufferDir,
		OutputDir:      outputDir,
		HTTPAddr:       httpAddr,
		LogLevel:       logLevel,
		FFmpegPath:     ffmpegPath,
		Encoder:        encoder,
		ReplaySeconds:  replaySeconds,
		SegmentSeconds: segmentSeconds,
	}
	cfg.Override(overrides)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logger
	logger := logging.CreateLogger(logging.ParseLogLevel(cfg.LogLevel), cfg.LogPath, "replaybuffer", cfg.LogToConsole)
	logger.Info("Starting replay buffer", "config", *configPath, "buffer_dir", cfg.BufferDir, "replay_seconds", cfg.ReplaySeconds)

	// Edits to the file are picked up for new sessions and replays
	fileProvider := config.NewFileConfigProvider(logger, *configPath, cfg, config.DefaultReloadCheckInterval)
	provider := config.NewPinnedConfigProvider(logger, fileProvider, cfg, overrides)

	app, err := NewReplayApp(logger, cfg, provider)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		log.Fatalf("Failed to initialize: %v", err)
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		logger.Error("Replay buffer stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Replay buffer stopped")
}

func defaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "config.json"
	}
	return filepath.Join(homeDir, ".replaybuffer", "config.json")
}
