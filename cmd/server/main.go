package main

import (
	"fmt"
	"log"
	"path/filepath"

	"asrgate/internal/asr"
	"asrgate/internal/audio"
	"asrgate/internal/config"
	"asrgate/internal/dispatch"
	"asrgate/internal/handlers"
	"asrgate/internal/ledger"
	"asrgate/internal/version"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	// Load .env if present.
	_ = godotenv.Load()

	settings := config.Load()
	if err := settings.EnsureDirectories(); err != nil {
		log.Fatalf("failed to create directories: %v", err)
	}

	taskLedger, err := ledger.Open(filepath.Join(settings.DataDir, "asrgate.db"))
	if err != nil {
		log.Fatalf("failed to open task ledger: %v", err)
	}
	defer taskLedger.Close()

	registry := asr.NewRegistry(settings)
	defer registry.Close()

	pool := dispatch.NewPool(registry.Count() * settings.WorkersPerEngine)

	var vad audio.VADSource
	vadClient, err := asr.NewVADClient(asr.DefaultVADConfig(settings.VADModel))
	if err != nil {
		log.Printf("vad unavailable, falling back to fixed-duration splitting: %v", err)
	} else {
		defer vadClient.Close()
		vad = vadClient
	}

	punctuator := asr.NewPunctuator(settings.PuncModel)
	defer punctuator.Close()

	transcription := handlers.NewTranscriptionHandler(settings, registry, pool, vad, punctuator, taskLedger)
	stream := handlers.NewStreamHandler(settings, registry, pool, punctuator, taskLedger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(handlers.TaskIDMiddleware())

	auth := handlers.AuthMiddleware(settings.AppToken)

	e.POST("/v1/audio/transcriptions", transcription.Create, auth)
	e.GET("/v1/models", transcription.ListModels, auth)

	e.GET("/api/ps", transcription.PsList)
	e.POST("/api/ps/:model_id", transcription.PsStub)
	e.DELETE("/api/ps/:model_id", transcription.PsStub)

	e.GET("/api/v1/tasks", transcription.ListTasks, auth)
	e.GET("/health", transcription.Health)

	e.GET("/ws/v1/asr", stream.Serve)
	e.GET("/ws/v1/asr/test", handlers.TestPage)

	log.Printf("Starting asrgate v%s on %s:%s (%d engines, pool=%d)",
		version.Version, settings.Host, settings.Port, registry.Count(), pool.Size())
	if err := e.Start(fmt.Sprintf("%s:%s", settings.Host, settings.Port)); err != nil {
		log.Fatal(err)
	}
}
