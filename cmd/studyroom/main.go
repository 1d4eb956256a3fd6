package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/conorfennell/studyroom/internal/blob"
	"github.com/conorfennell/studyroom/internal/config"
	"github.com/conorfennell/studyroom/internal/deckimport"
	"github.com/conorfennell/studyroom/internal/flashcards"
	"github.com/conorfennell/studyroom/internal/resources"
	"github.com/conorfennell/studyroom/internal/room"
	"github.com/conorfennell/studyroom/internal/storage"
	"github.com/conorfennell/studyroom/internal/textgen"
	"github.com/conorfennell/studyroom/internal/web"
	"github.com/spf13/pflag"
)

func main() {
	// 1. Set up logging
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// 2. Load config: file, .env, environment, flags
	flags := config.Flags("studyroom")
	cfg, err := config.Load(flags, os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.Watch(ctx, flags, cfg, level, nil); err != nil {
		slog.Warn("Config changes will not be picked up", "error", err)
	}

	// 3. Open the database and blob store
	db, err := storage.Open(cfg.Storage.DB)
	if err != nil {
		slog.Error("Failed to open database", "path", cfg.Storage.DB, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("Database opened successfully", "path", cfg.Storage.DB)

	blobs, err := blob.NewDisk(cfg.Storage.BlobDir, cfg.HTTP.BaseURL)
	if err != nil {
		slog.Error("Failed to open blob store", "path", cfg.Storage.BlobDir, "error", err)
		os.Exit(1)
	}

	// 4. Text generation is optional
	var (
		gen      textgen.Generator
		streamer textgen.Streamer
	)
	if cfg.Gemini.APIKey != "" {
		g, err := textgen.NewGemini(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			slog.Error("Failed to create Gemini client", "error", err)
			os.Exit(1)
		}
		gen, streamer = g, g
	} else {
		slog.Warn("No Gemini API key configured, generation and the study buddy are disabled")
	}

	// 5. Import decks named on the command line
	importer := deckimport.New(db, cfg.Storage.ReposDir)
	for _, spec := range cfg.Imports {
		course, path, ok := strings.Cut(spec, "=")
		if !ok || course == "" || path == "" {
			slog.Error("Invalid import, expected <course>=<path>", "import", spec)
			os.Exit(1)
		}
		res, err := importer.Import(ctx, course, path)
		if err != nil {
			slog.Error("Failed to import deck", "course", course, "path", path, "error", err)
			continue
		}
		slog.Info("Imported deck", "course", course, "inserted", res.Inserted, "deleted", res.Deleted)
	}

	// 6. Serve
	server := web.NewServer(web.Options{
		Flashcards:     flashcards.NewService(db, gen),
		Rooms:          room.NewService(db.Documents(), gen, room.Durations{Focus: cfg.Pomodoro.Focus, Break: cfg.Pomodoro.Break}),
		Resources:      resources.NewService(blobs),
		Importer:       importer,
		Blobs:          blobs,
		Streamer:       streamer,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		PollInterval:   cfg.Resources.PollInterval,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idle := make(chan struct{})
	go func() {
		defer close(idle)
		<-ctx.Done()
		slog.Info("Shutting down")
		// Closing the sessions ends every event stream, which lets Shutdown finish.
		server.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP shutdown incomplete", "error", err)
		}
	}()

	slog.Info("Listening", "addr", cfg.HTTP.Addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
	<-idle
}
