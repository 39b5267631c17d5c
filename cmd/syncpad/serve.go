package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/syncpad/syncpad/internal/db"
	"github.com/syncpad/syncpad/internal/events"
	"github.com/syncpad/syncpad/internal/parse"
	"github.com/syncpad/syncpad/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the task service",
	Long: `Run the REST API backing the sync clients.

Endpoints:
  /api/todos            task CRUD
  /api/todos/comments   comments
  /api/workspaces       workspaces
  /api/parse            natural-language quick-add
  /ws                   WebSocket event stream
  /health               liveness check

Quick-add parsing uses a language model when parse.api_key is configured and
a local heuristic parser otherwise.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, "[serve] ")

		database, err := db.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()
		if err := database.InitSchema(); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}

		var parser parse.Parser = parse.NewHeuristic()
		if cfg.Parse.APIKey != "" {
			parser = parse.NewAI(cfg.Parse.APIKey, cfg.Parse.Model, logger)
		}

		hub := events.NewHub(logger)
		srv, err := server.New(server.Config{
			DB:     database,
			Parser: parser,
			Events: hub,
			Logger: logger,
		})
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() {
			if err := srv.Start(cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		select {
		case err := <-errCh:
			return fmt.Errorf("server failed: %w", err)
		case <-ctx.Done():
		}

		logger.Println("Shutting down")
		return srv.Close()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
