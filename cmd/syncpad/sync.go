package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncpad/syncpad/internal/localstate"
	"github.com/syncpad/syncpad/internal/reconcile"
	"github.com/syncpad/syncpad/internal/remote"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the sync daemon",
	Long: `Run the background reconciler for the local task collection.

The daemon loads persisted state from the state directory, pushes local
changes to the remote service, and runs a full reconciliation pass on a
fixed interval. It also watches the state files so edits made by other
processes trigger an immediate pass.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, "[sync] ")

		store, err := localstate.Open(cfg.StateDir, logger)
		if err != nil {
			return fmt.Errorf("failed to open state directory: %w", err)
		}

		token := cfg.Remote.Token
		client := remote.NewHTTPClient(cfg.Remote.BaseURL, token, nil)

		rec, err := reconcile.New(reconcile.Config{
			Remote: client,
			Store:  store,
			Session: func() (reconcile.Session, bool) {
				if token == "" {
					return reconcile.Session{}, false
				}
				return reconcile.Session{UserID: "remote", Name: "Syncpad"}, true
			},
			SyncInterval: cfg.Remote.SyncInterval,
			Logger:       logger,
		})
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := rec.Start(ctx); err != nil {
			return err
		}
		defer rec.Stop()

		watcher, err := localstate.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		if err := watcher.Start(store.Dir()); err != nil {
			return fmt.Errorf("failed to watch %s: %w", store.Dir(), err)
		}
		defer watcher.Stop()

		if token != "" {
			if err := rec.RefreshWorkspaces(ctx); err != nil {
				logger.Printf("Workspace refresh failed: %v", err)
			}
		}

		logger.Printf("Sync daemon started, state in %s", store.Dir())

		// File events are debounced so a burst of writes triggers one pass,
		// and events are drained after each pass so the pass's own state
		// writes do not retrigger it.
		const debounce = time.Second
		var timerC <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				logger.Println("Shutting down")
				return nil

			case ev := <-watcher.Events():
				logger.Printf("State file changed: %s", ev.Key)
				timerC = time.After(debounce)

			case <-timerC:
				timerC = nil
				if err := rec.SyncNow(ctx); err != nil {
					logger.Printf("Sync failed: %v", err)
				}
			drain:
				for {
					select {
					case <-watcher.Events():
					case <-time.After(500 * time.Millisecond):
						break drain
					case <-ctx.Done():
						logger.Println("Shutting down")
						return nil
					}
				}

			case err := <-watcher.Errors():
				logger.Printf("Watcher error: %v", err)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
