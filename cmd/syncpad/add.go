package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncpad/syncpad/internal/localstate"
	"github.com/syncpad/syncpad/internal/parse"
	"github.com/syncpad/syncpad/internal/reconcile"
	"github.com/syncpad/syncpad/internal/remote"
)

var addCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Quick-add a task",
	Long: `Add a task from free-form text.

Dates and urgency markers are extracted locally: "pay rent friday !4" becomes
a task titled "pay rent" due Friday with urgency 4. The task is stored
locally right away; with a remote token configured it is also pushed to the
service, and otherwise the next sync uploads it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, "[add] ")

		res, err := parse.NewHeuristic().Parse(context.Background(), strings.Join(args, " "), time.Now())
		if err != nil {
			return err
		}

		store, err := localstate.Open(cfg.StateDir, logger)
		if err != nil {
			return fmt.Errorf("failed to open state directory: %w", err)
		}

		token := cfg.Remote.Token
		rec, err := reconcile.New(reconcile.Config{
			Remote: remote.NewHTTPClient(cfg.Remote.BaseURL, token, nil),
			Store:  store,
			Session: func() (reconcile.Session, bool) {
				if token == "" {
					return reconcile.Session{}, false
				}
				return reconcile.Session{UserID: "remote", Name: "Syncpad"}, true
			},
			Logger: logger,
		})
		if err != nil {
			return err
		}
		if err := rec.Start(context.Background()); err != nil {
			return err
		}

		task := rec.Add(res.Title, res.DueDate, res.Urgency)
		if task == nil {
			rec.Stop()
			return fmt.Errorf("failed to add task")
		}

		// Give the background create a moment to commit before exiting; an
		// unfinished create is picked up by the next full sync.
		if token != "" {
			time.Sleep(2 * time.Second)
		}
		rec.Stop()

		fmt.Printf("Added: %s\n", task.Title)
		if task.DueDate != nil {
			fmt.Printf("Due:   %s\n", task.DueDate.Format(time.RFC1123))
		}
		fmt.Printf("Urgency: %.1f\n", task.Urgency)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
}
