package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncpad/syncpad/internal/localstate"
	"github.com/syncpad/syncpad/internal/reconcile"
	"github.com/syncpad/syncpad/internal/remote"
	"github.com/syncpad/syncpad/internal/schema"
)

var doneCmd = &cobra.Command{
	Use:   "done <title>",
	Short: "Mark a task completed",
	Long: `Toggle completion on the task whose title matches the given text.

Matching is case-insensitive and accepts a unique prefix. The change applies
locally right away and is pushed to the remote in the background.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, "[done] ")

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
		defer rec.Stop()

		query := strings.ToLower(strings.Join(args, " "))
		var match *schema.Task
		for _, t := range rec.Snapshot() {
			if !strings.HasPrefix(strings.ToLower(t.Title), query) {
				continue
			}
			if match != nil {
				return fmt.Errorf("%q matches both %q and %q", query, match.Title, t.Title)
			}
			match = t
		}
		if match == nil {
			return fmt.Errorf("no task matches %q", query)
		}

		rec.Toggle(match.ID)
		if token != "" {
			time.Sleep(2 * time.Second)
		}

		state := "completed"
		if match.Completed {
			state = "reopened"
		}
		fmt.Printf("%s: %s\n", strings.ToUpper(state[:1])+state[1:], match.Title)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doneCmd)
}
