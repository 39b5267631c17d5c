package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/syncpad/syncpad/internal/db"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a user",
	Long: `Create a user if needed and issue a bearer token for it.

The token authenticates sync daemons and API clients. Production deployments
plug in an external auth provider instead; this command exists for local and
single-user setups.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		name, _ := cmd.Flags().GetString("name")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		database, err := db.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()
		if err := database.InitSchema(); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}

		ctx := context.Background()
		if err := database.UpsertUser(ctx, &db.User{ID: userID, Name: name}); err != nil {
			return err
		}
		if _, err := database.EnsureDefaultWorkspace(ctx, userID, uuid.New().String()); err != nil {
			return err
		}

		token := uuid.New().String()
		if err := database.CreateSession(ctx, token, userID); err != nil {
			return err
		}

		fmt.Printf("User:  %s (%s)\n", userID, name)
		fmt.Printf("Token: %s\n", token)
		fmt.Printf("\nExport it for the sync daemon:\n  SYNCPAD_REMOTE_TOKEN=%s\n", token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("user", "local", "User identifier")
	tokenCmd.Flags().String("name", "Local User", "Display name")
	rootCmd.AddCommand(tokenCmd)
}
