// Command syncpad runs the task service and its offline-first sync daemon.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/syncpad/syncpad/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "syncpad",
	Short: "Offline-first task management",
	Long: `Syncpad keeps a local task collection converged with a remote task
service. Mutations apply locally first and are pushed to the remote in the
background; a periodic full reconciliation pass repairs any divergence.

Configuration comes from a YAML file (--config), SYNCPAD_* environment
variables, and an optional .env file in the working directory.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger. With log.file configured it writes to
// a size-rotated file, otherwise to stderr.
func newLogger(cfg *config.Config, prefix string) *log.Logger {
	var w io.Writer = os.Stderr
	if cfg.Log.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		}
	}
	return log.New(w, prefix, log.LstdFlags)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
