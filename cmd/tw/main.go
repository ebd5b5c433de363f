// Command tw is the taskweave CLI: an offline-first task list that keeps a
// local SQLite store and reconciles it with a remote backend.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskweave/taskweave/internal/config"
	"github.com/taskweave/taskweave/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tw",
	Short: "Offline-first task list with background sync",
	Long: `taskweave keeps your tasks in a local SQLite database so every command
works offline, and reconciles them with a remote backend when one is
reachable. Tasks created on either side converge without duplicates.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default ~/.taskweave/config.yaml)")
	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Task Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
	)
}

// loadConfig reads the config file named by --config, or the default one.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// openStore opens the local database and runs pending migrations.
func openStore(cfg *config.Config) *store.Store {
	logger := log.New(os.Stderr, "[store] ", log.LstdFlags)
	s, err := store.Open(cfg.Store.Path, nil, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	if err := s.Init(context.Background()); err != nil {
		s.Close()
		fmt.Fprintf(os.Stderr, "Error initializing database: %v\n", err)
		os.Exit(1)
	}
	return s
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
