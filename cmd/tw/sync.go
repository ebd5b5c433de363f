package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskweave/taskweave/internal/engine"
	"github.com/taskweave/taskweave/internal/remote"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one reconciliation cycle now",
	Long: `Run a single sync cycle against the remote backend:

  1. Push every unsynced local task
  2. Link pushed tasks to their server identities
  3. Pull the remote listing
  4. Unlink orphans whose server id no longer resolves
  5. Merge remote tasks, newest write wins`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cfg)
		defer s.Close()

		client := remote.New(cfg.Remote.BaseURL, cfg.Remote.Timeout,
			log.New(os.Stderr, "[remote] ", log.LstdFlags))
		eng := engine.New(s, client, log.New(os.Stderr, "[engine] ", log.LstdFlags))

		fmt.Printf("Syncing with %s...\n", cfg.Remote.BaseURL)
		start := time.Now()

		rep, err := eng.RunCycle(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: sync failed: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Sync complete in %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Uploaded: %d\n", rep.Uploaded)
		fmt.Printf("   Downloaded: %d\n", rep.Downloaded)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
