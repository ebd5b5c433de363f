package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskweave/taskweave/internal/store"
	"github.com/taskweave/taskweave/internal/task"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local store and sync status",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		info, err := os.Stat(cfg.Store.Path)
		if os.IsNotExist(err) {
			fmt.Println("Local store not initialized")
			fmt.Println("   Run 'tw add' to create your first task")
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error checking store: %v\n", err)
			os.Exit(1)
		}

		s := openStore(cfg)
		defer s.Close()

		ctx := context.Background()
		all, err := s.ListAll(ctx, store.Filter{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		unsynced, err := s.ListUnsynced(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		byStatus := map[task.Status]int{}
		linked := 0
		for _, t := range all {
			byStatus[t.Status]++
			if t.Linked() {
				linked++
			}
		}

		fmt.Printf("Store: %s (%d bytes)\n", cfg.Store.Path, info.Size())
		fmt.Printf("Remote: %s\n", cfg.Remote.BaseURL)
		fmt.Printf("Tasks: %d total\n", len(all))
		fmt.Printf("   Pending: %d\n", byStatus[task.StatusPending])
		fmt.Printf("   In progress: %d\n", byStatus[task.StatusInProgress])
		fmt.Printf("   Completed: %d\n", byStatus[task.StatusCompleted])
		fmt.Printf("Linked to remote: %d\n", linked)
		fmt.Printf("Awaiting push: %d\n", len(unsynced))
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
