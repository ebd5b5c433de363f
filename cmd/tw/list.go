package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/taskweave/taskweave/internal/store"
	"github.com/taskweave/taskweave/internal/task"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "tasks",
	Short:   "List tasks",
	Run: func(cmd *cobra.Command, args []string) {
		statusText, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		var filter store.Filter
		if statusText != "" {
			st := task.Status(statusText)
			if !task.ValidStatus(st) {
				fmt.Fprintf(os.Stderr, "Error: unknown status %q\n", statusText)
				os.Exit(1)
			}
			filter.Status = st
		}
		filter.Limit = limit

		cfg := loadConfig()
		s := openStore(cfg)
		defer s.Close()

		tasks, err := s.ListAll(context.Background(), filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tSYNC\tTITLE\tREMINDER")
		for _, t := range tasks {
			sync := "pending"
			if t.Synced {
				sync = "synced"
			}
			reminder := ""
			if t.ScheduledAt != nil {
				reminder = t.ScheduledAt.Local().Format("Jan 2 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				shortID(t.LocalID), t.Status, sync, t.Title, reminder)
		}
		w.Flush()
	},
}

// shortID abbreviates a uuid for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	listCmd.Flags().StringP("status", "s", "", "filter by status (pending, in_progress, completed)")
	listCmd.Flags().IntP("limit", "n", 0, "limit number of results")
	rootCmd.AddCommand(listCmd)
}
