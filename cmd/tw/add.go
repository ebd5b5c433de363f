package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/taskweave/taskweave/internal/task"
)

var addCmd = &cobra.Command{
	Use:     "add <title>",
	GroupID: "tasks",
	Short:   "Add a new task",
	Long: `Add a task to the local store. The task is created offline and pushed
to the remote backend on the next sync cycle.

A reminder time can be given in natural language:
  tw add "Buy milk" --when "tomorrow at 5pm"
  tw add "Standup" --when "in 30 minutes"
or as an exact RFC 3339 timestamp:
  tw add "Release" --at 2026-10-01T09:00:00Z`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		title := strings.Join(args, " ")
		desc, _ := cmd.Flags().GetString("desc")
		whenText, _ := cmd.Flags().GetString("when")
		atText, _ := cmd.Flags().GetString("at")

		t := &task.Task{
			Title:       title,
			Description: desc,
			Status:      task.StatusPending,
		}

		switch {
		case whenText != "" && atText != "":
			fmt.Fprintf(os.Stderr, "Error: --when and --at are mutually exclusive\n")
			os.Exit(1)
		case whenText != "":
			at, err := parseWhen(whenText)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			t.ScheduledAt = &at
		case atText != "":
			at, err := time.Parse(time.RFC3339, atText)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: invalid --at timestamp: %v\n", err)
				os.Exit(1)
			}
			t.ScheduledAt = &at
		}

		cfg := loadConfig()
		s := openStore(cfg)
		defer s.Close()

		created, err := s.Create(context.Background(), t)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Added %s (%s)\n", created.Title, shortID(created.LocalID))
		if created.ScheduledAt != nil {
			fmt.Printf("   Reminder: %s\n", created.ScheduledAt.Local().Format("Mon Jan 2 15:04"))
		}
	},
}

// parseWhen resolves a natural-language time like "tomorrow at 5pm".
func parseWhen(text string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand time %q", text)
	}
	return r.Time, nil
}

func init() {
	addCmd.Flags().StringP("desc", "d", "", "task description")
	addCmd.Flags().String("when", "", "reminder time in natural language")
	addCmd.Flags().String("at", "", "reminder time as RFC 3339")
	rootCmd.AddCommand(addCmd)
}
