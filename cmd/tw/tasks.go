package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskweave/taskweave/internal/engine"
	"github.com/taskweave/taskweave/internal/remote"
	"github.com/taskweave/taskweave/internal/store"
	"github.com/taskweave/taskweave/internal/task"
)

var doneCmd = &cobra.Command{
	Use:     "done <id>",
	GroupID: "tasks",
	Short:   "Mark a task completed",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cfg)
		defer s.Close()

		ctx := context.Background()
		t := resolveTask(ctx, s, args[0])

		status := task.StatusCompleted
		updated, err := s.Update(ctx, t.LocalID, store.Patch{Status: &status})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Completed %s (%s)\n", updated.Title, shortID(updated.LocalID))
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "tasks",
	Short:   "Edit a task's fields",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cfg)
		defer s.Close()

		ctx := context.Background()
		t := resolveTask(ctx, s, args[0])

		var p store.Patch
		if cmd.Flags().Changed("title") {
			title, _ := cmd.Flags().GetString("title")
			p.Title = &title
		}
		if cmd.Flags().Changed("desc") {
			desc, _ := cmd.Flags().GetString("desc")
			p.Description = &desc
		}
		if cmd.Flags().Changed("status") {
			statusText, _ := cmd.Flags().GetString("status")
			st := task.Status(statusText)
			if !task.ValidStatus(st) {
				fmt.Fprintf(os.Stderr, "Error: unknown status %q\n", statusText)
				os.Exit(1)
			}
			p.Status = &st
		}
		if cmd.Flags().Changed("when") {
			whenText, _ := cmd.Flags().GetString("when")
			if whenText == "" {
				p.ClearScheduledAt = true
			} else {
				at, err := parseWhen(whenText)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
				p.ScheduledAt = &at
			}
		}

		updated, err := s.Update(ctx, t.LocalID, p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Updated %s (%s)\n", updated.Title, shortID(updated.LocalID))
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>",
	GroupID: "tasks",
	Short:   "Delete a task",
	Long: `Delete a task from the local store. If the task is linked to the remote
backend, deletion there is attempted as well but a remote failure does
not block the local delete.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cfg)
		defer s.Close()

		ctx := context.Background()
		t := resolveTask(ctx, s, args[0])

		client := remote.New(cfg.Remote.BaseURL, cfg.Remote.Timeout,
			log.New(os.Stderr, "[remote] ", log.LstdFlags))
		eng := engine.New(s, client, log.New(os.Stderr, "[engine] ", log.LstdFlags))

		ok, err := eng.DeleteTask(ctx, t.LocalID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: task not found\n")
			os.Exit(1)
		}
		fmt.Printf("Deleted %s (%s)\n", t.Title, shortID(t.LocalID))
	},
}

// resolveTask finds a task by full local id or unique prefix.
func resolveTask(ctx context.Context, s *store.Store, id string) *task.Task {
	if t, err := s.GetByID(ctx, id); err == nil {
		return t
	}

	tasks, err := s.ListAll(ctx, store.Filter{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var matches []*task.Task
	for _, t := range tasks {
		if strings.HasPrefix(t.LocalID, id) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0]
	case 0:
		fmt.Fprintf(os.Stderr, "Error: no task matches %q\n", id)
	default:
		fmt.Fprintf(os.Stderr, "Error: %q is ambiguous (%d matches)\n", id, len(matches))
	}
	os.Exit(1)
	return nil
}

func init() {
	editCmd.Flags().String("title", "", "new title")
	editCmd.Flags().StringP("desc", "d", "", "new description")
	editCmd.Flags().StringP("status", "s", "", "new status")
	editCmd.Flags().String("when", "", "new reminder time in natural language (empty clears it)")
	rootCmd.AddCommand(doneCmd, editCmd, rmCmd)
}
