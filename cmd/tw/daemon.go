package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/taskweave/taskweave/internal/config"
	"github.com/taskweave/taskweave/internal/dashboard"
	"github.com/taskweave/taskweave/internal/engine"
	"github.com/taskweave/taskweave/internal/notify"
	"github.com/taskweave/taskweave/internal/remote"
	"github.com/taskweave/taskweave/internal/scheduler"
	"github.com/taskweave/taskweave/internal/store"
	"github.com/taskweave/taskweave/internal/task"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon",
	Long: `Run taskweave as a long-lived process that syncs on a fixed interval,
fires due reminders, and (optionally) serves the WebSocket dashboard.

The daemon reloads its config file when it changes on disk; a changed
sync interval takes effect without a restart.

Example:
  tw daemon
  tw daemon --config ~/.taskweave/config.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		logOut := io.Writer(os.Stderr)
		if cfg.Log.File != "" {
			logOut = io.MultiWriter(os.Stderr, &lumberjack.Logger{
				Filename:   cfg.Log.File,
				MaxSize:    cfg.Log.MaxSizeMB,
				MaxBackups: cfg.Log.MaxBackups,
			})
		}
		logger := log.New(logOut, "[daemon] ", log.LstdFlags)

		notifier := notify.NewService(log.New(logOut, "[notify] ", log.LstdFlags))
		defer notifier.Close()
		notifier.OnFire = func(taskID, title string) {
			fmt.Printf("Reminder: %s\n", title)
		}

		s, err := store.Open(cfg.Store.Path, notifier, log.New(logOut, "[store] ", log.LstdFlags))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()

		ctx := context.Background()
		if err := s.Init(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing database: %v\n", err)
			os.Exit(1)
		}
		rearmReminders(ctx, s, notifier, logger)

		client := remote.New(cfg.Remote.BaseURL, cfg.Remote.Timeout,
			log.New(logOut, "[remote] ", log.LstdFlags))
		eng := engine.New(s, client, log.New(logOut, "[engine] ", log.LstdFlags))

		var dash *dashboard.Server
		if cfg.Dashboard.Enabled {
			dash = dashboard.NewServer(cfg.Dashboard.Port, log.New(logOut, "[dashboard] ", log.LstdFlags))
			if err := dash.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
				os.Exit(1)
			}
			defer dash.Stop()
			eng.OnApply = func(action string, t *task.Task) {
				dash.BroadcastTaskUpdate(action, t)
			}
			fmt.Printf("Dashboard: ws://%s/ws\n", dash.Addr())
		}

		cycle := func(ctx context.Context) (engine.Report, error) {
			start := time.Now()
			rep, err := eng.RunCycle(ctx)
			if dash != nil {
				dash.BroadcastCycle(rep, err, time.Since(start))
			}
			return rep, err
		}

		var schedMu sync.Mutex
		sched := scheduler.New(cycle, cfg.Sync.Interval, log.New(logOut, "[scheduler] ", log.LstdFlags))
		if err := sched.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting scheduler: %v\n", err)
			os.Exit(1)
		}

		watcher, err := config.NewWatcher(configPath, log.New(logOut, "[config] ", log.LstdFlags))
		if err != nil {
			logger.Printf("config watching disabled: %v", err)
		} else {
			interval := cfg.Sync.Interval
			watcher.OnReload = func(next *config.Config) {
				schedMu.Lock()
				defer schedMu.Unlock()
				if next.Sync.Interval == interval {
					return
				}
				logger.Printf("sync interval changed %s -> %s, restarting scheduler",
					interval, next.Sync.Interval)
				sched.Stop()
				sched = scheduler.New(cycle, next.Sync.Interval, log.New(logOut, "[scheduler] ", log.LstdFlags))
				if err := sched.Start(ctx); err != nil {
					logger.Printf("failed to restart scheduler: %v", err)
					return
				}
				interval = next.Sync.Interval
			}
			if err := watcher.Start(); err != nil {
				logger.Printf("config watching disabled: %v", err)
			} else {
				defer watcher.Stop()
			}
		}

		fmt.Printf("Daemon running, syncing with %s every %s\n", cfg.Remote.BaseURL, cfg.Sync.Interval)
		fmt.Println("Press Ctrl+C to stop...")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		schedMu.Lock()
		sched.Stop()
		schedMu.Unlock()
	},
}

// rearmReminders reschedules reminders for tasks with a future scheduled
// time, since timers do not survive a daemon restart.
func rearmReminders(ctx context.Context, s *store.Store, n notify.Notifier, logger *log.Logger) {
	tasks, err := s.ListAll(ctx, store.Filter{})
	if err != nil {
		logger.Printf("failed to rearm reminders: %v", err)
		return
	}
	count := 0
	now := time.Now()
	for _, t := range tasks {
		if t.ScheduledAt == nil || t.ScheduledAt.Before(now) {
			continue
		}
		if err := n.ScheduleReminder(t.LocalID, *t.ScheduledAt, t.Title); err != nil {
			logger.Printf("failed to rearm reminder for %s: %v", t.LocalID, err)
			continue
		}
		count++
	}
	if count > 0 {
		logger.Printf("rearmed %d reminders", count)
	}
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
