package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskweave/taskweave/internal/server"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the reference sync backend",
	Long: `Run the in-memory reference backend that tw clients sync against.

The backend holds the canonical task collection and exposes the REST
interface plus the batch sync endpoint. State is not persisted; this is
intended for development and for small single-host deployments.`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")

		logger := log.New(os.Stderr, "[server] ", log.LstdFlags)
		backend := server.New(server.NewCollection(), logger)

		if err := backend.Start(port); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start server: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Sync backend listening on http://%s\n", backend.Addr())
		fmt.Println("\nPress Ctrl+C to stop...")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := backend.Stop(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8375, "port to listen on")
	rootCmd.AddCommand(serveCmd)
}
