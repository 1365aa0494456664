package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/solatis/propfilter/internal/core/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start gRPC filter compiler service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "gRPC server host")
	serveCmd.Flags().Int("port", 0, "gRPC server port")
	serveCmd.Flags().Bool("person-on-events", false, "read person properties from the events table")
	serveCmd.Flags().String("combinator", "", "default entity combinator (AND, OR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	service, closeDB, err := newService()
	if err != nil {
		return err
	}
	defer closeDB()

	grpcServer, err := server.NewGRPCServer(&cfg.Server, service, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"version":          Version,
		"address":          cfg.Server.Address(),
		"person_on_events": cfg.Query.PersonOnEvents,
		"combinator":       cfg.Query.Combinator,
	}).Info("Starting propfilter compiler service")

	errChan := make(chan error, 1)
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("Shutting down gracefully")
		return grpcServer.Shutdown(ctx)
	}
}
