package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "jarpay",
		Short:        "Jar contribution payments and ledger service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_FILE"), "YAML config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configPath)
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables and indexes for the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			app, err := newApplication(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.close()
			return app.migrations(cmd.Context())
		},
	}
}

func serve(configPath string) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	app, err := newApplication(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.migrations(context.Background()); err != nil {
		return err
	}

	server := &http.Server{
		Addr:         app.addr(),
		Handler:      app.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15*time.Second + cfg.gateway.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)

	go func() {
		app.logger.Info("server listening", "addr", server.Addr, "env", cfg.env,
			"readTimeout", server.ReadTimeout.String(), "writeTimeout", server.WriteTimeout.String())
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case sig := <-quit:
		app.logger.Info("shutdown signal received", "signal", sig.String(), "timeout", cfg.shutdownTimeout.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	app.logger.Info("server stopped")
	return nil
}
