package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/upb/audit-collector/app"
	"github.com/upb/audit-collector/config"
	"github.com/upb/audit-collector/internal/observability"
	"github.com/upb/audit-collector/middleware"
	"github.com/upb/audit-collector/routes"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env holds what every subcommand needs before touching the dependencies
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	e := &env{}

	root := &cobra.Command{
		Use:           "audit-collector",
		Short:         "Collects audit results for team dashboards",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			e.cfg = cfg
			e.logger = logger.With(zap.String("environment", cfg.Environment))
			return nil
		},
	}

	root.AddCommand(serveCmd(e))
	root.AddCommand(runOnceCmd(e))
	root.AddCommand(initSchemaCmd(e))
	root.AddCommand(tokenCmd(e))
	return root
}

func serveCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the ops HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, e)
		},
	}
}

func serve(ctx context.Context, e *env) error {
	deps, err := app.NewDependencies(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := deps.Close(closeCtx); err != nil {
			e.logger.Error("shutdown incomplete", zap.Error(err))
		}
	}()

	if err := deps.Scheduler.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         e.cfg.Server.Address(),
		Handler:      routes.SetupRoutes(deps),
		ReadTimeout:  e.cfg.Server.ReadTimeout,
		WriteTimeout: e.cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		e.logger.Info("ops API listening", zap.String("addr", srv.Addr), zap.Bool("tls", e.cfg.Server.TLS.Enabled))
		var err error
		if e.cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS(e.cfg.Server.TLS.CertFile, e.cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		e.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func runOnceCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Execute a single collector run and print its record",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := app.NewDependencies(ctx, e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer deps.Close(context.Background())

			record, err := deps.Runner.Run(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), record)
		},
	}
}

func initSchemaCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "init-schema",
		Short: "Create the collector tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.InitStoreSchema(cmd.Context(), e.cfg, e.logger)
		},
	}
}

func tokenCmd(e *env) *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the ops API",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := issueToken(e.cfg, subject, roles, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "ops", "token subject")
	cmd.Flags().StringSliceVar(&roles, "role", []string{middleware.RoleAdmin}, "granted roles")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func issueToken(cfg *config.Config, subject string, roles []string, ttl time.Duration) (string, error) {
	if cfg.Auth.JWTSecret == "" {
		return "", fmt.Errorf("AUTH_JWT_SECRET is not set")
	}
	validator, err := app.NewTokenValidator(cfg)
	if err != nil {
		return "", err
	}
	return validator.Issue(subject, roles, ttl)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
