// Package cmd defines and implements the CLI commands for the cites executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-citations/internal/app"
	"github.com/JakeFAU/scholar-citations/internal/config"
	"github.com/JakeFAU/scholar-citations/internal/logging"
)

const closeTimeout = 10 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use, so tests can
// inject a fake.
type App interface {
	Run(ctx context.Context, sel app.Selection) (app.Summary, error)
	Close(ctx context.Context) error
	GetLogger() *zap.Logger
}

// newApp is the application factory. It is a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger, app.Options{})
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "cites",
		Short: "Rank NeurIPS papers by their Google Scholar citation counts.",
		Long: `cites looks up every paper of a NeurIPS proceedings year on Google
Scholar, survives CAPTCHAs and rate limits with a checkpoint, and writes the
papers ranked by citations to a CSV file.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Loads config and builds the application before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// cobra checks required flags only after this hook
			if err := cmd.ValidateRequiredFlags(); err != nil {
				return err //nolint:wrapcheck // cobra's message is user-facing
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return closeApp(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./cites.yaml or $HOME/.cites/cites.yaml)")
	cmd.AddCommand(newRunCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func closeApp(ctx context.Context) error {
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return nil //nolint:nilerr // nothing was started
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := appInstance.Close(closeCtx); err != nil {
		return fmt.Errorf("close application: %w", err)
	}
	_ = appInstance.GetLogger().Sync() //nolint:errcheck // stderr sync fails on some terminals
	return nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return
	}
	stop()
	if zap.L().Core().Enabled(zap.FatalLevel) {
		zap.L().Fatal("command execution failed", zap.Error(err))
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
