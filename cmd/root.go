// Package cmd defines and implements the CLI commands for the catalog-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/dispatcher"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
)

// Version is stamped at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

const closeTimeout = 15 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Manager is the part of the worker manager the commands drive.
type Manager interface {
	Run(ctx context.Context) error
	Seed(ctx context.Context, vendor string, params map[string]string) (crawler.Job, error)
	SetSession(ctx context.Context, active bool) error
	QueueSnapshot(ctx context.Context) ([]dispatcher.VendorQueue, error)
}

// App defines the application interface that commands use, so tests can
// inject a fake.
type App interface {
	Logger() *zap.Logger
	Config() config.Config
	Manager() Manager
	HTTPServer() *http.Server
	Close(ctx context.Context) error
}

type appAdapter struct {
	*app.App
}

func (a appAdapter) Manager() Manager { return a.App.Manager() }

// newApp is the application factory. It is a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return appAdapter{a}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "catalog-crawler",
		Short: "Crash-recoverable vendor catalog crawler.",
		Long: `catalog-crawler keeps a product catalog in sync with vendor websites.
Listing and item jobs flow through a durable Redis queue and are drained by a
pool of per-vendor workers that survive restarts without losing work.`,
		SilenceUsage: true,
		Version:      Version,

		// Load config and build the application before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			closeErr := appInstance.Close(ctx)
			_ = appInstance.Logger().Sync()
			return closeErr
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml, /etc/catalog-crawler/config.yaml)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSeedCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newStatusCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
