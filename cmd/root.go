package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ytcrawler/internal/config"
	"github.com/JakeFAU/ytcrawler/internal/crawler"
	"github.com/JakeFAU/ytcrawler/internal/logging"
	"github.com/JakeFAU/ytcrawler/internal/quota"
	"github.com/JakeFAU/ytcrawler/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Crawler triggers crawl runs.
type Crawler interface {
	RunBackfill(ctx context.Context) (crawler.RunReport, error)
	RunIncremental(ctx context.Context) (crawler.RunReport, error)
}

// ChannelManager edits the tracked channel set.
type ChannelManager interface {
	Insert(ctx context.Context, in crawler.ChannelInput) (crawler.Channel, error)
	List(ctx context.Context) ([]crawler.Channel, error)
	Update(ctx context.Context, channelID string, patch crawler.ChannelPatch) (crawler.Channel, error)
	BulkUpdate(ctx context.Context, patch crawler.ChannelPatch) ([]crawler.Channel, error)
	ResetForBackfill(ctx context.Context, channelID string) (crawler.Channel, error)
}

// QuotaManager reads the ledger and rotates the credential.
type QuotaManager interface {
	Load(ctx context.Context) (crawler.QuotaState, error)
	SetAPIKey(ctx context.Context, apiKey string) (crawler.QuotaState, error)
	Tracker() *quota.Tracker
}

// App defines what commands use. Tests inject a fake through newApp.
type App interface {
	Close()
	Serve(ctx context.Context) error
	Crawler() Crawler
	Channels() ChannelManager
	Quota() QuotaManager
	Logger() *zap.Logger
}

type liveApp struct {
	*server.App
	logger *zap.Logger
}

func (a liveApp) Serve(ctx context.Context) error { return a.App.Run(ctx) }
func (a liveApp) Crawler() Crawler { return a.App.Worker() }
func (a liveApp) Channels() ChannelManager { return a.App.Channels() }
func (a liveApp) Quota() QuotaManager { return a.App.Quota() }
func (a liveApp) Logger() *zap.Logger { return a.logger }

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return liveApp{App: app, logger: logger}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "ytcrawler",
		Short: "Collects raw YouTube video data for tracked channels.",
		Long: `ytcrawler registers YouTube channels by handle and collects the raw search
results for their videos: a full historical backfill once per channel, then
incremental catch-up runs, all within the Data API's shared daily quota.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./config.yaml, /etc/ytcrawler, $HOME/.ytcrawler)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newChannelCmd())
	cmd.AddCommand(newAPIKeyCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
