// File: cmd/watch.go
package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/guardian-cli/internal/audit"
	"github.com/xkilldash9x/guardian-cli/internal/browser"
	"github.com/xkilldash9x/guardian-cli/internal/config"
	"github.com/xkilldash9x/guardian-cli/internal/guard"
	"github.com/xkilldash9x/guardian-cli/internal/observability"
	"github.com/xkilldash9x/guardian-cli/internal/oracle"
	"github.com/xkilldash9x/guardian-cli/internal/pages"
	"github.com/xkilldash9x/guardian-cli/internal/profile"
	"github.com/xkilldash9x/guardian-cli/internal/proxy"
)

var startURL string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Launch the supervised browser and interdict harmful content until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := observability.GetLogger()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// -- Profile and audit plumbing --
		profileStore, err := profile.NewStore(cfg.Profile.Path, logger)
		if err != nil {
			return err
		}
		if err := profileStore.Watch(); err != nil {
			logger.Warn("Profile live reload unavailable.", zap.Error(err))
		}
		defer profileStore.Close()

		spool, err := audit.OpenSpool(cfg.Audit.SpoolFile)
		if err != nil {
			return err
		}
		defer spool.Close()
		auditLogger := audit.NewLogger(spool, profileStore, logger)

		var sinks []audit.Sink
		if cfg.Audit.Endpoint != "" {
			sinks = append(sinks, audit.NewHTTPSink(cfg.Audit.Endpoint, &http.Client{Timeout: cfg.Audit.Timeout}))
		}
		if cfg.Audit.Postgres.Enabled {
			pg, err := audit.NewPostgresSink(ctx, cfg.Audit.Postgres.URL)
			if err != nil {
				return err
			}
			defer pg.Close()
			sinks = append(sinks, pg)
		}
		shipper := audit.NewShipper(spool.Path(), sinks, logger)
		if err := shipper.Start(ctx); err != nil {
			return err
		}
		defer shipper.Stop()

		// -- Classification and navigation guard --
		oracleClient, err := oracle.NewClient(cfg.Oracle, logger)
		if err != nil {
			return err
		}

		pagesSrv, nav, err := buildPages(cfg, oracleClient, auditLogger, logger)
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(pagesSrv.Start)
		shutdowns := []func(context.Context) error{pagesSrv.Shutdown}

		if cfg.Proxy.Enabled {
			proxySrv := proxy.NewServer(cfg.Proxy, nav, logger)
			g.Go(proxySrv.Start)
			shutdowns = append(shutdowns, proxySrv.Shutdown)
		}
		defer func() {
			for _, shutdown := range shutdowns {
				shutdownServer(shutdown, logger)
			}
		}()

		// -- Browser attachment --
		mgr, err := browser.NewManager(gctx, cfg.Browser, logger)
		if err != nil {
			return err
		}
		defer mgr.Shutdown()

		session := browser.NewSession(mgr.AllocatorContext(), logger)
		defer session.Close()

		registry := guard.NewRegistry(guard.NewSendControlMatcher(cfg.Guard.SendWords), logger)
		controller := guard.NewController(
			cfg.Enforcement,
			session.Bridge(),
			registry,
			session.Scrubbers(),
			auditLogger,
			pagesSrv.BlockedURL(),
			logger,
		)
		pipeline := guard.NewPipeline(guard.PipelineConfig{
			DebounceWindow: cfg.Guard.DebounceWindow,
			MinLength:      cfg.Oracle.MinLength,
		}, oracleClient, controller, logger)
		defer pipeline.Close()

		if err := session.Start(registry, pipeline, nav); err != nil {
			return err
		}
		if startURL != "" {
			if err := session.Navigate(startURL); err != nil {
				logger.Warn("Failed to open start page.", zap.Error(err))
			}
		}

		if username, active := profileStore.ActiveUsername(); active {
			logger.Info("Watching with active supervised profile.", zap.String("username", username))
		} else {
			logger.Warn("No supervised profile is logged in; blocked attempts will not be reported.")
		}

		<-gctx.Done()
		logger.Info("Shutting down.")
		return drainServers(g, shutdowns, logger)
	},
}

// drainServers stops the listeners and surfaces the first server failure.
// Without the Wait, a listener that dies early, a port already in use for
// instance, would only cancel the group context and the command would exit
// clean or blame whichever collaborator tripped on the cancelled context.
func drainServers(g *errgroup.Group, shutdowns []func(context.Context) error, logger *zap.Logger) error {
	for _, shutdown := range shutdowns {
		shutdownServer(shutdown, logger)
	}
	if err := g.Wait(); err != nil {
		logger.Error("A server exited with an error.", zap.Error(err))
		return err
	}
	return nil
}

func buildPages(cfg *config.Config, checker pages.Checker, sink guard.AuditSink, logger *zap.Logger) (*pages.Server, *guard.NavGuard, error) {
	nav := guard.NewNavGuard(cfg.Guard.QueryParams, "http://"+cfg.Pages.ListenAddr, logger)
	srv, err := pages.NewServer(cfg.Pages, nav, checker, sink, logger)
	if err != nil {
		return nil, nil, err
	}
	return srv, nav, nil
}

func shutdownServer(shutdown func(context.Context) error, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Debug("Server shutdown reported an error.", zap.Error(err))
	}
}

func init() {
	watchCmd.Flags().StringVar(&startURL, "url", "", "page to open once the watcher is attached")
	rootCmd.AddCommand(watchCmd)
}
