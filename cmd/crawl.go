package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/crawlkit/deepcrawl/internal/api"
	"github.com/crawlkit/deepcrawl/internal/config"
	"github.com/crawlkit/deepcrawl/internal/crawler"
	"github.com/crawlkit/deepcrawl/internal/logging"
	"github.com/crawlkit/deepcrawl/internal/progress"
	"github.com/crawlkit/deepcrawl/internal/progress/sinks"
	"github.com/crawlkit/deepcrawl/internal/proxy"
)

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <seed-url>",
		Short: "Starts a crawl session from the given seed URL",
		Long: `Starts a single crawl session. The seed URL is fetched first and its
admitted links are expanded until the page budget, depth limit, or frontier
is exhausted. Results are written to the configured output directory.`,
		Args: cobra.ExactArgs(1),
		RunE: runCrawlCommand,
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, args []string) error {
	seed := args[0]

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		File:        cfg.Logging.File,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rotator, err := buildRotator(cfg, logger)
	if err != nil {
		return err
	}

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("events")),
		promSink,
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := hub.Close(closeCtx); cerr != nil {
			logger.Warn("progress hub close failed", zap.Error(cerr))
		}
	}()

	engine, err := buildEngine(cfg, rotator, hub, logger)
	if err != nil {
		return err
	}

	sink, err := crawler.NewFileSystemSink(cfg.Crawler.OutputDir, logger.Named("sink"))
	if err != nil {
		return fmt.Errorf("init sink: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.Enabled {
		statusSrv := api.NewServer(engine, nil, logger.Named("api"))
		g.Go(func() error {
			return statusSrv.Run(gctx, fmt.Sprintf(":%d", cfg.Server.Port))
		})
	}

	results, err := engine.Start(ctx, seed)
	if err != nil {
		return fmt.Errorf("start crawl: %w", err)
	}
	go func() {
		<-gctx.Done()
		engine.Cancel()
	}()

	saved := 0
	for res := range results {
		if werr := sink.Write(ctx, res); werr != nil {
			logger.Warn("failed to save result", zap.String("url", res.URL), zap.Error(werr))
			continue
		}
		saved++
	}
	stop() // crawl finished; release the status server

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("status server error", zap.Error(err))
	}

	state := engine.State()
	logger.Info("crawl finished",
		zap.String("state", string(state)),
		zap.Int("pages_saved", saved),
	)
	if state == crawler.StateFailed {
		return errors.New("crawl session failed")
	}
	return nil
}

func buildRotator(cfg config.Config, logger *zap.Logger) (*proxy.Rotator, error) {
	if cfg.Proxy.File == "" {
		// Validation only lets this through when proxy.required is false.
		// A single empty entry means direct connections with the rotation
		// wiring intact.
		logger.Warn("no proxy file configured; crawling without proxies")
		return proxy.NewRotator([]proxy.Entry{{}})
	}
	entries, err := proxy.LoadFile(cfg.Proxy.File)
	if err != nil {
		return nil, &crawler.ConfigError{Field: "proxy.file", Err: err}
	}
	rotator, err := proxy.NewRotator(entries)
	if err != nil {
		return nil, &crawler.ConfigError{Field: "proxy.file", Err: err}
	}
	logger.Info("proxy pool loaded", zap.Int("size", rotator.Size()))
	return rotator, nil
}

func buildEngine(
	cfg config.Config,
	rotator *proxy.Rotator,
	hub *progress.Hub,
	logger *zap.Logger,
) (*crawler.Engine, error) {
	fetcher, err := crawler.NewCollyFetcher(cfg.FetcherConfig(), logger.Named("fetcher"))
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}
	engine, err := crawler.NewEngine(cfg.EngineConfig(), fetcher, rotator, logger.Named("engine"), hub)
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	if err := engine.SetStrategy(cfg.StrategySpec()); err != nil {
		return nil, fmt.Errorf("configure strategy: %w", err)
	}
	return engine, nil
}
