package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chartflow/config"
	"chartflow/internal/archive"
	"chartflow/internal/chart"
	"chartflow/internal/fetch"
	"chartflow/internal/metrics"
	"chartflow/internal/recorder"
	"chartflow/internal/scheduler"
	"chartflow/internal/search"
	"chartflow/logger"
)

type app struct {
	cfg      *config.Config
	client   *fetch.Client
	searcher *search.Client
	archiver *archive.Archiver
	recorder recorder.Recorder
	log      *logger.Log
}

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	query := flag.String("symbol", "", "Free-text symbol lookup; overrides the configured symbol list")
	interval := flag.String("interval", "", "Bar interval in minutes (overrides per-symbol config)")
	count := flag.Int("count", 0, "Explicit bar count; 0 plans it from the trading session")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Chartflow.Name,
		"version": cfg.Chartflow.Version,
	}).Info("starting chartflow")

	if cfg.Metrics.Enabled {
		metrics.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace)
	}

	a := &app{
		cfg:      cfg,
		client:   fetch.NewClient(cfg),
		searcher: search.NewClient(cfg),
		recorder: recorder.NewNoopRecorder(),
		log:      log,
	}

	if cfg.Archive.Enabled {
		archiver, err := archive.NewArchiver(cfg)
		if err != nil {
			log.WithError(err).Error("Failed to initialize archiver")
			os.Exit(1)
		}
		a.archiver = archiver
	}

	if cfg.Recorder.Enabled {
		rec, err := recorder.NewSQLiteRecorder(cfg.Recorder.Path)
		if err != nil {
			log.WithError(err).Error("Failed to open fetch recorder")
			os.Exit(1)
		}
		a.recorder = rec
	}
	defer a.recorder.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *query != "" {
		if err := a.lookup(ctx, *query, *interval, *count); err != nil {
			log.WithError(err).Error("lookup failed")
			os.Exit(1)
		}
		return
	}

	a.runBatch(ctx, *interval, *count)

	if cfg.Schedule.Enabled {
		sched := scheduler.New()
		if err := sched.Register(cfg.Schedule.Cron, func() {
			a.runBatch(ctx, *interval, *count)
		}); err != nil {
			log.WithError(err).Error("Failed to register schedule")
			os.Exit(1)
		}
		sched.Start()
		<-ctx.Done()
		sched.Stop()
	}
}

// lookup resolves a free-text query through symbol search and pulls it once.
func (a *app) lookup(ctx context.Context, query, interval string, count int) error {
	result, err := a.searcher.Lookup(ctx, query)
	if err != nil {
		return err
	}
	name := strings.ReplaceAll(result.Symbol, ":", "_")
	return a.pull(ctx, result.Symbol, name, interval, count)
}

// runBatch pulls every configured symbol in order; one failure does not stop
// the rest.
func (a *app) runBatch(ctx context.Context, intervalOverride string, count int) {
	for _, sym := range a.cfg.Symbols {
		if ctx.Err() != nil {
			return
		}
		interval := sym.Interval
		if intervalOverride != "" {
			interval = intervalOverride
		}
		if err := a.pull(ctx, sym.Symbol, sym.Name, interval, count); err != nil {
			a.log.WithComponent("main").WithError(err).WithFields(logger.Fields{
				"symbol": sym.Symbol,
			}).Error("pull failed")
		}
	}
}

func (a *app) pull(ctx context.Context, symbol, name, interval string, count int) error {
	if interval == "" {
		interval = "5"
	}
	started := time.Now()

	data, err := a.client.Fetch(ctx, symbol, interval, count)
	if a.cfg.Metrics.Enabled {
		bars := 0
		if data != nil {
			bars = len(data.Bars)
		}
		metrics.PublishFetch(symbol, bars, time.Since(started), err != nil)
	}
	if err != nil {
		return err
	}

	sessionType, phase := "", ""
	if data.SessionInfo != nil {
		sessionType, phase = data.SessionInfo.Type, data.SessionInfo.MarketPhase
	}
	if err := a.recorder.RecordFetch(&recorder.FetchRecord{
		Symbol:        symbol,
		Interval:      interval,
		Bars:          len(data.Bars),
		CurrentPrice:  data.CurrentPrice,
		Change:        data.Change,
		ChangePercent: data.ChangePercent,
		SessionType:   sessionType,
		MarketPhase:   phase,
		FetchedAt:     started,
		DurationMs:    time.Since(started).Milliseconds(),
	}); err != nil {
		a.log.WithComponent("main").WithError(err).Warn("failed to record fetch")
	}

	if a.archiver != nil {
		if err := a.archiver.Archive(ctx, data, interval); err != nil {
			a.log.WithComponent("main").WithError(err).Warn("failed to archive bar series")
		}
	}

	if err := os.MkdirAll(a.cfg.Output.Dir, 0o755); err != nil {
		return err
	}
	outPath := filepath.Join(a.cfg.Output.Dir, name+".html")
	if err := os.WriteFile(outPath, []byte(chart.BuildDocument(data)), 0o644); err != nil {
		return err
	}

	a.log.WithComponent("main").WithFields(logger.Fields{
		"symbol": symbol,
		"bars":   len(data.Bars),
		"price":  data.CurrentPrice,
		"output": outPath,
	}).Info("chart written")
	return nil
}
