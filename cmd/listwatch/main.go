// Package main wires together the listwatch monitoring service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/listwatch/listwatch/internal/api"
	"github.com/listwatch/listwatch/internal/classifier"
	"github.com/listwatch/listwatch/internal/clock/system"
	"github.com/listwatch/listwatch/internal/config"
	"github.com/listwatch/listwatch/internal/dispatcher"
	"github.com/listwatch/listwatch/internal/extractor"
	"github.com/listwatch/listwatch/internal/gate"
	"github.com/listwatch/listwatch/internal/id/uuid"
	"github.com/listwatch/listwatch/internal/ledger"
	"github.com/listwatch/listwatch/internal/logging"
	"github.com/listwatch/listwatch/internal/metrics"
	"github.com/listwatch/listwatch/internal/monitor"
	notifierPubsub "github.com/listwatch/listwatch/internal/notifier/pubsub"
	notifierTelegram "github.com/listwatch/listwatch/internal/notifier/telegram"
	"github.com/listwatch/listwatch/internal/reclaimer"
	"github.com/listwatch/listwatch/internal/session"
	"github.com/listwatch/listwatch/internal/snapshot"
	"github.com/listwatch/listwatch/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, stop); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, stop context.CancelFunc) error {
	pool, err := ledger.NewPool(ctx, ledger.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeSec) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("connect ledger: %w", err)
	}
	defer pool.Close()

	if cfg.DB.EnsureSchemaOnBoot {
		if err := ledger.EnsureSchema(ctx, pool); err != nil {
			return err
		}
	}

	taskStore, err := ledger.NewTaskStore(pool, cfg.Worker.MaxTaskAttempts)
	if err != nil {
		return err
	}
	proxyStore, err := ledger.NewProxyStore(pool)
	if err != nil {
		return err
	}
	suppressionStore, err := ledger.NewSuppressionStore(pool)
	if err != nil {
		return err
	}
	groupStore, err := ledger.NewGroupStore(pool)
	if err != nil {
		return err
	}

	notify, closeNotifier, err := buildNotifier(ctx, cfg.Notifier)
	if err != nil {
		return err
	}
	defer closeNotifier()

	deliverer, err := gate.New(gate.Config{
		FreshnessMarkers: cfg.Gate.FreshnessMarkers,
	}, suppressionStore, notify, logger.Named("gate"))
	if err != nil {
		return err
	}

	classify, err := classifier.New(classifier.Config{
		ChallengeSelectors: cfg.Classifier.ChallengeSelectors,
		ChallengeKeywords:  cfg.Classifier.ChallengeKeywords,
		CatalogSelector:    cfg.Classifier.CatalogSelector,
	})
	if err != nil {
		return err
	}

	extract, err := extractor.New(extractor.Config{
		ItemSelector:      cfg.Extractor.ItemSelector,
		ItemIDAttr:        cfg.Extractor.ItemIDAttr,
		TitleSelector:     cfg.Extractor.TitleSelector,
		PriceSelector:     cfg.Extractor.PriceSelector,
		SellerSelector:    cfg.Extractor.SellerSelector,
		LocationSelector:  cfg.Extractor.LocationSelector,
		PublishedSelector: cfg.Extractor.PublishedSelector,
		LinkSelector:      cfg.Extractor.LinkSelector,
	})
	if err != nil {
		return err
	}

	sessions, err := session.NewFactory(session.Config{
		Mode:              cfg.Session.Mode,
		UserAgent:         cfg.Session.UserAgent,
		NavigationTimeout: cfg.NavTimeout(),
		Headless:          cfg.Session.Headless,
	})
	if err != nil {
		return err
	}

	resolver, err := buildResolver(cfg)
	if err != nil {
		return err
	}

	snapshots, closeSnapshots, err := buildSnapshotStore(ctx, cfg.Snapshot)
	if err != nil {
		return err
	}
	defer closeSnapshots()

	clock := system.New()
	idGen := uuid.New()
	workerCfg := worker.Config{
		MaxTaskAttempts:        cfg.Worker.MaxTaskAttempts,
		ChallengeMaxAttempts:   cfg.Worker.ChallengeMaxAttempts,
		IdleDelay:              time.Duration(cfg.Worker.IdleDelaySec) * time.Second,
		BackpressureDelay:      time.Duration(cfg.Worker.BackpressureDelaySec) * time.Second,
		MaxConsecutiveFailures: cfg.Worker.MaxConsecutiveFailures,
		MaxStateHops:           cfg.Worker.MaxStateHops,
	}

	dispatch := dispatcher.New()
	for i := 0; i < cfg.Worker.Count; i++ {
		holderID, err := idGen.NewHolderID("worker")
		if err != nil {
			return fmt.Errorf("worker id: %w", err)
		}
		w, err := worker.New(
			holderID,
			taskStore,
			proxyStore,
			sessions,
			classify,
			resolver,
			extract,
			deliverer,
			snapshots,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		)
		if err != nil {
			return err
		}
		dispatch.Add(w)
	}

	janitor, err := reclaimer.New(taskStore, proxyStore, reclaimer.Config{
		SweepInterval:    time.Duration(cfg.Reclaimer.SweepIntervalSec) * time.Second,
		RecycleInterval:  time.Duration(cfg.Reclaimer.RecycleIntervalSec) * time.Second,
		TaskLeaseMaxAge:  time.Duration(cfg.Reclaimer.TaskLeaseMaxAgeSec) * time.Second,
		ProxyLeaseMaxAge: time.Duration(cfg.Reclaimer.ProxyLeaseMaxAgeSec) * time.Second,
		RecycleCooldown:  time.Duration(cfg.Reclaimer.RecycleCooldownSec) * time.Second,
	}, logger.Named("reclaimer"))
	if err != nil {
		return err
	}
	dispatch.Add(janitor)

	apiServer := api.NewServer(pool, taskStore, groupStore, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatcherDone := make(chan struct{})
	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Worker.Count))
		dispatch.Run(ctx)
		close(dispatcherDone)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-dispatcherDone:
	case <-shutdownCtx.Done():
		logger.Warn("dispatcher did not drain before deadline")
	}
	logger.Info("shutdown complete")
	return nil
}

func buildNotifier(ctx context.Context, cfg config.NotifierConfig) (monitor.Notifier, func(), error) {
	switch cfg.Kind {
	case "telegram":
		n, err := notifierTelegram.New(notifierTelegram.Config{
			Token:   cfg.TelegramToken,
			BaseURL: cfg.TelegramBaseURL,
		})
		if err != nil {
			return nil, nil, err
		}
		return n, func() {}, nil
	case "pubsub":
		n, err := notifierPubsub.New(ctx, cfg.PubSubProjectID)
		if err != nil {
			return nil, nil, err
		}
		return n, func() { _ = n.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown notifier kind %q", cfg.Kind)
	}
}

func buildResolver(cfg config.Config) (monitor.ChallengeResolver, error) {
	if cfg.Session.ChallengeClickSelector == "" || len(cfg.Classifier.ChallengeSelectors) == 0 {
		return session.NopResolver{}, nil
	}
	return session.NewClickResolver(session.ResolverConfig{
		ChallengeSelector: cfg.Classifier.ChallengeSelectors[0],
		ClickSelector:     cfg.Session.ChallengeClickSelector,
		SettleDelay:       time.Duration(cfg.Session.ChallengeSettleSec) * time.Second,
	})
}

func buildSnapshotStore(ctx context.Context, cfg config.SnapshotConfig) (monitor.SnapshotStore, func(), error) {
	switch cfg.Kind {
	case "none", "":
		return nil, func() {}, nil
	case "local":
		store, err := snapshot.NewLocal(cfg.BaseDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("connect gcs: %w", err)
		}
		store, err := snapshot.NewGCS(client, cfg.GCSBucket)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown snapshot kind %q", cfg.Kind)
	}
}
