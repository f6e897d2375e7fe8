package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/AgentMesh-Net/labeler-go/internal/api"
	"github.com/AgentMesh-Net/labeler-go/internal/config"
	"github.com/AgentMesh-Net/labeler-go/internal/core/label"
	"github.com/AgentMesh-Net/labeler-go/internal/directory"
	"github.com/AgentMesh-Net/labeler-go/internal/fortune"
	"github.com/AgentMesh-Net/labeler-go/internal/labeling"
	"github.com/AgentMesh-Net/labeler-go/internal/ledger"
	"github.com/AgentMesh-Net/labeler-go/internal/reconcile"
	"github.com/AgentMesh-Net/labeler-go/internal/store"
	"github.com/AgentMesh-Net/labeler-go/internal/stream"
)

func main() {
	var (
		migrate      = pflag.Bool("migrate", false, "re-issue every subject's labels once the server is up")
		reconcileNow = pflag.Bool("reconcile-now", false, "run a reconciliation batch at startup")
		declare      = pflag.Bool("declare", false, "publish the labeler declaration record at startup")
		addr         = pflag.String("addr", "", "HTTP listen address (overrides LABELER_HTTP_ADDR)")
		logLevel     = pflag.String("log-level", "", "debug, info, warn or error (overrides LABELER_LOG_LEVEL)")
	)
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger := newLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger, *migrate, *reconcileNow || cfg.RunBatchOnStart, *declare); err != nil {
		logger.Error("labeler stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger, migrate, batchOnStart, declare bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	signer, err := label.NewSigner(cfg.IssuerDID, cfg.SigningKey)
	if err != nil {
		return err
	}
	table, err := fortune.NewTable(fortune.Default, cfg.Location())
	if err != nil {
		return err
	}

	repo, err := store.Open(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer repo.Close()
	logger.Info("store ready", "backend", strings.SplitN(cfg.DBDSN, ":", 2)[0])

	ledg := ledger.New(repo, logger)
	pub := stream.NewPublisher(cfg.SubscriberBuffer, logger)
	defer pub.Close()

	orch := labeling.New(ledg, signer, table, pub, labeling.Options{
		PublishRevocations: cfg.PublishRevocations,
		Logger:             logger,
	})
	dir := directory.NewXRPCClient(cfg.DirectoryURL, cfg.DirectoryHandle, cfg.DirectoryPassword, nil)
	engine := reconcile.NewEngine(dir, ledg, orch, pub, reconcile.Options{
		Throttle:          cfg.ReconcileThrottle,
		MigrationThrottle: cfg.MigrationThrottle,
		LegacyValues:      cfg.LegacyValues,
		GatePoll:          cfg.GatePoll,
		GateTimeout:       cfg.GateTimeout,
		Logger:            logger,
	})

	var records api.RecordWriter
	if cfg.DirectoryPassword != "" {
		records = dir
	}

	g, gctx := errgroup.WithContext(ctx)

	router := api.NewRouter(api.Deps{
		Ledger:     ledg,
		Signer:     signer,
		Publisher:  pub,
		Labeler:    orch,
		Table:      table,
		Engine:     engine,
		Records:    records,
		Config:     cfg,
		Logger:     logger,
		Background: gctx,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	g.Go(func() error {
		logger.Info("labeler listening", "addr", cfg.HTTPAddr, "issuer", signer.Issuer())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		pub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.DirectoryPassword == "" {
		logger.Warn("no directory password configured, scheduler and notification poller disabled")
	} else {
		scheduler := reconcile.NewScheduler(engine, table, batchOnStart && !migrate, logger)
		poller := directory.NewPoller(dir, directory.AssignFunc(func(ctx context.Context, subject string) error {
			_, err := orch.Assign(ctx, subject)
			return err
		}), cfg.PollInterval, logger)
		g.Go(func() error { scheduler.Run(gctx); return nil })
		g.Go(func() error { poller.Run(gctx); return nil })
	}

	if declare && records != nil {
		g.Go(func() error {
			rec := table.ServiceRecord(time.Now())
			uri, err := records.PutRecord(gctx, fortune.ServiceCollection, fortune.ServiceRKey, rec)
			if err != nil {
				logger.Error("declare labeler", "err", err)
				return nil
			}
			logger.Info("labeler declared", "uri", uri)
			return nil
		})
	}

	if migrate {
		g.Go(func() error {
			if _, err := engine.RunMigration(gctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("migration failed", "err", err)
			}
			if batchOnStart {
				if _, err := engine.RunBatch(gctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("startup batch failed", "err", err)
				}
			}
			return nil
		})
	}

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

func newLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
