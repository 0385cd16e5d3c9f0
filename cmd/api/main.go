package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"escrowflow/auth"
	"escrowflow/catalog"
	"escrowflow/config"
	"escrowflow/db"
	"escrowflow/dispute"
	"escrowflow/evidence"
	"escrowflow/order"
	"escrowflow/outbox"
	"escrowflow/payment"
	"escrowflow/payout"
	"escrowflow/profile"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	payoutCalc, err := payout.NewCalculator(cfg.FeePercent)
	if err != nil {
		return err
	}

	var replayCache payment.ReplayCache
	if cfg.RedisAddr != "" {
		cache := payment.NewRedisReplayCache(cfg.RedisAddr)
		defer cache.Close()
		replayCache = cache
	}

	orderRepo := order.NewRepository(pool)
	profileRepo := profile.NewRepository(pool)

	orderService := order.NewService(orderRepo)
	profileService := profile.NewService(profileRepo)

	evidenceStore, err := evidence.NewDiskStore(cfg.EvidenceDir, cfg.EvidenceBaseURL)
	if err != nil {
		return err
	}

	server := &Server{
		logger:         logger,
		authService:    auth.NewService(auth.NewRepository(pool), cfg.JWTSecret),
		catalogService: catalog.NewService(catalog.NewRepository(pool)),
		orderService:   orderService,
		paymentService: payment.NewService(orderRepo, replayCache, logger),
		profileService: profileService,
		disputeService: dispute.NewService(orderService, profileService, payoutCalc),
		payoutCalc:     payoutCalc,
		charges:        payment.NewClient(cfg.ProcessorBaseURL, cfg.ProcessorSecretKey),
		evidenceStore:  evidenceStore,
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	// The outbox dispatcher only runs when a broker is configured; the outbox
	// table still fills either way and drains once one appears.
	if len(cfg.KafkaBrokers) > 0 {
		publisher := outbox.NewKafkaPublisher(cfg.KafkaBrokers)
		defer publisher.Close()
		dispatcher := outbox.NewDispatcher(outbox.NewRepository(pool), publisher, logger)
		g.Go(func() error {
			err := dispatcher.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}
