package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	settlementpb "github.com/example/netsettle/api/gen/settlement"
	"github.com/example/netsettle/internal/archive"
	"github.com/example/netsettle/internal/chain"
	"github.com/example/netsettle/internal/config"
	"github.com/example/netsettle/internal/crypto"
	"github.com/example/netsettle/internal/engine"
	"github.com/example/netsettle/internal/intent"
	"github.com/example/netsettle/internal/metrics"
	"github.com/example/netsettle/internal/replay"
	"github.com/example/netsettle/internal/server"
	"github.com/example/netsettle/internal/submit"
	"github.com/example/netsettle/internal/vault"
	"github.com/example/netsettle/pkg/audit"
	"github.com/example/netsettle/pkg/logger"
)

// initialPoolSize is how many ghost addresses the first epoch mints.
const initialPoolSize = 256

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	metrics.Init("netsettle")

	seed, err := hex.DecodeString(cfg.AuthorityKey)
	if err != nil || len(seed) != ed25519.SeedSize {
		log.Fatalf("AUTHORITY_KEY must be a hex-encoded 32-byte ed25519 seed")
	}
	authorityKey := ed25519.NewKeyFromSeed(seed)
	authorityPub := authorityKey.Public().(ed25519.PublicKey)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Replay state: redis when configured, in-memory otherwise.
	var replayStore replay.Store
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to parse REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to ping redis: %v", err)
		}
		replayStore = replay.NewRedisStore(redisClient, "netsettle")
	} else {
		replayStore = replay.NewMemoryStore()
	}

	// Batch archive: postgres when configured, in-memory otherwise.
	var store archive.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to create database pool: %v", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.Fatalf("Failed to ping database: %v", err)
		}
		pgStore := archive.NewPostgresStore(pool)
		if err := pgStore.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate archive: %v", err)
		}
		store = pgStore
	} else {
		store = archive.NewMemoryStore()
	}

	// Ghost address pool over sqlite with sealed signing seeds.
	kms, err := crypto.NewFileBasedKMS(crypto.FileBasedKMSConfig{KeyStorePath: cfg.KeyStorePath})
	if err != nil {
		log.Fatalf("Failed to open key store: %v", err)
	}
	ghostPool, err := vault.Open(ctx, cfg.PoolPath, crypto.NewAEADEncryptor(kms))
	if err != nil {
		log.Fatalf("Failed to open ghost pool: %v", err)
	}
	defer ghostPool.Close()

	epoch, err := ghostPool.CurrentEpoch(ctx)
	if err != nil {
		log.Fatalf("Failed to read ghost pool epoch: %v", err)
	}
	if epoch == 0 {
		if _, err := ghostPool.RotateEpoch(ctx, initialPoolSize); err != nil {
			log.Fatalf("Failed to seed ghost pool: %v", err)
		}
	}

	ghostAddrs, err := ghostPool.Addresses(ctx)
	if err != nil {
		log.Fatalf("Failed to list ghost addresses: %v", err)
	}

	journal := audit.NewChainLogger()
	eventHub := server.NewEventHub()
	stateMachine := chain.New(authorityPub, cfg.Treasury,
		chain.WithOperatorFloat(ghostAddrs, 1_000_000_000),
		chain.WithEventSink(func(ev chain.Event) {
			eventHub.Publish(ev)
			logger.WithBatch(ev.Market, ev.BatchID).
				WithField("wallets", ev.NumWallets).
				WithField("items", ev.NumItems).
				WithField("fee", ev.TotalFee).
				Info("settlement event")
		}))
	submitter := submit.New(submit.NewLocalClient(stateMachine), authorityKey, submit.DefaultConfig())

	engineCfg := engine.DefaultConfig()
	engineCfg.MarketFeeBps = cfg.MarketFeeBps
	if cfg.MaxWindow > 0 {
		engineCfg.Scheduler.MaxWindow = cfg.MaxWindow
	}
	if cfg.FlushInterval > 0 {
		engineCfg.FlushInterval = cfg.FlushInterval
	}
	eng := engine.New(engineCfg, intent.NewValidator(replayStore), ghostPool, submitter, store, journal)

	go func() {
		if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("Engine loop failed: %v", err)
		}
	}()

	var limiter *server.RedisTokenBucket
	if redisClient != nil {
		limiter = &server.RedisTokenBucket{
			Redis:      redisClient,
			Prefix:     "netsettle:rl",
			Capacity:   200,
			RefillRate: 100,
		}
	}
	svc := server.New(eng, store, limiter, eventHub)

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(1024*1024), // 1MB
		grpc.MaxSendMsgSize(1024*1024), // 1MB
		grpc.UnaryInterceptor(server.CorrelationUnaryInterceptor()),
	)
	settlementpb.RegisterSettlementServiceServer(grpcServer, svc)
	reflection.Register(grpcServer)

	go func() {
		http.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
			logger.L().WithError(err).Error("metrics listener stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		log.Println("Shutting down gRPC server...")
		grpcServer.GracefulStop()
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
	}()

	log.Printf("Starting settlement engine gRPC server on %s", cfg.ListenAddr)
	if err := grpcServer.Serve(lis); err != nil {
		log.Fatalf("Failed to serve: %v", err)
	}
}
