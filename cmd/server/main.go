package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"secure_chat/internal/config"
	"secure_chat/internal/repository"
	"secure_chat/internal/repository/friendship"
	"secure_chat/internal/repository/memory"
	"secure_chat/internal/repository/message"
	"secure_chat/internal/repository/user"
	redisSvc "secure_chat/internal/service/redis"
	"secure_chat/internal/service/relay"
	"secure_chat/internal/service/server"
	"secure_chat/internal/utils/log"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if err := log.Init(log.Options{Production: cfg.IsProduction(), Level: cfg.LogLevel}); err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal("open store failed", zap.Error(err))
	}
	defer closeStore()

	var cache relay.Cache
	if cfg.RedisURI != "" {
		opts, err := redis.ParseURL(cfg.RedisURI)
		if err != nil {
			log.Fatal("parse redis uri failed", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		svc := redisSvc.NewRedis(rdb)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = svc.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Warn("redis unavailable, history cache disabled", zap.Error(err))
		} else {
			cache = redisSvc.NewHistoryCache(svc, cfg.HistoryCacheSize, cfg.HistoryCacheTTL)
			log.Info("history cache enabled", zap.Int("size", cfg.HistoryCacheSize))
		}
	}

	s := server.NewHttpServer(cfg, store, cache)
	if err := s.Run(ctx); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config) (*repository.Store, func(), error) {
	if cfg.Store == config.StoreMemory {
		log.Warn("using in-memory store; data is lost on exit")
		return memory.New(), func() {}, nil
	}

	client, err := initMongo(ctx, cfg.MongoURI)
	if err != nil {
		return nil, nil, err
	}
	db := client.Database(cfg.MongoDatabase)

	users := user.NewUserRepo(db)
	store := &repository.Store{
		Users:         users,
		Friendships:   friendship.NewFriendshipRepo(db),
		Messages:      message.NewMessageRepo(db),
		Notifications: users,
	}

	ixCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := store.EnsureIndexes(ixCtx); err != nil {
		client.Disconnect(context.Background())
		return nil, nil, err
	}

	log.Info("connected to mongo", zap.String("database", cfg.MongoDatabase))
	return store, func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client.Disconnect(dctx)
	}, nil
}

func initMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
