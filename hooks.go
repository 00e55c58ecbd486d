package main

import (
	"context"

	"PPRelay/data/database/mgo/mongoutil"
	"PPRelay/global/config"
	"PPRelay/service/chat"
	"PPRelay/service/kafka"
	"PPRelay/service/mgo"
	"PPRelay/service/natsx"
	"PPRelay/service/storage"
	"PPRelay/service/storage/pg"
	storageredis "PPRelay/service/storage/redis"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// buildHooks wires the optional collaborators selected in config. The
// returned closer releases them in reverse order and is safe to call once.
func buildHooks(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (chat.Hooks, func(), error) {
	var (
		hooks   chat.Hooks
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (chat.Hooks, func(), error) {
		closeAll()
		return chat.Hooks{}, func() {}, err
	}

	var rdb *redis.Client
	if cfg.Presence.Enabled || cfg.History.Driver == config.DriverRedis {
		c, err := storageredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fail(err)
		}
		rdb = c
		closers = append(closers, func() { _ = c.Close() })
	}
	if cfg.Presence.Enabled {
		hooks.Presence = storage.NewRedisPresence(rdb, cfg.Server.GatewayID, cfg.Presence.TTL)
		log.Info("presence enabled", zap.Duration("ttl", cfg.Presence.TTL))
	}

	switch cfg.History.Driver {
	case config.DriverRedis:
		hooks.History = storage.NewRedisHistory(rdb, cfg.History.MaxLen)
	case config.DriverMongo:
		m := cfg.Mongo
		mgr := mgo.NewManager(&mongoutil.Config{
			Uri:         m.Uri,
			Database:    m.Database,
			Username:    m.Username,
			Password:    m.Password,
			AuthSource:  m.AuthSource,
			MaxPoolSize: m.MaxPoolSize,
			MaxRetry:    m.MaxRetry,
		}, log.Named("mongo"))
		// 后台连接，Mongo 暂不可用时网关照常启动
		mctx, cancel := context.WithCancel(context.Background())
		mgr.StartAsync(mctx)
		closers = append(closers, func() {
			cancel()
			<-mgr.Done()
		})
		hooks.History = mgo.NewHistory(mgr, m.Collection)
	case config.DriverPostgres:
		pool, err := pg.Open(ctx, cfg.Postgres)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, pool.Close)
		h, err := pg.NewHistory(ctx, pool, cfg.Postgres.Table)
		if err != nil {
			return fail(err)
		}
		hooks.History = h
	}
	if cfg.History.Driver != config.DriverNone {
		log.Info("history enabled", zap.String("driver", cfg.History.Driver))
	}

	switch cfg.Publisher.Driver {
	case config.DriverKafka:
		p, err := kafka.NewPublisher(cfg.Kafka, log.Named("kafka"))
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = p.Close() })
		hooks.Publisher = p
	case config.DriverNats:
		nc, err := natsx.Connect(cfg.Nats, log.Named("nats"))
		if err != nil {
			return fail(err)
		}
		p, err := natsx.NewPublisher(nc, cfg.Nats, log.Named("nats"))
		if err != nil {
			nc.Close()
			return fail(err)
		}
		closers = append(closers, func() { _ = p.Close() })
		hooks.Publisher = p
	}
	if cfg.Publisher.Driver != config.DriverNone {
		log.Info("publisher enabled", zap.String("driver", cfg.Publisher.Driver))
	}

	return hooks, closeAll, nil
}
