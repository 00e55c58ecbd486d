package mgo

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	mgo "PPRelay/data/database/mgo/mongoutil"
	"PPRelay/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const (
	baseBackoff = 200 * time.Millisecond
	maxBackoff  = 5 * time.Second
	healthEvery = 10 * time.Second // 健康检查周期
	failThresh  = 3                // 连续失败阈值
)

// MongoManager 后台保持 Mongo 连接：首次连上时 close readyCh，掉线后自动重连。
// 启动时 Mongo 不可用不阻塞网关，写入在就绪前直接报错。
type MongoManager struct {
	cfg *mgo.Config
	log *zap.Logger

	mu        sync.RWMutex
	client    *mgo.Client
	readyCh   chan struct{} // 只会被 close 一次
	readyOnce sync.Once
	doneCh    chan struct{}

	lastErr atomic.Value // error
}

func NewManager(cfg *mgo.Config, log *zap.Logger) *MongoManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &MongoManager{cfg: cfg, log: log, readyCh: make(chan struct{}), doneCh: make(chan struct{})}
}

// StartAsync 一直运行到 ctx.Done()
func (m *MongoManager) StartAsync(ctx context.Context) {
	go func() {
		defer close(m.doneCh)
		for {
			if !m.connect(ctx) {
				return
			}
			if !m.watch(ctx) {
				return
			}
		}
	}()
}

// connect 带退避重试，ctx 结束时返回 false
func (m *MongoManager) connect(ctx context.Context) bool {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		cli, err := mgo.NewMongoDB(ctx, m.cfg)
		if err == nil {
			m.mu.Lock()
			m.client = cli
			m.mu.Unlock()
			m.readyOnce.Do(func() { close(m.readyCh) })
			m.log.Info("mongo connected", zap.String("database", m.cfg.Database))
			return true
		}
		m.lastErr.Store(err)
		m.log.Warn("mongo connect failed", zap.Int("attempt", attempt), zap.Error(err))

		timer := time.NewTimer(backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		if attempt < 6 {
			attempt++
		}
	}
}

// watch 周期 ping，连续失败 failThresh 次后断开并返回 true 以触发重连
func (m *MongoManager) watch(ctx context.Context) bool {
	t := time.NewTicker(healthEvery)
	defer t.Stop()
	fail := 0
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return false
		case <-t.C:
			c := m.current()
			if c == nil {
				return true
			}
			if err := c.GetDB().Client().Ping(ctx, nil); err != nil {
				fail++
				m.lastErr.Store(err)
				if fail >= failThresh {
					m.log.Warn("mongo unhealthy, reconnecting", zap.Error(err))
					m.drop()
					return true
				}
				continue
			}
			fail = 0
		}
	}
}

func (m *MongoManager) drop() {
	m.mu.Lock()
	c := m.client
	m.client = nil
	m.mu.Unlock()
	if c != nil {
		_ = c.Disconnect(context.Background())
	}
}

func (m *MongoManager) current() *mgo.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// backoff 指数退避 + 0~20% 抖动
func backoff(attempt int) time.Duration {
	d := baseBackoff << attempt
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d / 5)))
	return d - jitter/2
}

// Ready is closed after the first successful connect.
func (m *MongoManager) Ready() <-chan struct{} { return m.readyCh }

// Done is closed once StartAsync's loop has exited and disconnected.
func (m *MongoManager) Done() <-chan struct{} { return m.doneCh }

// Err 最近一次错误
func (m *MongoManager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (m *MongoManager) TryGetDB() (*mongo.Database, bool) {
	c := m.current()
	if c == nil {
		return nil, false
	}
	return c.GetDB(), true
}

func (m *MongoManager) WaitReady(ctx context.Context) error {
	if m.current() != nil {
		return nil
	}
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return errs.WrapMsg(ctx.Err(), "wait mongo ready", "lastErr", m.Err())
	}
}
