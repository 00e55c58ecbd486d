package chat

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Prober sends one liveness probe to a connection.
type Prober interface {
	Probe(c *Connection) error
}

type pingProber struct{}

func (pingProber) Probe(c *Connection) error { return c.Ping() }

type MonitorConf struct {
	Interval time.Duration // 默认 30s
	Prober   Prober        // nil => websocket ping
	// OnEvict runs after an evicted connection has left the registry and
	// before its socket is dropped.
	OnEvict func(ev Eviction)
}

func (c *MonitorConf) norm() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Prober == nil {
		c.Prober = pingProber{}
	}
}

// LivenessMonitor 周期巡检：上一轮未回 pong 的连接直接踢掉，其余置为待确认并发 ping。
// 一个不回应的对端最迟两个周期内被移除。
type LivenessMonitor struct {
	reg  *Registry
	conf MonitorConf
	log  *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewLivenessMonitor(reg *Registry, conf MonitorConf, log *zap.Logger) *LivenessMonitor {
	conf.norm()
	if log == nil {
		log = zap.NewNop()
	}
	return &LivenessMonitor{
		reg:    reg,
		conf:   conf,
		log:    log,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (m *LivenessMonitor) Start() {
	m.startOnce.Do(func() { go m.sweeper() })
}

// Stop halts the sweeper and waits for an in-flight sweep to finish.
func (m *LivenessMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	started := true
	m.startOnce.Do(func() { started = false })
	if started {
		<-m.doneCh
	}
}

func (m *LivenessMonitor) sweeper() {
	defer close(m.doneCh)
	t := time.NewTicker(m.conf.Interval)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.SweepOnce()
		}
	}
}

// SweepOnce runs a single round and reports how many connections were
// evicted and probed.
func (m *LivenessMonitor) SweepOnce() (evicted, probed int) {
	gone, probe := m.reg.sweep()

	for _, ev := range gone {
		m.log.Info("evict unresponsive connection",
			zap.String("conn", ev.Conn.ID), zap.String("user", ev.Conn.UserID), zap.Strings("rooms", ev.Rooms))
		if m.conf.OnEvict != nil {
			m.conf.OnEvict(ev)
		}
		ev.Conn.Terminate()
	}
	for _, c := range probe {
		if err := m.conf.Prober.Probe(c); err != nil {
			// 发送失败不立即处理，下一轮仍未 pong 即被踢
			m.log.Debug("probe failed", zap.String("conn", c.ID), zap.Error(err))
		}
	}
	if len(gone) > 0 || len(probe) > 0 {
		m.log.Debug("liveness sweep", zap.Int("evicted", len(gone)), zap.Int("probed", len(probe)))
	}
	return len(gone), len(probe)
}
