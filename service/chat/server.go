package chat

import (
	"context"
	"net/http"
	"sync"
	"time"

	"PPRelay/global"
	"PPRelay/middleware"
	"PPRelay/module/message"
	"PPRelay/tools/ids"
	"PPRelay/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Options struct {
	GatewayID         string
	SweepInterval     time.Duration // 存活巡检周期，默认 30s
	WriteWait         time.Duration
	AuthTimeout       time.Duration // 握手鉴权上限
	SendQueue         int
	MaxMessageSize    int64
	MaxPerUser        int
	AnnounceDeparture bool // 断开/被踢时向其所在房间广播 leave_room
	AllowedOrigins    []string
	HookWorkers       int
	HookQueue         int
	HookTimeout       time.Duration
}

func (o *Options) norm() {
	if o.GatewayID == "" {
		o.GatewayID = "relay-gw-1"
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = 3 * time.Second
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if len(o.AllowedOrigins) == 0 {
		o.AllowedOrigins = []string{"*"}
	}
}

// Server is the connection gateway: it owns the registry, router, fanout,
// liveness monitor and hook runner for one process.
type Server struct {
	opts     Options
	verifier TokenVerifier
	hooks    Hooks

	reg      *Registry
	fan      *Fanout
	router   *Router
	monitor  *LivenessMonitor
	runner   *HookRunner
	upgrader websocket.Upgrader
	newID    func() string
	log      *zap.Logger

	mu       sync.Mutex
	shutting bool
	active   sync.WaitGroup // 在途的 HandleWS
}

type ServerStats struct {
	Stats
	GatewayID        string `json:"gatewayId"`
	DeliveryFailures int64  `json:"deliveryFailures"`
}

func NewServer(opts Options, verifier TokenVerifier, hooks Hooks, log *zap.Logger) *Server {
	safe.MustNotNil(verifier, "verifier")
	opts.norm()
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		opts:     opts,
		verifier: verifier,
		hooks:    hooks,
		reg:      NewRegistry(opts.MaxPerUser),
		newID:    ids.GenerateString,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     middleware.AllowOrigin(opts.AllowedOrigins),
		},
	}
	s.fan = NewFanout(s.reg, log.Named("fanout"))
	s.router = NewRouter(s.reg, s.fan, log.Named("router"))
	s.router.emit = s.emitRecord
	s.runner = NewHookRunner(opts.HookWorkers, opts.HookQueue, opts.HookTimeout, log.Named("hooks"))
	s.monitor = NewLivenessMonitor(s.reg, MonitorConf{
		Interval: opts.SweepInterval,
		OnEvict:  s.onEvict,
	}, log.Named("liveness"))
	return s
}

// readWait 读超时：两轮巡检未回 pong 时读端自行退出
func (s *Server) readWait() time.Duration {
	return 2*s.opts.SweepInterval + s.opts.WriteWait
}

// Start launches the liveness monitor.
func (s *Server) Start() { s.monitor.Start() }

func (s *Server) Registry() *Registry { return s.reg }

func (s *Server) Monitor() *LivenessMonitor { return s.monitor }

func (s *Server) Stats() ServerStats {
	return ServerStats{Stats: s.reg.Stats(), GatewayID: s.opts.GatewayID, DeliveryFailures: s.fan.Failures()}
}

// Shutdown stops the monitor, closes every connection with 1001 and waits for
// handlers to unwind before draining the hook queue.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutting {
		s.mu.Unlock()
		return nil
	}
	s.shutting = true
	s.mu.Unlock()

	s.monitor.Stop()
	for _, c := range s.reg.Snapshot() {
		c.Close(websocket.CloseGoingAway, "server shutdown")
	}

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		s.log.Warn("shutdown timed out waiting for connections", zap.Int("remaining", s.reg.Stats().Connections))
	}
	s.runner.Close()
	return err
}

// enter registers an in-flight handler unless shutdown has begun.
func (s *Server) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutting {
		return false
	}
	s.active.Add(1)
	return true
}

func (s *Server) isShutting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutting
}

func (s *Server) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, global.Success(gin.H{"status": "ok", "gatewayId": s.opts.GatewayID}))
}

func (s *Server) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, global.Success(s.Stats()))
}

func (s *Server) onEvict(ev Eviction) {
	s.announceDeparture(ev.Conn, ev.Rooms)
	s.presence(presenceOffline, ev.Conn)
}

func (s *Server) announceDeparture(c *Connection, rooms []string) {
	if !s.opts.AnnounceDeparture {
		return
	}
	for _, room := range rooms {
		env := NewEnvelope(EventLeaveRoom, c.UserID, room, nil)
		s.fan.Broadcast(room, env)
		s.emitRecord(c, env)
	}
}

// emitRecord hands a dispatched envelope to the history and publisher hooks.
// Keyed by room so a room's records reach the sinks in routing order.
func (s *Server) emitRecord(c *Connection, env *Envelope) {
	if s.hooks.History == nil && s.hooks.Publisher == nil {
		return
	}
	rec := message.NewRecord(s.opts.GatewayID, c.ID, env.RoomID, env.Event, env.From, env.Message)
	if h := s.hooks.History; h != nil && env.Event == EventNewMessage {
		s.runner.Submit(rec.RoomID, "history.append", func(ctx context.Context) error { return h.Append(ctx, rec) })
	}
	if p := s.hooks.Publisher; p != nil {
		s.runner.Submit(rec.RoomID, "publisher.publish", func(ctx context.Context) error { return p.Publish(ctx, rec) })
	}
}

const (
	presenceOnline  = "online"
	presenceRefresh = "refresh"
	presenceOffline = "offline"
)

func (s *Server) presence(op string, c *Connection) {
	p := s.hooks.Presence
	if p == nil {
		return
	}
	uid, cid := c.UserID, c.ID
	s.runner.Submit(cid, "presence."+op, func(ctx context.Context) error {
		switch op {
		case presenceOnline:
			return p.Online(ctx, uid, cid)
		case presenceRefresh:
			return p.Refresh(ctx, uid, cid)
		default:
			return p.Offline(ctx, uid, cid)
		}
	})
}
