package chat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"PPRelay/global"
	midsec "PPRelay/middleware/security"
	"PPRelay/tools/errs"
	"PPRelay/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HandleWS runs one connection through
// Connecting -> Authenticating -> Open -> Closing -> Closed.
func (s *Server) HandleWS(c *gin.Context) {
	if !s.enter() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, global.Fail(http.StatusServiceUnavailable, "shutting down"))
		return
	}
	defer s.active.Done()

	token := midsec.Token(c)
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 非 WebSocket 请求/握手失败；Upgrade 已经写了 HTTP 错误
		s.log.Info("upgrade failed", zap.String("remote", c.ClientIP()), zap.Error(err))
		return
	}

	conn := NewConnection(s.newID(), "", ws, s.opts.SendQueue, s.opts.WriteWait)
	log := s.log.With(zap.String("conn", conn.ID), zap.String("remote", conn.Remote))
	defer fatalOnInvariant(log)

	conn.setState(StateAuthenticating)
	ident, err := s.authenticate(token)
	if err != nil {
		log.Info("handshake rejected", zap.Error(err))
		conn.Close(errs.UnauthorizedError, errs.ErrUnauthorized.Msg)
		conn.setState(StateClosed)
		return
	}
	conn.UserID = ident.UserID
	log = log.With(zap.String("user", conn.UserID))

	conn.setState(StateOpen)
	if _, err := s.reg.Register(conn); err != nil {
		log.Warn("register rejected", zap.Error(err))
		conn.Close(websocket.ClosePolicyViolation, errs.ErrTooManyConnections.Msg)
		conn.setState(StateClosed)
		return
	}
	if s.isShutting() {
		// Shutdown 的快照可能漏掉刚注册的连接
		conn.Close(websocket.CloseGoingAway, "server shutdown")
	}

	ws.SetReadLimit(s.opts.MaxMessageSize)
	readWait := s.readWait()
	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(readWait))
		s.reg.MarkAlive(conn.ID)
		s.presence(presenceRefresh, conn)
		return nil
	})
	s.presence(presenceOnline, conn)
	log.Info("connection open")

	go conn.writePump(log)
	s.readLoop(conn, log)
	s.teardown(conn, log)
}

// authenticate calls the verifier exactly once, bounded by AuthTimeout.
func (s *Server) authenticate(token string) (security.Identity, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.AuthTimeout)
	defer cancel()
	id, err := s.verifier.Verify(ctx, token)
	if err != nil {
		if !errors.Is(err, errs.ErrUnauthorized) {
			err = errs.ErrUnauthorized.WrapMsg("verifier", "err", err)
		}
		return security.Identity{}, err
	}
	if id.UserID == "" {
		return security.Identity{}, errs.ErrUnauthorized.WrapMsg("empty identity")
	}
	return id, nil
}

// readLoop 只读不写：每个文本帧交给 Router，出错即退出
func (s *Server) readLoop(conn *Connection, log *zap.Logger) {
	for {
		mt, data, err := conn.ws.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				log.Info("peer closed", zap.Error(err))
			case errors.As(err, &ne) && ne.Timeout():
				log.Info("read timeout", zap.Error(err))
			default:
				select {
				case <-conn.Done():
					log.Debug("read stopped after local close", zap.Error(err))
				default:
					log.Info("read error", zap.Error(err))
				}
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		if rerr := s.router.Route(data, conn); rerr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			log.Debug("frame rejected", zap.Error(rerr), zap.ByteString("sample", sample), zap.Int("len", len(data)))
			if perr := conn.Push(errorFrameFor(rerr)); perr != nil {
				log.Warn("error frame not delivered", zap.Error(perr))
			}
		}
	}
}

func (s *Server) teardown(conn *Connection, log *zap.Logger) {
	conn.Close(websocket.CloseNormalClosure, "")
	// 被巡检踢掉的连接已由 onEvict 处理
	if rooms, ok := s.reg.Deregister(conn.ID); ok {
		s.announceDeparture(conn, rooms)
		s.presence(presenceOffline, conn)
	}
	conn.setState(StateClosed)
	log.Info("connection closed")
}

// fatalOnInvariant turns a registry invariant panic into a process exit
// instead of letting gin's recovery swallow it.
func fatalOnInvariant(log *zap.Logger) {
	r := recover()
	if r == nil {
		return
	}
	if err, ok := r.(error); ok && errors.Is(err, errs.ErrRegistryInvariant) {
		log.Fatal("registry invariant violated", zap.Error(err))
	}
	panic(r)
}
