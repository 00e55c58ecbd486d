package natsx

import (
	"strings"
	"time"

	"PPRelay/global/config"
	"PPRelay/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Connect 连接 NATS，无限重连，断线/重连写日志
func Connect(c config.NatsConfig, log *zap.Logger) (*nats.Conn, error) {
	if len(c.Servers) == 0 {
		return nil, errs.New("nats servers missing")
	}
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(strings.Join(c.Servers, ","), options(c, log)...)
	if err != nil {
		return nil, errs.WrapMsg(err, "nats connect", "servers", c.Servers)
	}
	return nc, nil
}

func options(c config.NatsConfig, log *zap.Logger) []nats.Option {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(c.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if c.User != "" {
		opts = append(opts, nats.UserInfo(c.User, c.Password))
	}
	return opts
}
