package rpc

import (
	"net"
	"sync"

	"PPRelay/tools/errs"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer 对外暴露 grpc.health.v1，供负载均衡/编排系统探活。
// 空 service 名代表整个进程，service 参数代表网关本身。
type HealthServer struct {
	service string
	srv     *grpc.Server
	hs      *health.Server
	log     *zap.Logger

	stopOnce sync.Once
}

func NewHealthServer(service string, log *zap.Logger) *HealthServer {
	if log == nil {
		log = zap.NewNop()
	}
	hs := health.NewServer()
	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)

	h := &HealthServer{service: service, srv: srv, hs: hs, log: log}
	h.SetServing(true)
	return h
}

func (h *HealthServer) SetServing(ok bool) {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if ok {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.hs.SetServingStatus("", st)
	h.hs.SetServingStatus(h.service, st)
}

// Serve blocks until Stop. A stop-triggered return is not an error.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.log.Info("grpc health listening", zap.String("addr", lis.Addr().String()))
	if err := h.srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return errs.WrapMsg(err, "grpc health serve")
	}
	return nil
}

func (h *HealthServer) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errs.WrapMsg(err, "grpc health listen", "addr", addr)
	}
	return h.Serve(lis)
}

// Stop 先置为 NOT_SERVING，再优雅停止
func (h *HealthServer) Stop() {
	h.stopOnce.Do(func() {
		h.hs.Shutdown()
		h.srv.GracefulStop()
	})
}
