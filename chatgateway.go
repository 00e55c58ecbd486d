package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"PPRelay/global/config"
	"PPRelay/logger"
	mid "PPRelay/middleware"
	"PPRelay/service/chat"
	"PPRelay/service/rpc"
	"PPRelay/tools/errs"
	"PPRelay/tools/ids"
	"PPRelay/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfgFile := flag.String("config", "", "yaml config file (default: ./pprelay.yaml if present)")
	tokenFor := flag.String("tokengen", "", "print a signed token for this user id and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	// 本地联调用：按当前配置签发一个令牌
	if *tokenFor != "" {
		tok, exp, err := security.Generate(jwtOptions(cfg.Auth), *tokenFor, nil)
		if err != nil {
			logger.Log.Fatal("generate token", zap.Error(err))
		}
		fmt.Println(tok)
		fmt.Fprintln(os.Stderr, "expires at", exp.Format("2006-01-02T15:04:05Z07:00"))
		return
	}

	if err := run(cfg); err != nil {
		logger.Log.Fatal("gateway exited", zap.Error(err))
	}
}

func jwtOptions(a config.AuthConfig) security.Options {
	return security.Options{Secret: []byte(a.Secret), Alg: a.Alg, TTL: a.TTL, Leeway: a.Leeway}
}

func gatewayOptions(cfg *config.AppConfig) chat.Options {
	g := cfg.Gateway
	return chat.Options{
		GatewayID:         cfg.Server.GatewayID,
		SweepInterval:     g.SweepInterval,
		WriteWait:         g.WriteWait,
		AuthTimeout:       cfg.Auth.Timeout,
		SendQueue:         g.SendQueue,
		MaxMessageSize:    g.MaxMessageSize,
		MaxPerUser:        g.MaxPerUser,
		AnnounceDeparture: g.AnnounceDeparture,
		AllowedOrigins:    g.AllowedOrigins,
		HookWorkers:       g.HookWorkers,
		HookQueue:         g.HookQueue,
		HookTimeout:       g.HookTimeout,
	}
}

func newEngine(cfg *config.AppConfig, srv *chat.Server, log *zap.Logger) *gin.Engine {
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	chain := mid.NewManager()
	chain.Add(mid.AccessLog(log.Named("http")))
	r := gin.New()
	r.Use(gin.Recovery(), chain.Use())

	// 握手阶段不在 HTTP 层拒绝：先升级，再用 4001 关闭
	mid.GET(r, cfg.Gateway.Path, srv.HandleWS, mid.RouteOpt{IsAuth: true})
	r.GET("/healthz", srv.HandleHealth)
	r.GET("/stats", srv.HandleStats)
	return r
}

func run(cfg *config.AppConfig) error {
	log := logger.Log
	ids.SetNodeID(cfg.Server.NodeID)

	verifier, err := security.NewJWTVerifier(jwtOptions(cfg.Auth))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hooks, closeHooks, err := buildHooks(ctx, cfg, log.Named("hooks"))
	if err != nil {
		return err
	}
	defer closeHooks()

	srv := chat.NewServer(gatewayOptions(cfg), verifier, hooks, log.Named("gateway"))
	srv.Start()

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newEngine(cfg, srv, log),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	var health *rpc.HealthServer
	if cfg.Server.GrpcAddr != "" {
		health = rpc.NewHealthServer("pprelay.gateway", log.Named("grpc"))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.Server.Addr), zap.String("ws", cfg.Gateway.Path),
			zap.String("gatewayId", cfg.Server.GatewayID))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errs.WrapMsg(err, "http serve", "addr", cfg.Server.Addr)
		}
		return nil
	})
	if health != nil {
		g.Go(func() error { return health.ListenAndServe(cfg.Server.GrpcAddr) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		if health != nil {
			health.SetServing(false)
		}
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// WebSocket 连接已被 hijack，http.Server.Shutdown 不会等它们
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn("gateway shutdown", zap.Error(err))
		}
		err := httpSrv.Shutdown(sctx)
		if health != nil {
			health.Stop()
		}
		return err
	})
	return g.Wait()
}
