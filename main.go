package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PPRoom/global"
	"PPRoom/global/config"
	"PPRoom/logger"
	mid "PPRoom/middleware"
	"PPRoom/service/auth"
	"PPRoom/service/chat"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const shutdownGrace = 15 * time.Second

func main() {
	var (
		cfgPath string
		addr    string
	)
	pflag.StringVarP(&cfgPath, "config", "c", "", "path to the YAML config file")
	pflag.StringVar(&addr, "addr", "", "listen address, overrides http.addr")
	pflag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.HTTP.Addr = addr
	}

	global.ConfigLogger(cfg)
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("[Main] exit", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.AppConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global.ConfigIds(cfg)
	global.ConfigMiddleware(cfg)

	store, closeStore, err := global.ConfigStore(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "store")
	}
	defer closeStore()

	index, closeIndex, err := global.ConfigPresenceIndex(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "presence index")
	}
	defer closeIndex()

	sinks, closeSinks, err := global.ConfigSinks(cfg)
	if err != nil {
		return errors.Wrap(err, "event sinks")
	}
	defer closeSinks()

	srv := chat.NewServer(chat.Options{
		NodeID:   global.NodeName(cfg),
		Auth:     auth.NewJWTGateway(global.JwtOptions(cfg), store),
		Access:   store,
		Messages: store,
		Presence: store,
		Index:    index,
		Sinks:    sinks,
		Session: chat.SessionConf{
			SendQueue:         cfg.Session.SendQueue,
			ReadLimit:         cfg.Session.ReadLimit,
			PingInterval:      cfg.Session.PingInterval,
			PongWait:          cfg.Session.PongWait,
			WriteWait:         cfg.Session.WriteWait,
			MaxDecodeFailures: cfg.Session.MaxDecodeFailures,
		},
		StorageTimeout: cfg.Store.Timeout,
		IdleTimeout:    cfg.Session.IdleTimeout,
		SweepEvery:     cfg.Session.SweepEvery,
	})

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(mid.Recovery(), mid.AccessLog(), mid.Manager().Use())
	srv.Routes(r, chat.NewUpgrader(cfg.HTTP.AllowedOrigins))

	hs := &http.Server{Addr: cfg.HTTP.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[HTTP] listening on %s as %s", cfg.HTTP.Addr, global.NodeName(cfg))
		errCh <- hs.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("[Main] signal received, shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	// stop accepting first; upgraded sockets are not tracked by http.Server
	if err := hs.Shutdown(sctx); err != nil {
		logger.Warnf("[HTTP] shutdown: %v", err)
	}
	return srv.Shutdown(sctx)
}
