package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/CourierSync/config"
	"github.com/BearBump/CourierSync/internal/app"
)

type courierAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   courierAPIOpts
	infra  *app.Infra
	svc    *app.Services
}

func mustBootstrapCourierAPI() *courierAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.CourierSync.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	infra, err := app.Build(ctx, cfg, app.DefaultFactories())
	if err != nil {
		cancel()
		panic(err)
	}

	return &courierAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: courierAPIOpts{
			httpAddr:    httpAddr,
			swaggerPath: os.Getenv("swaggerPath"),
			jobTimeout:  time.Duration(cfg.CourierSync.JobTimeoutSeconds) * time.Second,
		},
		infra: infra,
		svc:   app.NewServices(cfg, infra),
	}
}

func (a *courierAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.infra != nil {
		a.infra.Close()
	}
}

func (a *courierAPIApp) Run() error {
	return runCourierAPI(a.ctx, a.opts, a.svc.API())
}
