// stockapi 股票数据解析与指标服务
//
// 三级查询链路：缓存 -> SQLite -> 外部数据源，命中后逐级回写。
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"stockapi/cache"
	"stockapi/config"
	"stockapi/db"
	httpserver "stockapi/http"
	"stockapi/jobs"
	"stockapi/logger"
	"stockapi/market/providers"
	"stockapi/service"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Path:       cfg.Log.Path,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	defer log.Sync()

	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalw("open database", "path", cfg.Database.Path, "error", err)
	}
	defer store.Close()

	c := cache.New(cfg.Cache.Size)
	providerSet := providers.NewSet(cfg.Provider.Offline)
	resolver := service.NewResolver(store, c, providerSet, log)

	// 启动时预热配置的关注列表
	warmUp(resolver, cfg.Symbols, log)

	var scheduler *jobs.Scheduler
	if cfg.Sync.Enabled {
		syncJob := service.NewSyncJob(store, c, providerSet, log)
		scheduler = jobs.NewScheduler("market-sync", cfg.Sync.Interval, func(ctx context.Context) error {
			_, err := syncJob.Run(ctx)
			return err
		}, log)
		if err := scheduler.Start(); err != nil {
			log.Warnw("start sync scheduler", "error", err)
		}
	}

	stopWatch, err := config.Watch(*configPath, log, func(next *config.Config) {
		warmUp(resolver, next.Symbols, log)
	})
	if err != nil {
		log.Warnw("config watch unavailable", "error", err)
	} else {
		defer stopWatch()
	}

	hub := httpserver.NewQuoteHub(resolver, log)
	handler := httpserver.NewHandler(resolver, log)
	server := httpserver.NewServer(httpserver.ServerOptions{
		Port:    cfg.Http.Port,
		Timeout: cfg.Http.Timeout,
	}, handler, hub, log)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Errorw("http server failed", "error", err)
		}
	case sig := <-quit:
		log.Infow("shutting down", "signal", sig.String())
	}

	if scheduler != nil {
		scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Warnw("shutdown incomplete", "error", err)
	}
	log.Infow("bye")
}

// warmUp 预取关注列表，填充缓存与本地库
func warmUp(resolver *service.Resolver, symbols []string, log *zap.SugaredLogger) {
	if len(symbols) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		quotes := resolver.BatchGetInfo(ctx, symbols)
		log.Infow("watchlist warmed", "requested", len(symbols), "resolved", len(quotes))
	}()
}
