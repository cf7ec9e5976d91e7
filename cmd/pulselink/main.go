package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"pulselink/internal/config"
	"pulselink/internal/logger"
	"pulselink/internal/service"
)

func main() {
	// 加载配置（缺失或损坏的配置文件回退默认值，不会失败）
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "pulselink")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting pulselink collector",
		zap.String("version", "1.0.0"),
		zap.Bool("persistence_enabled", cfg.Collector.PersistenceEnabled),
		zap.Int("write_interval_ms", cfg.Collector.WriteIntervalMs),
		zap.Int("stale_threshold_ms", cfg.Collector.StaleThresholdMs),
		zap.Int("trackers", len(cfg.Trackers)),
	)

	// 创建服务
	collectorService, err := service.NewCollectorService(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create collector service", zap.Error(err))
	}

	// 启动服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := collectorService.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start collector service", zap.Error(err))
	}

	// 等待中断信号或控制接口的退出请求
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case <-collectorService.ShutdownRequested():
		zapLogger.Info("Shutdown requested, shutting down")
	}

	// 优雅关闭
	cancel()
	if err := collectorService.Stop(context.Background()); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
