package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"pulselink/internal/api"
	"pulselink/internal/config"
	"pulselink/internal/consumer"
	"pulselink/internal/database"
	"pulselink/internal/display"
	"pulselink/internal/persister"
	"pulselink/internal/repository"
	"pulselink/internal/stream"
	"pulselink/internal/tracker"
)

// CollectorService 心率采集服务
// 组装注册表、流客户端、分发器、持久化调度器和控制接口；
// 任何下游故障都降级处理（停止落库、停止刷新显示），不终止进程
type CollectorService struct {
	config *config.Config
	logger *zap.Logger

	db           *sql.DB
	redisClient  *redis.Client
	registry     *tracker.Registry
	streamClient *stream.Client
	scheduler    *persister.Scheduler
	apiServer    *api.Server

	cancel       context.CancelFunc
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewCollectorService 创建采集服务
func NewCollectorService(cfg *config.Config, logger *zap.Logger) (*CollectorService, error) {
	s := &CollectorService{
		config:     cfg,
		logger:     logger,
		registry:   tracker.NewRegistry(),
		shutdownCh: make(chan struct{}),
	}

	// 配置文件中的 tracker 列表预注册
	for _, t := range cfg.Trackers {
		s.registry.Register(t.ID, t.Name)
	}

	// 显示端：配置了 Redis 时写入快照缓存，否则使用空实现
	var displaySink display.Sink = display.NewNopSink()
	if cfg.Redis.Addr != "" {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := s.redisClient.Ping(context.Background()).Err(); err != nil {
			// Redis 不可达时保留 sink：发布失败只记录日志，恢复后自动继续
			logger.Warn("Redis unreachable, display snapshots will fail until it recovers",
				zap.String("addr", cfg.Redis.Addr),
				zap.Error(err),
			)
		}
		displaySink = display.NewRedisSink(s.redisClient, logger)
	}

	// 持久化：仅在启用时连接数据库；连接失败降级为不落库
	if cfg.Collector.PersistenceEnabled {
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			logger.Error("Failed to connect to database, running with persistence disabled",
				zap.Error(err),
			)
		} else {
			s.db = db
			readings := repository.NewReadingRepository(db, logger)
			s.scheduler = persister.NewScheduler(
				s.registry,
				readings,
				msToDuration(cfg.Collector.WriteIntervalMs),
				msToDuration(cfg.Collector.StaleThresholdMs),
				logger,
			)
		}
	}

	dispatcher := consumer.NewDispatcher(s.registry, displaySink, logger)
	s.streamClient = stream.NewClient(cfg.Upstream.WebsocketURL(), s.registry.IDs, dispatcher.HandleFrame, logger)
	s.apiServer = api.NewServer(s, logger)

	return s, nil
}

// Start 启动服务
func (s *CollectorService) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("Starting pulselink collector",
		zap.Int("trackers", len(s.registry.IDs())),
		zap.Bool("persistence_enabled", s.scheduler != nil),
		zap.String("control_addr", s.config.Control.Addr),
	)

	if s.config.Upstream.URL == "" {
		s.logger.Warn("No upstream URL configured, stream client not started")
	} else {
		s.streamClient.Start(ctx)
	}

	if s.scheduler != nil {
		go s.scheduler.Run(ctx)
	}

	s.apiServer.Start(s.config.Control.Addr)

	return nil
}

// Stop 优雅停止：关闭连接并取消所有周期任务
func (s *CollectorService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping pulselink collector")

	if s.cancel != nil {
		s.cancel()
	}

	if err := s.apiServer.Stop(ctx); err != nil {
		s.logger.Error("Error stopping control API", zap.Error(err))
	}

	s.streamClient.Stop()

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Error closing redis connection", zap.Error(err))
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}

	s.logger.Info("Collector stopped")
	return nil
}

// AddTracker 运行时注册 tracker
// 幂等；首次注册时回写配置文件并（已连接时）立即加入频道
func (s *CollectorService) AddTracker(id, name string) error {
	if id == "" {
		return fmt.Errorf("tracker id is required")
	}

	created := s.registry.Register(id, name)
	if !created {
		return nil
	}

	// 回写配置文件，保证重启后列表完整；失败只记录，不回滚注册
	if err := s.config.SaveTrackers(s.trackerConfigs()); err != nil {
		s.logger.Error("Failed to persist tracker list",
			zap.String("tracker_id", id),
			zap.Error(err),
		)
	}

	s.streamClient.JoinTracker(id)

	s.logger.Info("Tracker registered",
		zap.String("tracker_id", id),
		zap.String("name", name),
	)
	return nil
}

// Snapshot 返回注册表快照
func (s *CollectorService) Snapshot() []tracker.State {
	return s.registry.Snapshot()
}

// Shutdown 请求优雅退出（由控制接口触发）
func (s *CollectorService) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
	})
}

// ShutdownRequested 返回退出请求通道，供 main 与信号一起等待
func (s *CollectorService) ShutdownRequested() <-chan struct{} {
	return s.shutdownCh
}

func (s *CollectorService) trackerConfigs() []config.TrackerConfig {
	states := s.registry.Snapshot()
	trackers := make([]config.TrackerConfig, 0, len(states))
	for _, st := range states {
		trackers = append(trackers, config.TrackerConfig{ID: st.ID, Name: st.DisplayName})
	}
	return trackers
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
