package persister

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pulselink/internal/tracker"
)

// Store 读数落地接口，由 repository 实现
// 两个操作对调度器都是 fire-and-forget：失败记录日志，不重试不上抛
type Store interface {
	EnsureTable(trackerID string) error
	InsertReading(trackerID string, timestampLabel string, heartRate int) error
}

// Scheduler 持久化调度器
// 独立于消息接收按固定周期扫描注册表，把新鲜、非零的读数写入存储。
// 过期判断基于数值变化时间而非消息到达时间：持续重复的同一数值最终停止落库
type Scheduler struct {
	registry       *tracker.Registry
	store          Store
	logger         *zap.Logger
	interval       time.Duration
	staleThreshold time.Duration

	now func() time.Time

	// 以下字段只被 Run 协程访问
	lastDay string          // 上一个 tick 的日期，空表示首个 tick
	ensured map[string]bool // 已确认建表的 tracker
}

// NewScheduler 创建调度器
func NewScheduler(registry *tracker.Registry, store Store, interval, staleThreshold time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		registry:       registry,
		store:          store,
		logger:         logger,
		interval:       interval,
		staleThreshold: staleThreshold,
		now:            time.Now,
		ensured:        make(map[string]bool),
	}
}

// Run 启动定时写入循环，阻塞直到上下文取消
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Persistence scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("stale_threshold", s.staleThreshold),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Persistence scheduler stopped")
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick 执行一次持久化扫描
// 单个 tracker 的写入失败不影响同一 tick 内其他 tracker，也不影响下一个 tick
func (s *Scheduler) tick() {
	now := s.now()
	label := s.timestampLabel(now)

	for _, st := range s.registry.Snapshot() {
		if st.LastHeartRate == 0 {
			// 0 是"尚无读数"哨兵，永不落库
			continue
		}
		if !st.Fresh(now, s.staleThreshold) {
			continue
		}

		if !s.ensured[st.ID] {
			if err := s.store.EnsureTable(st.ID); err != nil {
				s.logger.Error("Failed to ensure reading table",
					zap.String("tracker_id", st.ID),
					zap.Error(err),
				)
				continue
			}
			s.ensured[st.ID] = true
		}

		if err := s.store.InsertReading(st.ID, label, st.LastHeartRate); err != nil {
			s.logger.Error("Failed to insert reading",
				zap.String("tracker_id", st.ID),
				zap.Int("heart_rate", st.LastHeartRate),
				zap.Error(err),
			)
		}
	}
}

// timestampLabel 生成本次 tick 的时间标签
// 进程首个 tick 和日期变更后的首个 tick 带日期，其余只含时分秒
func (s *Scheduler) timestampLabel(now time.Time) string {
	day := now.Format("2006-01-02")
	if day != s.lastDay {
		s.lastDay = day
		return now.Format("2006-01-02 15:04:05")
	}
	return now.Format("15:04:05")
}
