package display

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"pulselink/internal/tracker"
)

// SnapshotKey 注册表快照在 Redis 中的键
const SnapshotKey = "pulselink:trackers:snapshot"

// Sink 显示端快照接收器
// 每次成功应用读数后收到完整注册表快照，消费方只读不写
type Sink interface {
	PublishSnapshot(ctx context.Context, states []tracker.State) error
}

// RedisSink 将快照以 JSON 形式写入 Redis，供展示层轮询读取
type RedisSink struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisSink 创建 Redis 快照接收器
func NewRedisSink(client *redis.Client, logger *zap.Logger) *RedisSink {
	return &RedisSink{
		client: client,
		logger: logger,
	}
}

// PublishSnapshot 写入最新快照，覆盖上一次的值
func (s *RedisSink) PublishSnapshot(ctx context.Context, states []tracker.State) error {
	data, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := s.client.Set(ctx, SnapshotKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot to redis: %w", err)
	}

	return nil
}

// NopSink 未配置显示端时的空实现
type NopSink struct{}

// NewNopSink 创建空接收器
func NewNopSink() *NopSink {
	return &NopSink{}
}

// PublishSnapshot 丢弃快照
func (s *NopSink) PublishSnapshot(ctx context.Context, states []tracker.State) error {
	return nil
}
