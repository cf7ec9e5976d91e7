package consumer

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"pulselink/internal/display"
	"pulselink/internal/models"
	"pulselink/internal/tracker"
)

// Dispatcher 入站事件分发器
// 解码 Phoenix 信封，只处理 hr_update 事件：更新注册表并推送快照给显示端
type Dispatcher struct {
	registry *tracker.Registry
	display  display.Sink
	logger   *zap.Logger
	now      func() time.Time
}

// NewDispatcher 创建分发器
func NewDispatcher(registry *tracker.Registry, sink display.Sink, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		display:  sink,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleFrame 处理一条入站文本帧
// 解码失败的帧记录后丢弃，不影响连接状态
func (d *Dispatcher) HandleFrame(data []byte) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		d.logger.Error("Failed to decode inbound frame",
			zap.Int("payload_size", len(data)),
			zap.Error(err),
		)
		return
	}

	// 只处理心率更新事件，其余事件（join 回执、协议心跳回执等）静默忽略
	if env.Event != models.EventHRUpdate {
		d.logger.Debug("Ignoring event",
			zap.String("event", env.Event),
			zap.String("topic", env.Topic),
		)
		return
	}

	trackerID := models.TrackerIDFromTopic(env.Topic)
	if trackerID == "" {
		d.logger.Warn("hr_update with malformed topic",
			zap.String("topic", env.Topic),
		)
		return
	}

	var payload models.HeartRatePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		d.logger.Error("Failed to decode hr_update payload",
			zap.String("tracker_id", trackerID),
			zap.Error(err),
		)
		return
	}

	if !d.registry.ApplyReading(trackerID, payload.HR, d.now()) {
		// 未注册的 tracker 静默忽略，不是错误
		d.logger.Debug("Reading for unregistered tracker",
			zap.String("tracker_id", trackerID),
		)
		return
	}

	// 应用成功后推送完整快照；显示端失败不影响数据链路
	if err := d.display.PublishSnapshot(context.Background(), d.registry.Snapshot()); err != nil {
		d.logger.Warn("Failed to publish snapshot to display sink", zap.Error(err))
	}
}
