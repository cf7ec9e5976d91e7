package models

import "encoding/json"

// Phoenix 协议常量（上游心率推送服务的 wire 格式，不可更改）
const (
	// EventHRUpdate 心率更新事件
	EventHRUpdate = "hr_update"
	// EventJoin 频道加入事件
	EventJoin = "phx_join"
	// EventHeartbeat 协议层心跳事件（与设备心率数据无关）
	EventHeartbeat = "heartbeat"

	// TopicHeartRatePrefix 心率频道前缀，频道格式为 "hr:<tracker_id>"
	TopicHeartRatePrefix = "hr:"
	// TopicPhoenix 协议层心跳频道
	TopicPhoenix = "phoenix"
)

// Envelope Phoenix 消息信封
// 出站（join/heartbeat）和入站（hr_update）共用同一结构
type Envelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     int             `json:"ref"`
}

// HeartRatePayload hr_update 事件的 payload
type HeartRatePayload struct {
	HR int `json:"hr"`
}

// JoinEnvelope 构建频道加入消息
func JoinEnvelope(trackerID string) Envelope {
	return Envelope{
		Topic:   TopicHeartRatePrefix + trackerID,
		Event:   EventJoin,
		Payload: json.RawMessage(`{}`),
		Ref:     0,
	}
}

// HeartbeatEnvelope 构建协议层心跳消息
func HeartbeatEnvelope() Envelope {
	return Envelope{
		Topic:   TopicPhoenix,
		Event:   EventHeartbeat,
		Payload: json.RawMessage(`{}`),
		Ref:     0,
	}
}

// TrackerIDFromTopic 从频道名提取 tracker ID（"hr:abc" -> "abc"）
// 不是心率频道时返回空字符串
func TrackerIDFromTopic(topic string) string {
	if len(topic) <= len(TopicHeartRatePrefix) {
		return ""
	}
	if topic[:len(TopicHeartRatePrefix)] != TopicHeartRatePrefix {
		return ""
	}
	return topic[len(TopicHeartRatePrefix):]
}
