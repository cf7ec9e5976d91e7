package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pulselink/internal/models"
)

// ConnState 连接状态机
// Disconnected -> Connecting -> Connected -> Disconnected（关闭或失败）
// ReconnectPending 表示已安排一次重连，期间不再安排第二次
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnectPending
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnectPending:
		return "reconnect_pending"
	default:
		return "unknown"
	}
}

// 固定周期：协议层心跳 30 秒，重连延迟 10 秒（不可按调用配置）
const (
	defaultKeepaliveInterval = 30 * time.Second
	defaultReconnectDelay    = 10 * time.Second
)

var errNotConnected = errors.New("not connected")

// MessageHandler 入站文本帧处理函数
type MessageHandler func(data []byte)

// Client 到上游心率推送服务的单一订阅连接
// 连接断开后自动重连（单飞保证），重连成功时补发全部已注册频道的加入请求
type Client struct {
	url        string
	trackerIDs func() []string // 连接建立时需要加入的频道来源
	handler    MessageHandler
	logger     *zap.Logger

	dialer            *websocket.Dialer
	keepaliveInterval time.Duration
	reconnectDelay    time.Duration

	mu             sync.Mutex
	state          ConnState
	conn           *websocket.Conn
	sessionID      string
	keepaliveStop  chan struct{}
	reconnectTimer *time.Timer

	// gorilla/websocket 只允许单个并发写入者
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient 创建流客户端
// trackerIDs 在每次连接建立时调用，返回需要加入的 tracker ID 列表
func NewClient(url string, trackerIDs func() []string, handler MessageHandler, logger *zap.Logger) *Client {
	return &Client{
		url:               url,
		trackerIDs:        trackerIDs,
		handler:           handler,
		logger:            logger,
		dialer:            websocket.DefaultDialer,
		keepaliveInterval: defaultKeepaliveInterval,
		reconnectDelay:    defaultReconnectDelay,
		state:             StateDisconnected,
	}
}

// Start 发起首次连接，不阻塞
func (c *Client) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	go c.connect()
}

// Stop 关闭连接并取消所有定时器（重连、心跳）
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.state == StateReconnectPending {
		c.state = StateDisconnected
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.teardownConn(conn)
	}

	c.logger.Info("Stream client stopped")
}

// State 返回当前连接状态
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// JoinTracker 为指定 tracker 发送频道加入请求
// 仅在已连接时发送；断线期间注册的 tracker 会在重连时统一补发
func (c *Client) JoinTracker(trackerID string) {
	c.mu.Lock()
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		return
	}

	if err := c.send(models.JoinEnvelope(trackerID)); err != nil {
		c.logger.Error("Failed to send join request",
			zap.String("tracker_id", trackerID),
			zap.Error(err),
		)
	}
}

// connect 建立连接，失败时安排重连
func (c *Client) connect() {
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.logger.Info("Connecting to upstream")

	conn, _, err := c.dialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		c.logger.Error("Failed to connect to upstream", zap.Error(err))
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.scheduleReconnect()
		return
	}

	sessionID := uuid.NewString()
	stop := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.sessionID = sessionID
	c.keepaliveStop = stop
	c.mu.Unlock()

	c.logger.Info("Connected to upstream",
		zap.String("session_id", sessionID),
	)

	// 补发所有已注册频道的加入请求（覆盖断线期间的注册）
	for _, id := range c.trackerIDs() {
		if err := c.send(models.JoinEnvelope(id)); err != nil {
			c.logger.Error("Failed to send join request",
				zap.String("tracker_id", id),
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}

	go c.keepaliveLoop(stop)
	go c.readLoop(conn, sessionID)
}

// readLoop 读取入站帧直到连接断开
func (c *Client) readLoop(conn *websocket.Conn, sessionID string) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.onConnectionLost(conn, err)
			return
		}

		if msgType != websocket.TextMessage {
			// 协议错误：上游只应发送文本帧，记录但不断开连接
			c.logger.Error("Received non-text frame from upstream",
				zap.Int("message_type", msgType),
				zap.String("session_id", sessionID),
			)
			continue
		}

		c.handler(data)
	}
}

// keepaliveLoop 固定周期发送协议层心跳，连接失效时立即停止
func (c *Client) keepaliveLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(models.HeartbeatEnvelope()); err != nil {
				c.logger.Warn("Failed to send keepalive", zap.Error(err))
			}
		}
	}
}

// teardownConn 关闭指定连接并停止其心跳
// 返回 false 表示该连接已被其他路径清理过（Stop 与读取错误可能并发）
func (c *Client) teardownConn(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn || c.conn == nil {
		return false
	}

	c.conn = nil
	c.state = StateDisconnected
	if c.keepaliveStop != nil {
		close(c.keepaliveStop)
		c.keepaliveStop = nil
	}
	conn.Close()
	return true
}

// onConnectionLost 读取错误时的清理与重连入口
func (c *Client) onConnectionLost(conn *websocket.Conn, err error) {
	if c.teardownConn(conn) {
		c.logger.Warn("Upstream connection lost", zap.Error(err))
	}
	c.scheduleReconnect()
}

// scheduleReconnect 安排一次延迟重连
// 单飞保证：已有重连计划（或并发的失败/关闭事件已安排）时不再安排第二个定时器
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx.Err() != nil {
		return
	}
	if c.state == StateReconnectPending {
		return
	}
	c.state = StateReconnectPending

	c.logger.Info("Scheduling reconnect", zap.Duration("delay", c.reconnectDelay))

	c.reconnectTimer = time.AfterFunc(c.reconnectDelay, func() {
		if c.ctx.Err() != nil {
			return
		}
		c.connect()
	})
}

// send 序列化并写出一条消息（单写入者保证）
func (c *Client) send(env models.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return errNotConnected
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}
