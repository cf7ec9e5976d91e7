package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pulselink/internal/models"
)

var upgrader = websocket.Upgrader{}

// newWSServer 启动一个测试用 websocket 服务端，连接交给 handle 处理
func newWSServer(t *testing.T, handle func(conn *websocket.Conn)) (*httptest.Server, string) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handle(conn)
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	return server, wsURL
}

func readEnvelope(t *testing.T, conn *websocket.Conn) models.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)

	var env models.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestClient_JoinsRegisteredTrackersOnConnect(t *testing.T) {
	conns := make(chan *websocket.Conn, 1)
	_, wsURL := newWSServer(t, func(conn *websocket.Conn) {
		conns <- conn
	})

	trackerIDs := func() []string { return []string{"abc", "xyz"} }
	client := NewClient(wsURL, trackerIDs, func([]byte) {}, zap.NewNop())
	client.Start(context.Background())
	defer client.Stop()

	conn := <-conns

	// 连接建立后为每个已注册 tracker 发送一次加入请求
	first := readEnvelope(t, conn)
	assert.Equal(t, models.EventJoin, first.Event)
	assert.Equal(t, "hr:abc", first.Topic)
	assert.Equal(t, 0, first.Ref)
	assert.JSONEq(t, `{}`, string(first.Payload))

	second := readEnvelope(t, conn)
	assert.Equal(t, models.EventJoin, second.Event)
	assert.Equal(t, "hr:xyz", second.Topic)

	require.Eventually(t, func() bool {
		return client.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_DispatchesInboundTextFrames(t *testing.T) {
	conns := make(chan *websocket.Conn, 1)
	_, wsURL := newWSServer(t, func(conn *websocket.Conn) {
		conns <- conn
	})

	received := make(chan []byte, 1)
	client := NewClient(wsURL, func() []string { return nil }, func(data []byte) {
		received <- data
	}, zap.NewNop())
	client.Start(context.Background())
	defer client.Stop()

	conn := <-conns
	frame := `{"event":"hr_update","topic":"hr:abc","payload":{"hr":72},"ref":0}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))

	select {
	case data := <-received:
		assert.JSONEq(t, frame, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dispatched frame")
	}
}

func TestClient_IgnoresNonTextFrames(t *testing.T) {
	conns := make(chan *websocket.Conn, 1)
	_, wsURL := newWSServer(t, func(conn *websocket.Conn) {
		conns <- conn
	})

	received := make(chan []byte, 2)
	client := NewClient(wsURL, func() []string { return nil }, func(data []byte) {
		received <- data
	}, zap.NewNop())
	client.Start(context.Background())
	defer client.Stop()

	conn := <-conns

	// 二进制帧是协议错误：记录但不断开连接，后续文本帧照常处理
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))
	frame := `{"event":"hr_update","topic":"hr:abc","payload":{"hr":65},"ref":0}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))

	select {
	case data := <-received:
		assert.JSONEq(t, frame, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dispatched frame")
	}

	assert.Equal(t, StateConnected, client.State())
}

func TestClient_SingleFlightReconnect(t *testing.T) {
	var dials int32
	_, wsURL := newWSServer(t, func(conn *websocket.Conn) {
		n := atomic.AddInt32(&dials, 1)
		if n == 1 {
			// 首个连接立即被服务端关闭，触发客户端重连
			conn.Close()
			return
		}
		// 后续连接保持打开
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	client := NewClient(wsURL, func() []string { return nil }, func([]byte) {}, zap.NewNop())
	client.reconnectDelay = 100 * time.Millisecond
	client.Start(context.Background())
	defer client.Stop()

	// 等待客户端进入重连等待状态
	require.Eventually(t, func() bool {
		return client.State() == StateReconnectPending
	}, 2*time.Second, 5*time.Millisecond)

	// 重连等待期间又发生一次失败事件：不得安排第二个重连定时器
	client.scheduleReconnect()
	client.scheduleReconnect()

	require.Eventually(t, func() bool {
		return client.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	// 留出时间让多余的重连（如果有）连上来
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&dials))
}

func TestClient_SendsKeepalive(t *testing.T) {
	conns := make(chan *websocket.Conn, 1)
	_, wsURL := newWSServer(t, func(conn *websocket.Conn) {
		conns <- conn
	})

	client := NewClient(wsURL, func() []string { return nil }, func([]byte) {}, zap.NewNop())
	client.keepaliveInterval = 50 * time.Millisecond
	client.Start(context.Background())
	defer client.Stop()

	conn := <-conns

	env := readEnvelope(t, conn)
	assert.Equal(t, models.TopicPhoenix, env.Topic)
	assert.Equal(t, models.EventHeartbeat, env.Event)
	assert.Equal(t, 0, env.Ref)
	assert.JSONEq(t, `{}`, string(env.Payload))
}

func TestClient_StopCancelsReconnect(t *testing.T) {
	var dials int32
	_, wsURL := newWSServer(t, func(conn *websocket.Conn) {
		atomic.AddInt32(&dials, 1)
		conn.Close()
	})

	client := NewClient(wsURL, func() []string { return nil }, func([]byte) {}, zap.NewNop())
	client.reconnectDelay = 50 * time.Millisecond
	client.Start(context.Background())

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&dials) >= 1 && client.State() == StateReconnectPending
	}, 2*time.Second, 5*time.Millisecond)

	client.Stop()
	stopped := atomic.LoadInt32(&dials)

	// 关闭后不得再有重连尝试
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt32(&dials))
	assert.Equal(t, StateDisconnected, client.State())
}

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnect_pending", StateReconnectPending.String())
}
