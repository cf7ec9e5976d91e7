package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pulselink/internal/tracker"
)

// Result 统一响应信封
type Result[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1
)

func ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Message: "ok", Result: result}
}

func fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Message: message, Result: nil}
}

// Collector 控制接口依赖的服务能力
type Collector interface {
	AddTracker(id, name string) error
	Snapshot() []tracker.State
	Shutdown()
}

// Server 运行时控制接口
// 提供 tracker 注册、快照查询和优雅退出；使用标准库 http.ServeMux
// （避免引入第三方路由依赖）
type Server struct {
	collector  Collector
	logger     *zap.Logger
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer 创建控制接口服务
func NewServer(collector Collector, logger *zap.Logger) *Server {
	s := &Server{
		collector: collector,
		logger:    logger,
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("/api/v1/trackers", s.handleTrackers)
	s.mux.HandleFunc("/api/v1/shutdown", s.handleShutdown)

	return s
}

// ServeHTTP 实现 http.Handler（便于测试）
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start 在指定地址启动监听，不阻塞
func (s *Server) Start(addr string) {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	go func() {
		s.logger.Info("Control API listening", zap.String("addr", addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Control API server error", zap.Error(err))
		}
	}()
}

// Stop 优雅关闭监听
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// AddTrackerRequest 注册 tracker 请求体
type AddTrackerRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleTrackers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, ok(s.collector.Snapshot()))

	case http.MethodPost:
		var req AddTrackerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, fail("invalid request body"))
			return
		}
		if req.ID == "" {
			writeJSON(w, http.StatusBadRequest, fail("tracker id is required"))
			return
		}

		if err := s.collector.AddTracker(req.ID, req.Name); err != nil {
			s.logger.Error("Failed to add tracker",
				zap.String("tracker_id", req.ID),
				zap.Error(err),
			)
			writeJSON(w, http.StatusInternalServerError, fail(err.Error()))
			return
		}

		s.logger.Info("Tracker registered via control API",
			zap.String("tracker_id", req.ID),
			zap.String("name", req.Name),
		)
		writeJSON(w, http.StatusOK, ok(req.ID))

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Shutdown requested via control API")
	writeJSON(w, http.StatusOK, ok("shutting down"))

	// 响应写出后再触发退出，避免客户端收不到确认
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.collector.Shutdown()
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
