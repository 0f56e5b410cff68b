package httpserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"GoChatLoadTest/internal/harness"
)

// APIServer 统计HTTP接口，暴露运行中的实时快照
// 对统计引擎是只读消费者
type APIServer struct {
	router *mux.Router
	server *http.Server
	runner *harness.Runner
}

// APIResponse 统一响应结构
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// ClientInfo 客户端状态摘要
type ClientInfo struct {
	ClientID  int  `json:"client_id"`
	SessionID int  `json:"session_id,omitempty"`
	Bound     bool `json:"bound"`
	Alive     bool `json:"alive"`
}

// NewAPIServer 创建统计接口服务器
func NewAPIServer(addr string, runner *harness.Runner) *APIServer {
	s := &APIServer{
		router: mux.NewRouter(),
		runner: runner,
	}

	s.setupRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	s.server = &http.Server{
		Addr:         addr,
		Handler:      c.Handler(s.router),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes 设置路由
func (s *APIServer) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/clients", s.handleClients).Methods("GET")
	api.HandleFunc("/sessions/{id}/recent", s.handleRecentMessages).Methods("GET")

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
}

// Start 启动HTTP服务
func (s *APIServer) Start() {
	go func() {
		log.Printf("Stats API listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Stats API server error: %v", err)
		}
	}()
}

// Shutdown 优雅关闭HTTP服务
func (s *APIServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleStats 返回当前统计快照
func (s *APIServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	snap := s.runner.Engine().Snapshot()
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"run_id":   s.runner.RunID(),
			"snapshot": snap,
		},
		Timestamp: time.Now().UnixMilli(),
	})
}

// handleClients 返回客户端状态列表
func (s *APIServer) handleClients(w http.ResponseWriter, _ *http.Request) {
	registry := s.runner.Registry()

	var clients []ClientInfo
	for _, client := range registry.All() {
		sessionID, bound := registry.SessionOf(client.ID)
		clients = append(clients, ClientInfo{
			ClientID:  client.ID,
			SessionID: sessionID,
			Bound:     bound,
			Alive:     client.IsAlive(),
		})
	}

	s.writeJSON(w, http.StatusOK, APIResponse{
		Success:   true,
		Data:      clients,
		Timestamp: time.Now().UnixMilli(),
	})
}

// handleRecentMessages 返回会话的最近输出行
func (s *APIServer) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	sessionID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, APIResponse{
			Success:   false,
			Message:   "invalid session id",
			Timestamp: time.Now().UnixMilli(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, APIResponse{
		Success:   true,
		Data:      s.runner.Registry().RecentMessages(sessionID),
		Timestamp: time.Now().UnixMilli(),
	})
}

// handleHealth 健康检查
func (s *APIServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON 序列化JSON响应
func (s *APIServer) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Write JSON response failed: %v", err)
	}
}

// loggingMiddleware 请求日志中间件
func (s *APIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}
