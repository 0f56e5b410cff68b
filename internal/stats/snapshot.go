package stats

import (
	"sort"
	"time"
)

// LatencyAggregate 延迟聚合指标（毫秒）
type LatencyAggregate struct {
	Mean   float64 `json:"mean_ms"`
	Min    float64 `json:"min_ms"`
	Max    float64 `json:"max_ms"`
	Median float64 `json:"median_ms"`
}

// SessionSnapshot 单个会话的统计数据
type SessionSnapshot struct {
	SessionID int              `json:"session_id"`
	Sent      int              `json:"sent"`
	Received  int              `json:"received"`
	Matched   int              `json:"matched"`
	Latency   LatencyAggregate `json:"latency"`
}

// Snapshot 统计引擎的不可变时点快照
type Snapshot struct {
	TakenAt       time.Time               `json:"taken_at"`
	StartTime     time.Time               `json:"start_time"`
	TotalSent     int                     `json:"total_sent"`
	TotalReceived int                     `json:"total_received"`
	PendingProbes int                     `json:"pending_probes"`
	Latency       LatencyAggregate        `json:"latency"`
	Sessions      map[int]SessionSnapshot `json:"sessions"`
}

// Elapsed 返回从引擎创建到快照时刻的墙钟时间
func (s *Snapshot) Elapsed() time.Duration {
	return s.TakenAt.Sub(s.StartTime)
}

// SentThroughput 每秒发送消息数
func (s *Snapshot) SentThroughput() float64 {
	elapsed := s.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.TotalSent) / elapsed
}

// ReceivedThroughput 每秒接收消息数
func (s *Snapshot) ReceivedThroughput() float64 {
	elapsed := s.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.TotalReceived) / elapsed
}

// SessionIDs 返回排序后的会话ID列表，用于稳定输出
func (s *Snapshot) SessionIDs() []int {
	ids := make([]int, 0, len(s.Sessions))
	for id := range s.Sessions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
