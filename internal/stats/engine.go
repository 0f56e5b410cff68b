package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Engine 消息统计引擎，负责消息ID分配、收发事件关联和延迟统计
// 所有方法并发安全；消息ID分配器独立于互斥锁，保证锁粒度调整后依然正确
type Engine struct {
	// 全局消息ID分配器（原子递增，从1开始）
	msgCounter atomic.Uint64

	mu        sync.Mutex
	startTime time.Time
	sentCount map[int]int
	recvCount map[int]int
	// 待匹配的已发送探测消息，匹配成功后立即移除
	pending   map[pendingKey]time.Time
	latencies map[int][]float64
}

// pendingKey 以(会话ID, 消息ID)为键做精确匹配
type pendingKey struct {
	SessionID int
	MessageID uint64
}

// New 创建统计引擎
func New() *Engine {
	return &Engine{
		startTime: time.Now(),
		sentCount: make(map[int]int),
		recvCount: make(map[int]int),
		pending:   make(map[pendingKey]time.Time),
		latencies: make(map[int][]float64),
	}
}

// MarkStart 把统计起点重置为当前时刻
// 在所有客户端就绪、流量真正开始时调用，吞吐量分母不包含启动耗时
func (e *Engine) MarkStart() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startTime = time.Now()
}

// NextMessageID 分配下一个全局唯一、严格递增的消息ID
func (e *Engine) NextMessageID() uint64 {
	return e.msgCounter.Add(1)
}

// RecordSent 记录一条已发送的探测消息
// 调用方负责保证只在发送成功后调用；重复调用会重复计数
func (e *Engine) RecordSent(sessionID int, messageID uint64, sentAt time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sentCount[sessionID]++
	e.pending[pendingKey{SessionID: sessionID, MessageID: messageID}] = sentAt
}

// RecordReceived 记录一条接收到的探测消息，并尝试与发送事件匹配
// 匹配成功返回延迟（毫秒）；找不到对应的发送事件不算错误，
// 只计入接收数，不产生延迟样本
func (e *Engine) RecordReceived(sessionID int, messageID uint64) (latencyMs float64, matched bool) {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.recvCount[sessionID]++

	key := pendingKey{SessionID: sessionID, MessageID: messageID}
	sentAt, ok := e.pending[key]
	if !ok {
		return 0, false
	}

	delete(e.pending, key)

	latencyMs = float64(now.Sub(sentAt)) / float64(time.Millisecond)
	if latencyMs < 0 {
		latencyMs = 0
	}
	e.latencies[sessionID] = append(e.latencies[sessionID], latencyMs)

	return latencyMs, true
}

// EvictPendingBefore 移除在cutoff之前发送且始终未匹配的探测消息，
// 用于限制长时间运行下的内存增长，返回移除数量
func (e *Engine) EvictPendingBefore(cutoff time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	evicted := 0
	for key, sentAt := range e.pending {
		if sentAt.Before(cutoff) {
			delete(e.pending, key)
			evicted++
		}
	}
	return evicted
}

// Snapshot 返回某一时刻内部一致的统计快照
func (e *Engine) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := &Snapshot{
		TakenAt:       time.Now(),
		StartTime:     e.startTime,
		PendingProbes: len(e.pending),
		Sessions:      make(map[int]SessionSnapshot),
	}

	var allLatencies []float64
	for sessionID := range e.sentCount {
		snap.Sessions[sessionID] = SessionSnapshot{SessionID: sessionID}
	}
	for sessionID := range e.recvCount {
		if _, ok := snap.Sessions[sessionID]; !ok {
			snap.Sessions[sessionID] = SessionSnapshot{SessionID: sessionID}
		}
	}

	for sessionID, ss := range snap.Sessions {
		ss.Sent = e.sentCount[sessionID]
		ss.Received = e.recvCount[sessionID]
		ss.Matched = len(e.latencies[sessionID])
		ss.Latency = aggregate(e.latencies[sessionID])
		snap.Sessions[sessionID] = ss

		snap.TotalSent += ss.Sent
		snap.TotalReceived += ss.Received
		allLatencies = append(allLatencies, e.latencies[sessionID]...)
	}

	snap.Latency = aggregate(allLatencies)
	return snap
}

// aggregate 计算延迟聚合指标，空样本集返回全零
func aggregate(samples []float64) LatencyAggregate {
	if len(samples) == 0 {
		return LatencyAggregate{}
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	n := len(sorted)
	agg := LatencyAggregate{
		Mean: sum / float64(n),
		Min:  sorted[0],
		Max:  sorted[n-1],
	}

	if n%2 == 1 {
		agg.Median = sorted[n/2]
	} else {
		agg.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return agg
}
