package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMessageIDUniqueAndGapless 并发分配的消息ID恰好覆盖{1..K}，无重复无空洞
func TestMessageIDUniqueAndGapless(t *testing.T) {
	engine := New()

	const (
		goroutines = 50
		perWorker  = 200
	)

	var wg sync.WaitGroup
	results := make(chan uint64, goroutines*perWorker)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				results <- engine.NextMessageID()
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[uint64]bool)
	for id := range results {
		require.False(t, seen[id], "duplicate message id %d", id)
		seen[id] = true
	}

	require.Len(t, seen, goroutines*perWorker)
	for id := uint64(1); id <= goroutines*perWorker; id++ {
		assert.True(t, seen[id], "missing message id %d", id)
	}
}

// TestSentThenReceivedProducesLatency 发送后接收产生恰好一个非负延迟样本
func TestSentThenReceivedProducesLatency(t *testing.T) {
	engine := New()

	id := engine.NextMessageID()
	engine.RecordSent(3, id, time.Now().Add(-20*time.Millisecond))

	latency, matched := engine.RecordReceived(3, id)
	require.True(t, matched)
	assert.GreaterOrEqual(t, latency, 0.0)
	assert.InDelta(t, 20.0, latency, 15.0)

	snap := engine.Snapshot()
	assert.Equal(t, 1, snap.TotalSent)
	assert.Equal(t, 1, snap.TotalReceived)
	assert.Equal(t, 1, snap.Sessions[3].Matched)
}

// TestUnmatchedReceiveCountsWithoutLatency 无匹配发送事件的接收只计数不产生样本
func TestUnmatchedReceiveCountsWithoutLatency(t *testing.T) {
	engine := New()

	_, matched := engine.RecordReceived(1, 999)
	require.False(t, matched)

	snap := engine.Snapshot()
	assert.Equal(t, 0, snap.TotalSent)
	assert.Equal(t, 1, snap.TotalReceived)
	assert.Equal(t, 0, snap.Sessions[1].Matched)
	assert.Equal(t, LatencyAggregate{}, snap.Sessions[1].Latency)
}

// TestReceiveMatchesAtMostOnce 同一消息ID的第二次接收不再匹配
func TestReceiveMatchesAtMostOnce(t *testing.T) {
	engine := New()

	id := engine.NextMessageID()
	engine.RecordSent(1, id, time.Now())

	_, matched := engine.RecordReceived(1, id)
	require.True(t, matched)

	_, matched = engine.RecordReceived(1, id)
	assert.False(t, matched, "a sent event must match at most one receive")

	snap := engine.Snapshot()
	assert.Equal(t, 2, snap.TotalReceived)
	assert.Equal(t, 1, snap.Sessions[1].Matched)
}

// TestSessionIsolation 匹配按(会话, 消息ID)精确进行，不跨会话
func TestSessionIsolation(t *testing.T) {
	engine := New()

	id := engine.NextMessageID()
	engine.RecordSent(1, id, time.Now())

	_, matched := engine.RecordReceived(2, id)
	assert.False(t, matched, "receive in a different session must not match")
}

// TestAggregateOrdering 非空样本集满足 min <= median <= max 和 min <= mean <= max
func TestAggregateOrdering(t *testing.T) {
	engine := New()

	latencies := []time.Duration{5, 50, 120, 8, 300, 42, 1}
	for _, d := range latencies {
		id := engine.NextMessageID()
		engine.RecordSent(1, id, time.Now().Add(-d*time.Millisecond))
		_, matched := engine.RecordReceived(1, id)
		require.True(t, matched)
	}

	agg := engine.Snapshot().Latency
	assert.LessOrEqual(t, agg.Min, agg.Median)
	assert.LessOrEqual(t, agg.Median, agg.Max)
	assert.LessOrEqual(t, agg.Min, agg.Mean)
	assert.LessOrEqual(t, agg.Mean, agg.Max)
}

// TestEmptySnapshotIsZero 空样本集返回全零聚合而不是失败
func TestEmptySnapshotIsZero(t *testing.T) {
	snap := New().Snapshot()

	assert.Equal(t, 0, snap.TotalSent)
	assert.Equal(t, 0, snap.TotalReceived)
	assert.Equal(t, LatencyAggregate{}, snap.Latency)
	assert.Empty(t, snap.Sessions)
}

// TestConcurrentWritersNoLostUpdates 50个并发写入方的1000次调用一次不丢
func TestConcurrentWritersNoLostUpdates(t *testing.T) {
	engine := New()

	const (
		writers   = 50
		sentCalls = 500
		recvCalls = 500
		sessions  = 5
	)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			sessionID := (w % sessions) + 1
			for i := 0; i < sentCalls/writers; i++ {
				id := engine.NextMessageID()
				engine.RecordSent(sessionID, id, time.Now())
			}
			for i := 0; i < recvCalls/writers; i++ {
				engine.RecordReceived(sessionID, uint64(1_000_000+w*1000+i))
			}
		}(w)
	}
	wg.Wait()

	snap := engine.Snapshot()
	assert.Equal(t, sentCalls, snap.TotalSent)
	assert.Equal(t, recvCalls, snap.TotalReceived)
	assert.Len(t, snap.Sessions, sessions)
}

// TestEvictPendingBefore 超时未匹配的发送事件可被淘汰，之后的接收不再匹配
func TestEvictPendingBefore(t *testing.T) {
	engine := New()

	staleID := engine.NextMessageID()
	engine.RecordSent(1, staleID, time.Now().Add(-time.Hour))
	freshID := engine.NextMessageID()
	engine.RecordSent(1, freshID, time.Now())

	evicted := engine.EvictPendingBefore(time.Now().Add(-time.Minute))
	assert.Equal(t, 1, evicted)

	_, matched := engine.RecordReceived(1, staleID)
	assert.False(t, matched)
	_, matched = engine.RecordReceived(1, freshID)
	assert.True(t, matched)
}

// TestMedianEvenSampleCount 偶数个样本时中位数取中间两个的平均
func TestMedianEvenSampleCount(t *testing.T) {
	agg := aggregate([]float64{1, 2, 3, 4})
	assert.Equal(t, 2.5, agg.Median)
	assert.Equal(t, 2.5, agg.Mean)
	assert.Equal(t, 1.0, agg.Min)
	assert.Equal(t, 4.0, agg.Max)
}

// TestThroughput 吞吐量按快照墙钟时间计算
func TestThroughput(t *testing.T) {
	engine := New()
	engine.RecordSent(1, engine.NextMessageID(), time.Now())

	time.Sleep(20 * time.Millisecond)

	snap := engine.Snapshot()
	assert.Greater(t, snap.SentThroughput(), 0.0)
	assert.Equal(t, 0.0, snap.ReceivedThroughput())
}

// TestMarkStartResetsElapsed 统计起点以MarkStart为准，不含创建到开跑之间的耗时
func TestMarkStartResetsElapsed(t *testing.T) {
	engine := New()

	time.Sleep(100 * time.Millisecond)
	engine.MarkStart()

	snap := engine.Snapshot()
	assert.Less(t, snap.Elapsed(), 50*time.Millisecond)
	assert.False(t, snap.StartTime.Before(snap.TakenAt.Add(-50*time.Millisecond)))
}
