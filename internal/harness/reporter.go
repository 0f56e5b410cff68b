package harness

import (
	"context"
	"fmt"
	"time"

	"GoChatLoadTest/internal/stats"
)

// Reporter 周期性渲染统计快照
// 只读消费者：对引擎和注册表只取快照，绝不修改状态、绝不阻塞写入方
type Reporter struct {
	engine   *stats.Engine
	registry *Registry
	interval time.Duration
}

// NewReporter 创建报告器
func NewReporter(engine *stats.Engine, registry *Registry, interval time.Duration) *Reporter {
	return &Reporter{
		engine:   engine,
		registry: registry,
		interval: interval,
	}
}

// Run 运行报告循环直到上下文取消
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Render()
		}
	}
}

// Render 打印一次基准统计和会话成员统计
func (r *Reporter) Render() {
	snap := r.engine.Snapshot()

	fmt.Println()
	fmt.Println("=== benchmark report ===")
	fmt.Printf("elapsed: %.1fs\n", snap.Elapsed().Seconds())
	fmt.Printf("total sent: %d\n", snap.TotalSent)
	fmt.Printf("total received: %d\n", snap.TotalReceived)
	fmt.Printf("sent throughput: %.1f msg/s\n", snap.SentThroughput())
	fmt.Printf("received throughput: %.1f msg/s\n", snap.ReceivedThroughput())

	fmt.Println("latency:")
	fmt.Printf("  mean:   %.2fms\n", snap.Latency.Mean)
	fmt.Printf("  min:    %.2fms\n", snap.Latency.Min)
	fmt.Printf("  max:    %.2fms\n", snap.Latency.Max)
	fmt.Printf("  median: %.2fms\n", snap.Latency.Median)

	members := r.registry.SessionMembers()
	for _, sessionID := range snap.SessionIDs() {
		ss := snap.Sessions[sessionID]
		printSessionLine(sessionID,
			"session %d: %d clients, sent=%d received=%d matched=%d mean=%.2fms recent=%d",
			sessionID, len(members[sessionID]), ss.Sent, ss.Received, ss.Matched,
			ss.Latency.Mean, len(r.registry.RecentMessages(sessionID)))
	}
	fmt.Println("========================")
	fmt.Println()
}
