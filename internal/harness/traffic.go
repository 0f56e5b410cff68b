package harness

import (
	"context"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"GoChatLoadTest/internal/protocol"
	"GoChatLoadTest/internal/stats"
)

// TrafficGenerator 流量生成器
// 每个周期从可选池中均匀随机挑选一个客户端发送探测消息，
// 只有发送成功才记录发送事件
type TrafficGenerator struct {
	engine   *stats.Engine
	registry *Registry
	rng      *rand.Rand

	// 发送间隔可被配置热更新，用原子值避免与发送循环竞争
	minInterval atomic.Int64
	maxInterval atomic.Int64
}

// NewTrafficGenerator 创建流量生成器
func NewTrafficGenerator(engine *stats.Engine, registry *Registry, minInterval, maxInterval time.Duration) *TrafficGenerator {
	g := &TrafficGenerator{
		engine:   engine,
		registry: registry,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	g.SetIntervals(minInterval, maxInterval)
	return g
}

// SetIntervals 更新发送间隔范围
func (g *TrafficGenerator) SetIntervals(minInterval, maxInterval time.Duration) {
	g.minInterval.Store(int64(minInterval))
	g.maxInterval.Store(int64(maxInterval))
}

// Run 运行发送循环直到上下文取消
func (g *TrafficGenerator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		g.tick()

		timer := time.NewTimer(g.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tick 执行一次发送尝试；可选池为空时直接跳过本周期
func (g *TrafficGenerator) tick() {
	eligible := g.registry.Eligible()
	if len(eligible) == 0 {
		return
	}

	target := eligible[g.rng.Intn(len(eligible))]

	messageID := g.engine.NextMessageID()
	probe := protocol.FormatProbe(messageID)

	if err := target.Client.SendLine(probe); err != nil {
		// 发送失败不产生发送事件，客户端已被标记死亡
		log.Printf("Send probe %d to client %d (session %d) failed: %v",
			messageID, target.Client.ID, target.SessionID, err)
		return
	}

	g.engine.RecordSent(target.SessionID, messageID, time.Now())
	printSessionLine(target.SessionID, "[session %d] client %d sent: %s",
		target.SessionID, target.Client.ID, probe)
}

// nextDelay 在[min, max]内均匀随机取一个发送间隔
func (g *TrafficGenerator) nextDelay() time.Duration {
	minD := g.minInterval.Load()
	maxD := g.maxInterval.Load()
	if maxD <= minD {
		return time.Duration(minD)
	}
	return time.Duration(minD + g.rng.Int63n(maxD-minD+1))
}
