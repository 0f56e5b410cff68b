package harness

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"GoChatLoadTest/internal/config"
	"GoChatLoadTest/internal/protocol"
	"GoChatLoadTest/internal/stats"
	"GoChatLoadTest/internal/supervisor"
)

var (
	// ErrNoClientsStarted 没有任何客户端成功启动，运行级致命错误
	ErrNoClientsStarted = errors.New("no clients started successfully")
)

// Runner 压测编排器，负责客户端生命周期、输出读取、
// 流量生成、存活巡检和周期报告
type Runner struct {
	runID    string
	cfg      *config.HarnessConfig
	sup      *supervisor.Supervisor
	engine   *stats.Engine
	registry *Registry
	assigner Assigner
	traffic  *TrafficGenerator
	reporter *Reporter
}

// NewRunner 创建压测编排器，配置无效时返回错误
func NewRunner(cfg *config.Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &cfg.Harness

	engine := stats.New()
	registry := NewRegistry()

	assigner, err := NewAssigner(h.JoinPolicy, h.Sessions, registry)
	if err != nil {
		return nil, err
	}

	sup := supervisor.New(&supervisor.Config{
		Binary:         h.ClientBinary,
		SpawnGrace:     h.SpawnGrace,
		SpawnRetries:   h.SpawnRetries,
		TerminateGrace: h.TerminateGrace,
	})

	return &Runner{
		runID:    uuid.NewString(),
		cfg:      h,
		sup:      sup,
		engine:   engine,
		registry: registry,
		assigner: assigner,
		traffic:  NewTrafficGenerator(engine, registry, h.MinInterval, h.MaxInterval),
		reporter: NewReporter(engine, registry, h.ReportInterval),
	}, nil
}

// RunID 本次运行的唯一标识
func (r *Runner) RunID() string { return r.runID }

// Engine 统计引擎（供统计接口等只读消费者使用）
func (r *Runner) Engine() *stats.Engine { return r.engine }

// Registry 客户端注册表
func (r *Runner) Registry() *Registry { return r.registry }

// SetIntervals 热更新发送间隔
func (r *Runner) SetIntervals(minInterval, maxInterval time.Duration) {
	r.traffic.SetIntervals(minInterval, maxInterval)
}

// Run 执行完整的压测运行，阻塞到上下文取消或所有客户端退出
func (r *Runner) Run(ctx context.Context) error {
	r.printBanner()

	if err := r.spawnClients(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	allDead := make(chan struct{})

	// 统计起点从流量开始计，不含启动和加入流程的耗时
	r.engine.MarkStart()

	go r.traffic.Run(runCtx)
	go r.reporter.Run(runCtx)
	go r.livenessLoop(runCtx, allDead)
	if r.cfg.PendingTTL > 0 {
		go r.evictionLoop(runCtx)
	}

	select {
	case <-ctx.Done():
		printNotice("stop requested, shutting down %d clients", r.registry.AliveCount())
	case <-allDead:
		printError("all clients have exited, ending run")
	}

	cancel()
	r.shutdown()
	r.reporter.Render()
	printNotice("run %s complete", r.runID)
	return nil
}

// spawnClients 启动全部客户端并执行加入流程
// 单个客户端失败只影响自己；全部失败才是致命错误
func (r *Runner) spawnClients(ctx context.Context) error {
	for i := 1; i <= r.cfg.Clients; i++ {
		if ctx.Err() != nil {
			break
		}

		client, err := r.sup.Spawn(i, r.cfg.Host, r.cfg.Port)
		if err != nil {
			printError("client %d failed to start: %v", i, err)
			continue
		}

		r.registry.Add(client)
		go r.readStdout(client)
		go r.readStderr(client)

		if err := r.assigner.Setup(client); err != nil {
			printError("client %d session setup failed: %v", i, err)
		}

		time.Sleep(r.cfg.SpawnStagger)
	}

	if r.registry.Count() == 0 {
		return ErrNoClientsStarted
	}

	printNotice("%d/%d clients started (run %s)", r.registry.Count(), r.cfg.Clients, r.runID)

	if r.cfg.JoinPolicy == config.JoinConfirmed {
		go r.checkJoinTimeouts()
	}
	return nil
}

// readStdout 逐行消费客户端stdout直到流结束
// 识别出的标记行喂给关联逻辑，其余行只作会话日志回显
func (r *Runner) readStdout(client *supervisor.Client) {
	for raw := range client.Stdout() {
		line, err := protocol.ParseLine(raw)
		if err != nil {
			if !errors.Is(err, protocol.ErrNoMarker) {
				log.Printf("Client %d parse failure: %v", client.ID, err)
			}
			r.echoLine(client, raw)
			continue
		}

		switch line.Kind {
		case protocol.LineJoined:
			r.assigner.OnJoinConfirmed(client.ID, line.SessionID)
		case protocol.LineProbe:
			sessionID, bound := r.registry.SessionOf(client.ID)
			if !bound {
				// 未绑定客户端的探测回显无从归属，只回显不计数
				r.echoLine(client, raw)
				continue
			}
			latencyMs, matched := r.engine.RecordReceived(sessionID, line.MessageID)
			if matched {
				printSessionLine(sessionID, "[session %d] client %d received probe %d (%.2fms)",
					sessionID, client.ID, line.MessageID, latencyMs)
			} else {
				printSessionLine(sessionID, "[session %d] client %d received unmatched probe %d",
					sessionID, client.ID, line.MessageID)
			}
		}
		r.echoLine(client, raw)
	}
	log.Printf("Client %d stdout monitor finished", client.ID)
}

// readStderr stderr只作诊断输出，绝不参与消息关联
func (r *Runner) readStderr(client *supervisor.Client) {
	for raw := range client.Stderr() {
		printError("client %d stderr: %s", client.ID, raw)
	}
}

// echoLine 把客户端输出回显到会话日志和控制台
func (r *Runner) echoLine(client *supervisor.Client, raw string) {
	sessionID, bound := r.registry.SessionOf(client.ID)
	if !bound {
		log.Printf("Client %d: %s", client.ID, raw)
		return
	}
	r.registry.AppendMessage(sessionID, raw)
	printSessionLine(sessionID, "[session %d] client %d: %s", sessionID, client.ID, raw)
}

// livenessLoop 周期巡检客户端存活状态
// 死亡客户端自然退出可选池；全部死亡时通知运行结束
func (r *Runner) livenessLoop(ctx context.Context, allDead chan<- struct{}) {
	ticker := time.NewTicker(r.cfg.LivenessInterval)
	defer ticker.Stop()

	reported := make(map[int]bool)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alive := 0
			for _, client := range r.registry.All() {
				if client.IsAlive() {
					alive++
				} else if !reported[client.ID] {
					reported[client.ID] = true
					printError("client %d has exited", client.ID)
				}
			}
			if alive == 0 {
				close(allDead)
				return
			}
		}
	}
}

// evictionLoop 周期淘汰长期未匹配的发送事件，限制内存增长
func (r *Runner) evictionLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PendingTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.engine.EvictPendingBefore(time.Now().Add(-r.cfg.PendingTTL)); n > 0 {
				log.Printf("Evicted %d unmatched probes older than %v", n, r.cfg.PendingTTL)
			}
		}
	}
}

// checkJoinTimeouts confirmed策略下，超时仍未确认加入的客户端只告警
// 不会被强制绑定，也永远不会进入可选池
func (r *Runner) checkJoinTimeouts() {
	time.Sleep(r.cfg.JoinTimeout)
	for _, client := range r.registry.All() {
		if _, bound := r.registry.SessionOf(client.ID); !bound && client.IsAlive() {
			printError("client %d has no join confirmation after %v", client.ID, r.cfg.JoinTimeout)
		}
	}
}

// shutdown 终止所有客户端进程
func (r *Runner) shutdown() {
	for _, client := range r.registry.All() {
		r.sup.Terminate(client)
	}
}

// printBanner 打印运行参数
func (r *Runner) printBanner() {
	printNotice("=== chat client load test ===")
	printNotice("host: %s", r.cfg.Host)
	printNotice("port: %d", r.cfg.Port)
	printNotice("clients: %d", r.cfg.Clients)
	printNotice("sessions: %d", r.cfg.Sessions)
	printNotice("send interval: %v ~ %v", r.cfg.MinInterval, r.cfg.MaxInterval)
	printNotice("join policy: %s", r.cfg.JoinPolicy)
}
