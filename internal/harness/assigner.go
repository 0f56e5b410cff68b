package harness

import (
	"fmt"
	"log"

	"GoChatLoadTest/internal/config"
	"GoChatLoadTest/internal/protocol"
	"GoChatLoadTest/internal/supervisor"
)

// Assigner 会话分配器，把客户端绑定到逻辑会话
// 两种策略：deterministic在启动时直接绑定，confirmed等待客户端输出中的
// 加入确认行；confirmed策略下客户端在确认之前不会进入可选池
type Assigner interface {
	// Setup 在客户端启动后执行加入流程
	Setup(client *supervisor.Client) error
	// OnJoinConfirmed 在输出中观察到加入确认行时调用
	OnJoinConfirmed(clientID, sessionID int)
}

// NewAssigner 按配置的策略创建会话分配器
func NewAssigner(policy config.JoinPolicy, sessionCount int, registry *Registry) (Assigner, error) {
	switch policy {
	case config.JoinDeterministic:
		return &deterministicAssigner{sessionCount: sessionCount, registry: registry}, nil
	case config.JoinConfirmed:
		return &confirmedAssigner{sessionCount: sessionCount, registry: registry}, nil
	default:
		return nil, fmt.Errorf("unknown join policy %q", policy)
	}
}

// sessionFor 客户端到会话的固定映射
func sessionFor(clientID, sessionCount int) int {
	return (clientID % sessionCount) + 1
}

// deterministicAssigner 发送/join并立即绑定，不等待确认
type deterministicAssigner struct {
	sessionCount int
	registry     *Registry
}

func (a *deterministicAssigner) Setup(client *supervisor.Client) error {
	sessionID := sessionFor(client.ID, a.sessionCount)

	if err := a.registry.Bind(client.ID, sessionID); err != nil {
		return err
	}
	if err := client.SendLine(protocol.FormatJoin(sessionID)); err != nil {
		return fmt.Errorf("send join command: %w", err)
	}
	return nil
}

func (a *deterministicAssigner) OnJoinConfirmed(clientID, sessionID int) {
	// 绑定在Setup时已完成，确认行只作一致性检查
	if bound, ok := a.registry.SessionOf(clientID); ok && bound != sessionID {
		log.Printf("Client %d confirmed session %d but is bound to %d", clientID, sessionID, bound)
	}
}

// confirmedAssigner 发送/join后等待输出确认才绑定
type confirmedAssigner struct {
	sessionCount int
	registry     *Registry
}

func (a *confirmedAssigner) Setup(client *supervisor.Client) error {
	sessionID := sessionFor(client.ID, a.sessionCount)

	if err := client.SendLine(protocol.FormatJoin(sessionID)); err != nil {
		return fmt.Errorf("send join command: %w", err)
	}
	return nil
}

func (a *confirmedAssigner) OnJoinConfirmed(clientID, sessionID int) {
	if err := a.registry.Bind(clientID, sessionID); err != nil {
		log.Printf("Join confirmation for client %d rejected: %v", clientID, err)
		return
	}
	log.Printf("Client %d joined session %d", clientID, sessionID)
}
