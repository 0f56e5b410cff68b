package harness

import (
	"fmt"
	"sync"

	"GoChatLoadTest/internal/supervisor"
)

// recentMessageLimit 每个会话保留的最近输出行数
const recentMessageLimit = 100

// Target 一个可被流量生成器选中的客户端及其会话
type Target struct {
	Client    *supervisor.Client
	SessionID int
}

// member 注册表中的一个客户端条目，sessionID为0表示尚未绑定
type member struct {
	client    *supervisor.Client
	sessionID int
}

// Registry 客户端注册表，持有存活状态和会话绑定关系
// 会话绑定一经确认在整个运行期间只增不改
type Registry struct {
	mu      sync.RWMutex
	members map[int]*member

	msgMu   sync.Mutex
	recent  map[int][]string
}

// NewRegistry 创建客户端注册表
func NewRegistry() *Registry {
	return &Registry{
		members: make(map[int]*member),
		recent:  make(map[int][]string),
	}
}

// Add 登记一个已启动的客户端
func (r *Registry) Add(client *supervisor.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[client.ID] = &member{client: client}
}

// Bind 把客户端绑定到会话
// 重复绑定到同一会话是幂等的；改绑到不同会话被拒绝
func (r *Registry) Bind(clientID, sessionID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[clientID]
	if !ok {
		return fmt.Errorf("client %d is not registered", clientID)
	}
	if m.sessionID != 0 && m.sessionID != sessionID {
		return fmt.Errorf("client %d already bound to session %d, refusing rebind to %d",
			clientID, m.sessionID, sessionID)
	}
	m.sessionID = sessionID
	return nil
}

// SessionOf 返回客户端绑定的会话，未绑定时bound为false
func (r *Registry) SessionOf(clientID int) (sessionID int, bound bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[clientID]
	if !ok || m.sessionID == 0 {
		return 0, false
	}
	return m.sessionID, true
}

// Eligible 返回当前存活且已绑定会话的客户端
func (r *Registry) Eligible() []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var targets []Target
	for _, m := range r.members {
		if m.sessionID != 0 && m.client.IsAlive() {
			targets = append(targets, Target{Client: m.client, SessionID: m.sessionID})
		}
	}
	return targets
}

// All 返回所有已登记的客户端
func (r *Registry) All() []*supervisor.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*supervisor.Client, 0, len(r.members))
	for _, m := range r.members {
		clients = append(clients, m.client)
	}
	return clients
}

// Count 已登记客户端总数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// AliveCount 仍然存活的客户端数量
func (r *Registry) AliveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	alive := 0
	for _, m := range r.members {
		if m.client.IsAlive() {
			alive++
		}
	}
	return alive
}

// SessionMembers 返回每个会话当前绑定的客户端ID
func (r *Registry) SessionMembers() map[int][]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make(map[int][]int)
	for id, m := range r.members {
		if m.sessionID != 0 {
			sessions[m.sessionID] = append(sessions[m.sessionID], id)
		}
	}
	return sessions
}

// AppendMessage 把一行客户端输出追加到会话的最近消息缓冲
// 缓冲有上限，超出后淘汰最旧的行
func (r *Registry) AppendMessage(sessionID int, line string) {
	r.msgMu.Lock()
	defer r.msgMu.Unlock()

	buf := append(r.recent[sessionID], line)
	if len(buf) > recentMessageLimit {
		buf = buf[len(buf)-recentMessageLimit:]
	}
	r.recent[sessionID] = buf
}

// RecentMessages 返回会话最近输出行的副本
func (r *Registry) RecentMessages(sessionID int) []string {
	r.msgMu.Lock()
	defer r.msgMu.Unlock()

	buf := r.recent[sessionID]
	out := make([]string, len(buf))
	copy(out, buf)
	return out
}
