package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrSpawnFailed 客户端进程启动失败（二进制缺失或启动后立即退出）
	ErrSpawnFailed = errors.New("client process spawn failed")
	// ErrClientDead 向已死进程发送数据
	ErrClientDead = errors.New("client process is not alive")
)

// Config 进程监督器配置
type Config struct {
	Binary         string
	SpawnGrace     time.Duration
	SpawnRetries   uint64
	TerminateGrace time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig(binary string) *Config {
	return &Config{
		Binary:         binary,
		SpawnGrace:     100 * time.Millisecond,
		SpawnRetries:   2,
		TerminateGrace: 2 * time.Second,
	}
}

// Client 一个由监督器持有的外部客户端进程
// stdout和stderr是独立的行流，stderr只作诊断输出，不参与消息关联
type Client struct {
	ID int

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout chan string
	stderr chan string

	// 专用于stdin写入同步
	writeMu sync.Mutex

	alive  atomic.Bool
	exitCh chan struct{}
}

// Supervisor 外部客户端进程监督器
type Supervisor struct {
	config *Config
}

// New 创建进程监督器
func New(config *Config) *Supervisor {
	if config == nil {
		panic("config cannot be nil")
	}
	return &Supervisor{config: config}
}

// Spawn 启动一个外部客户端进程，以(host, port)为位置参数
// 启动后会在宽限窗口内检测立即退出；短暂失败按指数退避重试
func (s *Supervisor) Spawn(clientID int, host string, port int) (*Client, error) {
	if _, err := os.Stat(s.config.Binary); err != nil {
		return nil, fmt.Errorf("%w: binary %s: %v", ErrSpawnFailed, s.config.Binary, err)
	}

	var client *Client

	spawnBackoff := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.config.SpawnRetries)
	err := backoff.Retry(func() error {
		c, err := s.spawnOnce(clientID, host, port)
		if err != nil {
			log.Printf("Spawn client %d failed, will retry: %v", clientID, err)
			return err
		}
		client = c
		return nil
	}, spawnBackoff)

	if err != nil {
		return nil, fmt.Errorf("%w: client %d: %v", ErrSpawnFailed, clientID, err)
	}
	return client, nil
}

// spawnOnce 执行单次启动尝试
func (s *Supervisor) spawnOnce(clientID int, host string, port int) (*Client, error) {
	cmd := exec.Command(s.config.Binary, host, strconv.Itoa(port))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	client := &Client{
		ID:     clientID,
		cmd:    cmd,
		stdin:  stdin,
		stdout: make(chan string, 256),
		stderr: make(chan string, 64),
		exitCh: make(chan struct{}),
	}
	client.alive.Store(true)

	go client.scanLines(stdout, client.stdout)
	go client.scanLines(stderr, client.stderr)
	go client.waitExit()

	// 宽限窗口内立即退出视为启动失败
	select {
	case <-client.exitCh:
		// 被丢弃的进程没有消费者，排空通道避免扫描协程卡死
		client.discardOutput()
		return nil, fmt.Errorf("process exited within %v of launch", s.config.SpawnGrace)
	case <-time.After(s.config.SpawnGrace):
	}

	return client, nil
}

// Terminate 请求进程优雅退出，超过宽限时间后强制杀死
// 任何退出路径（包括异常路径）都会释放进程资源
func (s *Supervisor) Terminate(c *Client) {
	if c == nil || c.cmd.Process == nil {
		return
	}

	c.writeMu.Lock()
	c.stdin.Close()
	c.writeMu.Unlock()

	if !c.alive.Load() {
		return
	}

	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.Printf("Signal client %d failed: %v", c.ID, err)
	}

	select {
	case <-c.exitCh:
	case <-time.After(s.config.TerminateGrace):
		log.Printf("Client %d did not exit within %v, killing", c.ID, s.config.TerminateGrace)
		c.cmd.Process.Kill()
		<-c.exitCh
	}
}

// SendLine 向进程stdin写入一行（自动追加换行符）
// 写入失败（管道破裂等）会把进程标记为死亡，后续发送直接拒绝
func (c *Client) SendLine(text string) error {
	if !c.alive.Load() {
		return fmt.Errorf("%w: client %d", ErrClientDead, c.ID)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := io.WriteString(c.stdin, text+"\n"); err != nil {
		c.alive.Store(false)
		return fmt.Errorf("write to client %d: %w", c.ID, err)
	}
	return nil
}

// ReadLine 非阻塞读取一行stdout输出
// 没有可读数据或流已结束时ok为false
func (c *Client) ReadLine() (line string, ok bool) {
	select {
	case line, ok = <-c.stdout:
		return line, ok
	default:
		return "", false
	}
}

// Stdout 进程stdout的行通道，进程退出且流排空后关闭
func (c *Client) Stdout() <-chan string {
	return c.stdout
}

// Stderr 进程stderr的行通道，仅用于诊断输出
func (c *Client) Stderr() <-chan string {
	return c.stderr
}

// IsAlive 进程是否仍在运行，退出后恰好一次地变为false
func (c *Client) IsAlive() bool {
	return c.alive.Load()
}

// Done 进程退出通知通道
func (c *Client) Done() <-chan struct{} {
	return c.exitCh
}

// scanLines 把一个输出流按行送入通道，读到EOF后关闭通道和管道读端
// 管道读端由本协程负责关闭：进程退出不会截断还未读完的缓冲数据
func (c *Client) scanLines(r io.ReadCloser, out chan<- string) {
	defer close(out)
	defer r.Close()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		log.Printf("Client %d stream read error: %v", c.ID, err)
	}
}

// waitExit 等待进程退出并更新存活标志
// 这里用Process.Wait而不是Cmd.Wait：Cmd.Wait会关闭stdout/stderr管道，
// 与扫描协程竞争时会丢弃进程退出前写入的末尾输出
func (c *Client) waitExit() {
	state, err := c.cmd.Process.Wait()
	c.alive.Store(false)

	// 进程已死，释放stdin写端，让在途写入尽快失败
	c.writeMu.Lock()
	c.stdin.Close()
	c.writeMu.Unlock()

	close(c.exitCh)
	if err != nil {
		log.Printf("Client %d wait error: %v", c.ID, err)
	} else if !state.Success() {
		log.Printf("Client %d exited: %v", c.ID, state)
	}
}

// discardOutput 排空被丢弃进程的输出通道
// 启动失败的尝试不会有消费者，不排空会让扫描协程永久阻塞在通道写入上
func (c *Client) discardOutput() {
	go func() {
		for range c.stdout {
		}
	}()
	go func() {
		for range c.stderr {
		}
	}()
}
