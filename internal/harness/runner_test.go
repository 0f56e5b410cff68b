package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoChatLoadTest/internal/config"
	"GoChatLoadTest/internal/testutil"
)

// TestRunnerNoClientsStartedIsFatal 一个客户端都没启动是运行级致命错误
func TestRunnerNoClientsStartedIsFatal(t *testing.T) {
	cfg := testutil.FastConfig(t, "/nonexistent/chat-client")
	cfg.Harness.SpawnRetries = 0

	runner, err := NewRunner(cfg)
	require.NoError(t, err)

	err = runner.Run(context.Background())
	require.ErrorIs(t, err, ErrNoClientsStarted)

	// 致命失败前不得产生任何流量
	snap := runner.Engine().Snapshot()
	assert.Equal(t, 0, snap.TotalSent)
	assert.Equal(t, 0, snap.TotalReceived)
}

// TestRunnerInvalidConfigRejected 配置校验在任何进程启动前失败
func TestRunnerInvalidConfigRejected(t *testing.T) {
	cfg := config.Default()
	cfg.Harness.MinInterval = 2 * time.Second
	cfg.Harness.MaxInterval = 1 * time.Second

	_, err := NewRunner(cfg)
	require.Error(t, err)
}

// TestRunnerEndToEndDeterministic 完整运行：探测消息经伪客户端回显并被关联
func TestRunnerEndToEndDeterministic(t *testing.T) {
	testutil.SkipIfNoShell(t)

	cfg := testutil.FastConfig(t, testutil.WriteFakeClient(t))

	runner, err := NewRunner(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	// 让流量跑一小段时间
	time.Sleep(800 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not shut down in time")
	}

	snap := runner.Engine().Snapshot()
	require.Greater(t, snap.TotalSent, 0, "traffic generator should have sent probes")
	assert.Greater(t, snap.TotalReceived, 0, "echoed probes should have been correlated")
	assert.GreaterOrEqual(t, snap.TotalSent, snap.TotalReceived)
	assert.GreaterOrEqual(t, snap.Latency.Max, snap.Latency.Min)
}

// TestRunnerEndToEndConfirmed confirmed策略下加入确认先于任何流量
func TestRunnerEndToEndConfirmed(t *testing.T) {
	testutil.SkipIfNoShell(t)

	cfg := testutil.FastConfig(t, testutil.WriteFakeClient(t))
	cfg.Harness.JoinPolicy = config.JoinConfirmed
	cfg.Harness.JoinTimeout = 2 * time.Second

	runner, err := NewRunner(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	time.Sleep(800 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not shut down in time")
	}

	// 伪客户端会确认加入，因此流量应当产生且全部归属已绑定的会话
	snap := runner.Engine().Snapshot()
	assert.Greater(t, snap.TotalSent, 0)
	for sessionID := range snap.Sessions {
		assert.Positive(t, sessionID)
	}
}

// TestRunnerEndsWhenAllClientsExit 所有客户端退出后运行自行结束
func TestRunnerEndsWhenAllClientsExit(t *testing.T) {
	testutil.SkipIfNoShell(t)

	cfg := testutil.FastConfig(t, testutil.WriteShortLivedClient(t, 400*time.Millisecond))
	cfg.Harness.Clients = 1
	cfg.Harness.Sessions = 1

	runner, err := NewRunner(cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- runner.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not end after all clients exited")
	}
}
