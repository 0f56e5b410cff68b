package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"GoChatLoadTest/internal/config"
	"GoChatLoadTest/internal/harness"
	"GoChatLoadTest/internal/httpserver"
	"GoChatLoadTest/internal/logger"
)

func main() {
	var (
		configPath  = flag.String("config", "", "配置文件路径（yaml）")
		binary      = flag.String("binary", "", "外部聊天客户端二进制路径")
		clients     = flag.Int("n", 0, "客户端数量")
		host        = flag.String("H", "", "服务器主机")
		port        = flag.Int("p", 0, "服务器端口")
		sessions    = flag.Int("s", 0, "会话数量")
		minInterval = flag.Duration("min-interval", 0, "最小消息发送间隔")
		maxInterval = flag.Duration("max-interval", 0, "最大消息发送间隔")
		policy      = flag.String("policy", "", "会话绑定策略: deterministic 或 confirmed")
		apiAddr     = flag.String("api", "", "统计HTTP接口监听地址（默认不开启）")
	)
	flag.Parse()

	logger.Init()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	applyFlagOverrides(cfg, *binary, *clients, *host, *port, *sessions, *minInterval, *maxInterval, *policy, *apiAddr)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("配置无效: %v", err)
	}

	runner, err := harness.NewRunner(cfg)
	if err != nil {
		log.Fatalf("创建压测编排器失败: %v", err)
	}

	// 配置热更新只调整可安全热调的发送间隔
	if *configPath != "" {
		err := config.Watch(*configPath, func(updated *config.Config) {
			runner.SetIntervals(updated.Harness.MinInterval, updated.Harness.MaxInterval)
			log.Printf("Send interval updated: %v ~ %v",
				updated.Harness.MinInterval, updated.Harness.MaxInterval)
		})
		if err != nil {
			log.Printf("配置监控不可用: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ctrl+C / SIGTERM 触发优雅关闭
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n🔄 正在停止压测...")
		cancel()
	}()

	var api *httpserver.APIServer
	if cfg.API.Enabled {
		api = httpserver.NewAPIServer(cfg.API.Addr, runner)
		api.Start()
	}

	err = runner.Run(ctx)

	if api != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := api.Shutdown(shutdownCtx); err != nil {
			log.Printf("统计接口关闭错误: %v", err)
		}
	}

	if err != nil {
		if errors.Is(err, harness.ErrNoClientsStarted) {
			log.Fatalf("致命错误: %v", err)
		}
		log.Fatalf("压测运行失败: %v", err)
	}

	fmt.Println("✅ 压测完成!")
}

// applyFlagOverrides 命令行参数覆盖配置文件
func applyFlagOverrides(cfg *config.Config, binary string, clients int, host string, port, sessions int,
	minInterval, maxInterval time.Duration, policy, apiAddr string) {
	if binary != "" {
		cfg.Harness.ClientBinary = binary
	}
	if clients > 0 {
		cfg.Harness.Clients = clients
	}
	if host != "" {
		cfg.Harness.Host = host
	}
	if port > 0 {
		cfg.Harness.Port = port
	}
	if sessions > 0 {
		cfg.Harness.Sessions = sessions
	}
	if minInterval > 0 {
		cfg.Harness.MinInterval = minInterval
	}
	if maxInterval > 0 {
		cfg.Harness.MaxInterval = maxInterval
	}
	if policy != "" {
		cfg.Harness.JoinPolicy = config.JoinPolicy(policy)
	}
	if apiAddr != "" {
		cfg.API.Enabled = true
		cfg.API.Addr = apiAddr
	}
}
