package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// JoinPolicy 会话绑定策略
type JoinPolicy string

const (
	// JoinDeterministic 按 (clientID mod sessionCount)+1 在启动时直接绑定
	JoinDeterministic JoinPolicy = "deterministic"
	// JoinConfirmed 发送/join后等待输出中的加入确认行才算绑定
	JoinConfirmed JoinPolicy = "confirmed"
)

// HarnessConfig 压测配置
type HarnessConfig struct {
	ClientBinary string        `mapstructure:"client_binary"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Clients      int           `mapstructure:"clients"`
	Sessions     int           `mapstructure:"sessions"`
	MinInterval  time.Duration `mapstructure:"min_interval"`
	MaxInterval  time.Duration `mapstructure:"max_interval"`

	JoinPolicy  JoinPolicy    `mapstructure:"join_policy"`
	JoinTimeout time.Duration `mapstructure:"join_timeout"`

	SpawnGrace     time.Duration `mapstructure:"spawn_grace"`
	SpawnRetries   uint64        `mapstructure:"spawn_retries"`
	SpawnStagger   time.Duration `mapstructure:"spawn_stagger"`
	TerminateGrace time.Duration `mapstructure:"terminate_grace"`

	LivenessInterval time.Duration `mapstructure:"liveness_interval"`
	ReportInterval   time.Duration `mapstructure:"report_interval"`
	PendingTTL       time.Duration `mapstructure:"pending_ttl"`
}

// APIConfig 统计HTTP接口配置
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Config 顶层配置
type Config struct {
	Harness HarnessConfig `mapstructure:"harness"`
	API     APIConfig     `mapstructure:"api"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Harness: HarnessConfig{
			ClientBinary:     "./client",
			Host:             "127.0.0.1",
			Port:             8080,
			Clients:          4,
			Sessions:         1,
			MinInterval:      1 * time.Second,
			MaxInterval:      3 * time.Second,
			JoinPolicy:       JoinDeterministic,
			JoinTimeout:      5 * time.Second,
			SpawnGrace:       100 * time.Millisecond,
			SpawnRetries:     2,
			SpawnStagger:     100 * time.Millisecond,
			TerminateGrace:   2 * time.Second,
			LivenessInterval: 1 * time.Second,
			ReportInterval:   5 * time.Second,
			PendingTTL:       0, // 0表示不启用未匹配消息的超时淘汰
		},
		API: APIConfig{
			Enabled: false,
			Addr:    ":18090",
		},
	}
}

// Load 从配置文件和环境变量加载配置
// path为空时只使用默认值和CHATLOADTEST_*环境变量覆盖
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHATLOADTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Watch 监控配置文件变化并回调最新配置
// 只有可热调的字段（发送间隔、报告周期）值得在运行中更新
func Watch(path string, onChange func(*Config)) error {
	if path == "" {
		return nil
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		config := &Config{}
		if err := v.Unmarshal(config); err != nil {
			log.Printf("Config reload failed: %v", err)
			return
		}
		if err := config.Validate(); err != nil {
			log.Printf("Config reload rejected: %v", err)
			return
		}
		onChange(config)
	})

	return nil
}

// setDefaults 把默认配置写入viper实例
func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("harness.client_binary", defaults.Harness.ClientBinary)
	v.SetDefault("harness.host", defaults.Harness.Host)
	v.SetDefault("harness.port", defaults.Harness.Port)
	v.SetDefault("harness.clients", defaults.Harness.Clients)
	v.SetDefault("harness.sessions", defaults.Harness.Sessions)
	v.SetDefault("harness.min_interval", defaults.Harness.MinInterval)
	v.SetDefault("harness.max_interval", defaults.Harness.MaxInterval)
	v.SetDefault("harness.join_policy", string(defaults.Harness.JoinPolicy))
	v.SetDefault("harness.join_timeout", defaults.Harness.JoinTimeout)
	v.SetDefault("harness.spawn_grace", defaults.Harness.SpawnGrace)
	v.SetDefault("harness.spawn_retries", defaults.Harness.SpawnRetries)
	v.SetDefault("harness.spawn_stagger", defaults.Harness.SpawnStagger)
	v.SetDefault("harness.terminate_grace", defaults.Harness.TerminateGrace)
	v.SetDefault("harness.liveness_interval", defaults.Harness.LivenessInterval)
	v.SetDefault("harness.report_interval", defaults.Harness.ReportInterval)
	v.SetDefault("harness.pending_ttl", defaults.Harness.PendingTTL)
	v.SetDefault("api.enabled", defaults.API.Enabled)
	v.SetDefault("api.addr", defaults.API.Addr)
}

// Validate 校验配置，任何进程启动之前必须通过
func (c *Config) Validate() error {
	h := &c.Harness

	if h.ClientBinary == "" {
		return fmt.Errorf("harness.client_binary must not be empty")
	}
	if h.Clients < 1 {
		return fmt.Errorf("harness.clients must be >= 1, got %d", h.Clients)
	}
	if h.Sessions < 1 {
		return fmt.Errorf("harness.sessions must be >= 1, got %d", h.Sessions)
	}
	if h.MinInterval <= 0 {
		return fmt.Errorf("harness.min_interval must be positive, got %v", h.MinInterval)
	}
	if h.MinInterval > h.MaxInterval {
		return fmt.Errorf("harness.min_interval %v exceeds harness.max_interval %v",
			h.MinInterval, h.MaxInterval)
	}
	if h.JoinPolicy != JoinDeterministic && h.JoinPolicy != JoinConfirmed {
		return fmt.Errorf("harness.join_policy must be %q or %q, got %q",
			JoinDeterministic, JoinConfirmed, h.JoinPolicy)
	}
	if h.LivenessInterval <= 0 {
		return fmt.Errorf("harness.liveness_interval must be positive, got %v", h.LivenessInterval)
	}
	if h.ReportInterval <= 0 {
		return fmt.Errorf("harness.report_interval must be positive, got %v", h.ReportInterval)
	}
	if c.API.Enabled && c.API.Addr == "" {
		return fmt.Errorf("api.addr must not be empty when api.enabled is true")
	}

	return nil
}
