package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config 描述了旅行代理守护进程启动时需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	TaskQueue TaskQueueConfig `json:"task_queue"`
	Ledger    LedgerConfig    `json:"ledger"`
	LLM       LLMConfig       `json:"llm"`
	Web3      Web3Config      `json:"web3"`
	Payment   PaymentConfig   `json:"payment"`
	IPFS      IPFSConfig      `json:"ipfs"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Tracing   TracingConfig   `json:"tracing"`
	Alerting  AlertingConfig  `json:"alerting"`
	Runtime   RuntimeConfig   `json:"runtime"`

	// Credentials 只来自环境变量，不写入配置文件。
	Credentials Credentials `json:"-"`
}

// ServerConfig 控制 HTTP 服务的监听地址与跨域设置。
type ServerConfig struct {
	Address                string   `json:"address"`
	AllowedOrigins         []string `json:"allowed_origins"`
	ShutdownTimeoutSeconds int      `json:"shutdown_timeout_seconds"`
}

// ShutdownTimeout 返回优雅关闭的等待时间。
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level      string   `json:"level"`
	Format     string   `json:"format"`
	Outputs    []string `json:"outputs"`
	AddSource  bool     `json:"add_source"`
	AuditPath  string   `json:"audit_path"`
	MaxSizeMB  int      `json:"max_size_mb"`
	MaxBackups int      `json:"max_backups"`
	MaxAgeDays int      `json:"max_age_days"`
}

// StorageConfig 描述预订、行程、推荐索引与异步运行的持久化后端。
type StorageConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// TaskQueueConfig 描述异步运行使用的消息队列。
type TaskQueueConfig struct {
	Driver      string         `json:"driver"`
	Workers     int            `json:"workers"`
	MaxAttempts int            `json:"max_attempts"`
	Buffer      int            `json:"buffer"`
	Redis       RedisConfig    `json:"redis"`
	RabbitMQ    RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 是 Redis 连接参数。
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Key              string `json:"key"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 是 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// LedgerConfig 描述消费上限与各类操作的计费。
type LedgerConfig struct {
	Driver string             `json:"driver"`
	Cap    float64            `json:"cap"`
	Costs  map[string]float64 `json:"costs"`
	Redis  RedisConfig        `json:"redis"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回单次推理的超时时间。
func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// Web3Config 描述链配置文件与默认使用的链和代币。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	RPCURL       string `json:"rpc_url"`
}

// PaymentConfig 描述分账比例与余额查询限制。
type PaymentConfig struct {
	AgentShare            float64 `json:"agent_share"`
	ReferrerShare         float64 `json:"referrer_share"`
	SavingsShare          float64 `json:"savings_share"`
	SavingsWallet         string  `json:"savings_wallet"`
	DefaultToken          string  `json:"default_token"`
	BalanceTimeoutSeconds int     `json:"balance_timeout_seconds"`
	TransferTimeoutSecs   int     `json:"transfer_timeout_seconds"`
}

// BalanceTimeout 返回余额查询的硬超时。
func (p PaymentConfig) BalanceTimeout() time.Duration {
	return time.Duration(p.BalanceTimeoutSeconds) * time.Second
}

// TransferTimeout 返回链上转账的超时。
func (p PaymentConfig) TransferTimeout() time.Duration {
	return time.Duration(p.TransferTimeoutSecs) * time.Second
}

// IPFSConfig 描述 Pinata 固定服务与网关地址。
type IPFSConfig struct {
	Endpoint       string `json:"endpoint"`
	Gateway        string `json:"gateway"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回内容存储请求超时。
func (i IPFSConfig) Timeout() time.Duration {
	return time.Duration(i.TimeoutSeconds) * time.Second
}

// KnowledgeConfig 描述静态知识库。
type KnowledgeConfig struct {
	Source     string `json:"source"`
	MaxResults int    `json:"max_results"`
}

// TracingConfig 控制 OpenTelemetry 链路追踪。
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	OTLPEndpoint string `json:"otlp_endpoint"`
	ServiceName  string `json:"service_name"`
}

// AlertingConfig 描述告警通知渠道。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 解析指定路径的 JSON 配置文件，再叠加 .env 与环境变量中的凭证。
func Load(path, envFile string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return finish(&cfg, filepath.Dir(path), envFile)
}

// Default 返回仅由默认值和环境变量组成的配置，用于没有配置文件的场景。
func Default(baseDir, envFile string) (*Config, error) {
	return finish(&Config{}, baseDir, envFile)
}

func finish(cfg *Config, baseDir, envFile string) (*Config, error) {
	if err := ExportEnvFile(envFile); err != nil {
		return nil, err
	}
	creds, err := LoadCredentials()
	if err != nil {
		return nil, err
	}
	cfg.Credentials = creds
	cfg.applyDefaults(baseDir)
	cfg.applyCredentials()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:8501", "http://localhost:3000", "http://localhost:5173"}
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 5
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Workers <= 0 {
		c.TaskQueue.Workers = 2
	}
	if c.TaskQueue.MaxAttempts <= 0 {
		c.TaskQueue.MaxAttempts = 3
	}
	if c.TaskQueue.Buffer <= 0 {
		c.TaskQueue.Buffer = 256
	}
	if c.TaskQueue.Redis.Key == "" {
		c.TaskQueue.Redis.Key = "travelagent:runs"
	}
	if c.TaskQueue.RabbitMQ.Queue == "" {
		c.TaskQueue.RabbitMQ.Queue = "travelagent.runs"
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}
	if c.Ledger.Cap <= 0 {
		c.Ledger.Cap = 100.0
	}
	costs := map[string]float64{"weather": 0.01, "travel": 0.05, "payment": 0.10, "balance": 0.01}
	for k, v := range c.Ledger.Costs {
		costs[k] = v
	}
	c.Ledger.Costs = costs
	if c.Ledger.Redis.Key == "" {
		c.Ledger.Redis.Key = "travelagent:ledger"
	}

	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 60
	}

	if c.Payment.AgentShare <= 0 {
		c.Payment.AgentShare = 0.8
	}
	if c.Payment.ReferrerShare <= 0 {
		c.Payment.ReferrerShare = 1 - c.Payment.AgentShare
	}
	if c.Payment.SavingsShare <= 0 {
		c.Payment.SavingsShare = 0.05
	}
	if c.Payment.DefaultToken == "" {
		c.Payment.DefaultToken = "USDC"
	}
	if c.Payment.BalanceTimeoutSeconds <= 0 {
		c.Payment.BalanceTimeoutSeconds = 30
	}
	if c.Payment.TransferTimeoutSecs <= 0 {
		c.Payment.TransferTimeoutSecs = 60
	}

	if c.IPFS.Endpoint == "" {
		c.IPFS.Endpoint = "https://api.pinata.cloud/pinning/pinJSONToIPFS"
	}
	if c.IPFS.Gateway == "" {
		c.IPFS.Gateway = "https://gateway.pinata.cloud/ipfs/"
	}
	if c.IPFS.TimeoutSeconds <= 0 {
		c.IPFS.TimeoutSeconds = 30
	}

	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 3
	}
	if c.Knowledge.Source != "" && !filepath.IsAbs(c.Knowledge.Source) {
		c.Knowledge.Source = filepath.Join(baseDir, c.Knowledge.Source)
	}
	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "travelagentd"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Logging.AuditPath != "" && !filepath.IsAbs(c.Logging.AuditPath) {
		c.Logging.AuditPath = filepath.Join(c.Runtime.DataDir, c.Logging.AuditPath)
	}
}

// applyCredentials 让环境变量中的分账参数与储蓄钱包覆盖配置文件。
func (c *Config) applyCredentials() {
	creds := c.Credentials
	if creds.ReferralSplitAgent > 0 {
		c.Payment.AgentShare = float64(creds.ReferralSplitAgent)
	}
	if creds.ReferralSplitReferrer > 0 {
		c.Payment.ReferrerShare = float64(creds.ReferralSplitReferrer)
	}
	if creds.SavingsWalletAddress != "" {
		c.Payment.SavingsWallet = creds.SavingsWalletAddress
	}
}

// Validate 检查配置中的取值范围。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "mysql":
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.Driver)
	}
	if c.Storage.Driver == "mysql" && strings.TrimSpace(c.Storage.DSN) == "" {
		return errors.New("mysql 存储需要配置 dsn")
	}
	switch c.TaskQueue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("未知的队列驱动: %s", c.TaskQueue.Driver)
	}
	switch c.Ledger.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("未知的账本驱动: %s", c.Ledger.Driver)
	}
	switch c.LLM.Provider {
	case "", "openai", "offline":
	default:
		return fmt.Errorf("未知的大模型 provider: %s", c.LLM.Provider)
	}
	if c.Payment.AgentShare >= 1 || c.Payment.AgentShare <= 0 {
		return fmt.Errorf("agent_share 必须位于 (0,1) 区间: %v", c.Payment.AgentShare)
	}
	if sum := c.Payment.AgentShare + c.Payment.ReferrerShare; sum < 0.999999 || sum > 1.000001 {
		return fmt.Errorf("分账比例之和必须为 1: %v", sum)
	}
	if c.Payment.SavingsShare >= 1 {
		return fmt.Errorf("savings_share 必须小于 1: %v", c.Payment.SavingsShare)
	}
	return nil
}

// LLMProvider 返回实际使用的大模型实现，未显式指定时根据是否存在 API Key 选择。
func (c *Config) LLMProvider() string {
	if c.LLM.Provider != "" {
		return c.LLM.Provider
	}
	if c.Credentials.OpenAIAPIKey != "" {
		return "openai"
	}
	return "offline"
}
