package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	xerrors "flowforge/internal/errors"
	"flowforge/pkg/logger"
)

// Config 描述了 flowforge 守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig              `json:"server"`
	Logging   logger.Config             `json:"logging"`
	Storage   StorageConfig             `json:"storage"`
	Queue     QueueConfig               `json:"queue"`
	Web3      Web3Config                `json:"web3"`
	Secrets   SecretsConfig             `json:"secrets"`
	Alerting  AlertingConfig            `json:"alerting"`
	Auth      AuthConfig                `json:"auth"`
	Workflows map[string]WorkflowConfig `json:"workflows"`
}

// ServerConfig 控制 HTTP 触发接口与指标端口。
type ServerConfig struct {
	Address            string  `json:"address"`
	MetricsAddress     string  `json:"metrics_address"`
	RateLimitPerSecond float64 `json:"rate_limit_per_second"`
	Burst              int     `json:"burst"`
	WaitTimeoutSeconds int     `json:"wait_timeout_seconds"`
}

// StorageConfig 描述调用记录的持久化后端。
type StorageConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// QueueConfig 描述调用队列的实现与并发度。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Workers  int            `json:"workers"`
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 为 Redis 列表队列提供连接信息。
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"`
}

// RabbitMQConfig 为 RabbitMQ 队列提供连接信息。
type RabbitMQConfig struct {
	URL   string `json:"url"`
	Queue string `json:"queue"`
}

// Web3Config 包含访问区块链节点、签名与提交报告所需的参数。
type Web3Config struct {
	ChainConfig          string `json:"chain_config"`
	DefaultChain         string `json:"default_chain"`
	RPCURL               string `json:"rpc_url"`
	SubmitterKeyEnv      string `json:"submitter_key_env"`
	GasLimit             uint64 `json:"gas_limit"`
	ReceiptTimeoutSecond int    `json:"receipt_timeout_seconds"`
	PollIntervalMillis   int    `json:"poll_interval_millis"`
}

// SecretsConfig 控制运行时密钥的查找方式。
type SecretsConfig struct {
	EnvPrefix string `json:"env_prefix"`
}

// AlertingConfig 配置失败调用的告警出口。
type AlertingConfig struct {
	WebhookURL     string `json:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// AuthConfig 控制触发接口的身份认证：disabled、token 或 jwt。
type AuthConfig struct {
	Mode   string           `json:"mode"`
	Tokens []APITokenConfig `json:"tokens"`
	JWT    JWTConfig        `json:"jwt"`
}

// APITokenConfig 声明一个静态访问令牌，配置中只保存令牌的 SHA-256 摘要。
type APITokenConfig struct {
	Name        string   `json:"name"`
	SHA256      string   `json:"sha256"`
	Permissions []string `json:"permissions"`
}

// JWTConfig 描述 HS256 令牌的校验参数，签名密钥从密钥存储读取。
type JWTConfig struct {
	SecretID         string `json:"secret_id"`
	Issuer           string `json:"issuer"`
	Audience         string `json:"audience"`
	ScopeClaim       string `json:"scope_claim"`
	ClockSkewSeconds int    `json:"clock_skew_seconds"`
}

// WorkflowConfig 描述一个已注册的工作流：类型、调度表达式以及原始参数。
type WorkflowConfig struct {
	Kind     string          `json:"kind"`
	Schedule string          `json:"schedule"`
	Params   json.RawMessage `json:"params"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := Parse(content)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse 解析配置内容但不处理相对路径。
func Parse(content []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.RateLimitPerSecond <= 0 {
		c.Server.RateLimitPerSecond = 10
	}
	if c.Server.Burst <= 0 {
		c.Server.Burst = 20
	}
	if c.Server.WaitTimeoutSeconds <= 0 {
		c.Server.WaitTimeoutSeconds = 120
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = 128
	}
	if c.Queue.Redis.Key == "" {
		c.Queue.Redis.Key = "flowforge:invocations"
	}
	if c.Queue.RabbitMQ.Queue == "" {
		c.Queue.RabbitMQ.Queue = "flowforge.invocations"
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
	if c.Web3.SubmitterKeyEnv == "" {
		c.Web3.SubmitterKeyEnv = "FLOWFORGE_SUBMITTER_KEY"
	}
	if c.Web3.ReceiptTimeoutSecond <= 0 {
		c.Web3.ReceiptTimeoutSecond = 120
	}
	if c.Web3.PollIntervalMillis <= 0 {
		c.Web3.PollIntervalMillis = 1500
	}

	if c.Secrets.EnvPrefix == "" {
		c.Secrets.EnvPrefix = "FLOWFORGE_SECRET_"
	}

	if c.Alerting.TimeoutSeconds <= 0 {
		c.Alerting.TimeoutSeconds = 5
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Auth.JWT.SecretID == "" {
		c.Auth.JWT.SecretID = "API_JWT_SECRET"
	}
	if c.Auth.JWT.ScopeClaim == "" {
		c.Auth.JWT.ScopeClaim = "scope"
	}
	if c.Auth.JWT.ClockSkewSeconds <= 0 {
		c.Auth.JWT.ClockSkewSeconds = 60
	}

	if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}

	if c.Workflows == nil {
		c.Workflows = map[string]WorkflowConfig{}
	}
}

// Validate 检查驱动名称与工作流声明是否合法。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return xerrors.New(xerrors.CodeMissingConfiguration, "storage.dsn is required for the mysql driver")
		}
	default:
		return xerrors.Newf(xerrors.CodeInvalidArgument, "unsupported storage driver %q", c.Storage.Driver)
	}

	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Queue.Redis.Addr) == "" {
			return xerrors.New(xerrors.CodeMissingConfiguration, "queue.redis.addr is required for the redis driver")
		}
	case "rabbitmq":
		if strings.TrimSpace(c.Queue.RabbitMQ.URL) == "" {
			return xerrors.New(xerrors.CodeMissingConfiguration, "queue.rabbitmq.url is required for the rabbitmq driver")
		}
	default:
		return xerrors.Newf(xerrors.CodeInvalidArgument, "unsupported queue driver %q", c.Queue.Driver)
	}

	switch strings.ToLower(c.Auth.Mode) {
	case "", "disabled", "jwt":
	case "token":
		if len(c.Auth.Tokens) == 0 {
			return xerrors.New(xerrors.CodeMissingConfiguration, "auth.tokens is required for token mode")
		}
		for i, tok := range c.Auth.Tokens {
			if strings.TrimSpace(tok.Name) == "" {
				return xerrors.Newf(xerrors.CodeMissingConfiguration, "auth.tokens[%d]: name is required", i)
			}
			if !isSHA256Hex(tok.SHA256) {
				return xerrors.Newf(xerrors.CodeInvalidArgument, "auth.tokens[%d]: sha256 must be 64 hex characters", i)
			}
		}
	default:
		return xerrors.Newf(xerrors.CodeInvalidArgument, "unsupported auth mode %q", c.Auth.Mode)
	}

	for _, name := range c.WorkflowNames() {
		wf := c.Workflows[name]
		if strings.TrimSpace(wf.Kind) == "" {
			return xerrors.Newf(xerrors.CodeMissingConfiguration, "workflow %s: kind is required", name)
		}
		if len(wf.Params) == 0 {
			return xerrors.Newf(xerrors.CodeMissingConfiguration, "workflow %s: params are required", name)
		}
	}
	return nil
}

// WorkflowNames 按名称排序返回已声明的工作流。
func (c *Config) WorkflowNames() []string {
	names := make([]string, 0, len(c.Workflows))
	for name := range c.Workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
