package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 环境变量名称。
const (
	EnvConfigPath = "TOKENACTION_CONFIG"
	EnvRPCURL     = "ALCHEMY_RPC_URL"
)

// DefaultPath 为未设置 TOKENACTION_CONFIG 时使用的配置文件路径。
var DefaultPath = filepath.Join("configs", "tokenaction.json")

// Config 描述了 TokenAction 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Queue     QueueConfig     `json:"queue"`
	LLM       LLMConfig       `json:"llm"`
	Web3      Web3Config      `json:"web3"`
	Token     TokenConfig     `json:"token"`
	Actions   ActionsConfig   `json:"actions"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Plugins   PluginsConfig   `json:"plugins"`
	Alerting  AlertingConfig  `json:"alerting"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// AuthConfig 控制写操作接口的 JWT 鉴权。
type AuthConfig struct {
	Enabled           bool             `json:"enabled"`
	Issuer            string           `json:"issuer"`
	Audience          []string         `json:"audience"`
	Secret            string           `json:"secret"`
	SecretEnv         string           `json:"secret_env"`
	TokenTTLSeconds   int              `json:"token_ttl_seconds"`
	RefreshTTLSeconds int              `json:"refresh_ttl_seconds"`
	Users             []AuthUserConfig `json:"users"`
}

// AuthUserConfig 描述一个可以申请令牌的账号，密码从环境变量读取。
type AuthUserConfig struct {
	Username    string   `json:"username"`
	PasswordEnv string   `json:"password_env"`
	Permissions []string `json:"permissions"`
	Disabled    bool     `json:"disabled"`
}

// ResolvePassword 返回账号密码。
func (c AuthUserConfig) ResolvePassword() string {
	return resolve("", c.PasswordEnv)
}

// TokenTTL 返回签发令牌的有效期。
func (c AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLSeconds) * time.Second
}

// RefreshTTL 返回刷新令牌的有效期。
func (c AuthConfig) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTTLSeconds) * time.Second
}

// ResolveSecret 优先使用显式配置，其次读取环境变量。
func (c AuthConfig) ResolveSecret() string {
	return resolve(c.Secret, c.SecretEnv)
}

// LoggingConfig 对应 pkg/logger 的配置项。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 描述审计日志的落盘与轮转策略。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// StorageConfig 统一描述调用记录的存储后端。
type StorageConfig struct {
	Invocations InvocationStoreConfig `json:"invocations"`
}

// InvocationStoreConfig 支持 memory 与 mysql 两种驱动。
type InvocationStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	DSNEnv                 string `json:"dsn_env"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// ResolveDSN 返回最终使用的 DSN。
func (c InvocationStoreConfig) ResolveDSN() string {
	return resolve(c.DSN, c.DSNEnv)
}

// QueueConfig 描述调用队列。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Workers  int            `json:"workers"`
	Capacity int            `json:"capacity"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 为 Redis 列表队列的连接参数。
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 为 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
	Durable  bool   `json:"durable"`
}

// LLMConfig 用于配置地址抽取所用的大模型。
type LLMConfig struct {
	Provider string             `json:"provider"`
	OpenAI   OpenAIConfig       `json:"openai"`
	Python   PythonBridgeConfig `json:"python_bridge"`
}

// OpenAIConfig 描述 OpenAI 兼容接口。
type OpenAIConfig struct {
	APIKey         string  `json:"api_key"`
	APIKeyEnv      string  `json:"api_key_env"`
	BaseURL        string  `json:"base_url"`
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	TimeoutSeconds int     `json:"timeout_seconds"`
}

// Timeout 返回 HTTP 调用超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResolveAPIKey 返回最终使用的 API Key。
func (c OpenAIConfig) ResolveAPIKey() string {
	return resolve(c.APIKey, c.APIKeyEnv)
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable"`
	ScriptPath       string `json:"script_path"`
	WorkingDir       string `json:"working_dir"`
}

// Web3Config 包含访问区块链节点所需的信息。
//
// ChainFile 指向 YAML 多链定义；未提供时使用 RPCURL/RPCURLEnv 组成单链配置。
type Web3Config struct {
	DefaultChain  string `json:"default_chain"`
	ChainFile     string `json:"chain_file"`
	RPCURL        string `json:"rpc_url"`
	RPCURLEnv     string `json:"rpc_url_env"`
	ChainID       int64  `json:"chain_id"`
	PrivateKeyEnv string `json:"private_key_env"`
}

// TokenConfig 描述目标代币合约。
type TokenConfig struct {
	Address       string `json:"address"`
	ABIPath       string `json:"abi_path"`
	Symbol        string `json:"symbol"`
	BalanceMethod string `json:"balance_method"`
	MintMethod    string `json:"mint_method"`
	MaxMintAmount string `json:"max_mint_amount"`
}

// ActionsConfig 描述动作层的运行参数。
type ActionsConfig struct {
	TimeoutSeconds int        `json:"timeout_seconds"`
	Mint           MintConfig `json:"mint"`
}

// Timeout 返回单次动作的超时时间，0 表示不限制。
func (c ActionsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MintConfig 提供铸币动作缺省的接收地址与数量。
type MintConfig struct {
	DefaultRecipient string `json:"default_recipient"`
	DefaultAmount    string `json:"default_amount"`
}

// KnowledgeConfig 指向静态知识库文件。
type KnowledgeConfig struct {
	Source     string `json:"source"`
	MaxResults int    `json:"max_results"`
}

// PluginsConfig 指向插件管理器的 YAML 配置。
type PluginsConfig struct {
	ConfigPath string `json:"config_path"`
}

// AlertingConfig 控制告警渠道。
type AlertingConfig struct {
	Enabled       bool   `json:"enabled"`
	WebhookURL    string `json:"webhook_url"`
	WebhookURLEnv string `json:"webhook_url_env"`
}

// ResolveWebhookURL 返回最终使用的 Webhook 地址。
func (c AlertingConfig) ResolveWebhookURL() string {
	return resolve(c.WebhookURL, c.WebhookURLEnv)
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// LoadEnv 读取 .env 文件中的变量，文件不存在时忽略。
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("加载环境变量文件失败: %w", err)
	}
	return nil
}

// PathFromEnv 返回 TOKENACTION_CONFIG 指定的路径或默认路径。
func PathFromEnv() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultPath
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

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// Default 返回一份只包含默认值的配置，供 CLI 在没有配置文件时使用。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "tokenaction"
	}
	if c.Auth.TokenTTLSeconds <= 0 {
		c.Auth.TokenTTLSeconds = 3600
	}
	if c.Auth.RefreshTTLSeconds <= 0 {
		c.Auth.RefreshTTLSeconds = 86400
	}
	if c.Auth.SecretEnv == "" {
		c.Auth.SecretEnv = "TOKENACTION_JWT_SECRET"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" {
		c.Logging.Audit.Path = absJoin(baseDir, c.Logging.Audit.Path)
	}

	if c.Storage.Invocations.Driver == "" {
		c.Storage.Invocations.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.Capacity <= 0 {
		c.Queue.Capacity = 256
	}
	if c.Queue.Redis.Queue == "" {
		c.Queue.Redis.Queue = "tokenaction:invocations"
	}
	if c.Queue.RabbitMQ.Queue == "" {
		c.Queue.RabbitMQ.Queue = "tokenaction.invocations"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 30
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	if c.LLM.Python.WorkingDir == "" {
		c.LLM.Python.WorkingDir = baseDir
	} else {
		c.LLM.Python.WorkingDir = absJoin(baseDir, c.LLM.Python.WorkingDir)
	}

	if c.Web3.RPCURLEnv == "" {
		c.Web3.RPCURLEnv = EnvRPCURL
	}
	if c.Web3.DefaultChain == "" {
		c.Web3.DefaultChain = "sepolia"
	}
	if c.Web3.ChainFile != "" {
		c.Web3.ChainFile = absJoin(baseDir, c.Web3.ChainFile)
	}

	if c.Token.ABIPath != "" {
		c.Token.ABIPath = absJoin(baseDir, c.Token.ABIPath)
	}

	if c.Knowledge.Source != "" {
		c.Knowledge.Source = absJoin(baseDir, c.Knowledge.Source)
	}
	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 3
	}

	if c.Plugins.ConfigPath != "" {
		c.Plugins.ConfigPath = absJoin(baseDir, c.Plugins.ConfigPath)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = absJoin(baseDir, c.Runtime.DataDir)
	}
}

func absJoin(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

func resolve(value, envName string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	if envName == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(envName))
}
