// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf = Default()

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	VectorStore   VectorStoreConfig   `mapstructure:"vector_store"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Ingestion     IngestionConfig     `mapstructure:"ingestion"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Questions     QuestionConfig      `mapstructure:"questions"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
	// MaxUploadMB 限制单个上传文件的大小。
	MaxUploadMB int64 `mapstructure:"max_upload_mb"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// AuthConfig 控制请求身份的解析方式。
// Bypass 为 true 时所有请求以固定的开发身份执行，仅用于本地环境。
type AuthConfig struct {
	Bypass                bool   `mapstructure:"bypass"`
	DefaultOrganizationID string `mapstructure:"default_organization_id"`
	BypassUserID          string `mapstructure:"bypass_user_id"`
	BypassRole            string `mapstructure:"bypass_role"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	GroupID     string `mapstructure:"group_id"`
	MaxAttempts int64  `mapstructure:"max_attempts"`
	// 重试的初始退避间隔，之后成倍增长
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

// TikaConfig 存储 Tika 服务器相关的配置。ServerURL 为空时不启用 Tika 兜底解析。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// PostgresConfig 存储 pgvector 向量库的连接配置。
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// VectorStoreConfig 选择分块向量的存储后端：elasticsearch 或 pgvector。
type VectorStoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
// Provider 为 placeholder 时使用本地确定性向量，不访问外部接口。
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置回答生成的系统提示。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	NoResultText string `mapstructure:"no_result_text"`
}

// IngestionConfig 控制文档入库流程。
type IngestionConfig struct {
	ChunkSize          int  `mapstructure:"chunk_size"`
	ChunkOverlap       int  `mapstructure:"chunk_overlap"`
	BatchSize          int  `mapstructure:"batch_size"`
	MinTextLength      int  `mapstructure:"min_text_length"`
	Async              bool `mapstructure:"async"`
	CallTimeoutSeconds int  `mapstructure:"call_timeout_seconds"`
}

// RetrievalConfig 控制检索行为。
type RetrievalConfig struct {
	DefaultLimit     int `mapstructure:"default_limit"`
	MaxKeywords      int `mapstructure:"max_keywords"`
	MinKeywordLength int `mapstructure:"min_keyword_length"`
}

// QuestionConfig 控制从招标文件中抽取问题。
type QuestionConfig struct {
	MaxPartChars    int `mapstructure:"max_part_chars"`
	MinTextLength   int `mapstructure:"min_text_length"`
	MaxHeuristic    int `mapstructure:"max_heuristic"`
	RequestInterval int `mapstructure:"request_interval_ms"`
}

// Default 返回所有配置项的默认值，未在配置文件中出现的键都会回落到这里。
func Default() Config {
	return Config{
		Server: ServerConfig{Port: "8080", Mode: "debug", MaxUploadMB: 50},
		JWT:    JWTConfig{AccessTokenExpireHours: 24},
		Auth: AuthConfig{
			DefaultOrganizationID: "default",
			BypassUserID:          "dev-user",
			BypassRole:            "ADMIN",
		},
		Log:           LogConfig{Level: "info", Format: "console"},
		Kafka:         KafkaConfig{Topic: "document-ingest", GroupID: "rfp-smart-go-consumer", MaxAttempts: 3, RetryBackoffMs: 1000},
		Elasticsearch: ElasticsearchConfig{IndexName: "rfp_chunks"},
		VectorStore:   VectorStoreConfig{Driver: "elasticsearch"},
		MinIO:         MinIOConfig{BucketName: "corpus-files"},
		Embedding:     EmbeddingConfig{Provider: "placeholder", Dimensions: 1536},
		Ingestion: IngestionConfig{
			ChunkSize:          2000,
			ChunkOverlap:       200,
			BatchSize:          50,
			MinTextLength:      10,
			CallTimeoutSeconds: 60,
		},
		Retrieval: RetrievalConfig{DefaultLimit: 5, MaxKeywords: 5, MinKeywordLength: 4},
		Questions: QuestionConfig{MaxPartChars: 25000, MinTextLength: 50, MaxHeuristic: 100, RequestInterval: 500},
	}
}

// Init 初始化配置加载：先读取 .env（若存在），再读取 YAML 文件，最后应用 RFP_ 前缀的环境变量覆盖。
func Init(configPath string) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("RFP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	conf := Default()
	if err := v.Unmarshal(&conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
	Conf = conf
}
