package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// Model providers understood by the ai package.
const (
	ProviderGemini = "gemini"
	ProviderArk    = "ark"
	ProviderOpenAI = "openai"
)

// Session backends understood by the session package.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	AI       AIConfig
	Feedback FeedbackConfig
	Citation CitationConfig
	Log      LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	log, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Store:  store,
		AI:     ai,
		Feedback: FeedbackConfig{
			DBPath:   getEnvOrDefault("FEEDBACK_DB_PATH", "data/feedback.db"),
			Password: strings.TrimSpace(os.Getenv("FEEDBACK_PASSWORD")),
		},
		Citation: CitationConfig{
			Path: strings.TrimSpace(os.Getenv("CITATIONS_PATH")),
		},
		Log: log,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	Production     bool
	SessionSecret  string
	CookieName     string
	CookieMaxAge   time.Duration
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址和会话 cookie 设置。
func loadServerConfig() (ServerConfig, error) {
	addr, err := parseAddr(os.Getenv("PORT"))
	if err != nil {
		return ServerConfig{}, err
	}

	maxAge, err := parseDurationEnv("SESSION_COOKIE_MAX_AGE", 0)
	if err != nil {
		return ServerConfig{}, err
	}

	env := strings.ToLower(strings.TrimSpace(os.Getenv("ENV")))

	return ServerConfig{
		Addr:           addr,
		Production:     env == "prod" || env == "production",
		SessionSecret:  strings.TrimSpace(os.Getenv("SESSION_SECRET")),
		CookieName:     getEnvOrDefault("SESSION_COOKIE_NAME", "tfa_session"),
		CookieMaxAge:   maxAge,
		AllowedOrigins: parseListEnv("CORS_ALLOWED_ORIGINS"),
	}, nil
}

func parseAddr(raw string) (string, error) {
	port := strings.TrimSpace(raw)
	if port == "" {
		port = "5001"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":5001" 或 "127.0.0.1:5001"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// StoreConfig describes the session store backend.
type StoreConfig struct {
	Backend           string
	Host              string
	Port              int
	Password          string
	UseSSL            bool
	DB                int
	KeyPrefix         string
	TTL               time.Duration
	StrictReads       bool
	OptimisticLocking bool
	DeleteOnClear     bool
}

// Addr returns host:port for the redis client.
func (c StoreConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func loadStoreConfig() (StoreConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("SESSION_STORE", StoreRedis))
	if backend != StoreRedis && backend != StoreMemory {
		return StoreConfig{}, fmt.Errorf("invalid SESSION_STORE value %q", backend)
	}

	port := 6379
	if override, err := parseOptionalIntEnv("DB_PORT"); err != nil {
		return StoreConfig{}, err
	} else if override != nil {
		port = *override
	}

	db := 0
	if override, err := parseOptionalIntEnv("DB_INDEX"); err != nil {
		return StoreConfig{}, err
	} else if override != nil {
		db = *override
	}

	useSSL, err := parseBoolEnv("DB_USE_SSL", false)
	if err != nil {
		return StoreConfig{}, err
	}

	ttl, err := parseDurationEnv("SESSION_TTL", 0)
	if err != nil {
		return StoreConfig{}, err
	}

	strict, err := parseBoolEnv("SESSION_STRICT_READS", false)
	if err != nil {
		return StoreConfig{}, err
	}

	optimistic, err := parseBoolEnv("SESSION_OPTIMISTIC_LOCKING", false)
	if err != nil {
		return StoreConfig{}, err
	}

	deleteOnClear, err := parseBoolEnv("SESSION_DELETE_ON_CLEAR", false)
	if err != nil {
		return StoreConfig{}, err
	}

	return StoreConfig{
		Backend:           backend,
		Host:              getEnvOrDefault("DB_HOST", "127.0.0.1"),
		Port:              port,
		Password:          os.Getenv("DB_PASSWORD"),
		UseSSL:            useSSL,
		DB:                db,
		KeyPrefix:         getEnvOrDefault("SESSION_KEY_PREFIX", "session:"),
		TTL:               ttl,
		StrictReads:       strict,
		OptimisticLocking: optimistic,
		DeleteOnClear:     deleteOnClear,
	}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider string
	Model    string

	// Gemini / Vertex AI
	GeminiAPIKey string
	Project      string
	Location     string

	// Ark
	APIKey    string
	AccessKey string
	SecretKey string
	BaseURL   string
	Region    string

	// OpenAI-compatible
	OpenAIAPIKey  string
	OpenAIBaseURL string

	Datastore           string
	RetrievalMaxResults int
	ShowThinking        bool
	Temperature         *float64
	TopP                *float64
	MaxTokens           *int
	OpenRetries         int
}

// Enabled 表示是否提供了所选 provider 必需的凭证。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderGemini:
		return c.GeminiAPIKey != "" || c.Project != ""
	case ProviderArk:
		return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
	case ProviderOpenAI:
		return c.OpenAIAPIKey != ""
	default:
		return false
	}
}

// NewChatModel 使用配置创建一个 eino 模型实例，仅适用于 ark 与 openai。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("credentials missing for model provider %q", c.Provider)
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	switch c.Provider {
	case ProviderArk:
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.BaseURL,
			Region:      c.Region,
			APIKey:      c.APIKey,
			AccessKey:   c.AccessKey,
			SecretKey:   c.SecretKey,
			Model:       c.Model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
	case ProviderOpenAI:
		cfg := &openai.ChatModelConfig{
			APIKey:              c.OpenAIAPIKey,
			Model:               c.Model,
			MaxCompletionTokens: maxTokens,
			Temperature:         temperature,
			TopP:                topP,
		}
		if c.OpenAIBaseURL != "" {
			cfg.BaseURL = c.OpenAIBaseURL
		}
		return openai.NewChatModel(ctx, cfg)
	default:
		return nil, fmt.Errorf("provider %q has no eino chat model", c.Provider)
	}
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("MODEL_PROVIDER", ProviderGemini))
	switch provider {
	case ProviderGemini, ProviderArk, ProviderOpenAI:
	default:
		return AIConfig{}, fmt.Errorf("invalid MODEL_PROVIDER value %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("MODEL_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("MODEL_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("MODEL_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	showThinking, err := parseBoolEnv("SHOW_MODEL_THINKING", false)
	if err != nil {
		return AIConfig{}, err
	}

	maxResults := 5
	if override, err := parseOptionalIntEnv("RETRIEVAL_MAX_RESULTS"); err != nil {
		return AIConfig{}, err
	} else if override != nil && *override > 0 {
		maxResults = *override
	}

	retries := 2
	if override, err := parseOptionalIntEnv("MODEL_OPEN_RETRIES"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		if *override < 0 {
			retries = 0
		} else {
			retries = *override
		}
	}

	return AIConfig{
		Provider:            provider,
		Model:               getEnvOrDefault("MODEL_NAME", defaultModel(provider)),
		GeminiAPIKey:        strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Project:             strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_PROJECT")),
		Location:            getEnvOrDefault("GOOGLE_CLOUD_LOCATION", "global"),
		APIKey:              strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:           strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:           strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		BaseURL:             getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:              getEnvOrDefault("ARK_REGION", "cn-beijing"),
		OpenAIAPIKey:        strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:       strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		Datastore:           strings.TrimSpace(os.Getenv("VERTEX_AI_DATASTORE")),
		RetrievalMaxResults: maxResults,
		ShowThinking:        showThinking,
		Temperature:         temperature,
		TopP:                topP,
		MaxTokens:           maxTokens,
		OpenRetries:         retries,
	}, nil
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderGemini:
		return "gemini-2.5-pro"
	case ProviderOpenAI:
		return "gpt-4.1"
	default:
		return ""
	}
}

// FeedbackConfig 描述反馈存储配置。
type FeedbackConfig struct {
	DBPath   string
	Password string
}

// CitationConfig points at the statute text used by the citation lookup.
type CitationConfig struct {
	Path string
}

// LogConfig controls the root logger.
type LogConfig struct {
	Level  string
	Pretty bool
}

func loadLogConfig() (LogConfig, error) {
	pretty, err := parseBoolEnv("LOG_PRETTY", true)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Pretty: pretty,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseListEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
