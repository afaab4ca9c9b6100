package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Tavily     TavilyConfig     `yaml:"tavily" mapstructure:"tavily"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Judge      JudgeConfig      `yaml:"judge" mapstructure:"judge"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LLMConfig selects the default model backend and bounds each call.
type LLMConfig struct {
	Provider    string `yaml:"provider" mapstructure:"provider"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxTokens   int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// GeminiConfig holds Google Gemini settings.
type GeminiConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// SearchConfig configures web search augmentation.
type SearchConfig struct {
	Provider         string        `yaml:"provider" mapstructure:"provider"`
	MaxResults       int           `yaml:"max_results" mapstructure:"max_results"`
	ExecutiveResults int           `yaml:"executive_results" mapstructure:"executive_results"`
	RateLimit        float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	ExecutiveRoles   []string      `yaml:"executive_roles" mapstructure:"executive_roles"`
	CacheTTLMins     int           `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
	Retry            RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit          CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig configures retry with backoff for search providers.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the search circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// TavilyConfig holds Tavily API settings.
type TavilyConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// JinaConfig holds Jina AI search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// RedisConfig configures the optional search cache. An empty address
// disables caching.
type RedisConfig struct {
	Address  string `yaml:"address" mapstructure:"address"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// PipelineConfig configures the research pipeline.
type PipelineConfig struct {
	ParallelDeepDives bool          `yaml:"parallel_deep_dives" mapstructure:"parallel_deep_dives"`
	MaxBusinessUnits  int           `yaml:"max_business_units" mapstructure:"max_business_units"`
	Budgets           BudgetsConfig `yaml:"budgets" mapstructure:"budgets"`
}

// BudgetsConfig caps, in characters, how much of each earlier stage's raw
// output is carried into a later stage's prompt.
type BudgetsConfig struct {
	Step2Step1    int `yaml:"step2_step1" mapstructure:"step2_step1"`
	Step3Step1    int `yaml:"step3_step1" mapstructure:"step3_step1"`
	Step4Step1    int `yaml:"step4_step1" mapstructure:"step4_step1"`
	Step4Unit     int `yaml:"step4_unit" mapstructure:"step4_unit"`
	Step4MaxUnits int `yaml:"step4_max_units" mapstructure:"step4_max_units"`
	Step5Step1    int `yaml:"step5_step1" mapstructure:"step5_step1"`
	Step5Unit     int `yaml:"step5_unit" mapstructure:"step5_unit"`
	Step5MaxUnits int `yaml:"step5_max_units" mapstructure:"step5_max_units"`
	Step5Step4    int `yaml:"step5_step4" mapstructure:"step5_step4"`
	Step6Step1    int `yaml:"step6_step1" mapstructure:"step6_step1"`
	Step6Step4    int `yaml:"step6_step4" mapstructure:"step6_step4"`
	Step6Step5    int `yaml:"step6_step5" mapstructure:"step6_step5"`
	Step7Step1    int `yaml:"step7_step1" mapstructure:"step7_step1"`
	Step7Step4    int `yaml:"step7_step4" mapstructure:"step7_step4"`
	Step7Step5    int `yaml:"step7_step5" mapstructure:"step7_step5"`
	Step7Step6    int `yaml:"step7_step6" mapstructure:"step7_step6"`
}

// JudgeConfig selects the model that scores finished reports.
type JudgeConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
	Model    string `yaml:"model" mapstructure:"model"`
}

// PricingConfig holds per-model token pricing and per-query search pricing.
type PricingConfig struct {
	Models map[string]ModelPricing `yaml:"models" mapstructure:"models"`
	Search map[string]float64      `yaml:"search" mapstructure:"search"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// NotionConfig holds Notion API credentials and the report database ID.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	ReportDB string `yaml:"report_db" mapstructure:"report_db"`
}

// DefaultExecutiveRoles are searched individually when mapping personas.
var DefaultExecutiveRoles = []string{
	"CFO",
	"CTO",
	"COO",
	"CRO",
	"CDO",
	"CISO",
	"head of operations",
	"head of technology",
	"business unit president",
	"VP digital transformation",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PROSPECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "prospector.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.timeout_secs", 300)
	v.SetDefault("llm.max_tokens", 4000)
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("openai.model", "gpt-4o-2024-11-20")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("gemini.model", "gemini-1.5-pro")
	v.SetDefault("search.provider", "tavily")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.executive_results", 3)
	v.SetDefault("search.rate_limit", 5.0)
	v.SetDefault("search.executive_roles", DefaultExecutiveRoles)
	v.SetDefault("search.cache_ttl_mins", 60)
	v.SetDefault("search.retry.max_attempts", 3)
	v.SetDefault("search.retry.initial_backoff_ms", 500)
	v.SetDefault("search.retry.max_backoff_ms", 5000)
	v.SetDefault("search.retry.multiplier", 2.0)
	v.SetDefault("search.retry.jitter_fraction", 0.25)
	v.SetDefault("search.circuit.failure_threshold", 5)
	v.SetDefault("search.circuit.reset_timeout_secs", 30)
	v.SetDefault("tavily.base_url", "https://api.tavily.com")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("pipeline.parallel_deep_dives", false)
	v.SetDefault("pipeline.max_business_units", 3)
	v.SetDefault("pipeline.budgets.step2_step1", 2000)
	v.SetDefault("pipeline.budgets.step3_step1", 1500)
	v.SetDefault("pipeline.budgets.step4_step1", 1500)
	v.SetDefault("pipeline.budgets.step4_unit", 800)
	v.SetDefault("pipeline.budgets.step4_max_units", 3)
	v.SetDefault("pipeline.budgets.step5_step1", 1000)
	v.SetDefault("pipeline.budgets.step5_unit", 500)
	v.SetDefault("pipeline.budgets.step5_max_units", 2)
	v.SetDefault("pipeline.budgets.step5_step4", 1500)
	v.SetDefault("pipeline.budgets.step6_step1", 1000)
	v.SetDefault("pipeline.budgets.step6_step4", 1500)
	v.SetDefault("pipeline.budgets.step6_step5", 1500)
	v.SetDefault("pipeline.budgets.step7_step1", 800)
	v.SetDefault("pipeline.budgets.step7_step4", 1000)
	v.SetDefault("pipeline.budgets.step7_step5", 1000)
	v.SetDefault("pipeline.budgets.step7_step6", 1000)
	v.SetDefault("judge.provider", "openai")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")

	// Keys without defaults must be bound so env-only values reach Unmarshal.
	for _, key := range []string{
		"anthropic.key", "anthropic.base_url", "openai.key", "gemini.key",
		"tavily.key", "jina.key", "perplexity.key",
		"redis.address", "redis.password", "redis.db",
		"judge.model", "notion.token", "notion.report_db",
		"salesforce.client_id", "salesforce.username", "salesforce.key_path",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// ModelKey returns the API key configured for a model provider.
func (c *Config) ModelKey(provider string) string {
	switch provider {
	case "anthropic":
		return c.Anthropic.Key
	case "openai":
		return c.OpenAI.Key
	case "gemini":
		return c.Gemini.Key
	default:
		return ""
	}
}

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var missing []string

	switch mode {
	case "research":
		switch c.LLM.Provider {
		case "anthropic", "openai", "gemini":
		default:
			return eris.Errorf("config: unknown llm.provider %q", c.LLM.Provider)
		}
		if c.ModelKey(c.LLM.Provider) == "" {
			missing = append(missing, c.LLM.Provider+".key")
		}
		if c.LLM.TimeoutSecs <= 0 {
			return eris.New("config: llm.timeout_secs must be positive")
		}
	case "serve":
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			return eris.Errorf("config: server.port %d out of range (1-65535)", c.Server.Port)
		}
	case "sync":
		sfReady := c.Salesforce.ClientID != "" && c.Salesforce.Username != "" && c.Salesforce.KeyPath != ""
		notionReady := c.Notion.Token != "" && c.Notion.ReportDB != ""
		if !sfReady && !notionReady {
			return eris.New("config: sync requires salesforce (client_id, username, key_path) or notion (token, report_db)")
		}
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: %s is required", strings.Join(missing, ", "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
