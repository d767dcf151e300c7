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
	State    StateConfig     `yaml:"state" mapstructure:"state"`
	Sources  []SourceConfig  `yaml:"sources" mapstructure:"sources"`
	Normal   NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Scoring  ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Resolver ResolverConfig  `yaml:"resolver" mapstructure:"resolver"`
	Miner    MinerConfig     `yaml:"miner" mapstructure:"miner"`
	Verify   VerifyConfig    `yaml:"verify" mapstructure:"verify"`
	Export   ExportConfig    `yaml:"export" mapstructure:"export"`
	Pipeline PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Server   ServerConfig    `yaml:"server" mapstructure:"server"`
	Log      LogConfig       `yaml:"log" mapstructure:"log"`
}

// StateConfig configures the run-state store backend.
type StateConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite | postgres
	Path        string `yaml:"path" mapstructure:"path"`     // sqlite database file
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SourceConfig describes one permit portal.
type SourceConfig struct {
	ID           string            `yaml:"id" mapstructure:"id"`
	Jurisdiction string            `yaml:"jurisdiction" mapstructure:"jurisdiction"`
	Method       string            `yaml:"method" mapstructure:"method"` // csv | xlsx | html_list
	URL          string            `yaml:"url" mapstructure:"url"`
	Enabled      bool              `yaml:"enabled" mapstructure:"enabled"`
	FieldAliases map[string]string `yaml:"field_aliases" mapstructure:"field_aliases"` // portal column -> canonical field
}

// NormalizeConfig configures contractor-name and permit-type normalization.
type NormalizeConfig struct {
	LegalSuffixes []string `yaml:"legal_suffixes" mapstructure:"legal_suffixes"`
	TypeMapFile   string   `yaml:"type_map_file" mapstructure:"type_map_file"` // yaml: class -> phrases
}

// ScoringConfig holds the deterministic intent-score constants.
type ScoringConfig struct {
	BaseWeights   map[string]int `yaml:"base_weights" mapstructure:"base_weights"` // permit class -> points
	RecencyDays   int            `yaml:"recency_days" mapstructure:"recency_days"`
	RecencyMax    int            `yaml:"recency_max" mapstructure:"recency_max"`
	RepeatBonus   int            `yaml:"repeat_bonus" mapstructure:"repeat_bonus"`
	RepeatCap     int            `yaml:"repeat_cap" mapstructure:"repeat_cap"`
	LookbackDays  int            `yaml:"lookback_days" mapstructure:"lookback_days"`
	ThresholdHot  int            `yaml:"threshold_hot" mapstructure:"threshold_hot"`
	ThresholdWarm int            `yaml:"threshold_warm" mapstructure:"threshold_warm"`
	Gates         GatesConfig    `yaml:"gates" mapstructure:"gates"`
}

// GatesConfig holds the pre-export monitoring gate thresholds.
type GatesConfig struct {
	MinValidEmailRate       float64 `yaml:"min_valid_email_rate" mapstructure:"min_valid_email_rate"`
	MinDomainResolutionRate float64 `yaml:"min_domain_resolution_rate" mapstructure:"min_domain_resolution_rate"`
	MinSampleSize           int     `yaml:"min_sample_size" mapstructure:"min_sample_size"`
	MaxZeroRuns             int     `yaml:"max_zero_runs" mapstructure:"max_zero_runs"`
}

// ResolverConfig configures the tiered domain resolver.
type ResolverConfig struct {
	SeedFile         string  `yaml:"seed_file" mapstructure:"seed_file"`
	SimilarityCutoff float64 `yaml:"similarity_cutoff" mapstructure:"similarity_cutoff"`
	RegistryBaseURL  string  `yaml:"registry_base_url" mapstructure:"registry_base_url"`
	RegistryRPS      float64 `yaml:"registry_rps" mapstructure:"registry_rps"`
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
	AnthropicKey     string  `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	AnthropicModel   string  `yaml:"anthropic_model" mapstructure:"anthropic_model"`
}

// MinerConfig configures contact mining.
type MinerConfig struct {
	Paths          []string `yaml:"paths" mapstructure:"paths"`
	RoleAliases    []string `yaml:"role_aliases" mapstructure:"role_aliases"`
	TimeoutSecs    int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxPages       int      `yaml:"max_pages" mapstructure:"max_pages"`
	UserAgent      string   `yaml:"user_agent" mapstructure:"user_agent"`
	Concurrency    int      `yaml:"concurrency" mapstructure:"concurrency"`
	PerDomainDelay float64  `yaml:"per_domain_delay_secs" mapstructure:"per_domain_delay_secs"`
}

// VerifyConfig configures the deliverability verification gate.
type VerifyConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	BudgetPerRun   int    `yaml:"budget_per_run" mapstructure:"budget_per_run"`
	BudgetPerMonth int    `yaml:"budget_per_month" mapstructure:"budget_per_month"`
	RecheckDays    int    `yaml:"recheck_days" mapstructure:"recheck_days"`
	Concurrency    int    `yaml:"concurrency" mapstructure:"concurrency"`
	MaxAttempts    int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ExportConfig configures output artifacts.
type ExportConfig struct {
	OutDir string `yaml:"out_dir" mapstructure:"out_dir"`
}

// PipelineConfig configures run-level behavior.
type PipelineConfig struct {
	RunTimeoutSecs int `yaml:"run_timeout_secs" mapstructure:"run_timeout_secs"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INTENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("state.driver", "sqlite")
	v.SetDefault("state.path", "data/intent.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("normalize.legal_suffixes", []string{
		"llc", "inc", "incorporated", "corp", "corporation",
		"co", "company", "ltd", "limited", "lp", "llp", "lllp", "pllc", "pc",
	})
	v.SetDefault("normalize.type_map_file", "config/permit_types.yaml")
	v.SetDefault("scoring.base_weights", map[string]int{
		"equipment-intensive": 6,
		"structural":          4,
		"routine":             1,
		"unclassified":        0,
	})
	v.SetDefault("scoring.recency_days", 90)
	v.SetDefault("scoring.recency_max", 3)
	v.SetDefault("scoring.repeat_bonus", 1)
	v.SetDefault("scoring.repeat_cap", 2)
	v.SetDefault("scoring.lookback_days", 90)
	v.SetDefault("scoring.threshold_hot", 7)
	v.SetDefault("scoring.threshold_warm", 5)
	v.SetDefault("scoring.gates.min_valid_email_rate", 0.30)
	v.SetDefault("scoring.gates.min_domain_resolution_rate", 0.25)
	v.SetDefault("scoring.gates.min_sample_size", 10)
	v.SetDefault("scoring.gates.max_zero_runs", 2)
	v.SetDefault("resolver.seed_file", "data/company_domain_seed.csv")
	v.SetDefault("resolver.similarity_cutoff", 0.85)
	v.SetDefault("resolver.registry_rps", 1)
	v.SetDefault("resolver.concurrency", 4)
	v.SetDefault("resolver.anthropic_model", "claude-haiku-4-5-20251001")
	v.SetDefault("miner.paths", []string{"/", "/contact", "/contact-us", "/about", "/about-us"})
	v.SetDefault("miner.role_aliases", []string{"info", "sales", "estimating", "projects", "office"})
	v.SetDefault("miner.timeout_secs", 15)
	v.SetDefault("miner.max_pages", 6)
	v.SetDefault("miner.user_agent", "IntentLeadBot/1.0")
	v.SetDefault("miner.concurrency", 4)
	v.SetDefault("miner.per_domain_delay_secs", 1.0)
	v.SetDefault("verify.base_url", "https://api.millionverifier.com")
	v.SetDefault("verify.budget_per_run", 200)
	v.SetDefault("verify.budget_per_month", 2000)
	v.SetDefault("verify.recheck_days", 30)
	v.SetDefault("verify.concurrency", 4)
	v.SetDefault("verify.max_attempts", 3)
	v.SetDefault("verify.timeout_secs", 25)
	v.SetDefault("export.out_dir", "data")
	v.SetDefault("pipeline.run_timeout_secs", 3600)

	// Read config file (optional)
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
