package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "steward.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "STEWARD_PORT")
	setString(&cfg.Server.CORSOrigin, "STEWARD_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "STEWARD_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "STEWARD_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "STEWARD_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "STEWARD_PG_MAX_CONN_IDLE_TIME")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Notifier.Provider, "STEWARD_NOTIFIER")
	setString(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.Model, "STEWARD_MODEL")
	setInt(&cfg.OpenAI.MaxTokens, "STEWARD_MAX_TOKENS")
	setString(&cfg.Logging.Level, "STEWARD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "STEWARD_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "STEWARD_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "STEWARD_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "STEWARD_BREAKER_TIMEOUT")
	setString(&cfg.Policy.RulesFile, "STEWARD_POLICY_RULES")
	setString(&cfg.Audit.Path, "STEWARD_AUDIT_PATH")
	setDuration(&cfg.HITL.ApprovalTimeout, "STEWARD_HITL_TIMEOUT")
	setInt(&cfg.Session.MaxIterations, "STEWARD_MAX_ITERATIONS")
	setInt(&cfg.Session.MaxToolRounds, "STEWARD_MAX_TOOL_ROUNDS")
	setInt(&cfg.Session.MaxTasks, "STEWARD_MAX_TASKS")
	setInt(&cfg.Session.MaxReplans, "STEWARD_MAX_REPLANS")
	setInt(&cfg.Session.MaxToolsPerTask, "STEWARD_MAX_TOOLS_PER_TASK")
	setInt(&cfg.Session.HistoryKeep, "STEWARD_HISTORY_KEEP")
	setInt(&cfg.Loop.Window, "STEWARD_LOOP_WINDOW")
	setInt(&cfg.Loop.WarnThreshold, "STEWARD_LOOP_WARN")
	setInt(&cfg.Loop.FatalThreshold, "STEWARD_LOOP_FATAL")
	setInt64(&cfg.Cache.MaxSizeBytes, "STEWARD_CACHE_SIZE")
	setDuration(&cfg.Cache.TTL, "STEWARD_CACHE_TTL")
	setBool(&cfg.Otel.Enabled, "STEWARD_OTEL_ENABLED")
	setString(&cfg.Otel.Endpoint, "STEWARD_OTEL_ENDPOINT")
	setBool(&cfg.Auth.Enabled, "STEWARD_AUTH_ENABLED")
	setString(&cfg.Auth.APIKeyHash, "STEWARD_API_KEY_HASH")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.OpenAI.Model == "" {
		return errors.New("openai.model is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Session.MaxToolRounds < 1 {
		return errors.New("session.max_tool_rounds must be >= 1")
	}
	if cfg.Loop.FatalThreshold <= cfg.Loop.WarnThreshold {
		return errors.New("loop.fatal_threshold must exceed loop.warn_threshold")
	}
	if cfg.Auth.Enabled && cfg.Auth.APIKeyHash == "" {
		return errors.New("auth.api_key_hash is required when auth is enabled")
	}
	for i, srv := range cfg.MCPServers {
		if srv.Name == "" {
			return fmt.Errorf("mcp_servers[%d].name is required", i)
		}
		if srv.Command == "" && srv.URL == "" {
			return fmt.Errorf("mcp_servers[%d] needs a command or url", i)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
