package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/driver"
	"github.com/hupe1980/exodus/executor"
	"github.com/hupe1980/exodus/logging"
	"github.com/hupe1980/exodus/memory"
)

// Well-known locations and environment variables.
const (
	DefaultConfigFile = "exodus.toml"
	DefaultAgentsDir  = "agents"

	EnvConfigPath = "EXODUS_CONFIG"
	EnvAPIKey     = "EXODUS_API_KEY"
	EnvOpenAIKey  = "OPENAI_API_KEY"
	EnvClaudeKey  = "ANTHROPIC_API_KEY"
)

// LLM providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// DefaultMaxIterations is the session-wide step ceiling.
const DefaultMaxIterations = 100

// AgentSection is the [agent] table.
type AgentSection struct {
	MaxIterations         int           `toml:"max_iterations"`
	MaxConcurrentSessions int           `toml:"max_concurrent_sessions"`
	ExecutionMode         string        `toml:"execution_mode"`
	ToolTimeout           time.Duration `toml:"tool_timeout"`
	DefaultAgent          string        `toml:"default_agent"`
	AgentsDir             string        `toml:"agents_dir"`
}

// LLMConfig describes how to reach a model. It is used both for the [llm]
// runtime defaults and for per-agent overrides.
type LLMConfig struct {
	Provider string `toml:"provider" yaml:"provider"`
	Model    string `toml:"model" yaml:"model"`
	// Temperature is nil when not configured; an explicit 0 is kept.
	Temperature *float64 `toml:"temperature" yaml:"temperature"`
	MaxTokens   int64    `toml:"max_tokens" yaml:"max_tokens"`
	APIKey      string   `toml:"api_key" yaml:"api_key"`
	BaseURL     string   `toml:"base_url" yaml:"base_url"`
}

// Merge fills zero fields of c from defaults. Temperature is inherited only
// when unset.
func (c LLMConfig) Merge(defaults LLMConfig) LLMConfig {
	if c.Provider == "" {
		c.Provider = defaults.Provider
	}
	if c.Model == "" {
		c.Model = defaults.Model
	}
	if c.Temperature == nil && defaults.Temperature != nil {
		c.Temperature = core.Temperature(*defaults.Temperature)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaults.MaxTokens
	}
	if c.APIKey == "" {
		c.APIKey = defaults.APIKey
	}
	if c.BaseURL == "" {
		c.BaseURL = defaults.BaseURL
	}
	return c
}

func (c LLMConfig) validate() error {
	var errs []error
	switch strings.ToLower(c.Provider) {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unsupported provider %q (valid: %s, %s)", c.Provider, ProviderOpenAI, ProviderAnthropic))
	}
	if t := c.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("llm.temperature: %v is outside [0, 2]", *t))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, errors.New("llm.max_tokens must not be negative"))
	}
	return errors.Join(errs...)
}

// DockerConfig is the [docker] table used by the container execution mode.
type DockerConfig struct {
	Image string `toml:"image"`
	Name  string `toml:"name"`
}

// ExecutorConfig is the [executor] table.
type ExecutorConfig struct {
	SocketPath  string        `toml:"socket_path"`
	Workers     int           `toml:"workers"`
	ConnTimeout time.Duration `toml:"conn_timeout"`
	// Remote forces the executor client to be wired. Container mode always
	// forwards python-kind tools to the daemon.
	Remote bool `toml:"remote"`
}

// LoggingConfig is the [logging] table.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Source bool   `toml:"source"`
}

// RuntimeConfig is the process-wide configuration.
type RuntimeConfig struct {
	Agent    AgentSection   `toml:"agent"`
	LLM      LLMConfig      `toml:"llm"`
	Docker   DockerConfig   `toml:"docker"`
	Executor ExecutorConfig `toml:"executor"`
	Memory   memory.Config  `toml:"memory"`
	Logging  LoggingConfig  `toml:"logging"`
}

// Default returns the built-in configuration.
func Default() *RuntimeConfig {
	return &RuntimeConfig{
		Agent: AgentSection{
			MaxIterations:         DefaultMaxIterations,
			MaxConcurrentSessions: 10,
			ExecutionMode:         driver.ModeLocal,
			ToolTimeout:           driver.DefaultTimeout,
			AgentsDir:             DefaultAgentsDir,
		},
		LLM: LLMConfig{
			Provider:    ProviderOpenAI,
			Model:       "gpt-4o-mini",
			Temperature: core.Temperature(0.7),
			MaxTokens:   4096,
		},
		Docker: DockerConfig{
			Image: "python:3.12-slim",
			Name:  "exodus-tools",
		},
		Executor: ExecutorConfig{
			SocketPath:  executor.DefaultSocketPath,
			Workers:     executor.DefaultWorkers,
			ConnTimeout: executor.DefaultConnTimeout,
		},
		Memory: memory.Config{
			Backend:     memory.BackendMemory,
			SnapshotDir: ".exodus",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the TOML file at path over the defaults and applies
// environment overrides. An empty path means $EXODUS_CONFIG or
// ./exodus.toml; a missing default file yields the defaults. Unknown keys
// are an error.
func Load(path string) (*RuntimeConfig, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultConfigFile
	}

	meta, err := toml.DecodeFile(path, cfg)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !explicit:
		cfg.ApplyEnv()
		return cfg, nil
	default:
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("load config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// Parse decodes TOML text over the defaults. Environment overrides are not
// applied.
func Parse(data string) (*RuntimeConfig, error) {
	cfg := Default()
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides the API key from the environment. EXODUS_API_KEY wins;
// otherwise the key of the configured provider is used. Logging variables
// are applied later by LoggerConfig.
func (c *RuntimeConfig) ApplyEnv() {
	if key := os.Getenv(EnvAPIKey); key != "" {
		c.LLM.APIKey = key
		return
	}
	if c.LLM.APIKey != "" {
		return
	}
	switch strings.ToLower(c.LLM.Provider) {
	case ProviderOpenAI:
		c.LLM.APIKey = os.Getenv(EnvOpenAIKey)
	case ProviderAnthropic:
		c.LLM.APIKey = os.Getenv(EnvClaudeKey)
	}
}

// Validate checks the configuration and reports every problem found.
func (c *RuntimeConfig) Validate() error {
	var errs []error

	if c.Agent.MaxIterations < 0 {
		errs = append(errs, errors.New("agent.max_iterations must not be negative"))
	}
	if c.Agent.MaxConcurrentSessions < 0 {
		errs = append(errs, errors.New("agent.max_concurrent_sessions must not be negative"))
	}
	if c.Agent.ToolTimeout < 0 {
		errs = append(errs, errors.New("agent.tool_timeout must not be negative"))
	}
	switch strings.ToLower(c.Agent.ExecutionMode) {
	case "", driver.ModeLocal:
	case driver.ModeContainer, "docker":
		if c.Docker.Image == "" || c.Docker.Name == "" {
			errs = append(errs, errors.New("docker.image and docker.name are required in container mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("agent.execution_mode: unsupported mode %q", c.Agent.ExecutionMode))
	}

	if err := c.LLM.validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Executor.SocketPath == "" {
		errs = append(errs, errors.New("executor.socket_path is required"))
	}
	if c.Executor.Workers < 0 {
		errs = append(errs, errors.New("executor.workers must not be negative"))
	}

	switch strings.ToLower(c.Memory.Backend) {
	case "", memory.BackendMemory:
	case memory.BackendSQLite, memory.BackendMySQL:
		if c.Memory.DSN == "" {
			errs = append(errs, fmt.Errorf("memory.dsn is required for the %s backend", c.Memory.Backend))
		}
	case memory.BackendRedis:
		if c.Memory.RedisAddr == "" {
			errs = append(errs, errors.New("memory.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("memory.backend: unsupported backend %q", c.Memory.Backend))
	}
	if c.Memory.Capacity < 0 {
		errs = append(errs, errors.New("memory.capacity must not be negative"))
	}

	if _, ok := logging.ParseLevel(c.Logging.Level); !ok && c.Logging.Level != "" {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// LoggerConfig converts the [logging] table, with EXODUS_LOG_* overrides.
func (c *RuntimeConfig) LoggerConfig(component string) *logging.LoggerConfig {
	lc := logging.DefaultLoggerConfig()
	lc.Component = component
	if lvl, ok := logging.ParseLevel(c.Logging.Level); ok {
		lc.Level = lvl
	}
	if c.Logging.Format != "" {
		lc.Format = c.Logging.Format
	}
	lc.AddSource = c.Logging.Source
	logging.ApplyEnv(lc)
	return lc
}

// DriverConfig converts the execution settings. remote serves python-kind
// tools in container mode and may be nil.
func (c *RuntimeConfig) DriverConfig(remote driver.Remote, logger logging.Logger) driver.Config {
	return driver.Config{
		Mode:      c.Agent.ExecutionMode,
		Image:     c.Docker.Image,
		Container: c.Docker.Name,
		Remote:    remote,
		Options: driver.Options{
			Timeout: c.Agent.ToolTimeout,
			Logger:  logger,
		},
	}
}
