package claude

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file configuration.
const (
	EnvCLIPath        = "CLAUDEWIRE_CLI_PATH"
	EnvModel          = "CLAUDEWIRE_MODEL"
	EnvPermissionMode = "CLAUDEWIRE_PERMISSION_MODE"
	EnvControlTimeout = "CLAUDEWIRE_CONTROL_TIMEOUT"
	EnvMaxBufferSize  = "CLAUDEWIRE_MAX_BUFFER_SIZE"
)

// Duration is a time.Duration written as a string such as "30s" in config
// files.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the file form of a session's options.
type Config struct {
	CLIPath            string            `toml:"cli_path" yaml:"cli_path"`
	Cwd                string            `toml:"cwd" yaml:"cwd"`
	Model              string            `toml:"model" yaml:"model"`
	FallbackModel      string            `toml:"fallback_model" yaml:"fallback_model"`
	PermissionMode     PermissionMode    `toml:"permission_mode" yaml:"permission_mode"`
	SystemPrompt       string            `toml:"system_prompt" yaml:"system_prompt"`
	AppendSystemPrompt string            `toml:"append_system_prompt" yaml:"append_system_prompt"`
	AllowedTools       []string          `toml:"allowed_tools" yaml:"allowed_tools"`
	DisallowedTools    []string          `toml:"disallowed_tools" yaml:"disallowed_tools"`
	MaxTurns           int               `toml:"max_turns" yaml:"max_turns"`
	MaxBudgetUSD       *float64          `toml:"max_budget_usd" yaml:"max_budget_usd"`
	AddDirs            []string          `toml:"add_dirs" yaml:"add_dirs"`
	SettingSources     []SettingSource   `toml:"setting_sources" yaml:"setting_sources"`
	Env                map[string]string `toml:"env" yaml:"env"`

	EnableFileCheckpointing bool                       `toml:"enable_file_checkpointing" yaml:"enable_file_checkpointing"`
	IncludePartialMessages  bool                       `toml:"include_partial_messages" yaml:"include_partial_messages"`
	Agents                  map[string]AgentDefinition `toml:"agents" yaml:"agents"`

	ControlTimeout             Duration `toml:"control_timeout" yaml:"control_timeout"`
	InitializeTimeout          Duration `toml:"initialize_timeout" yaml:"initialize_timeout"`
	CloseTimeout               Duration `toml:"close_timeout" yaml:"close_timeout"`
	MaxBufferSize              int      `toml:"max_buffer_size" yaml:"max_buffer_size"`
	MaxConsecutiveDecodeErrors int      `toml:"max_consecutive_decode_errors" yaml:"max_consecutive_decode_errors"`
	MaxConcurrentCallbacks     int64    `toml:"max_concurrent_callbacks" yaml:"max_concurrent_callbacks"`
}

// LoadConfig reads a TOML or YAML file, chosen by extension, applies
// environment overrides and validates the result. An empty path loads only
// the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if err := decodeConfigFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeConfigFile(path string, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return configError(fmt.Sprintf("parsing %s", path), err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return configError(fmt.Sprintf("reading %s", path), err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return configError(fmt.Sprintf("parsing %s", path), err)
		}
	default:
		return newPreconditionError(fmt.Sprintf("unsupported config format %q, use .toml, .yaml or .yml", ext))
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvCLIPath); v != "" {
		c.CLIPath = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Model = v
	}
	if v := os.Getenv(EnvPermissionMode); v != "" {
		c.PermissionMode = PermissionMode(v)
	}
	if v := os.Getenv(EnvControlTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return configError(EnvControlTimeout, err)
		}
		c.ControlTimeout = Duration(d)
	}
	if v := os.Getenv(EnvMaxBufferSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return configError(EnvMaxBufferSize, err)
		}
		c.MaxBufferSize = n
	}
	return nil
}

// Validate rejects values the CLI or the engine cannot use.
func (c *Config) Validate() error {
	switch c.PermissionMode {
	case "", PermissionDefault, PermissionAcceptEdits, PermissionPlan, PermissionBypassPermissions:
	default:
		return newPreconditionError(fmt.Sprintf("unknown permission mode %q", c.PermissionMode))
	}
	for _, s := range c.SettingSources {
		switch s {
		case SettingSourceUser, SettingSourceProject, SettingSourceLocal:
		default:
			return newPreconditionError(fmt.Sprintf("unknown setting source %q", s))
		}
	}
	if c.ControlTimeout < 0 || c.InitializeTimeout < 0 || c.CloseTimeout < 0 {
		return newPreconditionError("timeouts must not be negative")
	}
	if c.MaxBufferSize < 0 {
		return newPreconditionError("max_buffer_size must not be negative")
	}
	if c.MaxTurns < 0 {
		return newPreconditionError("max_turns must not be negative")
	}
	return nil
}

// Options converts the configuration into client options. Zero values keep
// the defaults.
func (c *Config) Options() []Option {
	var opts []Option
	add := func(cond bool, opt Option) {
		if cond {
			opts = append(opts, opt)
		}
	}
	add(c.CLIPath != "", WithCLIPath(c.CLIPath))
	add(c.Cwd != "", WithCwd(c.Cwd))
	add(c.Model != "", WithModel(c.Model))
	add(c.FallbackModel != "", WithFallbackModel(c.FallbackModel))
	add(c.PermissionMode != "", WithPermissionMode(c.PermissionMode))
	add(c.SystemPrompt != "", WithSystemPrompt(c.SystemPrompt))
	add(c.AppendSystemPrompt != "", WithAppendSystemPrompt(c.AppendSystemPrompt))
	add(len(c.AllowedTools) > 0, WithAllowedTools(c.AllowedTools...))
	add(len(c.DisallowedTools) > 0, WithDisallowedTools(c.DisallowedTools...))
	add(c.MaxTurns > 0, WithMaxTurns(c.MaxTurns))
	if c.MaxBudgetUSD != nil {
		opts = append(opts, WithMaxBudgetUSD(*c.MaxBudgetUSD))
	}
	add(len(c.AddDirs) > 0, WithAddDirs(c.AddDirs...))
	add(len(c.SettingSources) > 0, WithSettingSources(c.SettingSources...))
	add(len(c.Env) > 0, WithEnv(c.Env))
	add(c.EnableFileCheckpointing, WithEnableFileCheckpointing())
	add(c.IncludePartialMessages, WithIncludePartialMessages())
	add(len(c.Agents) > 0, WithAgents(c.Agents))
	add(c.ControlTimeout > 0, WithControlTimeout(time.Duration(c.ControlTimeout)))
	add(c.InitializeTimeout > 0, WithInitializeTimeout(time.Duration(c.InitializeTimeout)))
	add(c.CloseTimeout > 0, WithCloseTimeout(time.Duration(c.CloseTimeout)))
	add(c.MaxBufferSize > 0, WithMaxBufferSize(c.MaxBufferSize))
	add(c.MaxConsecutiveDecodeErrors != 0, WithMaxConsecutiveDecodeErrors(c.MaxConsecutiveDecodeErrors))
	add(c.MaxConcurrentCallbacks > 0, WithMaxConcurrentCallbacks(c.MaxConcurrentCallbacks))
	return opts
}

func configError(what string, cause error) error {
	return &PreconditionError{SDKError: SDKError{Message: "invalid configuration: " + what, Cause: cause}}
}
