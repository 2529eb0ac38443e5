package claude

import (
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/ptr"
)

const (
	defaultControlTimeout            = 60 * time.Second
	defaultInitializeTimeout         = 60 * time.Second
	defaultCloseTimeout              = 5 * time.Second
	defaultMaxConsecutiveDecodeError = 10
	defaultMaxConcurrentCallbacks    = 16
)

// AgentOptions configures a session: the CLI invocation and the protocol
// engine that drives it.
type AgentOptions struct {
	// CLI invocation.

	Tools                    []string
	AllowedTools             []string
	DisallowedTools          []string
	SystemPrompt             *string
	AppendSystemPrompt       string
	McpServers               map[string]McpServerConfig
	PermissionMode           PermissionMode
	PermissionPromptToolName string
	ContinueConversation     bool
	Resume                   string
	ForkSession              bool
	MaxTurns                 int
	MaxBudgetUSD             *float64
	MaxThinkingTokens        *int
	Model                    string
	FallbackModel            string
	Settings                 string
	SettingSources           []SettingSource
	AddDirs                  []string
	IncludePartialMessages   bool
	Agents                   map[string]AgentDefinition

	// ExtraArgs passes arbitrary CLI flags (flag -> value, nil value for
	// boolean flags).
	ExtraArgs map[string]*string

	// EnableFileCheckpointing must be set for RewindFiles to be allowed.
	EnableFileCheckpointing bool

	// Process.

	Cwd     string
	CLIPath string
	Env     map[string]string
	User    string

	// Stderr receives CLI stderr line by line. Without it, lines are logged
	// at debug level.
	Stderr func(string)

	// Callbacks.

	CanUseTool CanUseToolFunc
	Hooks      map[HookEvent][]HookMatcher

	// Engine.

	// MaxBufferSize caps a single inbound line. Defaults to 10 MiB.
	MaxBufferSize int

	ControlTimeout    time.Duration
	InitializeTimeout time.Duration
	CloseTimeout      time.Duration

	// MaxConsecutiveDecodeErrors stops the pump after this many malformed
	// frames in a row. Zero or less disables the limit.
	MaxConsecutiveDecodeErrors int

	MaxConcurrentCallbacks int64

	Logger *zap.Logger

	// Transport replaces the CLI subprocess, mainly for tests and relays.
	Transport Transport
}

// Option is a functional option for configuring AgentOptions.
type Option func(*AgentOptions)

func applyOptions(opts []Option) *AgentOptions {
	o := &AgentOptions{
		MaxBufferSize:              defaultMaxBufferSize,
		ControlTimeout:             defaultControlTimeout,
		InitializeTimeout:          defaultInitializeTimeout,
		CloseTimeout:               defaultCloseTimeout,
		MaxConsecutiveDecodeErrors: defaultMaxConsecutiveDecodeError,
		MaxConcurrentCallbacks:     defaultMaxConcurrentCallbacks,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.MaxBufferSize <= 0 {
		o.MaxBufferSize = defaultMaxBufferSize
	}
	if o.MaxConcurrentCallbacks <= 0 {
		o.MaxConcurrentCallbacks = defaultMaxConcurrentCallbacks
	}
	return o
}

func WithTools(tools ...string) Option {
	return func(o *AgentOptions) { o.Tools = tools }
}

func WithAllowedTools(tools ...string) Option {
	return func(o *AgentOptions) { o.AllowedTools = tools }
}

func WithDisallowedTools(tools ...string) Option {
	return func(o *AgentOptions) { o.DisallowedTools = tools }
}

// WithSystemPrompt replaces the CLI's system prompt. An empty prompt clears it.
func WithSystemPrompt(prompt string) Option {
	return func(o *AgentOptions) { o.SystemPrompt = ptr.To(prompt) }
}

// WithAppendSystemPrompt keeps the default system prompt and appends text.
func WithAppendSystemPrompt(text string) Option {
	return func(o *AgentOptions) {
		o.AppendSystemPrompt = text
		o.SystemPrompt = nil
	}
}

func WithMcpServers(servers map[string]McpServerConfig) Option {
	return func(o *AgentOptions) { o.McpServers = servers }
}

func WithPermissionMode(mode PermissionMode) Option {
	return func(o *AgentOptions) { o.PermissionMode = mode }
}

func WithPermissionPromptToolName(name string) Option {
	return func(o *AgentOptions) { o.PermissionPromptToolName = name }
}

func WithContinueConversation() Option {
	return func(o *AgentOptions) { o.ContinueConversation = true }
}

func WithResume(sessionID string) Option {
	return func(o *AgentOptions) { o.Resume = sessionID }
}

func WithForkSession() Option {
	return func(o *AgentOptions) { o.ForkSession = true }
}

func WithMaxTurns(n int) Option {
	return func(o *AgentOptions) { o.MaxTurns = n }
}

func WithMaxBudgetUSD(budget float64) Option {
	return func(o *AgentOptions) { o.MaxBudgetUSD = ptr.To(budget) }
}

func WithMaxThinkingTokens(tokens int) Option {
	return func(o *AgentOptions) { o.MaxThinkingTokens = ptr.To(tokens) }
}

func WithModel(model string) Option {
	return func(o *AgentOptions) { o.Model = model }
}

func WithFallbackModel(model string) Option {
	return func(o *AgentOptions) { o.FallbackModel = model }
}

// WithSettings sets a settings file path or an inline JSON object.
func WithSettings(settings string) Option {
	return func(o *AgentOptions) { o.Settings = settings }
}

func WithSettingSources(sources ...SettingSource) Option {
	return func(o *AgentOptions) { o.SettingSources = sources }
}

func WithAddDirs(dirs ...string) Option {
	return func(o *AgentOptions) { o.AddDirs = dirs }
}

func WithIncludePartialMessages() Option {
	return func(o *AgentOptions) { o.IncludePartialMessages = true }
}

func WithAgents(agents map[string]AgentDefinition) Option {
	return func(o *AgentOptions) { o.Agents = agents }
}

func WithExtraArgs(args map[string]*string) Option {
	return func(o *AgentOptions) { o.ExtraArgs = args }
}

func WithEnableFileCheckpointing() Option {
	return func(o *AgentOptions) { o.EnableFileCheckpointing = true }
}

func WithCwd(cwd string) Option {
	return func(o *AgentOptions) { o.Cwd = cwd }
}

func WithCLIPath(path string) Option {
	return func(o *AgentOptions) { o.CLIPath = path }
}

func WithEnv(env map[string]string) Option {
	return func(o *AgentOptions) { o.Env = env }
}

// WithUser runs the CLI as another OS user. Unix only.
func WithUser(user string) Option {
	return func(o *AgentOptions) { o.User = user }
}

func WithStderr(fn func(string)) Option {
	return func(o *AgentOptions) { o.Stderr = fn }
}

func WithCanUseTool(fn CanUseToolFunc) Option {
	return func(o *AgentOptions) { o.CanUseTool = fn }
}

func WithHooks(hooks map[HookEvent][]HookMatcher) Option {
	return func(o *AgentOptions) { o.Hooks = hooks }
}

func WithMaxBufferSize(size int) Option {
	return func(o *AgentOptions) { o.MaxBufferSize = size }
}

// WithControlTimeout bounds each control request. Zero waits indefinitely.
func WithControlTimeout(d time.Duration) Option {
	return func(o *AgentOptions) { o.ControlTimeout = d }
}

func WithInitializeTimeout(d time.Duration) Option {
	return func(o *AgentOptions) { o.InitializeTimeout = d }
}

// WithCloseTimeout sets how long Close waits for the CLI to exit after its
// stdin is closed before killing it.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *AgentOptions) { o.CloseTimeout = d }
}

func WithMaxConsecutiveDecodeErrors(n int) Option {
	return func(o *AgentOptions) { o.MaxConsecutiveDecodeErrors = n }
}

func WithMaxConcurrentCallbacks(n int64) Option {
	return func(o *AgentOptions) { o.MaxConcurrentCallbacks = n }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *AgentOptions) { o.Logger = logger }
}

func WithTransport(t Transport) Option {
	return func(o *AgentOptions) { o.Transport = t }
}
