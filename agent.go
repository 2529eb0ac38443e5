package claude

// SettingSource names a settings scope the CLI may load.
type SettingSource string

const (
	SettingSourceUser    SettingSource = "user"
	SettingSourceProject SettingSource = "project"
	SettingSourceLocal   SettingSource = "local"
)

// AgentDefinition declares a subagent. Definitions travel in the initialize
// request, not on the command line.
type AgentDefinition struct {
	Description string   `json:"description" yaml:"description" toml:"description"`
	Prompt      string   `json:"prompt" yaml:"prompt" toml:"prompt"`
	Tools       []string `json:"tools,omitempty" yaml:"tools,omitempty" toml:"tools,omitempty"`
	// Model is one of "sonnet", "opus", "haiku" or "inherit".
	Model string `json:"model,omitempty" yaml:"model,omitempty" toml:"model,omitempty"`
}
