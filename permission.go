package claude

import "context"

// PermissionMode controls how the CLI asks before running tools.
type PermissionMode string

const (
	PermissionDefault           PermissionMode = "default"
	PermissionAcceptEdits       PermissionMode = "acceptEdits"
	PermissionPlan              PermissionMode = "plan"
	PermissionBypassPermissions PermissionMode = "bypassPermissions"
)

type PermissionBehavior string

const (
	PermissionBehaviorAllow PermissionBehavior = "allow"
	PermissionBehaviorDeny  PermissionBehavior = "deny"
	PermissionBehaviorAsk   PermissionBehavior = "ask"
)

type PermissionUpdateDestination string

const (
	PermissionDestUserSettings    PermissionUpdateDestination = "userSettings"
	PermissionDestProjectSettings PermissionUpdateDestination = "projectSettings"
	PermissionDestLocalSettings   PermissionUpdateDestination = "localSettings"
	PermissionDestSession         PermissionUpdateDestination = "session"
)

type PermissionUpdateType string

const (
	PermissionUpdateAddRules          PermissionUpdateType = "addRules"
	PermissionUpdateReplaceRules      PermissionUpdateType = "replaceRules"
	PermissionUpdateRemoveRules       PermissionUpdateType = "removeRules"
	PermissionUpdateSetMode           PermissionUpdateType = "setMode"
	PermissionUpdateAddDirectories    PermissionUpdateType = "addDirectories"
	PermissionUpdateRemoveDirectories PermissionUpdateType = "removeDirectories"
)

type PermissionRuleValue struct {
	ToolName    string `json:"toolName"`
	RuleContent string `json:"ruleContent,omitempty"`
}

// PermissionUpdate is a change to permission rules, either suggested by the
// CLI or returned by the host. Only the fields relevant to Type are set.
type PermissionUpdate struct {
	Type        PermissionUpdateType        `json:"type"`
	Rules       []PermissionRuleValue       `json:"rules,omitempty"`
	Behavior    PermissionBehavior          `json:"behavior,omitempty"`
	Mode        PermissionMode              `json:"mode,omitempty"`
	Directories []string                    `json:"directories,omitempty"`
	Destination PermissionUpdateDestination `json:"destination,omitempty"`
}

// ToolPermissionContext describes a can_use_tool request.
type ToolPermissionContext struct {
	RequestID   string
	ToolUseID   string
	BlockedPath string
	Suggestions []PermissionUpdate
}

// PermissionResult is either *PermissionResultAllow or *PermissionResultDeny.
type PermissionResult interface {
	permissionBehavior() PermissionBehavior
}

type PermissionResultAllow struct {
	// UpdatedInput replaces the tool input. Nil keeps the original.
	UpdatedInput       map[string]any
	UpdatedPermissions []PermissionUpdate
}

func (r *PermissionResultAllow) permissionBehavior() PermissionBehavior {
	return PermissionBehaviorAllow
}

type PermissionResultDeny struct {
	Message string
	// Interrupt also stops the current turn.
	Interrupt bool
}

func (r *PermissionResultDeny) permissionBehavior() PermissionBehavior {
	return PermissionBehaviorDeny
}

// CanUseToolFunc decides whether the CLI may run a tool.
type CanUseToolFunc func(
	ctx context.Context,
	toolName string,
	input map[string]any,
	permCtx ToolPermissionContext,
) (PermissionResult, error)
