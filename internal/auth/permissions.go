package auth

// Resource identifies what a permission applies to.
type Resource string

// Action identifies what is being attempted on a resource.
type Action string

const (
	ResourceDevice Resource = "device"

	ActionRead    Action = "read"
	ActionControl Action = "control"
)

// Agent types with defined permissions. An unknown type holds none.
const (
	AgentTypeControl    = "control"
	AgentTypeMonitoring = "monitoring"
	AgentTypeAnalytics  = "analytics"
)

type permission struct {
	resource Resource
	action   Action
}

// Static permission rules. Deny is the default: a (type, resource,
// action) triple absent from this table is refused.
var permissionRules = map[string][]permission{
	AgentTypeControl:    {{ResourceDevice, ActionControl}},
	AgentTypeMonitoring: {{ResourceDevice, ActionRead}},
	AgentTypeAnalytics:  {{ResourceDevice, ActionRead}},
}

// CheckPermission reports whether an agent type may perform action on a
// resource.
func CheckPermission(agentType string, resource Resource, action Action) bool {
	for _, p := range permissionRules[agentType] {
		if p.resource == resource && p.action == action {
			return true
		}
	}
	return false
}
