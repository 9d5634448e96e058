package model

import "time"

// ScopeGlobal is the scope shared by all devices. Any other scope value is a
// device ID.
const ScopeGlobal = "global"

// RuleAction is what the compiled PAC script returns when a rule matches.
type RuleAction string

const (
	// ActionProxy routes matching hosts through the rule's target proxy.
	ActionProxy RuleAction = "proxy"
	// ActionDirect bypasses the proxy for matching hosts.
	ActionDirect RuleAction = "direct"
	// ActionBlock points matching hosts at a blackhole address.
	ActionBlock RuleAction = "block"
)

// ValidRuleAction reports whether a is a known rule action.
func ValidRuleAction(a RuleAction) bool {
	switch a {
	case ActionProxy, ActionDirect, ActionBlock:
		return true
	}
	return false
}

// Rule maps a hostname pattern to a routing action. Patterns are hostname
// globs; "*.example.com" matches the apex domain and all subdomains.
type Rule struct {
	ID    string `json:"id"`
	Scope string `json:"scope"`
	// Position is the definition order within the scope, used to break
	// priority ties deterministically.
	Position  int        `json:"position"`
	Priority  int        `json:"priority"`
	Pattern   string     `json:"pattern"`
	Action    RuleAction `json:"action"`
	Target    string     `json:"target,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
