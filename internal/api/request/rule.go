package request

// RuleEntry is one rule in a replacement set.
type RuleEntry struct {
	Priority int    `json:"priority"`
	Pattern  string `json:"pattern" validate:"required"`
	Action   string `json:"action" validate:"required,oneof=proxy direct block"`
	Target   string `json:"target"`
}

// SetRules replaces the full rule set for a scope.
type SetRules struct {
	Rules []RuleEntry `json:"rules" validate:"required,dive"`
}
