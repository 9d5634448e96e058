package core

import (
	"context"
	"fmt"
	"net"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/edvin/pacgate/internal/model"
	"github.com/edvin/pacgate/internal/platform"
)

// RuleInput is one rule in a replacement set, as submitted by the
// administrative caller.
type RuleInput struct {
	Priority int              `json:"priority" yaml:"priority"`
	Pattern  string           `json:"pattern" yaml:"pattern"`
	Action   model.RuleAction `json:"action" yaml:"action"`
	Target   string           `json:"target,omitempty" yaml:"target,omitempty"`
}

// RuleService owns rule ordering. Writes go through the database and are
// serialized; reads come from an immutable in-memory snapshot swapped
// atomically after each committed replacement, so the hot path never touches
// the database.
type RuleService struct {
	db TxDB

	mu   sync.Mutex
	snap atomic.Pointer[ruleSnapshot]
}

// ruleSnapshot is an immutable view of all rule scopes at a set of versions.
type ruleSnapshot struct {
	versions map[string]int64
	rules    map[string][]model.Rule
}

func NewRuleService(db TxDB) *RuleService {
	s := &RuleService{db: db}
	s.snap.Store(&ruleSnapshot{
		versions: map[string]int64{},
		rules:    map[string][]model.Rule{},
	})
	return s
}

// Load reads every scope's rules from the database and swaps in a fresh
// snapshot. Called at startup and after each committed write.
func (s *RuleService) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reload(ctx)
}

func (s *RuleService) reload(ctx context.Context) error {
	versions := map[string]int64{}

	rows, err := s.db.Query(ctx, `SELECT scope, version FROM rule_scopes`)
	if err != nil {
		return fmt.Errorf("load rule scopes: %w", err)
	}
	for rows.Next() {
		var scope string
		var version int64
		if err := rows.Scan(&scope, &version); err != nil {
			rows.Close()
			return fmt.Errorf("scan rule scope: %w", err)
		}
		versions[scope] = version
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rule scopes: %w", err)
	}

	rules := map[string][]model.Rule{}

	rows, err = s.db.Query(ctx,
		`SELECT id, scope, position, priority, pattern, action, target, created_at
		 FROM rules ORDER BY scope, position`)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r model.Rule
		var target *string
		if err := rows.Scan(&r.ID, &r.Scope, &r.Position, &r.Priority, &r.Pattern, &r.Action, &target, &r.CreatedAt); err != nil {
			return fmt.Errorf("scan rule: %w", err)
		}
		if target != nil {
			r.Target = *target
		}
		rules[r.Scope] = append(rules[r.Scope], r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rules: %w", err)
	}

	s.snap.Store(&ruleSnapshot{versions: versions, rules: rules})
	return nil
}

// SetRules atomically replaces the rule set for a scope and returns the new
// version. Readers observe either the previous set or the new one, never a
// mix; concurrent replacements of the same scope resolve last-committer-wins.
func (s *RuleService) SetRules(ctx context.Context, scope string, inputs []RuleInput) (int64, error) {
	normalized, err := normalizeRules(scope, inputs)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin set rules: %w", err)
	}
	defer tx.Rollback(ctx)

	var version int64
	err = tx.QueryRow(ctx,
		`INSERT INTO rule_scopes (scope, version) VALUES ($1, 1)
		 ON CONFLICT (scope) DO UPDATE SET version = rule_scopes.version + 1
		 RETURNING version`, scope,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("bump rule version for scope %s: %w", scope, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM rules WHERE scope = $1`, scope); err != nil {
		return 0, fmt.Errorf("clear rules for scope %s: %w", scope, err)
	}

	for _, r := range normalized {
		var target *string
		if r.Target != "" {
			target = &r.Target
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO rules (id, scope, position, priority, pattern, action, target, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
			r.ID, r.Scope, r.Position, r.Priority, r.Pattern, r.Action, target,
		); err != nil {
			return 0, fmt.Errorf("insert rule: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit set rules: %w", err)
	}

	if err := s.reload(ctx); err != nil {
		return 0, err
	}
	return version, nil
}

// GetRules returns the stored rules for a scope in definition order.
func (s *RuleService) GetRules(scope string) []model.Rule {
	snap := s.snap.Load()
	rules := snap.rules[scope]
	out := make([]model.Rule, len(rules))
	copy(out, rules)
	return out
}

// ResolveRules merges device-scoped and global rules into the effective
// evaluation order: ascending priority, device before global at equal
// priority, then definition order.
func (s *RuleService) ResolveRules(deviceID string) []model.Rule {
	snap := s.snap.Load()
	return mergeRules(snap.rules[deviceID], snap.rules[model.ScopeGlobal])
}

// Version returns the PAC cache key component for a device, combining the
// global and device scope versions.
func (s *RuleService) Version(deviceID string) string {
	snap := s.snap.Load()
	return fmt.Sprintf("g%d.d%d", snap.versions[model.ScopeGlobal], snap.versions[deviceID])
}

// Effective returns a device's merged rules together with the version they
// were merged at. Both come from a single snapshot read, so a concurrent
// replacement can never pair one version's label with another version's
// rules.
func (s *RuleService) Effective(deviceID string) ([]model.Rule, string) {
	snap := s.snap.Load()
	rules := mergeRules(snap.rules[deviceID], snap.rules[model.ScopeGlobal])
	version := fmt.Sprintf("g%d.d%d", snap.versions[model.ScopeGlobal], snap.versions[deviceID])
	return rules, version
}

// DeleteScope removes a scope's version row and rules, used when the device
// owning the scope is deleted. The global scope cannot be removed.
func (s *RuleService) DeleteScope(ctx context.Context, scope string) error {
	if scope == model.ScopeGlobal {
		return fmt.Errorf("cannot delete the global rule scope")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// rules rows cascade from the scope row.
	if _, err := s.db.Exec(ctx, `DELETE FROM rule_scopes WHERE scope = $1`, scope); err != nil {
		return fmt.Errorf("delete rule scope %s: %w", scope, err)
	}
	return s.reload(ctx)
}

func mergeRules(device, global []model.Rule) []model.Rule {
	merged := make([]model.Rule, 0, len(device)+len(global))
	merged = append(merged, device...)
	merged = append(merged, global...)

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		aDevice := a.Scope != model.ScopeGlobal
		bDevice := b.Scope != model.ScopeGlobal
		if aDevice != bDevice {
			return aDevice
		}
		return a.Position < b.Position
	})
	return merged
}

// MatchHost reports whether a rule pattern matches a hostname. Matching is
// case-insensitive; "*.example.com" covers the apex domain and all
// subdomains; other globs follow shExpMatch semantics.
func MatchHost(pattern, host string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	host = strings.ToLower(strings.TrimSpace(host))
	if pattern == "" || host == "" {
		return false
	}

	if suffix, ok := strings.CutPrefix(pattern, "*."); ok && !strings.ContainsAny(suffix, "*?") {
		return host == suffix || strings.HasSuffix(host, "."+suffix)
	}
	if strings.ContainsAny(pattern, "*?") {
		ok, err := path.Match(pattern, host)
		return err == nil && ok
	}
	return pattern == host
}

// Match evaluates resolved rules against a hostname, first match wins. Hosts
// matching no rule go direct, mirroring the compiled PAC fall-through.
func Match(rules []model.Rule, host string) (model.RuleAction, string) {
	for _, r := range rules {
		if MatchHost(r.Pattern, host) {
			return r.Action, r.Target
		}
	}
	return model.ActionDirect, ""
}

// normalizeRules validates a replacement set and assigns IDs and positions.
func normalizeRules(scope string, inputs []RuleInput) ([]model.Rule, error) {
	seen := make(map[int]bool, len(inputs))
	rules := make([]model.Rule, 0, len(inputs))

	for i, in := range inputs {
		if seen[in.Priority] {
			return nil, &RuleConflictError{Scope: scope, Priority: in.Priority}
		}
		seen[in.Priority] = true

		pattern := strings.ToLower(strings.TrimSpace(in.Pattern))
		if pattern == "" {
			return nil, fmt.Errorf("rule %d: pattern is required", i)
		}
		if !model.ValidRuleAction(in.Action) {
			return nil, fmt.Errorf("rule %d: invalid action %q", i, in.Action)
		}

		target := strings.TrimSpace(in.Target)
		switch in.Action {
		case model.ActionProxy:
			if _, _, err := net.SplitHostPort(target); err != nil {
				return nil, fmt.Errorf("rule %d: proxy target must be host:port: %w", i, err)
			}
		default:
			if target != "" {
				return nil, fmt.Errorf("rule %d: target is only valid for proxy rules", i)
			}
		}

		rules = append(rules, model.Rule{
			ID:       platform.NewID(),
			Scope:    scope,
			Position: i,
			Priority: in.Priority,
			Pattern:  pattern,
			Action:   in.Action,
			Target:   target,
		})
	}
	return rules, nil
}
