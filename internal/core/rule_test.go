package core

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/pacgate/internal/model"
)

func scopeScanFunc(scope string, version int64) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = scope
		*(dest[1].(*int64)) = version
		return nil
	}
}

func ruleScanFunc(id, scope string, position, priority int, pattern string, action model.RuleAction, target string) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = id
		*(dest[1].(*string)) = scope
		*(dest[2].(*int)) = position
		*(dest[3].(*int)) = priority
		*(dest[4].(*string)) = pattern
		*(dest[5].(*model.RuleAction)) = action
		if target != "" {
			tgt := target
			*(dest[6].(**string)) = &tgt
		}
		*(dest[7].(*time.Time)) = time.Now()
		return nil
	}
}

func TestRuleService_Load(t *testing.T) {
	db := &mockDB{}
	svc := NewRuleService(db)
	ctx := context.Background()

	scopeRows := newMockRows(
		scopeScanFunc(model.ScopeGlobal, 3),
		scopeScanFunc("dev-1", 1),
	)
	ruleRows := newMockRows(
		ruleScanFunc("r-1", model.ScopeGlobal, 0, 10, "*.example.com", model.ActionProxy, "proxy.local:8080"),
		ruleScanFunc("r-2", "dev-1", 0, 5, "ads.example.net", model.ActionBlock, ""),
	)
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(scopeRows, nil).Once()
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(ruleRows, nil).Once()

	require.NoError(t, svc.Load(ctx))

	global := svc.GetRules(model.ScopeGlobal)
	require.Len(t, global, 1)
	assert.Equal(t, "*.example.com", global[0].Pattern)

	assert.Equal(t, "g3.d1", svc.Version("dev-1"))
	assert.Equal(t, "g3.d0", svc.Version("dev-2"))
}

func TestRuleService_SetRules_Success(t *testing.T) {
	db := &mockDB{}
	tx := &mockTx{}
	svc := NewRuleService(db)
	ctx := context.Background()

	db.On("Begin", ctx).Return(tx, nil).Once()
	tx.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(&mockRow{
		scanFunc: func(dest ...any) error {
			*(dest[0].(*int64)) = 4
			return nil
		},
	}).Once()
	// One DELETE plus one INSERT per rule.
	tx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("DELETE 2"), nil).Times(3)
	tx.On("Commit", ctx).Return(nil).Once()
	tx.On("Rollback", ctx).Return(pgx.ErrTxClosed)

	// Snapshot reload after commit.
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newMockRows(scopeScanFunc(model.ScopeGlobal, 4)), nil).Once()
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newEmptyMockRows(), nil).Once()

	version, err := svc.SetRules(ctx, model.ScopeGlobal, []RuleInput{
		{Priority: 1, Pattern: "*.Streaming.example", Action: model.ActionProxy, Target: "proxy.local:8080"},
		{Priority: 2, Pattern: "tracker.example", Action: model.ActionBlock},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), version)
	tx.AssertExpectations(t)
	db.AssertExpectations(t)
}

func TestRuleService_SetRules_DuplicatePriority(t *testing.T) {
	db := &mockDB{}
	svc := NewRuleService(db)

	_, err := svc.SetRules(context.Background(), model.ScopeGlobal, []RuleInput{
		{Priority: 1, Pattern: "a.example", Action: model.ActionDirect},
		{Priority: 1, Pattern: "b.example", Action: model.ActionDirect},
	})
	var conflict *RuleConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 1, conflict.Priority)
	assert.Equal(t, model.ScopeGlobal, conflict.Scope)
	db.AssertNotCalled(t, "Begin")
}

func TestNormalizeRules(t *testing.T) {
	t.Run("proxy requires host:port target", func(t *testing.T) {
		_, err := normalizeRules("g", []RuleInput{
			{Priority: 1, Pattern: "a.example", Action: model.ActionProxy, Target: "no-port"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "host:port")
	})

	t.Run("target rejected on non-proxy rules", func(t *testing.T) {
		_, err := normalizeRules("g", []RuleInput{
			{Priority: 1, Pattern: "a.example", Action: model.ActionBlock, Target: "proxy.local:8080"},
		})
		require.Error(t, err)
	})

	t.Run("empty pattern rejected", func(t *testing.T) {
		_, err := normalizeRules("g", []RuleInput{
			{Priority: 1, Pattern: "   ", Action: model.ActionDirect},
		})
		require.Error(t, err)
	})

	t.Run("invalid action rejected", func(t *testing.T) {
		_, err := normalizeRules("g", []RuleInput{
			{Priority: 1, Pattern: "a.example", Action: "tunnel"},
		})
		require.Error(t, err)
	})

	t.Run("patterns lowercased and positions assigned", func(t *testing.T) {
		rules, err := normalizeRules("g", []RuleInput{
			{Priority: 2, Pattern: "*.Example.COM", Action: model.ActionDirect},
			{Priority: 1, Pattern: "b.example", Action: model.ActionDirect},
		})
		require.NoError(t, err)
		require.Len(t, rules, 2)
		assert.Equal(t, "*.example.com", rules[0].Pattern)
		assert.Equal(t, 0, rules[0].Position)
		assert.Equal(t, 1, rules[1].Position)
		assert.NotEmpty(t, rules[0].ID)
	})
}

func TestMergeRules_Ordering(t *testing.T) {
	device := []model.Rule{
		{ID: "d-1", Scope: "dev-1", Position: 0, Priority: 10},
		{ID: "d-2", Scope: "dev-1", Position: 1, Priority: 30},
	}
	global := []model.Rule{
		{ID: "g-1", Scope: model.ScopeGlobal, Position: 0, Priority: 10},
		{ID: "g-2", Scope: model.ScopeGlobal, Position: 1, Priority: 20},
	}

	merged := mergeRules(device, global)
	ids := make([]string, len(merged))
	for i, r := range merged {
		ids[i] = r.ID
	}

	// Ascending priority; device wins ties.
	assert.Equal(t, []string{"d-1", "g-1", "g-2", "d-2"}, ids)
}

func TestMatchHost(t *testing.T) {
	tests := []struct {
		pattern string
		host    string
		want    bool
	}{
		{"*.crunchyroll.com", "static.crunchyroll.com", true},
		{"*.crunchyroll.com", "crunchyroll.com", true},
		{"*.crunchyroll.com", "evil-crunchyroll.com", false},
		{"*.crunchyroll.com", "a.b.crunchyroll.com", true},
		{"example.com", "example.com", true},
		{"example.com", "EXAMPLE.COM", true},
		{"example.com", "www.example.com", false},
		{"ads?.example.com", "ads1.example.com", true},
		{"ads?.example.com", "ads12.example.com", false},
		{"*", "anything.example", true},
		{"", "example.com", false},
		{"example.com", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchHost(tt.pattern, tt.host))
		})
	}
}

func TestMatch_FirstMatchWins(t *testing.T) {
	rules := []model.Rule{
		{Pattern: "*.example.com", Action: model.ActionBlock},
		{Pattern: "cdn.example.com", Action: model.ActionProxy, Target: "proxy.local:8080"},
	}

	action, target := Match(rules, "cdn.example.com")
	assert.Equal(t, model.ActionBlock, action)
	assert.Empty(t, target)

	action, target = Match(rules, "unrelated.example")
	assert.Equal(t, model.ActionDirect, action)
	assert.Empty(t, target)
}

func TestRuleService_Effective(t *testing.T) {
	db := &mockDB{}
	svc := NewRuleService(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newMockRows(
		scopeScanFunc(model.ScopeGlobal, 2),
		scopeScanFunc("dev-1", 5),
	), nil).Once()
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newMockRows(
		ruleScanFunc("g-1", model.ScopeGlobal, 0, 10, "*.example.com", model.ActionProxy, "proxy.local:8080"),
		ruleScanFunc("d-1", "dev-1", 0, 5, "ads.example.net", model.ActionBlock, ""),
	), nil).Once()
	require.NoError(t, svc.Load(ctx))

	rules, version := svc.Effective("dev-1")
	assert.Equal(t, "g2.d5", version)
	require.Len(t, rules, 2)
	assert.Equal(t, "d-1", rules[0].ID)
	assert.Equal(t, "g-1", rules[1].ID)

	// The version and rules match the resolvers' separate answers.
	assert.Equal(t, svc.Version("dev-1"), version)
	assert.Equal(t, svc.ResolveRules("dev-1"), rules)
}

func TestRuleService_DeleteScope(t *testing.T) {
	db := &mockDB{}
	svc := NewRuleService(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newMockRows(
		scopeScanFunc(model.ScopeGlobal, 1),
		scopeScanFunc("dev-1", 2),
	), nil).Once()
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newMockRows(
		ruleScanFunc("d-1", "dev-1", 0, 5, "ads.example.net", model.ActionBlock, ""),
	), nil).Once()
	require.NoError(t, svc.Load(ctx))
	require.Len(t, svc.GetRules("dev-1"), 1)

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("DELETE 1"), nil).Once()
	// Snapshot reload after the delete.
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newMockRows(scopeScanFunc(model.ScopeGlobal, 1)), nil).Once()
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newEmptyMockRows(), nil).Once()

	require.NoError(t, svc.DeleteScope(ctx, "dev-1"))
	assert.Empty(t, svc.GetRules("dev-1"))
	assert.Equal(t, "g1.d0", svc.Version("dev-1"))
	db.AssertExpectations(t)
}

func TestRuleService_DeleteScope_RefusesGlobal(t *testing.T) {
	db := &mockDB{}
	svc := NewRuleService(db)

	err := svc.DeleteScope(context.Background(), model.ScopeGlobal)
	require.Error(t, err)
	db.AssertNotCalled(t, "Exec")
}

func TestRuleService_GetRules_ReturnsCopy(t *testing.T) {
	db := &mockDB{}
	svc := NewRuleService(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newMockRows(scopeScanFunc(model.ScopeGlobal, 1)), nil).Once()
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newMockRows(
		ruleScanFunc("r-1", model.ScopeGlobal, 0, 1, "a.example", model.ActionDirect, ""),
	), nil).Once()
	require.NoError(t, svc.Load(ctx))

	rules := svc.GetRules(model.ScopeGlobal)
	rules[0].Pattern = "mutated"

	again := svc.GetRules(model.ScopeGlobal)
	assert.Equal(t, "a.example", again[0].Pattern)
}
