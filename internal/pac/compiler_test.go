package pac

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/pacgate/internal/model"
)

func TestCompile_EmptyRules(t *testing.T) {
	doc := Compile("dev-1", nil, "g0.d0")

	assert.Equal(t, "dev-1|g0.d0", doc.Key)
	assert.Contains(t, doc.Body, "function FindProxyForURL(url, host) {")
	assert.Contains(t, doc.Body, `return "DIRECT";`)
	assert.NotContains(t, doc.Body, "if (")
}

func TestCompile_SuffixWildcard(t *testing.T) {
	rules := []model.Rule{
		{Priority: 1, Pattern: "*.crunchyroll.com", Action: model.ActionProxy, Target: "p.example.com:8080"},
	}
	doc := Compile("dev-1", rules, "g1.d0")

	assert.Contains(t, doc.Body, `if (host == "crunchyroll.com" || dnsDomainIs(host, ".crunchyroll.com")) return "PROXY p.example.com:8080";`)
	// Fall-through stays DIRECT for everything else.
	assert.True(t, strings.HasSuffix(strings.TrimSpace(doc.Body), "return \"DIRECT\";\n}"))
}

func TestCompile_GlobAndExactConditions(t *testing.T) {
	rules := []model.Rule{
		{Priority: 1, Pattern: "ads?.example.com", Action: model.ActionBlock},
		{Priority: 2, Pattern: "intranet.local", Action: model.ActionDirect},
	}
	doc := Compile("dev-1", rules, "g2.d0")

	assert.Contains(t, doc.Body, `if (shExpMatch(host, "ads?.example.com")) return "PROXY 127.0.0.1:9";`)
	assert.Contains(t, doc.Body, `if (host == "intranet.local") return "DIRECT";`)
}

func TestCompile_RuleOrderPreserved(t *testing.T) {
	rules := []model.Rule{
		{Priority: 1, Pattern: "a.example", Action: model.ActionBlock},
		{Priority: 2, Pattern: "*.example", Action: model.ActionProxy, Target: "proxy.local:3128"},
	}
	doc := Compile("dev-1", rules, "g1.d1")

	blockIdx := strings.Index(doc.Body, `host == "a.example"`)
	proxyIdx := strings.Index(doc.Body, `dnsDomainIs(host, ".example")`)
	require.Greater(t, blockIdx, -1)
	require.Greater(t, proxyIdx, -1)
	assert.Less(t, blockIdx, proxyIdx)
}

func TestCompile_Deterministic(t *testing.T) {
	rules := []model.Rule{
		{Priority: 1, Pattern: "*.crunchyroll.com", Action: model.ActionProxy, Target: "p.example.com:8080"},
		{Priority: 2, Pattern: "tracker.example", Action: model.ActionBlock},
	}

	first := Compile("dev-1", rules, "g5.d2")
	second := Compile("dev-1", rules, "g5.d2")
	assert.Equal(t, first, second)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "dev-1|g3.d1", CacheKey("dev-1", "g3.d1"))
	assert.NotEqual(t, CacheKey("dev-1", "g3.d1"), CacheKey("dev-1", "g4.d1"))
}
