package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateKnownTiers(t *testing.T) {
	tests := []struct {
		tier         string
		maxCompanies int
		automatic    bool
		email        bool
	}{
		{"free", 10, false, false},
		{"starter", 50, true, false},
		{"growth", 200, true, true},
		{"scale", 1000, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.tier, func(t *testing.T) {
			caps := Evaluate(tt.tier)
			assert.Equal(t, Tier(tt.tier), caps.Tier)
			assert.Equal(t, tt.maxCompanies, caps.MaxCompaniesPerSearch)
			assert.Equal(t, tt.automatic, caps.AllowAutomaticSearch)
			assert.Equal(t, tt.email, caps.AllowEmailGeneration)
		})
	}
}

func TestEvaluateUnknownTierFallsBackToFree(t *testing.T) {
	for _, tier := range []string{"", "enterprise", "FREE", "gold "} {
		caps := Evaluate(tier)
		assert.Equal(t, TierFree, caps.Tier, "tier %q should fall back to free", tier)
		assert.Equal(t, 10, caps.MaxCompaniesPerSearch)
		assert.False(t, caps.AllowAutomaticSearch)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	first := Evaluate("growth")
	second := Evaluate("growth")
	assert.Equal(t, first, second)
}

func TestAssistedSearchAllowedEverywhere(t *testing.T) {
	for _, tier := range []Tier{TierFree, TierStarter, TierGrowth, TierScale} {
		assert.True(t, Evaluate(string(tier)).AllowAssistedSearch)
	}
}
