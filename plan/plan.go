// Package plan maps subscription tiers to capability sets.
// Evaluation is a pure lookup: no storage, no network calls.
package plan

// Tier identifies a subscription plan
type Tier string

const (
	TierFree    Tier = "free"
	TierStarter Tier = "starter"
	TierGrowth  Tier = "growth"
	TierScale   Tier = "scale"
)

// Capabilities enumerates the limits and permissions a tier grants
type Capabilities struct {
	Tier                  Tier `json:"tier"`
	MaxCompaniesPerSearch int  `json:"max_companies_per_search"`
	MaxActiveJobs         int  `json:"max_active_jobs"`
	AllowAutomaticSearch  bool `json:"allow_automatic_search"`
	AllowAssistedSearch   bool `json:"allow_assisted_search"`
	AllowEmailGeneration  bool `json:"allow_email_generation"`
}

var capabilitiesByTier = map[Tier]Capabilities{
	TierFree: {
		Tier:                  TierFree,
		MaxCompaniesPerSearch: 10,
		MaxActiveJobs:         1,
		AllowAutomaticSearch:  false,
		AllowAssistedSearch:   true,
		AllowEmailGeneration:  false,
	},
	TierStarter: {
		Tier:                  TierStarter,
		MaxCompaniesPerSearch: 50,
		MaxActiveJobs:         2,
		AllowAutomaticSearch:  true,
		AllowAssistedSearch:   true,
		AllowEmailGeneration:  false,
	},
	TierGrowth: {
		Tier:                  TierGrowth,
		MaxCompaniesPerSearch: 200,
		MaxActiveJobs:         5,
		AllowAutomaticSearch:  true,
		AllowAssistedSearch:   true,
		AllowEmailGeneration:  true,
	},
	TierScale: {
		Tier:                  TierScale,
		MaxCompaniesPerSearch: 1000,
		MaxActiveJobs:         20,
		AllowAutomaticSearch:  true,
		AllowAssistedSearch:   true,
		AllowEmailGeneration:  true,
	},
}

// Evaluate returns the capability set for a tier.
// Unknown or empty tiers fall back to the most restrictive tier rather
// than failing, so a stale or corrupted tier value never blocks a user
// outright and never grants more than the free plan.
func Evaluate(tier string) Capabilities {
	if caps, ok := capabilitiesByTier[Tier(tier)]; ok {
		return caps
	}
	return capabilitiesByTier[TierFree]
}
