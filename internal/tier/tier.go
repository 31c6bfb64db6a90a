// Package tier maps an agent's holdings (balance + tier stake) to a
// capability tier and reward multiplier. The table is ordered and pure; a
// higher tier inherits every capability of the tiers below it.
package tier

// Tier is a capability level.
type Tier string

const (
	Neophyte Tier = "neophyte"
	Adept    Tier = "adept"
	Magus    Tier = "magus"
	Archon   Tier = "archon"
)

// Capabilities gated by tier.
const (
	CapSubmitClaim    = "submit_claim"
	CapVerifyClaim    = "verify_claim"
	CapCounterexample = "find_counterexample"
	CapSynthesize     = "create_synthesis"
	CapSecurityReview = "security_review"
	CapVouch          = "vouch"
)

// Level is one row of the tier table.
type Level struct {
	Tier             Tier
	MinStake         int64
	RewardMultiplier float64
	Capabilities     []string
}

// table is ordered by ascending MinStake. ForStake returns the highest row
// whose threshold is met.
var table = []Level{
	{Neophyte, 0, 1.0, []string{CapSubmitClaim}},
	{Adept, 100, 1.2, []string{CapVerifyClaim, CapCounterexample, CapVouch}},
	{Magus, 1000, 1.5, []string{CapSynthesize}},
	{Archon, 10000, 2.0, []string{CapSecurityReview}},
}

// ForStake returns the tier for a combined balance + staked amount. Malformed
// (negative) input clamps to Neophyte.
func ForStake(holdings int64) Tier {
	current := Neophyte
	for _, lvl := range table {
		if holdings >= lvl.MinStake {
			current = lvl.Tier
		}
	}
	return current
}

// Multiplier returns the reward multiplier for a tier. Unknown tiers get the
// Neophyte multiplier.
func Multiplier(t Tier) float64 {
	for _, lvl := range table {
		if lvl.Tier == t {
			return lvl.RewardMultiplier
		}
	}
	return table[0].RewardMultiplier
}

// MinStake returns the threshold for a tier, or 0 for unknown tiers.
func MinStake(t Tier) int64 {
	for _, lvl := range table {
		if lvl.Tier == t {
			return lvl.MinStake
		}
	}
	return 0
}

// rank returns the position of t in the table, with unknown tiers ranked
// lowest.
func rank(t Tier) int {
	for i, lvl := range table {
		if lvl.Tier == t {
			return i
		}
	}
	return 0
}

// AtLeast reports whether t meets or exceeds required.
func AtLeast(t, required Tier) bool {
	return rank(t) >= rank(required)
}

// Can reports whether tier t holds capability cap, including capabilities
// inherited from lower tiers.
func Can(t Tier, cap string) bool {
	r := rank(t)
	for i := 0; i <= r; i++ {
		for _, c := range table[i].Capabilities {
			if c == cap {
				return true
			}
		}
	}
	return false
}

// Levels returns a copy of the tier table, for status displays.
func Levels() []Level {
	out := make([]Level, len(table))
	copy(out, table)
	return out
}
