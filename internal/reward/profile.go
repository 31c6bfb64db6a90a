package reward

import "github.com/ssd-technologies/coherence/internal/tier"

// Profile holds one agent's rolling performance counters. Only the engine
// mutates it, and only after an outcome is known; CoherenceScore and Tier are
// derived from the counters and the agent's holdings.
type Profile struct {
	AgentID                string    `json:"agent_id"`
	ClaimsSubmitted        int64     `json:"claims_submitted"`
	ClaimsAccepted         int64     `json:"claims_accepted"`
	VerificationsCompleted int64     `json:"verifications_completed"`
	VerificationsCorrect   int64     `json:"verifications_correct"`
	SynthesisCreated       int64     `json:"synthesis_created"`
	SynthesisRating        float64   `json:"synthesis_rating"`
	FriendVouches          int64     `json:"friend_vouches"`
	TotalSlashed           int64     `json:"total_slashed"`
	CoherenceScore         float64   `json:"coherence_score"`
	Tier                   tier.Tier `json:"tier"`
}

// Coherence score weights. Each sub-term is clamped to [0,1] before
// weighting and the final score is clamped again.
const (
	weightVerification = 0.30
	weightAcceptance   = 0.25
	weightSynthesis    = 0.25
	weightTrust        = 0.20

	// vouchSaturation is the vouch count at which network trust reaches 1.0.
	vouchSaturation = 10
)

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// verificationAccuracy is correct/completed, or 0 with no verifications.
func (p *Profile) verificationAccuracy() float64 {
	if p.VerificationsCompleted == 0 {
		return 0
	}
	return clamp01(float64(p.VerificationsCorrect) / float64(p.VerificationsCompleted))
}

// acceptanceRate is accepted/submitted, or 0 with no claims.
func (p *Profile) acceptanceRate() float64 {
	if p.ClaimsSubmitted == 0 {
		return 0
	}
	return clamp01(float64(p.ClaimsAccepted) / float64(p.ClaimsSubmitted))
}

// networkTrust saturates at vouchSaturation friend vouches.
func (p *Profile) networkTrust() float64 {
	return clamp01(float64(p.FriendVouches) / vouchSaturation)
}

// score recomputes the weighted coherence score from the counters.
func (p *Profile) score() float64 {
	s := weightVerification*p.verificationAccuracy() +
		weightAcceptance*p.acceptanceRate() +
		weightSynthesis*clamp01(p.SynthesisRating) +
		weightTrust*p.networkTrust()
	return clamp01(s)
}
