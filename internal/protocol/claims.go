package protocol

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ssd-technologies/coherence/internal/claimgraph"
	"github.com/ssd-technologies/coherence/internal/identity"
	"github.com/ssd-technologies/coherence/internal/ledger"
	"github.com/ssd-technologies/coherence/internal/reward"
	"github.com/ssd-technologies/coherence/internal/stake"
	"github.com/ssd-technologies/coherence/internal/tier"
)

// claimStakeKey is the stake-manager key for a claim's bond.
func claimStakeKey(claimID string) string { return "claim:" + claimID }

// synthesisStakeKey is the stake-manager key for a synthesis bond.
func synthesisStakeKey(synthID string) string { return "synthesis:" + synthID }

// SubmitClaim records a new claim and locks the author's stake behind it.
func (c *Context) SubmitClaim(agentID, statement string, stakeAmount int64, semanticHash string) (*claimgraph.Claim, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if statement == "" {
		return nil, fmt.Errorf("empty statement: %w", ledger.ErrInvalidAmount)
	}
	if stakeAmount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	claim := c.graph.Submit(statement, agentID, stakeAmount, semanticHash)
	if _, err := c.stakes.Lock(claimStakeKey(claim.ID), agentID, stakeAmount, "CLAIM_SUBMITTED"); err != nil {
		// The bond could not be locked, so the claim never really existed.
		_ = c.graph.Archive(claim.ID)
		return nil, err
	}
	c.rewards.NoteClaimSubmitted(agentID)
	return claim, c.persist()
}

// VerifyClaim consults the oracle about a claim and applies the verdict:
// coherence above 0.7 verifies, below 0.3 rejects, anything between
// disputes. The oracle call happens before any lock is taken.
func (c *Context) VerifyClaim(claimID, verifierID string) (*claimgraph.Claim, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if !tier.Can(c.agentTier(verifierID), tier.CapVerifyClaim) {
		return nil, fmt.Errorf("verify requires %s: %w", tier.Adept, ErrInsufficientTier)
	}

	claim, err := c.graph.Get(claimID)
	if err != nil {
		return nil, err
	}

	analysis, err := c.oracle.Analyze(claim.Statement)
	if err != nil {
		return nil, fmt.Errorf("oracle analyze: %w", err)
	}

	result := claimgraph.ResultDisputed
	switch {
	case analysis.Coherence > verifyThreshold:
		result = claimgraph.ResultVerified
	case analysis.Coherence < rejectThreshold:
		result = claimgraph.ResultRejected
	}

	updated, err := c.applyVerdict(claimID, verifierID, result, analysis.Coherence)
	if err != nil {
		return nil, err
	}

	decisive := result != claimgraph.ResultDisputed
	if _, err := c.rewards.Award(verifierID, reward.ActionClaimVerified, reward.Outcome{Correct: decisive}, "verify "+claimID); err != nil {
		return nil, err
	}
	return updated, c.persist()
}

// applyVerdict records a verification on the claim and settles the claim's
// bond: verified releases it (and pays the author), rejected slashes it,
// disputed leaves it locked for a re-verification. Settlement keys off the
// prior status the graph reports from inside its own lock, so concurrent
// verdicts settle the bond at most once.
func (c *Context) applyVerdict(claimID, verifierID, result string, confidence float64) (*claimgraph.Claim, error) {
	updated, prior, err := c.graph.ApplyVerification(claimID, verifierID, result, confidence)
	if err != nil {
		return nil, err
	}
	if prior == updated.Status {
		return updated, nil
	}

	switch updated.Status {
	case claimgraph.StatusVerified:
		if _, err := c.stakes.Release(claimStakeKey(claimID)); err != nil && !errors.Is(err, stake.ErrStakeNotFound) {
			return nil, err
		}
		if _, err := c.rewards.Award(updated.AuthorID, reward.ActionClaimAccepted, reward.Outcome{}, "claim "+claimID); err != nil {
			return nil, err
		}
	case claimgraph.StatusRejected:
		if _, _, err := c.stakes.Slash(claimStakeKey(claimID), slashRejectedPercent); err != nil && !errors.Is(err, stake.ErrStakeNotFound) {
			return nil, err
		}
	}
	return updated, nil
}

// CreateEdge links two claims in the graph.
func (c *Context) CreateEdge(from, to, edgeType, authorID, evidence string) (*claimgraph.Edge, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	fromClaim, err := c.graph.Get(from)
	if err != nil {
		return nil, err
	}
	toClaim, err := c.graph.Get(to)
	if err != nil {
		return nil, err
	}

	// Ask the oracle how related the endpoints are; edge confidence rides on
	// the similarity judgement. Oracle failure is not fatal to the edge.
	var similarity float64
	if cmp, err := c.oracle.Compare(fromClaim.Statement, toClaim.Statement); err == nil {
		similarity = cmp.Similarity
	}

	edge, err := c.graph.AddEdge(from, to, edgeType, authorID, similarity, similarity, evidence)
	if err != nil {
		return nil, err
	}
	return edge, c.persist()
}

// FindCounterexample asks the oracle how strongly counterStatement
// contradicts the claim. Above the strength threshold the counterexample is
// recorded (new claim + contradicts edge, original disputed) and rewarded.
func (c *Context) FindCounterexample(claimID, agentID, counterStatement, evidence string) (*claimgraph.Edge, bool, error) {
	if err := c.check(); err != nil {
		return nil, false, err
	}
	if !tier.Can(c.agentTier(agentID), tier.CapCounterexample) {
		return nil, false, fmt.Errorf("counterexample requires %s: %w", tier.Adept, ErrInsufficientTier)
	}

	claim, err := c.graph.Get(claimID)
	if err != nil {
		return nil, false, err
	}

	cmp, err := c.oracle.Compare(claim.Statement, counterStatement)
	if err != nil {
		return nil, false, fmt.Errorf("oracle compare: %w", err)
	}
	if cmp.Similarity <= counterexampleThreshold {
		return nil, false, nil
	}

	counter := c.graph.Submit(counterStatement, agentID, 0, "")
	edge, err := c.graph.AddEdge(counter.ID, claimID, claimgraph.EdgeContradicts, agentID, cmp.Similarity, cmp.Similarity, evidence)
	if err != nil {
		return nil, false, err
	}
	if _, err := c.applyVerdict(claimID, agentID, claimgraph.ResultDisputed, cmp.Similarity); err != nil {
		return nil, false, err
	}
	if _, err := c.rewards.Award(agentID, reward.ActionCounterexample, reward.Outcome{Correct: true}, "counterexample "+claimID); err != nil {
		return nil, false, err
	}
	return edge, true, c.persist()
}

// SecurityReview records an Archon-tier review verdict against a claim.
func (c *Context) SecurityReview(claimID, agentID, result, evidence string) (*claimgraph.Claim, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if !tier.Can(c.agentTier(agentID), tier.CapSecurityReview) {
		return nil, fmt.Errorf("security review requires %s: %w", tier.Archon, ErrInsufficientTier)
	}

	updated, err := c.applyVerdict(claimID, agentID, result, 0)
	if err != nil {
		return nil, err
	}
	if _, err := c.rewards.Award(agentID, reward.ActionSecurityReview, reward.Outcome{Correct: true}, "security review "+claimID); err != nil {
		return nil, err
	}
	return updated, c.persist()
}

// CreateSynthesis drafts a synthesis over verified claims. The Magus tier
// gate runs before any stake is touched.
func (c *Context) CreateSynthesis(authorID, title, summary string, claimIDs, openQuestions []string, limitations string, stakeAmount int64) (*Synthesis, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if !tier.Can(c.agentTier(authorID), tier.CapSynthesize) {
		return nil, fmt.Errorf("synthesis requires %s: %w", tier.Magus, ErrInsufficientTier)
	}
	if stakeAmount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	var confidence float64
	for _, id := range claimIDs {
		claim, err := c.graph.Get(id)
		if err != nil {
			return nil, err
		}
		if claim.Status != claimgraph.StatusVerified {
			return nil, fmt.Errorf("claim %s is %s, synthesis accepts only verified claims", id, claim.Status)
		}
		confidence += claim.Confidence
	}
	if len(claimIDs) > 0 {
		confidence /= float64(len(claimIDs))
	}

	s := &Synthesis{
		ID:               uuid.NewString(),
		Title:            title,
		Summary:          summary,
		AuthorID:         authorID,
		AcceptedClaimIDs: append([]string(nil), claimIDs...),
		OpenQuestions:    append([]string(nil), openQuestions...),
		Confidence:       confidence,
		Limitations:      limitations,
		Status:           SynthesisDraft,
		StakeAmount:      stakeAmount,
		CreatedAt:        c.now().Unix(),
	}
	if _, err := c.stakes.Lock(synthesisStakeKey(s.ID), authorID, stakeAmount, "SYNTHESIS_CREATED"); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.syntheses[s.ID] = s
	out := *s
	c.mu.Unlock()
	return &out, c.persist()
}

// PublishSynthesis releases the synthesis bond and pays the author, using
// the synthesis confidence as its quality rating.
func (c *Context) PublishSynthesis(synthID, authorID string) (*Synthesis, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	s, ok := c.syntheses[synthID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("synthesis %s: %w", synthID, ErrSynthesisNotFound)
	}
	if s.AuthorID != authorID {
		c.mu.Unlock()
		return nil, fmt.Errorf("synthesis %s: %w", synthID, ErrNotAssignedToYou)
	}
	if s.Status == SynthesisPublished {
		out := *s
		c.mu.Unlock()
		return &out, nil
	}

	if _, err := c.stakes.Release(synthesisStakeKey(synthID)); err != nil && !errors.Is(err, stake.ErrStakeNotFound) {
		c.mu.Unlock()
		return nil, err
	}
	if _, err := c.rewards.Award(authorID, reward.ActionSynthesisPublish, reward.Outcome{Rating: s.Confidence}, "synthesis "+synthID); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	s.Status = SynthesisPublished
	s.PublishedAt = c.now().Unix()
	out := *s
	c.mu.Unlock()
	return &out, c.persist()
}

// Synthesis returns a copy of one synthesis.
func (c *Context) Synthesis(synthID string) (Synthesis, error) {
	if err := c.check(); err != nil {
		return Synthesis{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.syntheses[synthID]
	if !ok {
		return Synthesis{}, fmt.Errorf("synthesis %s: %w", synthID, ErrSynthesisNotFound)
	}
	return *s, nil
}

// Vouch records a signed vouch from voucherID for targetID. The signature
// is checked against the identity layer's canonical vouch message; the
// voucher must hold the vouch capability.
func (c *Context) Vouch(voucherID, targetID string, signature []byte, pub ed25519.PublicKey, timestamp int64) error {
	if err := c.check(); err != nil {
		return err
	}
	if voucherID == targetID {
		return ErrSelfVouch
	}
	if identity.AgentIDFromPublicKey(pub) != voucherID {
		return fmt.Errorf("public key does not match voucher: %w", ErrBadVouchSignature)
	}
	if !identity.Verify(identity.VouchMessage(voucherID, targetID, timestamp), signature, pub) {
		return ErrBadVouchSignature
	}
	if !tier.Can(c.agentTier(voucherID), tier.CapVouch) {
		return fmt.Errorf("vouching requires %s: %w", tier.Adept, ErrInsufficientTier)
	}

	if _, err := c.rewards.Award(targetID, reward.ActionVouchReceived, reward.Outcome{}, "vouch from "+voucherID); err != nil {
		return err
	}
	return c.persist()
}
