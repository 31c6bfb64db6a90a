// Package claimgraph stores claims and the typed, directed edges between
// them. It is a pure data store: stakes are the caller's business and it
// never touches the ledger. Claims are archived, never deleted, so the
// verification trail stays auditable.
package claimgraph

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrClaimNotFound = errors.New("claim not found")
	ErrClaimArchived = errors.New("claim is archived")
)

// Claim statuses.
const (
	StatusDraft       = "draft"
	StatusSubmitted   = "submitted"
	StatusUnderReview = "under_review"
	StatusVerified    = "verified"
	StatusDisputed    = "disputed"
	StatusRejected    = "rejected"
	StatusArchived    = "archived"
)

// Edge types. Only the first three affect a claim's edge counts.
const (
	EdgeSupports    = "supports"
	EdgeContradicts = "contradicts"
	EdgeRefines     = "refines"
	EdgeDerivesFrom = "derives_from"
	EdgeEquivalent  = "equivalent"
)

// Verification results.
const (
	ResultVerified = "VERIFIED"
	ResultRejected = "REJECTED"
	ResultDisputed = "DISPUTED"
)

// EdgeCounts tallies the count-affecting edges pointing at a claim.
type EdgeCounts struct {
	Supports    int `json:"supports"`
	Contradicts int `json:"contradicts"`
	Refines     int `json:"refines"`
}

// Verification is one verifier's recorded judgement of a claim.
type Verification struct {
	VerifierID string  `json:"verifier_id"`
	Result     string  `json:"result"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"timestamp"`
}

// Claim is a statement submitted for collective verification.
type Claim struct {
	ID            string         `json:"id"`
	Statement     string         `json:"statement"`
	AuthorID      string         `json:"author_id"`
	Status        string         `json:"status"`
	Confidence    float64        `json:"confidence"`
	EdgeCounts    EdgeCounts     `json:"edge_counts"`
	Verifications []Verification `json:"verifications,omitempty"`
	StakeAmount   int64          `json:"stake_amount"`
	SemanticHash  string         `json:"semantic_hash,omitempty"`
	CreatedAt     int64          `json:"created_at"`
	UpdatedAt     int64          `json:"updated_at"`
}

// Edge is a typed, directed relationship between two claims. At most one
// edge of a given type exists per ordered claim pair; re-adding updates the
// existing edge in place.
type Edge struct {
	ID                 string  `json:"id"`
	FromClaimID        string  `json:"from_claim_id"`
	ToClaimID          string  `json:"to_claim_id"`
	EdgeType           string  `json:"edge_type"`
	AuthorID           string  `json:"author_id"`
	Confidence         float64 `json:"confidence"`
	SemanticSimilarity float64 `json:"semantic_similarity"`
	Evidence           string  `json:"evidence,omitempty"`
	CreatedAt          int64   `json:"created_at"`
}

// Graph holds all claims and edges for a node.
type Graph struct {
	mu     sync.Mutex
	claims map[string]*Claim
	edges  map[string]*Edge
	now    func() time.Time
}

// NewGraph creates an empty claim graph.
func NewGraph() *Graph {
	return &Graph{
		claims: make(map[string]*Claim),
		edges:  make(map[string]*Edge),
		now:    time.Now,
	}
}

// SetClock overrides the time source (tests).
func (g *Graph) SetClock(now func() time.Time) { g.now = now }

// Submit creates a claim in submitted status and returns a copy of it. The
// caller is responsible for having locked stakeAmount against the claim
// already.
func (g *Graph) Submit(statement, authorID string, stakeAmount int64, semanticHash string) *Claim {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now().Unix()
	c := &Claim{
		ID:           uuid.NewString(),
		Statement:    statement,
		AuthorID:     authorID,
		Status:       StatusSubmitted,
		StakeAmount:  stakeAmount,
		SemanticHash: semanticHash,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	g.claims[c.ID] = c
	out := *c
	return &out
}

// Get returns a copy of the claim, or ErrClaimNotFound.
func (g *Graph) Get(claimID string) (Claim, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.claims[claimID]
	if !ok {
		return Claim{}, fmt.Errorf("claim %s: %w", claimID, ErrClaimNotFound)
	}
	out := *c
	out.Verifications = append([]Verification(nil), c.Verifications...)
	return out, nil
}

// AddEdge links two claims. Missing endpoints fail with ErrClaimNotFound.
// A duplicate (from, to, type) updates the existing edge's confidence,
// similarity and evidence instead of inserting a second one. Edge counts on
// the target claim change only for supports/contradicts/refines, and only
// when the edge is new.
func (g *Graph) AddEdge(from, to, edgeType, authorID string, confidence, similarity float64, evidence string) (*Edge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.claims[from]; !ok {
		return nil, fmt.Errorf("from claim %s: %w", from, ErrClaimNotFound)
	}
	target, ok := g.claims[to]
	if !ok {
		return nil, fmt.Errorf("to claim %s: %w", to, ErrClaimNotFound)
	}

	for _, e := range g.edges {
		if e.FromClaimID == from && e.ToClaimID == to && e.EdgeType == edgeType {
			e.Confidence = confidence
			e.SemanticSimilarity = similarity
			e.Evidence = evidence
			return e, nil
		}
	}

	e := &Edge{
		ID:                 uuid.NewString(),
		FromClaimID:        from,
		ToClaimID:          to,
		EdgeType:           edgeType,
		AuthorID:           authorID,
		Confidence:         confidence,
		SemanticSimilarity: similarity,
		Evidence:           evidence,
		CreatedAt:          g.now().Unix(),
	}
	g.edges[e.ID] = e

	switch edgeType {
	case EdgeSupports:
		target.EdgeCounts.Supports++
	case EdgeContradicts:
		target.EdgeCounts.Contradicts++
	case EdgeRefines:
		target.EdgeCounts.Refines++
	}
	target.UpdatedAt = g.now().Unix()
	return e, nil
}

// ApplyVerification appends a verification record and advances the claim's
// status. Transitions are monotonic forward: verified and rejected are
// terminal (until archival), except that a disputed claim may be re-verified
// and move to either. The returned prior status is read under the same lock
// as the transition, so a caller settling a bond on the submitted->verified
// edge sees that edge exactly once even across concurrent verifications.
func (g *Graph) ApplyVerification(claimID, verifierID, result string, confidence float64) (*Claim, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.claims[claimID]
	if !ok {
		return nil, "", fmt.Errorf("claim %s: %w", claimID, ErrClaimNotFound)
	}
	if c.Status == StatusArchived {
		return nil, "", fmt.Errorf("claim %s: %w", claimID, ErrClaimArchived)
	}
	prior := c.Status

	c.Verifications = append(c.Verifications, Verification{
		VerifierID: verifierID,
		Result:     result,
		Confidence: confidence,
		Timestamp:  g.now().Unix(),
	})

	if c.Status != StatusVerified && c.Status != StatusRejected {
		switch result {
		case ResultVerified:
			c.Status = StatusVerified
		case ResultRejected:
			c.Status = StatusRejected
		default:
			c.Status = StatusDisputed
		}
		c.Confidence = confidence
	}
	c.UpdatedAt = g.now().Unix()

	out := *c
	out.Verifications = append([]Verification(nil), c.Verifications...)
	return &out, prior, nil
}

// MarkUnderReview moves a submitted claim to under_review when a
// verification task against it is claimed. Later statuses are left alone.
func (g *Graph) MarkUnderReview(claimID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.claims[claimID]
	if !ok {
		return fmt.Errorf("claim %s: %w", claimID, ErrClaimNotFound)
	}
	if c.Status == StatusDraft || c.Status == StatusSubmitted {
		c.Status = StatusUnderReview
		c.UpdatedAt = g.now().Unix()
	}
	return nil
}

// Archive moves a claim to archived status. Claims are never erased.
func (g *Graph) Archive(claimID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.claims[claimID]
	if !ok {
		return fmt.Errorf("claim %s: %w", claimID, ErrClaimNotFound)
	}
	c.Status = StatusArchived
	c.UpdatedAt = g.now().Unix()
	return nil
}

// Claims returns copies of all claims keyed by id.
func (g *Graph) Claims() map[string]Claim {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]Claim, len(g.claims))
	for id, c := range g.claims {
		cp := *c
		cp.Verifications = append([]Verification(nil), c.Verifications...)
		out[id] = cp
	}
	return out
}

// Edges returns copies of all edges keyed by id.
func (g *Graph) Edges() map[string]Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]Edge, len(g.edges))
	for id, e := range g.edges {
		out[id] = *e
	}
	return out
}

// EdgesFrom returns edges originating at claimID.
func (g *Graph) EdgesFrom(claimID string) []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Edge
	for _, e := range g.edges {
		if e.FromClaimID == claimID {
			out = append(out, *e)
		}
	}
	return out
}

// Restore installs persisted claims and edges. Used only during load.
func (g *Graph) Restore(claims map[string]Claim, edges map[string]Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, c := range claims {
		cp := c
		g.claims[id] = &cp
	}
	for id, e := range edges {
		ep := e
		g.edges[id] = &ep
	}
}
