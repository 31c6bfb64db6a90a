// Package reward computes and disburses token rewards from an agent's tier,
// coherence score and performance history, and keeps the profile counters
// that feed back into future multipliers.
package reward

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ssd-technologies/coherence/internal/ledger"
	"github.com/ssd-technologies/coherence/internal/tier"
)

// Action identifies what is being rewarded.
type Action string

const (
	ActionClaimAccepted    Action = "CLAIM_ACCEPTED"
	ActionClaimVerified    Action = "CLAIM_VERIFIED"
	ActionCounterexample   Action = "COUNTEREXAMPLE_FOUND"
	ActionSynthesisPublish Action = "SYNTHESIS_PUBLISHED"
	ActionSecurityReview   Action = "SECURITY_REVIEW_COMPLETED"
	ActionVouchReceived    Action = "VOUCH_RECEIVED"
)

// defaultBases are the per-action base reward amounts. The verification base
// of 10 is the anchor; the rest scale with task weight.
var defaultBases = map[Action]int64{
	ActionClaimAccepted:    15,
	ActionClaimVerified:    10,
	ActionCounterexample:   25,
	ActionSynthesisPublish: 40,
	ActionSecurityReview:   60,
	ActionVouchReceived:    5,
}

// Record kinds.
const (
	RecordReward = "reward"
	RecordSlash  = "slash"
)

// Record is one entry in the reward/slash history.
type Record struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	AgentID   string `json:"agent_id"`
	Action    Action `json:"action,omitempty"`
	Amount    int64  `json:"amount"`
	Memo      string `json:"memo,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Outcome carries the result details an award needs beyond the action kind.
type Outcome struct {
	Correct bool    // verification judged correct
	Rating  float64 // synthesis rating in [0,1]
}

// DefaultHistoryCap bounds the reward/slash history.
const DefaultHistoryCap = 1000

// Engine owns agent profiles and the reward history, and credits the ledger
// for every award.
type Engine struct {
	mu       sync.Mutex
	book     *ledger.Book
	profiles map[string]*Profile
	history  []Record

	bases      map[Action]int64
	historyCap int
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithBases overrides base reward amounts for the given actions.
func WithBases(bases map[Action]int64) Option {
	return func(e *Engine) {
		for a, v := range bases {
			if v > 0 {
				e.bases[a] = v
			}
		}
	}
}

// WithHistoryCap overrides the history cap.
func WithHistoryCap(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyCap = n
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine creates a reward engine over book.
func NewEngine(book *ledger.Book, opts ...Option) *Engine {
	e := &Engine{
		book:       book,
		profiles:   make(map[string]*Profile),
		bases:      make(map[Action]int64, len(defaultBases)),
		historyCap: DefaultHistoryCap,
		now:        time.Now,
	}
	for a, v := range defaultBases {
		e.bases[a] = v
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CoherenceMultiplier maps a coherence score to a reward multiplier:
// 0.5 is neutral (1.0x), 1.0 doubles, 0.0 halves. Never below 0.5 so a bad
// score cannot lock an agent out of rewards entirely.
func CoherenceMultiplier(score float64) float64 {
	m := 1 + (score-0.5)*2
	if m < 0.5 {
		m = 0.5
	}
	return m
}

// performanceBonus is a small multiplier for a sustained track record:
// 1.1x once an agent has 25+ verifications at 90%+ accuracy.
func performanceBonus(p *Profile) float64 {
	if p.VerificationsCompleted >= 25 && p.verificationAccuracy() >= 0.9 {
		return 1.1
	}
	return 1.0
}

// Calculate computes the reward for action without disbursing it:
// floor(base x tier multiplier x coherence multiplier x performance bonus).
func (e *Engine) Calculate(agentID string, action Action) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calculateLocked(agentID, action)
}

func (e *Engine) calculateLocked(agentID string, action Action) int64 {
	base := e.bases[action]
	if base == 0 {
		return 0
	}
	p := e.profileLocked(agentID)
	t := tier.ForStake(e.book.Balance(agentID) + e.book.Staked(agentID))
	amount := float64(base) * tier.Multiplier(t) * CoherenceMultiplier(p.score()) * performanceBonus(p)
	return int64(math.Floor(amount))
}

// Award computes the reward for action, credits the ledger with a
// reward-kind transaction, records it in the history and updates the
// profile counters relevant to the action.
func (e *Engine) Award(agentID string, action Action, out Outcome, memo string) (*Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	amount := e.calculateLocked(agentID, action)
	if amount > 0 {
		if _, err := e.book.Credit(agentID, amount, ledger.KindReward, memo); err != nil {
			return nil, err
		}
	}

	p := e.profileLocked(agentID)
	switch action {
	case ActionClaimAccepted:
		p.ClaimsAccepted++
	case ActionClaimVerified:
		p.VerificationsCompleted++
		if out.Correct {
			p.VerificationsCorrect++
		}
	case ActionCounterexample:
		p.VerificationsCompleted++
		p.VerificationsCorrect++
	case ActionSynthesisPublish:
		// Rolling average of synthesis ratings.
		n := float64(p.SynthesisCreated)
		p.SynthesisRating = (p.SynthesisRating*n + clamp01(out.Rating)) / (n + 1)
		p.SynthesisCreated++
	case ActionVouchReceived:
		p.FriendVouches++
	}
	e.refreshLocked(p)

	rec := Record{
		ID:        uuid.NewString(),
		Kind:      RecordReward,
		AgentID:   agentID,
		Action:    action,
		Amount:    amount,
		Memo:      memo,
		Timestamp: e.now().Unix(),
	}
	e.appendLocked(rec)
	return &rec, nil
}

// RecordSlash appends a slash-history record and bumps TotalSlashed. It does
// not move tokens; the stake manager already debited them and invokes this
// through its SlashRecorder wiring.
func (e *Engine) RecordSlash(agentID string, amount int64, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.profileLocked(agentID)
	p.TotalSlashed += amount
	e.refreshLocked(p)

	e.appendLocked(Record{
		ID:        uuid.NewString(),
		Kind:      RecordSlash,
		AgentID:   agentID,
		Amount:    amount,
		Memo:      reason,
		Timestamp: e.now().Unix(),
	})
}

// NoteClaimSubmitted bumps the submission counter when a claim enters the
// graph. Acceptance arrives later via ActionClaimAccepted.
func (e *Engine) NoteClaimSubmitted(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.profileLocked(agentID)
	p.ClaimsSubmitted++
	e.refreshLocked(p)
}

// CoherenceScore recomputes the agent's coherence score on demand.
func (e *Engine) CoherenceScore(agentID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profileLocked(agentID).score()
}

// Profile returns a snapshot of the agent's profile with derived fields
// refreshed.
func (e *Engine) Profile(agentID string) Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.profileLocked(agentID)
	e.refreshLocked(p)
	return *p
}

// Profiles returns snapshots of every known profile, for persistence.
func (e *Engine) Profiles() map[string]Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]Profile, len(e.profiles))
	for id, p := range e.profiles {
		e.refreshLocked(p)
		out[id] = *p
	}
	return out
}

// History returns the reward/slash history, oldest first.
func (e *Engine) History() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Record(nil), e.history...)
}

// Restore installs persisted profiles and history. Used only during load.
func (e *Engine) Restore(profiles map[string]Profile, history []Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, p := range profiles {
		prof := p
		prof.AgentID = id
		e.profiles[id] = &prof
	}
	e.history = append([]Record(nil), history...)
}

func (e *Engine) profileLocked(agentID string) *Profile {
	p, ok := e.profiles[agentID]
	if !ok {
		p = &Profile{AgentID: agentID, Tier: tier.Neophyte}
		e.profiles[agentID] = p
	}
	return p
}

// refreshLocked recomputes the derived score and tier fields.
func (e *Engine) refreshLocked(p *Profile) {
	p.CoherenceScore = p.score()
	p.Tier = tier.ForStake(e.book.Balance(p.AgentID) + e.book.Staked(p.AgentID))
}

func (e *Engine) appendLocked(rec Record) {
	e.history = append(e.history, rec)
	if len(e.history) > e.historyCap {
		e.history = e.history[len(e.history)-e.historyCap:]
	}
}
