package protocol

import (
	"time"

	"github.com/ssd-technologies/coherence/internal/reward"
	"github.com/ssd-technologies/coherence/internal/tier"
)

// Task types.
const (
	TaskVerify         = "VERIFY"
	TaskCounterexample = "COUNTEREXAMPLE"
	TaskSynthesize     = "SYNTHESIZE"
	TaskSecurityReview = "SECURITY_REVIEW"
)

// Task statuses. Only pending and completed/expired are stable states an
// external observer should rely on; claimed is transient.
const (
	TaskPending   = "pending"
	TaskClaimed   = "claimed"
	TaskCompleted = "completed"
	TaskExpired   = "expired"
)

// Task is one unit of verification work offered against a claim.
type Task struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	ClaimID       string `json:"claim_id,omitempty"`
	AssignedAgent string `json:"assigned_agent_id,omitempty"`
	Status        string `json:"status"`
	StakeAmount   int64  `json:"stake_amount"`
	Reward        int64  `json:"reward,omitempty"`
	Result        string `json:"result,omitempty"`
	Evidence      string `json:"evidence,omitempty"`
	Deadline      int64  `json:"deadline,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	CompletedAt   int64  `json:"completed_at,omitempty"`
}

// requiredTier maps a task type to the minimum tier allowed to claim it.
func requiredTier(taskType string) tier.Tier {
	switch taskType {
	case TaskSynthesize:
		return tier.Magus
	case TaskSecurityReview:
		return tier.Archon
	default:
		return tier.Adept
	}
}

// defaultTimeouts per task type, overridable via config.
var defaultTimeouts = map[string]time.Duration{
	TaskVerify:         60 * time.Minute,
	TaskCounterexample: 120 * time.Minute,
	TaskSynthesize:     240 * time.Minute,
	TaskSecurityReview: 480 * time.Minute,
}

// rewardAction maps a completed task type to the action the engine pays for.
func rewardAction(taskType string) reward.Action {
	switch taskType {
	case TaskCounterexample:
		return reward.ActionCounterexample
	case TaskSynthesize:
		return reward.ActionSynthesisPublish
	case TaskSecurityReview:
		return reward.ActionSecurityReview
	default:
		return reward.ActionClaimVerified
	}
}

// Synthesis statuses.
const (
	SynthesisDraft     = "draft"
	SynthesisPublished = "published"
)

// Synthesis is a published consolidation of accepted claims.
type Synthesis struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Summary          string   `json:"summary"`
	AuthorID         string   `json:"author_id"`
	AcceptedClaimIDs []string `json:"accepted_claim_ids"`
	OpenQuestions    []string `json:"open_questions,omitempty"`
	Confidence       float64  `json:"confidence"`
	Limitations      string   `json:"limitations,omitempty"`
	Status           string   `json:"status"`
	StakeAmount      int64    `json:"stake_amount"`
	CreatedAt        int64    `json:"created_at"`
	PublishedAt      int64    `json:"published_at,omitempty"`
}
