package protocol

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/ssd-technologies/coherence/internal/reward"
)

// Op is one operation of the closed action surface. Dispatch switches
// exhaustively over these so the compiler (and ErrUnknownOperation) catch
// any action that was named but never wired.
type Op string

const (
	OpSubmitClaim        Op = "submit_claim"
	OpVerifyClaim        Op = "verify_claim"
	OpCreateEdge         Op = "create_edge"
	OpClaimTask          Op = "claim_task"
	OpSubmitTaskResult   Op = "submit_task_result"
	OpCreateSynthesis    Op = "create_synthesis"
	OpPublishSynthesis   Op = "publish_synthesis"
	OpFindCounterexample Op = "find_counterexample"
	OpSecurityReview     Op = "security_review"
	OpVouch              Op = "vouch"
	OpStakeStatus        Op = "stake_status"
	OpRewardStatus       Op = "reward_status"
	OpEstimateReward     Op = "estimate_reward"
	OpGetProfile         Op = "get_profile"
)

var ErrUnknownOperation = errors.New("unknown operation")

// Command carries the parameters of one dispatched operation. Fields are
// read per-Op; unused fields are ignored.
type Command struct {
	Op      Op     `json:"op"`
	AgentID string `json:"agent_id"`

	TaskID      string `json:"task_id,omitempty"`
	ClaimID     string `json:"claim_id,omitempty"`
	ToClaimID   string `json:"to_claim_id,omitempty"`
	SynthesisID string `json:"synthesis_id,omitempty"`
	TargetID    string `json:"target_id,omitempty"`

	Statement string   `json:"statement,omitempty"`
	EdgeType  string   `json:"edge_type,omitempty"`
	Result    string   `json:"result,omitempty"`
	Evidence  string   `json:"evidence,omitempty"`
	Title     string   `json:"title,omitempty"`
	Summary   string   `json:"summary,omitempty"`
	ClaimIDs  []string `json:"claim_ids,omitempty"`
	Action    string   `json:"action,omitempty"`
	Amount    int64    `json:"amount,omitempty"`
	Hash      string   `json:"semantic_hash,omitempty"`

	Signature []byte `json:"signature,omitempty"`
	PublicKey []byte `json:"public_key,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Response is the uniform action result: a payload on success, a message on
// failure. The subsystem is a library; no exit codes are defined here.
type Response struct {
	OK      bool   `json:"ok"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Dispatch executes one command against the context. All business-rule
// failures come back inside the Response; only a nil/unbuilt context is
// reported as a Go error.
func (c *Context) Dispatch(cmd Command) (Response, error) {
	if err := c.check(); err != nil {
		return Response{}, err
	}

	var (
		payload any
		err     error
	)
	switch cmd.Op {
	case OpSubmitClaim:
		payload, err = c.SubmitClaim(cmd.AgentID, cmd.Statement, cmd.Amount, cmd.Hash)
	case OpVerifyClaim:
		payload, err = c.VerifyClaim(cmd.ClaimID, cmd.AgentID)
	case OpCreateEdge:
		payload, err = c.CreateEdge(cmd.ClaimID, cmd.ToClaimID, cmd.EdgeType, cmd.AgentID, cmd.Evidence)
	case OpClaimTask:
		payload, err = c.ClaimTask(cmd.TaskID, cmd.AgentID)
	case OpSubmitTaskResult:
		payload, err = c.SubmitResult(cmd.TaskID, cmd.AgentID, cmd.Result, cmd.Evidence)
	case OpCreateSynthesis:
		payload, err = c.CreateSynthesis(cmd.AgentID, cmd.Title, cmd.Summary, cmd.ClaimIDs, nil, "", cmd.Amount)
	case OpPublishSynthesis:
		payload, err = c.PublishSynthesis(cmd.SynthesisID, cmd.AgentID)
	case OpFindCounterexample:
		var found bool
		var edge any
		edge, found, err = c.FindCounterexample(cmd.ClaimID, cmd.AgentID, cmd.Statement, cmd.Evidence)
		payload = map[string]any{"found": found, "edge": edge}
	case OpSecurityReview:
		payload, err = c.SecurityReview(cmd.ClaimID, cmd.AgentID, cmd.Result, cmd.Evidence)
	case OpVouch:
		err = c.Vouch(cmd.AgentID, cmd.TargetID, cmd.Signature, ed25519.PublicKey(cmd.PublicKey), cmd.Timestamp)
	case OpStakeStatus:
		payload, err = c.StakeStatusFor(cmd.AgentID)
	case OpRewardStatus:
		payload, err = c.RewardStatusFor(cmd.AgentID)
	case OpEstimateReward:
		payload, err = c.EstimateReward(cmd.AgentID, reward.Action(cmd.Action))
	case OpGetProfile:
		payload, err = c.Profile(cmd.AgentID)
	default:
		err = fmt.Errorf("%q: %w", cmd.Op, ErrUnknownOperation)
	}

	if err != nil {
		return Response{Error: err.Error()}, nil
	}
	return Response{OK: true, Payload: payload}, nil
}
