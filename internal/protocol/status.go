package protocol

import (
	"github.com/ssd-technologies/coherence/internal/reward"
	"github.com/ssd-technologies/coherence/internal/stake"
)

// StakeStatus summarizes one agent's funds and live stakes.
type StakeStatus struct {
	AgentID      string            `json:"agent_id"`
	Balance      int64             `json:"balance"`
	Staked       int64             `json:"staked_amount"`
	TotalLocked  int64             `json:"total_locked"`
	Available    int64             `json:"available"`
	ActiveStakes []stake.TaskStake `json:"active_stakes,omitempty"`
}

// RewardStatus summarizes one agent's profile and reward history.
type RewardStatus struct {
	Profile       reward.Profile  `json:"profile"`
	History       []reward.Record `json:"history,omitempty"`
	TotalRewarded int64           `json:"total_rewarded"`
	TotalSlashed  int64           `json:"total_slashed"`
}

// StakeStatusFor reports the agent's balances and open stakes.
func (c *Context) StakeStatusFor(agentID string) (StakeStatus, error) {
	if err := c.check(); err != nil {
		return StakeStatus{}, err
	}

	var active []stake.TaskStake
	for _, s := range c.stakes.Active() {
		if s.AgentID == agentID {
			active = append(active, s)
		}
	}
	return StakeStatus{
		AgentID:      agentID,
		Balance:      c.book.Balance(agentID),
		Staked:       c.book.Staked(agentID),
		TotalLocked:  c.stakes.TotalLocked(agentID),
		Available:    c.book.Available(agentID),
		ActiveStakes: active,
	}, nil
}

// RewardStatusFor reports the agent's profile and reward/slash history.
func (c *Context) RewardStatusFor(agentID string) (RewardStatus, error) {
	if err := c.check(); err != nil {
		return RewardStatus{}, err
	}

	st := RewardStatus{Profile: c.rewards.Profile(agentID)}
	for _, rec := range c.rewards.History() {
		if rec.AgentID != agentID {
			continue
		}
		st.History = append(st.History, rec)
		switch rec.Kind {
		case reward.RecordReward:
			st.TotalRewarded += rec.Amount
		case reward.RecordSlash:
			st.TotalSlashed += rec.Amount
		}
	}
	return st, nil
}

// EstimateReward computes what an action would pay the agent right now,
// without disbursing anything.
func (c *Context) EstimateReward(agentID string, action reward.Action) (int64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	return c.rewards.Calculate(agentID, action), nil
}

// Profile returns the agent's performance profile with derived fields
// refreshed.
func (c *Context) Profile(agentID string) (reward.Profile, error) {
	if err := c.check(); err != nil {
		return reward.Profile{}, err
	}
	return c.rewards.Profile(agentID), nil
}
