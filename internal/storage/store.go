// Package storage persists the four coherence stores as JSON documents
// (atomic-rename writes, strict loads) and keeps the full transaction
// history in a SQLite archive past the JSON history cap.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ssd-technologies/coherence/internal/claimgraph"
	"github.com/ssd-technologies/coherence/internal/ledger"
	"github.com/ssd-technologies/coherence/internal/reward"
	"github.com/ssd-technologies/coherence/internal/stake"
)

// Store reads and writes the node's persisted state under one directory:
//
//	wallet/<node_id>.json    per-agent ledger account
//	coherence-stakes.json    active stakes + stake history
//	coherence-rewards.json   reward history + agent profiles
//	coherence-state.json     claims, edges, tasks, syntheses (written by protocol)
type Store struct {
	dir string
}

// NewStore creates the store directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Join(dir, "wallet"), 0755); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// StatePath returns the path of the coherence-state.json document, which the
// protocol layer owns.
func (s *Store) StatePath() string { return filepath.Join(s.dir, "coherence-state.json") }

// walletDoc mirrors wallet/<node_id>.json.
type walletDoc struct {
	NodeID          string               `json:"node_id"`
	Balance         int64                `json:"balance"`
	StakedAmount    int64                `json:"staked_amount"`
	StakeLockExpiry int64                `json:"stake_lock_expiry"`
	StakeLockDays   int                  `json:"stake_lock_days"`
	TotalReceived   int64                `json:"total_received"`
	TotalSent       int64                `json:"total_sent"`
	TotalGasSpent   int64                `json:"total_gas_spent"`
	Transactions    []ledger.Transaction `json:"transactions"`
}

// stakesDoc mirrors coherence-stakes.json.
type stakesDoc struct {
	ActiveStakes map[string]stake.TaskStake `json:"active_stakes"`
	StakeHistory []stake.TaskStake          `json:"stake_history"`
}

// rewardsDoc mirrors coherence-rewards.json. AgentProfiles is keyed by agent
// id; LegacyProfile accepts the older single-profile layout on load.
type rewardsDoc struct {
	RewardHistory []reward.Record           `json:"reward_history"`
	AgentProfiles map[string]reward.Profile `json:"agent_profiles"`
	LegacyProfile *reward.Profile           `json:"agent_profile,omitempty"`
}

func (s *Store) walletPath(nodeID string) string {
	return filepath.Join(s.dir, "wallet", nodeID+".json")
}

// SaveWallets writes one wallet document per ledger account.
func (s *Store) SaveWallets(book *ledger.Book, stakeLockDays int) error {
	for _, snap := range book.Accounts() {
		doc := walletDoc{
			NodeID:          snap.ID,
			Balance:         snap.Balance,
			StakedAmount:    snap.StakedAmount,
			StakeLockExpiry: snap.StakeLockExpiry,
			StakeLockDays:   stakeLockDays,
			TotalReceived:   snap.TotalReceived,
			TotalSent:       snap.TotalSent,
			TotalGasSpent:   snap.TotalGasSpent,
			Transactions:    snap.Transactions,
		}
		if err := WriteJSON(s.walletPath(snap.ID), doc); err != nil {
			return fmt.Errorf("save wallet %s: %w", snap.ID, err)
		}
	}
	return nil
}

// LoadWallets restores every persisted wallet into book.
func (s *Store) LoadWallets(book *ledger.Book) error {
	entries, err := os.ReadDir(filepath.Join(s.dir, "wallet"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read wallet dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		var doc walletDoc
		ok, err := ReadJSON(filepath.Join(s.dir, "wallet", entry.Name()), &doc)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if doc.NodeID == "" {
			doc.NodeID = entry.Name()[:len(entry.Name())-len(".json")]
		}
		book.Restore(ledger.Snapshot{
			ID:              doc.NodeID,
			Balance:         doc.Balance,
			StakedAmount:    doc.StakedAmount,
			StakeLockExpiry: doc.StakeLockExpiry,
			TotalReceived:   doc.TotalReceived,
			TotalSent:       doc.TotalSent,
			TotalGasSpent:   doc.TotalGasSpent,
			Transactions:    doc.Transactions,
		})
	}
	return nil
}

// SaveStakes writes coherence-stakes.json.
func (s *Store) SaveStakes(m *stake.Manager) error {
	doc := stakesDoc{ActiveStakes: m.Active(), StakeHistory: m.History()}
	return WriteJSON(filepath.Join(s.dir, "coherence-stakes.json"), doc)
}

// LoadStakes restores the stake manager, re-reserving ledger funds for every
// active stake. Call after LoadWallets.
func (s *Store) LoadStakes(m *stake.Manager) error {
	var doc stakesDoc
	ok, err := ReadJSON(filepath.Join(s.dir, "coherence-stakes.json"), &doc)
	if err != nil || !ok {
		return err
	}
	return m.Restore(doc.ActiveStakes, doc.StakeHistory)
}

// SaveRewards writes coherence-rewards.json.
func (s *Store) SaveRewards(e *reward.Engine) error {
	doc := rewardsDoc{RewardHistory: e.History(), AgentProfiles: e.Profiles()}
	return WriteJSON(filepath.Join(s.dir, "coherence-rewards.json"), doc)
}

// LoadRewards restores profiles and reward history.
func (s *Store) LoadRewards(e *reward.Engine) error {
	var doc rewardsDoc
	ok, err := ReadJSON(filepath.Join(s.dir, "coherence-rewards.json"), &doc)
	if err != nil || !ok {
		return err
	}
	profiles := doc.AgentProfiles
	if profiles == nil {
		profiles = make(map[string]reward.Profile)
	}
	if doc.LegacyProfile != nil && doc.LegacyProfile.AgentID != "" {
		if _, exists := profiles[doc.LegacyProfile.AgentID]; !exists {
			profiles[doc.LegacyProfile.AgentID] = *doc.LegacyProfile
		}
	}
	e.Restore(profiles, doc.RewardHistory)
	return nil
}

// GraphState is the claims/edges half of coherence-state.json; the protocol
// layer adds tasks and syntheses around it.
type GraphState struct {
	Claims map[string]claimgraph.Claim `json:"claims"`
	Edges  map[string]claimgraph.Edge  `json:"edges"`
}

// SnapshotGraph captures the claim graph for persistence.
func SnapshotGraph(g *claimgraph.Graph) GraphState {
	return GraphState{Claims: g.Claims(), Edges: g.Edges()}
}

// RestoreGraph installs a persisted graph state.
func RestoreGraph(g *claimgraph.Graph, st GraphState) {
	g.Restore(st.Claims, st.Edges)
}
