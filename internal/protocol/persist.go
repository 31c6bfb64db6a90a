package protocol

import (
	"fmt"

	"github.com/ssd-technologies/coherence/internal/reward"
	"github.com/ssd-technologies/coherence/internal/storage"
)

// stateDoc mirrors coherence-state.json.
type stateDoc struct {
	storage.GraphState
	Tasks     map[string]Task      `json:"tasks"`
	Syntheses map[string]Synthesis `json:"syntheses"`
	Agent     *reward.Profile      `json:"agent,omitempty"`
}

// persist writes every store back to disk. In-memory state is authoritative;
// a write failure is reported to the caller but does not undo the operation.
func (c *Context) persist() error {
	if c.store == nil {
		return nil
	}
	if err := c.store.SaveWallets(c.book, c.cfg.StakeLockDays); err != nil {
		return err
	}
	if err := c.store.SaveStakes(c.stakes); err != nil {
		return err
	}
	if err := c.store.SaveRewards(c.rewards); err != nil {
		return err
	}

	doc := stateDoc{
		GraphState: storage.SnapshotGraph(c.graph),
		Tasks:      c.Tasks(),
		Syntheses:  make(map[string]Synthesis),
	}
	c.mu.Lock()
	for id, s := range c.syntheses {
		doc.Syntheses[id] = *s
	}
	nodeID := c.nodeID
	c.mu.Unlock()
	if nodeID != "" {
		p := c.rewards.Profile(nodeID)
		doc.Agent = &p
	}
	return storage.WriteJSON(c.store.StatePath(), doc)
}

// load restores all four stores. Any corrupt document aborts startup.
func (c *Context) load() error {
	if err := c.store.LoadWallets(c.book); err != nil {
		return err
	}
	if err := c.store.LoadStakes(c.stakes); err != nil {
		return err
	}
	if err := c.store.LoadRewards(c.rewards); err != nil {
		return err
	}

	var doc stateDoc
	ok, err := storage.ReadJSON(c.store.StatePath(), &doc)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if !ok {
		return nil
	}

	storage.RestoreGraph(c.graph, doc.GraphState)
	c.mu.Lock()
	for id, t := range doc.Tasks {
		task := t
		c.tasks[id] = &task
	}
	for id, s := range doc.Syntheses {
		synth := s
		c.syntheses[id] = &synth
	}
	c.mu.Unlock()
	return nil
}
