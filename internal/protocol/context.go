// Package protocol is the coherence orchestrator: it creates and drives
// verification, counterexample, synthesis and security-review tasks against
// claims, enforces tier gates, locks and releases stakes, and disburses
// rewards. Oracle calls always happen outside the stake/task critical
// sections; the lock order everywhere is context -> stake manager -> reward
// engine -> ledger account.
package protocol

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ssd-technologies/coherence/internal/claimgraph"
	"github.com/ssd-technologies/coherence/internal/config"
	"github.com/ssd-technologies/coherence/internal/ledger"
	"github.com/ssd-technologies/coherence/internal/reward"
	"github.com/ssd-technologies/coherence/internal/stake"
	"github.com/ssd-technologies/coherence/internal/storage"
	"github.com/ssd-technologies/coherence/internal/tier"
)

var (
	ErrNotInitialized    = errors.New("coherence context not initialized")
	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskNotPending    = errors.New("task is not pending")
	ErrTaskNotClaimed    = errors.New("task is not claimed")
	ErrNotAssignedToYou  = errors.New("task is assigned to another agent")
	ErrInsufficientTier  = errors.New("insufficient tier")
	ErrSynthesisNotFound = errors.New("synthesis not found")
	ErrSelfVouch         = errors.New("cannot vouch for yourself")
	ErrBadVouchSignature = errors.New("vouch signature invalid")
)

// slashRejectedPercent is forfeited from a claim's stake when verification
// rejects it outright.
const slashRejectedPercent = 50

// Context is the fully-constructed aggregate every action dispatches
// through. Build it with New; a zero Context rejects all calls with
// ErrNotInitialized instead of silently defaulting.
type Context struct {
	mu sync.Mutex

	book      *ledger.Book
	stakes    *stake.Manager
	rewards   *reward.Engine
	graph     *claimgraph.Graph
	oracle    Oracle
	store     *storage.Store
	tasks     map[string]*Task
	syntheses map[string]*Synthesis

	cfg      config.Config
	nodeID   string
	timeouts map[string]time.Duration
	now      func() time.Time
	ready    bool
}

// Option configures a Context.
type Option func(*buildState)

type buildState struct {
	signer  ledger.Signer
	store   *storage.Store
	archive *storage.Archive
	nodeID  string
	now     func() time.Time
}

// WithSigner attaches the identity layer's signer to the ledger.
func WithSigner(s ledger.Signer) Option { return func(b *buildState) { b.signer = s } }

// WithNodeID names the node's own agent; its profile is mirrored into the
// state document.
func WithNodeID(id string) Option { return func(b *buildState) { b.nodeID = id } }

// WithStore attaches the JSON store and the sqlite transaction archive.
// Persisted state is loaded during New and every mutating operation saves
// back through the store.
func WithStore(s *storage.Store, a *storage.Archive) Option {
	return func(b *buildState) {
		b.store = s
		b.archive = a
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option { return func(b *buildState) { b.now = now } }

// New wires the ledger, stake manager, reward engine and claim graph into a
// ready Context and loads persisted state when a store is attached. A load
// failure (corrupt store) aborts construction: refusing to start beats
// silently resetting the ledger.
func New(cfg config.Config, oracle Oracle, opts ...Option) (*Context, error) {
	var b buildState
	for _, opt := range opts {
		opt(&b)
	}
	if b.now == nil {
		b.now = time.Now
	}

	ledgerOpts := []ledger.Option{
		ledger.WithHistoryCap(cfg.HistoryCap),
		ledger.WithClock(b.now),
	}
	if b.signer != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithSigner(b.signer))
	}
	if b.archive != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithArchiver(b.archive))
	}
	book := ledger.NewBook(ledgerOpts...)

	bases := make(map[reward.Action]int64, len(cfg.RewardBases))
	for action, base := range cfg.RewardBases {
		bases[reward.Action(action)] = base
	}
	engine := reward.NewEngine(book,
		reward.WithBases(bases),
		reward.WithHistoryCap(cfg.HistoryCap),
		reward.WithClock(b.now),
	)

	manager := stake.NewManager(book,
		stake.WithRecorder(engine),
		stake.WithExpirePercent(cfg.ExpirePercent),
		stake.WithHistoryCap(cfg.HistoryCap),
		stake.WithClock(b.now),
	)

	graph := claimgraph.NewGraph()
	graph.SetClock(b.now)

	timeouts := make(map[string]time.Duration, len(defaultTimeouts))
	for typ, d := range defaultTimeouts {
		timeouts[typ] = d
	}
	for typ, mins := range cfg.TaskTimeoutsMinutes {
		timeouts[typ] = time.Duration(mins) * time.Minute
	}

	c := &Context{
		book:      book,
		stakes:    manager,
		rewards:   engine,
		graph:     graph,
		oracle:    oracle,
		store:     b.store,
		tasks:     make(map[string]*Task),
		syntheses: make(map[string]*Synthesis),
		cfg:       cfg,
		nodeID:    b.nodeID,
		timeouts:  timeouts,
		now:       b.now,
		ready:     true,
	}

	if b.store != nil {
		if err := c.load(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Context) check() error {
	if c == nil || !c.ready {
		return ErrNotInitialized
	}
	return nil
}

// Book exposes the ledger for faucet/transfer operations and tests.
func (c *Context) Book() *ledger.Book { return c.book }

// Stakes exposes the stake manager.
func (c *Context) Stakes() *stake.Manager { return c.stakes }

// Rewards exposes the reward engine.
func (c *Context) Rewards() *reward.Engine { return c.rewards }

// Graph exposes the claim graph.
func (c *Context) Graph() *claimgraph.Graph { return c.graph }

func (c *Context) agentTier(agentID string) tier.Tier {
	return tier.ForStake(c.book.Balance(agentID) + c.book.Staked(agentID))
}

// Faucet mints bootstrap tokens for an agent and persists the wallet.
func (c *Context) Faucet(agentID string, amount int64, memo string) (*ledger.Transaction, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	tx, err := c.book.Faucet(agentID, amount, memo)
	if err != nil {
		return nil, err
	}
	return tx, c.persist()
}

// Transfer moves tokens between two agents and persists the wallets.
func (c *Context) Transfer(from, to string, amount int64, memo string) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	groupID, err := c.book.Transfer(from, to, amount, memo)
	if err != nil {
		return "", err
	}
	return groupID, c.persist()
}

// CreateTask registers a pending task. Task issuing itself is driven from
// outside the protocol core; this is its entry point.
func (c *Context) CreateTask(taskType, claimID string, stakeAmount int64) (*Task, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if _, ok := c.timeouts[taskType]; !ok {
		return nil, fmt.Errorf("unknown task type %q", taskType)
	}
	if stakeAmount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if claimID != "" {
		if _, err := c.graph.Get(claimID); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	t := &Task{
		ID:          uuid.NewString(),
		Type:        taskType,
		ClaimID:     claimID,
		Status:      TaskPending,
		StakeAmount: stakeAmount,
		CreatedAt:   c.now().Unix(),
	}
	c.tasks[t.ID] = t
	out := *t
	c.mu.Unlock()

	return &out, c.persist()
}

// ClaimTask assigns a pending task to an agent and locks the task's stake.
// The critical section is short: no oracle work happens here.
func (c *Context) ClaimTask(taskID, agentID string) (*Task, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	t, ok := c.tasks[taskID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
	}
	if t.Status != TaskPending {
		c.mu.Unlock()
		return nil, fmt.Errorf("task %s is %s: %w", taskID, t.Status, ErrTaskNotPending)
	}
	if !tier.AtLeast(c.agentTier(agentID), requiredTier(t.Type)) {
		c.mu.Unlock()
		return nil, fmt.Errorf("task %s requires %s: %w", taskID, requiredTier(t.Type), ErrInsufficientTier)
	}
	if _, err := c.stakes.Lock(taskID, agentID, t.StakeAmount, "task:"+t.Type); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	t.AssignedAgent = agentID
	t.Status = TaskClaimed
	t.Deadline = c.now().Add(c.timeouts[t.Type]).Unix()
	out := *t
	claimID := t.ClaimID
	taskType := t.Type
	c.mu.Unlock()

	if taskType == TaskVerify && claimID != "" {
		// Best effort; the claim may already be past review.
		_ = c.graph.MarkUnderReview(claimID)
	}
	return &out, c.persist()
}

// SubmitResult completes a claimed task: the stake is released, the reward
// disbursed and the task closed. Safe to retry: if a crash landed between
// stake release and reward, the retry finds the stake already released and
// proceeds straight to the award. Losing a race against the expiry sweeper
// fails cleanly with ErrTaskNotClaimed.
func (c *Context) SubmitResult(taskID, agentID, result, evidence string) (*Task, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	t, ok := c.tasks[taskID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
	}
	if t.AssignedAgent != agentID {
		c.mu.Unlock()
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotAssignedToYou)
	}
	if t.Status != TaskClaimed {
		c.mu.Unlock()
		return nil, fmt.Errorf("task %s is %s: %w", taskID, t.Status, ErrTaskNotClaimed)
	}

	if _, err := c.stakes.Release(taskID); err != nil && !errors.Is(err, stake.ErrStakeNotFound) {
		c.mu.Unlock()
		return nil, err
	}

	action := rewardAction(t.Type)
	decisive := result == claimgraph.ResultVerified || result == claimgraph.ResultRejected
	rec, err := c.rewards.Award(agentID, action, reward.Outcome{Correct: decisive}, "task "+taskID)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	t.Status = TaskCompleted
	t.Result = result
	t.Evidence = evidence
	t.Reward = rec.Amount
	t.CompletedAt = c.now().Unix()
	out := *t
	claimID := t.ClaimID
	taskType := t.Type
	c.mu.Unlock()

	if taskType == TaskVerify && claimID != "" {
		if _, err := c.applyVerdict(claimID, agentID, result, 0); err != nil && !errors.Is(err, claimgraph.ErrClaimNotFound) {
			return nil, err
		}
	}
	return &out, c.persist()
}

// ExpireStale is the deadlock-prevention valve: claimed tasks past their
// deadline are expired (stake slashed at the expiry percent, task no longer
// claimable or submittable) and orphan stakes older than maxAge are swept.
// Idempotent, and safe to run concurrently with in-flight SubmitResult
// calls: whichever takes the context lock first wins.
func (c *Context) ExpireStale(maxAge time.Duration) ([]Task, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	now := c.now().Unix()
	var expired []Task
	for _, t := range c.tasks {
		if t.Status != TaskClaimed || t.Deadline == 0 || t.Deadline > now {
			continue
		}
		if _, _, err := c.stakes.Slash(t.ID, c.cfg.ExpirePercent); err != nil && !errors.Is(err, stake.ErrStakeNotFound) {
			continue
		}
		t.Status = TaskExpired
		t.AssignedAgent = ""
		expired = append(expired, *t)
	}
	c.mu.Unlock()

	// Sweep stakes not tied to a live task (claims, syntheses) as well. The
	// sweep debits the ledger, so its results must hit disk even when no
	// task expired.
	swept := c.stakes.ExpireStale(maxAge)

	if len(expired) == 0 && len(swept) == 0 {
		return nil, nil
	}
	return expired, c.persist()
}

// Task returns a copy of the task, or ErrTaskNotFound.
func (c *Context) Task(taskID string) (Task, error) {
	if err := c.check(); err != nil {
		return Task{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
	}
	return *t, nil
}

// Tasks returns copies of all tasks keyed by id.
func (c *Context) Tasks() map[string]Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Task, len(c.tasks))
	for id, t := range c.tasks {
		out[id] = *t
	}
	return out
}
