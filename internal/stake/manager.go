// Package stake holds tokens locked against task identifiers. Locking never
// moves balance, it only reserves it in the ledger; slashing is the one path
// that debits. At most one live stake exists per task id.
package stake

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ssd-technologies/coherence/internal/ledger"
)

var (
	ErrDuplicateStake = errors.New("task already has an active stake")
	ErrStakeNotFound  = errors.New("no active stake for task")
)

// Stake statuses.
const (
	StatusLocked   = "locked"
	StatusReleased = "released"
	StatusSlashed  = "slashed"
)

// DefaultExpirePercent is the slash applied to stakes swept by ExpireStale.
const DefaultExpirePercent = 10

// DefaultHistoryCap bounds the resolved-stake history.
const DefaultHistoryCap = 1000

// TaskStake is one bond held against a task.
type TaskStake struct {
	ID            string `json:"id"`
	TaskID        string `json:"task_id"`
	AgentID       string `json:"agent_id"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
	LockedAt      int64  `json:"locked_at"`
	Status        string `json:"status"`
	SlashedAmount int64  `json:"slashed_amount,omitempty"`
	ResolvedAt    int64  `json:"resolved_at,omitempty"`
}

// SlashRecorder receives profile/statistics bookkeeping for every slash.
// Wiring it into the manager makes the token movement and the bookkeeping a
// single atomic operation; callers cannot forget one half.
type SlashRecorder interface {
	RecordSlash(agentID string, amount int64, reason string)
}

// Manager tracks active stakes by task id over a ledger book.
type Manager struct {
	mu       sync.Mutex
	book     *ledger.Book
	active   map[string]*TaskStake
	history  []TaskStake
	recorder SlashRecorder

	expirePercent int
	historyCap    int
	now           func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder attaches the slash bookkeeping sink.
func WithRecorder(r SlashRecorder) Option { return func(m *Manager) { m.recorder = r } }

// WithExpirePercent overrides the expiry slash percentage.
func WithExpirePercent(p int) Option {
	return func(m *Manager) {
		if p >= 0 && p <= 100 {
			m.expirePercent = p
		}
	}
}

// WithHistoryCap overrides the resolved-stake history cap.
func WithHistoryCap(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.historyCap = n
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager creates a stake manager over book.
func NewManager(book *ledger.Book, opts ...Option) *Manager {
	m := &Manager{
		book:          book,
		active:        make(map[string]*TaskStake),
		expirePercent: DefaultExpirePercent,
		historyCap:    DefaultHistoryCap,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lock reserves amount of agentID's balance against taskID. A second lock on
// the same task fails with ErrDuplicateStake; an over-large amount fails with
// the ledger's ErrInsufficientAvailableBalance.
func (m *Manager) Lock(taskID, agentID string, amount int64, reason string) (*TaskStake, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[taskID]; ok {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrDuplicateStake)
	}
	if err := m.book.Reserve(agentID, amount); err != nil {
		return nil, err
	}

	s := &TaskStake{
		ID:       uuid.NewString(),
		TaskID:   taskID,
		AgentID:  agentID,
		Amount:   amount,
		Reason:   reason,
		LockedAt: m.now().Unix(),
		Status:   StatusLocked,
	}
	m.active[taskID] = s
	return s, nil
}

// Release frees the stake for taskID. The amount was only reserved, so it
// becomes spendable again without any transaction. A second release returns
// ErrStakeNotFound and changes nothing.
func (m *Manager) Release(taskID string) (*TaskStake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.active[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrStakeNotFound)
	}
	m.book.Unreserve(s.AgentID, s.Amount)
	m.resolve(s, StatusReleased, 0)
	return s, nil
}

// Slash forfeits percent of the stake: the slashed part is debited from the
// ledger (burned), the remainder becomes available again. The attached
// SlashRecorder is invoked before Slash returns, so token movement and
// profile statistics cannot diverge. Returns (slashed, returned).
func (m *Manager) Slash(taskID string, percent int) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slashLocked(taskID, percent)
}

func (m *Manager) slashLocked(taskID string, percent int) (int64, int64, error) {
	s, ok := m.active[taskID]
	if !ok {
		return 0, 0, fmt.Errorf("task %s: %w", taskID, ErrStakeNotFound)
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	slashed := s.Amount * int64(percent) / 100
	m.book.Unreserve(s.AgentID, s.Amount)
	if slashed > 0 {
		if _, err := m.book.Debit(s.AgentID, slashed, ledger.KindSlash, s.Reason); err != nil {
			// Put the reservation back so the stake stays live and consistent.
			if rerr := m.book.Reserve(s.AgentID, s.Amount); rerr != nil {
				return 0, 0, fmt.Errorf("slash debit failed and re-reserve failed (%v): %w", rerr, err)
			}
			return 0, 0, fmt.Errorf("slash debit: %w", err)
		}
	}

	m.resolve(s, StatusSlashed, slashed)
	if m.recorder != nil && slashed > 0 {
		m.recorder.RecordSlash(s.AgentID, slashed, s.Reason)
	}
	return slashed, s.Amount - slashed, nil
}

// ExpireStale slashes every stake older than maxAge at the expiry percentage
// and returns the expired stakes. Each stake can only be expired once: the
// slash removes it from the active set.
func (m *Manager) ExpireStale(maxAge time.Duration) []TaskStake {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-maxAge).Unix()
	var expired []TaskStake
	for taskID, s := range m.active {
		if s.LockedAt > cutoff {
			continue
		}
		if _, _, err := m.slashLocked(taskID, m.expirePercent); err != nil {
			continue
		}
		expired = append(expired, *s)
	}
	return expired
}

// resolve moves a stake from the active set to history. Caller holds m.mu.
func (m *Manager) resolve(s *TaskStake, status string, slashed int64) {
	s.Status = status
	s.SlashedAmount = slashed
	s.ResolvedAt = m.now().Unix()
	delete(m.active, s.TaskID)
	m.history = append(m.history, *s)
	if len(m.history) > m.historyCap {
		m.history = m.history[len(m.history)-m.historyCap:]
	}
}

// Get returns the active stake for taskID, or ErrStakeNotFound.
func (m *Manager) Get(taskID string) (TaskStake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.active[taskID]
	if !ok {
		return TaskStake{}, fmt.Errorf("task %s: %w", taskID, ErrStakeNotFound)
	}
	return *s, nil
}

// Active returns all live stakes keyed by task id.
func (m *Manager) Active() map[string]TaskStake {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]TaskStake, len(m.active))
	for id, s := range m.active {
		out[id] = *s
	}
	return out
}

// History returns resolved stakes, oldest first.
func (m *Manager) History() []TaskStake {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TaskStake(nil), m.history...)
}

// TotalLocked sums the live stakes held for one agent.
func (m *Manager) TotalLocked(agentID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, s := range m.active {
		if s.AgentID == agentID {
			total += s.Amount
		}
	}
	return total
}

// Restore installs persisted state and re-reserves ledger funds for every
// active stake. Used only during store load.
func (m *Manager) Restore(active map[string]TaskStake, history []TaskStake) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for taskID, s := range active {
		stake := s
		if err := m.book.Reserve(stake.AgentID, stake.Amount); err != nil {
			return fmt.Errorf("re-reserve stake for task %s: %w", taskID, err)
		}
		m.active[taskID] = &stake
	}
	m.history = append([]TaskStake(nil), history...)
	return nil
}
