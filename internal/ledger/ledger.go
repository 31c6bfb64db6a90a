package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Business-rule failures returned to callers. All are recoverable; none
// should terminate the process.
var (
	ErrInvalidAmount                = errors.New("amount must be positive")
	ErrInsufficientBalance          = errors.New("insufficient balance")
	ErrInsufficientAvailableBalance = errors.New("insufficient available balance")
	ErrSelfTransfer                 = errors.New("cannot transfer to self")
	ErrStakeLocked                  = errors.New("staked amount is still locked")
	ErrAccountNotFound              = errors.New("account not found")
)

// DefaultHistoryCap bounds the in-memory (and persisted) transaction log per
// account. Older entries survive only in the archive.
const DefaultHistoryCap = 1000

// Signer signs transaction digests. Satisfied by the identity layer; the
// ledger treats it as opaque and never verifies signatures itself.
type Signer interface {
	Sign(msg []byte) []byte
}

// Archiver receives every transaction before it is reported confirmed.
// An archive failure fails the operation that produced the transaction.
type Archiver interface {
	ArchiveTransaction(accountID string, tx Transaction) error
}

// Account holds one agent's funds. Balance is spendable, StakedAmount is
// locked for tier purposes and only moves via StakeForTier/UnstakeFromTier.
// reserved tracks funds held against open task stakes; it is derived state
// and is rebuilt from the stake store on load, never persisted.
type Account struct {
	mu sync.Mutex

	ID              string
	Balance         int64
	StakedAmount    int64
	StakeLockExpiry int64
	TotalReceived   int64
	TotalSent       int64
	TotalGasSpent   int64
	Transactions    []Transaction

	reserved int64
}

// Snapshot is a copyable view of an account, safe to hand to persistence.
type Snapshot struct {
	ID              string
	Balance         int64
	StakedAmount    int64
	StakeLockExpiry int64
	TotalReceived   int64
	TotalSent       int64
	TotalGasSpent   int64
	Transactions    []Transaction
}

// Book is the set of all accounts known to this node, keyed by agent id.
// All balance mutations go through the Book so that signing, archival and
// the history cap are applied uniformly.
type Book struct {
	mu       sync.Mutex
	accounts map[string]*Account

	signer     Signer
	archiver   Archiver
	historyCap int
	now        func() time.Time
}

// Option configures a Book.
type Option func(*Book)

// WithSigner attaches a transaction signer.
func WithSigner(s Signer) Option { return func(b *Book) { b.signer = s } }

// WithArchiver attaches a durable transaction archive.
func WithArchiver(a Archiver) Option { return func(b *Book) { b.archiver = a } }

// WithHistoryCap overrides the per-account transaction log cap.
func WithHistoryCap(n int) Option {
	return func(b *Book) {
		if n > 0 {
			b.historyCap = n
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option { return func(b *Book) { b.now = now } }

// NewBook creates an empty ledger book.
func NewBook(opts ...Option) *Book {
	b := &Book{
		accounts:   make(map[string]*Account),
		historyCap: DefaultHistoryCap,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// GetOrCreate returns the account for id, creating it with a zero balance if
// it does not exist yet.
func (b *Book) GetOrCreate(id string) *Account {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct, ok := b.accounts[id]
	if !ok {
		acct = &Account{ID: id}
		b.accounts[id] = acct
	}
	return acct
}

// Lookup returns the account for id, or ErrAccountNotFound.
func (b *Book) Lookup(id string) (*Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct, ok := b.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
	}
	return acct, nil
}

// Restore installs a previously persisted account snapshot. Used only during
// store load, before any concurrent access exists.
func (b *Book) Restore(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[s.ID] = &Account{
		ID:              s.ID,
		Balance:         s.Balance,
		StakedAmount:    s.StakedAmount,
		StakeLockExpiry: s.StakeLockExpiry,
		TotalReceived:   s.TotalReceived,
		TotalSent:       s.TotalSent,
		TotalGasSpent:   s.TotalGasSpent,
		Transactions:    append([]Transaction(nil), s.Transactions...),
	}
}

// Accounts returns snapshots of every account, for persistence and audits.
func (b *Book) Accounts() []Snapshot {
	b.mu.Lock()
	ids := make([]*Account, 0, len(b.accounts))
	for _, acct := range b.accounts {
		ids = append(ids, acct)
	}
	b.mu.Unlock()

	out := make([]Snapshot, 0, len(ids))
	for _, acct := range ids {
		out = append(out, acct.snapshot())
	}
	return out
}

func (a *Account) snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		ID:              a.ID,
		Balance:         a.Balance,
		StakedAmount:    a.StakedAmount,
		StakeLockExpiry: a.StakeLockExpiry,
		TotalReceived:   a.TotalReceived,
		TotalSent:       a.TotalSent,
		TotalGasSpent:   a.TotalGasSpent,
		Transactions:    append([]Transaction(nil), a.Transactions...),
	}
}

// Balance returns the account's spendable balance.
func (b *Book) Balance(id string) int64 {
	acct := b.GetOrCreate(id)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.Balance
}

// Staked returns the account's tier-staked amount.
func (b *Book) Staked(id string) int64 {
	acct := b.GetOrCreate(id)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.StakedAmount
}

// Available returns balance minus funds reserved for open task stakes.
func (b *Book) Available(id string) int64 {
	acct := b.GetOrCreate(id)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.Balance - acct.reserved
}

// Reserved returns the amount currently held against open task stakes.
func (b *Book) Reserved(id string) int64 {
	acct := b.GetOrCreate(id)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.reserved
}

// TotalValue sums balance + staked amount across all accounts. Conservation
// says this only moves by the net of rewards minted and slashes burned.
func (b *Book) TotalValue() int64 {
	var total int64
	for _, s := range b.Accounts() {
		total += s.Balance + s.StakedAmount
	}
	return total
}

// Reserve holds amount of the account's balance against an open task stake.
// Fails with ErrInsufficientAvailableBalance if the unreserved balance is too
// small, so the sum of reservations never exceeds the balance.
func (b *Book) Reserve(id string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	acct := b.GetOrCreate(id)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if acct.Balance-acct.reserved < amount {
		return fmt.Errorf("reserve %d of %d available: %w", amount, acct.Balance-acct.reserved, ErrInsufficientAvailableBalance)
	}
	acct.reserved += amount
	return nil
}

// Unreserve returns previously reserved funds to the available pool.
func (b *Book) Unreserve(id string, amount int64) {
	acct := b.GetOrCreate(id)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	acct.reserved -= amount
	if acct.reserved < 0 {
		acct.reserved = 0
	}
}

// Credit adds amount to the account. Credits are never rejected for balance
// reasons; only a non-positive amount fails.
func (b *Book) Credit(id string, amount int64, kind, memo string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	acct := b.GetOrCreate(id)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	tx := b.newTx(kind, "", id, amount, memo)
	acct.Balance += amount
	acct.TotalReceived += amount
	if err := b.finalize(acct, tx); err != nil {
		acct.Balance -= amount
		acct.TotalReceived -= amount
		return nil, err
	}
	return tx, nil
}

// Debit removes amount from the account. Fails with ErrInsufficientBalance if
// amount exceeds the balance, and with ErrInsufficientAvailableBalance if it
// would dip into funds reserved for open task stakes. DebitReserved is the
// slash path that is allowed to consume reserved funds.
func (b *Book) Debit(id string, amount int64, kind, memo string) (*Transaction, error) {
	return b.debit(id, amount, kind, memo, false)
}

// DebitReserved removes amount even if it is covered by a reservation; the
// caller must shrink the reservation accordingly. Used by stake slashing.
func (b *Book) DebitReserved(id string, amount int64, kind, memo string) (*Transaction, error) {
	return b.debit(id, amount, kind, memo, true)
}

func (b *Book) debit(id string, amount int64, kind, memo string, fromReserved bool) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	acct := b.GetOrCreate(id)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if amount > acct.Balance {
		return nil, fmt.Errorf("debit %d of %d: %w", amount, acct.Balance, ErrInsufficientBalance)
	}
	if !fromReserved && amount > acct.Balance-acct.reserved {
		return nil, fmt.Errorf("debit %d of %d available: %w", amount, acct.Balance-acct.reserved, ErrInsufficientAvailableBalance)
	}

	tx := b.newTx(kind, id, "", amount, memo)
	acct.Balance -= amount
	acct.TotalSent += amount
	if err := b.finalize(acct, tx); err != nil {
		acct.Balance += amount
		acct.TotalSent -= amount
		return nil, err
	}
	return tx, nil
}

// Transfer moves amount between two accounts atomically, appending one
// correlated transaction per party. Both account locks are taken in
// lexicographic id order so concurrent opposing transfers cannot deadlock.
func (b *Book) Transfer(from, to string, amount int64, memo string) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}
	if from == to {
		return "", ErrSelfTransfer
	}

	src := b.GetOrCreate(from)
	dst := b.GetOrCreate(to)

	first, second := src, dst
	if dst.ID < src.ID {
		first, second = dst, src
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if amount > src.Balance {
		return "", fmt.Errorf("transfer %d of %d: %w", amount, src.Balance, ErrInsufficientBalance)
	}
	if amount > src.Balance-src.reserved {
		return "", fmt.Errorf("transfer %d of %d available: %w", amount, src.Balance-src.reserved, ErrInsufficientAvailableBalance)
	}

	groupID := uuid.NewString()
	out := b.newTx(KindTransfer, from, to, amount, memo)
	out.GroupID = groupID
	in := b.newTx(KindTransfer, from, to, amount, memo)
	in.GroupID = groupID

	out.Status = StatusConfirmed
	in.Status = StatusConfirmed

	// Both legs must be durable before either balance moves.
	if b.archiver != nil {
		if err := b.archiver.ArchiveTransaction(from, *out); err != nil {
			return "", fmt.Errorf("archive transaction %s: %w", out.ID, err)
		}
		if err := b.archiver.ArchiveTransaction(to, *in); err != nil {
			return "", fmt.Errorf("archive transaction %s: %w", in.ID, err)
		}
	}

	src.Balance -= amount
	src.TotalSent += amount
	dst.Balance += amount
	dst.TotalReceived += amount

	src.appendTx(*out, b.historyCap)
	dst.appendTx(*in, b.historyCap)
	return groupID, nil
}

// Faucet mints amount into the account. The only value-creating operation
// besides rewards.
func (b *Book) Faucet(id string, amount int64, memo string) (*Transaction, error) {
	return b.Credit(id, amount, KindFaucet, memo)
}

// ChargeGas burns amount as gas and tracks the cumulative counter. Exposed
// for the transport layer; nothing in the protocol core charges gas.
func (b *Book) ChargeGas(id string, amount int64, memo string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	acct := b.GetOrCreate(id)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if amount > acct.Balance {
		return nil, fmt.Errorf("gas %d of %d: %w", amount, acct.Balance, ErrInsufficientBalance)
	}
	if amount > acct.Balance-acct.reserved {
		return nil, fmt.Errorf("gas %d of %d available: %w", amount, acct.Balance-acct.reserved, ErrInsufficientAvailableBalance)
	}

	tx := b.newTx(KindGas, id, "", amount, memo)
	tx.GasUsed = amount
	acct.Balance -= amount
	acct.TotalSent += amount
	acct.TotalGasSpent += amount
	if err := b.finalize(acct, tx); err != nil {
		acct.Balance += amount
		acct.TotalSent -= amount
		acct.TotalGasSpent -= amount
		return nil, err
	}
	return tx, nil
}

// StakeForTier moves amount from balance to the tier stake, locked until
// now + lockDays. Tier-staked funds count toward tier thresholds but are not
// spendable and cannot back task stakes.
func (b *Book) StakeForTier(id string, amount int64, lockDays int) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	acct := b.GetOrCreate(id)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if amount > acct.Balance-acct.reserved {
		return nil, fmt.Errorf("stake %d of %d available: %w", amount, acct.Balance-acct.reserved, ErrInsufficientAvailableBalance)
	}

	tx := b.newTx(KindStake, id, id, amount, fmt.Sprintf("tier stake, locked %d days", lockDays))
	acct.Balance -= amount
	acct.StakedAmount += amount
	expiry := b.now().Add(time.Duration(lockDays) * 24 * time.Hour).Unix()
	if expiry > acct.StakeLockExpiry {
		acct.StakeLockExpiry = expiry
	}
	if err := b.finalize(acct, tx); err != nil {
		acct.Balance += amount
		acct.StakedAmount -= amount
		return nil, err
	}
	return tx, nil
}

// UnstakeFromTier moves amount back from the tier stake to the balance.
// Fails with ErrStakeLocked before the lock expiry.
func (b *Book) UnstakeFromTier(id string, amount int64) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	acct := b.GetOrCreate(id)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if b.now().Unix() < acct.StakeLockExpiry {
		return nil, fmt.Errorf("locked until %d: %w", acct.StakeLockExpiry, ErrStakeLocked)
	}
	if amount > acct.StakedAmount {
		return nil, fmt.Errorf("unstake %d of %d staked: %w", amount, acct.StakedAmount, ErrInsufficientBalance)
	}

	tx := b.newTx(KindUnstake, id, id, amount, "tier unstake")
	acct.StakedAmount -= amount
	acct.Balance += amount
	if err := b.finalize(acct, tx); err != nil {
		acct.StakedAmount += amount
		acct.Balance -= amount
		return nil, err
	}
	return tx, nil
}

// History returns the account's transactions newest-first, filtered and
// paginated. An unknown account yields an empty history.
func (b *Book) History(id string, f Filter, limit, offset int) []Transaction {
	b.mu.Lock()
	acct, ok := b.accounts[id]
	b.mu.Unlock()
	if !ok {
		return nil
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	var matched []Transaction
	for i := len(acct.Transactions) - 1; i >= 0; i-- {
		if f.matches(acct.Transactions[i]) {
			matched = append(matched, acct.Transactions[i])
		}
	}
	if offset >= len(matched) {
		return nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched
}

// newTx builds a pending transaction, signed if a signer is attached.
func (b *Book) newTx(kind, from, to string, amount int64, memo string) *Transaction {
	tx := &Transaction{
		ID:        uuid.NewString(),
		Kind:      kind,
		From:      from,
		To:        to,
		Amount:    amount,
		Memo:      memo,
		Status:    StatusPending,
		Timestamp: b.now().Unix(),
	}
	if b.signer != nil {
		digest := fmt.Sprintf("%s|%s|%s|%s|%d|%d", tx.ID, tx.Kind, tx.From, tx.To, tx.Amount, tx.Timestamp)
		tx.Signature = hex.EncodeToString(b.signer.Sign([]byte(digest)))
	}
	return tx
}

// finalize archives the transaction, marks it confirmed and appends it to the
// account log. Must be called with the account lock held. On archive failure
// the transaction is recorded as failed and the caller reverts the mutation.
func (b *Book) finalize(acct *Account, tx *Transaction) error {
	tx.Status = StatusConfirmed
	if b.archiver != nil {
		if err := b.archiver.ArchiveTransaction(acct.ID, *tx); err != nil {
			tx.Status = StatusFailed
			acct.appendTx(*tx, b.historyCap)
			return fmt.Errorf("archive transaction %s: %w", tx.ID, err)
		}
	}
	acct.appendTx(*tx, b.historyCap)
	return nil
}

func (a *Account) appendTx(tx Transaction, limit int) {
	a.Transactions = append(a.Transactions, tx)
	if len(a.Transactions) > limit {
		a.Transactions = a.Transactions[len(a.Transactions)-limit:]
	}
}
