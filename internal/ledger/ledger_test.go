package ledger

import (
	"errors"
	"testing"
	"time"
)

// fixedClock returns a clock stuck at a known instant.
func fixedClock(t *testing.T) func() time.Time {
	t.Helper()
	at := time.Unix(1700000000, 0)
	return func() time.Time { return at }
}

func TestCreditAndDebit(t *testing.T) {
	b := NewBook(WithClock(fixedClock(t)))

	tx, err := b.Credit("alice", 100, KindFaucet, "bootstrap")
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if tx.Status != StatusConfirmed {
		t.Errorf("Status = %s, want %s", tx.Status, StatusConfirmed)
	}
	if got := b.Balance("alice"); got != 100 {
		t.Errorf("Balance = %d, want 100", got)
	}

	if _, err := b.Debit("alice", 40, KindGas, "fee"); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if got := b.Balance("alice"); got != 60 {
		t.Errorf("Balance = %d, want 60", got)
	}

	acct := b.GetOrCreate("alice")
	if acct.TotalReceived != 100 || acct.TotalSent != 40 {
		t.Errorf("counters = (%d, %d), want (100, 40)", acct.TotalReceived, acct.TotalSent)
	}
}

func TestDebitInsufficientBalance(t *testing.T) {
	b := NewBook()
	b.Credit("alice", 10, KindFaucet, "")

	_, err := b.Debit("alice", 11, KindGas, "")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("Debit err = %v, want ErrInsufficientBalance", err)
	}
	if got := b.Balance("alice"); got != 10 {
		t.Errorf("Balance = %d, want 10 (unchanged)", got)
	}
}

func TestInvalidAmounts(t *testing.T) {
	b := NewBook()
	for _, amount := range []int64{0, -5} {
		if _, err := b.Credit("a", amount, KindFaucet, ""); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Credit(%d) err = %v, want ErrInvalidAmount", amount, err)
		}
		if _, err := b.Debit("a", amount, KindGas, ""); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Debit(%d) err = %v, want ErrInvalidAmount", amount, err)
		}
		if _, err := b.Transfer("a", "b", amount, ""); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Transfer(%d) err = %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestTransfer(t *testing.T) {
	b := NewBook()
	b.Credit("alice", 100, KindFaucet, "")

	groupID, err := b.Transfer("alice", "bob", 30, "payment")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if groupID == "" {
		t.Error("Transfer returned empty group id")
	}
	if got := b.Balance("alice"); got != 70 {
		t.Errorf("alice balance = %d, want 70", got)
	}
	if got := b.Balance("bob"); got != 30 {
		t.Errorf("bob balance = %d, want 30", got)
	}

	// Both parties got a correlated record.
	aliceTxs := b.History("alice", Filter{Kind: KindTransfer}, 0, 0)
	bobTxs := b.History("bob", Filter{Kind: KindTransfer}, 0, 0)
	if len(aliceTxs) != 1 || len(bobTxs) != 1 {
		t.Fatalf("transfer records = (%d, %d), want (1, 1)", len(aliceTxs), len(bobTxs))
	}
	if aliceTxs[0].GroupID != groupID || bobTxs[0].GroupID != groupID {
		t.Error("transfer legs do not share the group id")
	}
}

func TestSelfTransfer(t *testing.T) {
	b := NewBook()
	b.Credit("alice", 100, KindFaucet, "")
	if _, err := b.Transfer("alice", "alice", 10, ""); !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("err = %v, want ErrSelfTransfer", err)
	}
}

func TestReservationBlocksSpending(t *testing.T) {
	b := NewBook()
	b.Credit("alice", 50, KindFaucet, "")

	if err := b.Reserve("alice", 30); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if got := b.Available("alice"); got != 20 {
		t.Errorf("Available = %d, want 20", got)
	}

	// Spending into the reserved portion is refused.
	if _, err := b.Debit("alice", 25, KindGas, ""); !errors.Is(err, ErrInsufficientAvailableBalance) {
		t.Errorf("Debit err = %v, want ErrInsufficientAvailableBalance", err)
	}
	if _, err := b.Transfer("alice", "bob", 25, ""); !errors.Is(err, ErrInsufficientAvailableBalance) {
		t.Errorf("Transfer err = %v, want ErrInsufficientAvailableBalance", err)
	}

	// The reserved portion can be slashed.
	if _, err := b.DebitReserved("alice", 25, KindSlash, ""); err != nil {
		t.Fatalf("DebitReserved: %v", err)
	}

	// Over-reserving fails.
	if err := b.Reserve("alice", 100); !errors.Is(err, ErrInsufficientAvailableBalance) {
		t.Errorf("Reserve err = %v, want ErrInsufficientAvailableBalance", err)
	}

	b.Unreserve("alice", 30)
	if got := b.Available("alice"); got != 25 {
		t.Errorf("Available after unreserve = %d, want 25", got)
	}
}

func TestChargeGas(t *testing.T) {
	b := NewBook()
	b.Credit("alice", 100, KindFaucet, "")

	tx, err := b.ChargeGas("alice", 7, "message send")
	if err != nil {
		t.Fatalf("ChargeGas: %v", err)
	}
	if tx.GasUsed != 7 {
		t.Errorf("GasUsed = %d, want 7", tx.GasUsed)
	}
	acct := b.GetOrCreate("alice")
	if acct.TotalGasSpent != 7 {
		t.Errorf("TotalGasSpent = %d, want 7", acct.TotalGasSpent)
	}
}

func TestTierStakeLock(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := NewBook(WithClock(func() time.Time { return now }))
	b.Credit("alice", 500, KindFaucet, "")

	if _, err := b.StakeForTier("alice", 200, 7); err != nil {
		t.Fatalf("StakeForTier: %v", err)
	}
	if got := b.Balance("alice"); got != 300 {
		t.Errorf("Balance = %d, want 300", got)
	}
	if got := b.Staked("alice"); got != 200 {
		t.Errorf("Staked = %d, want 200", got)
	}

	// Unstake before the lock expires fails.
	if _, err := b.UnstakeFromTier("alice", 100); !errors.Is(err, ErrStakeLocked) {
		t.Fatalf("UnstakeFromTier err = %v, want ErrStakeLocked", err)
	}

	// After expiry it succeeds.
	now = now.Add(8 * 24 * time.Hour)
	if _, err := b.UnstakeFromTier("alice", 100); err != nil {
		t.Fatalf("UnstakeFromTier after expiry: %v", err)
	}
	if got := b.Balance("alice"); got != 400 {
		t.Errorf("Balance = %d, want 400", got)
	}
}

func TestHistoryFilterAndPagination(t *testing.T) {
	b := NewBook()
	b.Credit("alice", 100, KindFaucet, "")
	b.Debit("alice", 10, KindGas, "g1")
	b.Debit("alice", 10, KindGas, "g2")
	b.Debit("alice", 10, KindGas, "g3")

	gas := b.History("alice", Filter{Kind: KindGas}, 0, 0)
	if len(gas) != 3 {
		t.Fatalf("gas history = %d entries, want 3", len(gas))
	}
	// Newest first.
	if gas[0].Memo != "g3" {
		t.Errorf("first entry memo = %q, want g3", gas[0].Memo)
	}

	page := b.History("alice", Filter{Kind: KindGas}, 2, 1)
	if len(page) != 2 || page[0].Memo != "g2" {
		t.Errorf("page = %+v, want [g2 g1]", page)
	}
	if got := b.History("alice", Filter{}, 0, 100); got != nil {
		t.Errorf("offset past end = %v, want nil", got)
	}
	if got := b.History("nobody", Filter{}, 0, 0); got != nil {
		t.Errorf("unknown account history = %v, want nil", got)
	}
}

func TestHistoryCap(t *testing.T) {
	b := NewBook(WithHistoryCap(5))
	for i := 0; i < 12; i++ {
		if _, err := b.Credit("alice", 1, KindFaucet, ""); err != nil {
			t.Fatalf("Credit: %v", err)
		}
	}
	acct := b.GetOrCreate("alice")
	if len(acct.Transactions) != 5 {
		t.Errorf("log length = %d, want 5", len(acct.Transactions))
	}
	if got := b.Balance("alice"); got != 12 {
		t.Errorf("Balance = %d, want 12 (cap must not touch balance)", got)
	}
}

// Conservation: transfers move value, faucet mints, slash-style debits burn.
// Total value only changes by the net of mints and burns.
func TestConservation(t *testing.T) {
	b := NewBook()

	b.Faucet("alice", 100, "")
	b.Faucet("bob", 50, "")
	if got := b.TotalValue(); got != 150 {
		t.Fatalf("TotalValue = %d, want 150", got)
	}

	if _, err := b.Transfer("alice", "bob", 30, ""); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got := b.TotalValue(); got != 150 {
		t.Errorf("TotalValue after transfer = %d, want 150", got)
	}

	if _, err := b.StakeForTier("bob", 40, 0); err != nil {
		t.Fatalf("StakeForTier: %v", err)
	}
	if got := b.TotalValue(); got != 150 {
		t.Errorf("TotalValue after tier stake = %d, want 150", got)
	}

	if _, err := b.Credit("alice", 19, KindReward, "minted"); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if _, err := b.Debit("bob", 9, KindSlash, "burned"); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if got := b.TotalValue(); got != 160 {
		t.Errorf("TotalValue = %d, want 160 (150 + 19 - 9)", got)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	b := NewBook()
	b.Faucet("alice", 100, "")
	b.Debit("alice", 25, KindGas, "fee")
	snaps := b.Accounts()

	restored := NewBook()
	for _, s := range snaps {
		restored.Restore(s)
	}
	if got := restored.Balance("alice"); got != 75 {
		t.Errorf("restored balance = %d, want 75", got)
	}
	if got := len(restored.History("alice", Filter{}, 0, 0)); got != 2 {
		t.Errorf("restored history = %d entries, want 2", got)
	}
}

// failingArchiver rejects every write.
type failingArchiver struct{}

func (failingArchiver) ArchiveTransaction(string, Transaction) error {
	return errors.New("disk full")
}

func TestArchiveFailureRevertsMutation(t *testing.T) {
	b := NewBook()
	b.accounts["alice"] = &Account{ID: "alice", Balance: 100}
	b.archiver = failingArchiver{}

	if _, err := b.Credit("alice", 10, KindReward, ""); err == nil {
		t.Fatal("Credit succeeded despite archive failure")
	}
	if got := b.Balance("alice"); got != 100 {
		t.Errorf("Balance = %d, want 100 (reverted)", got)
	}
}
