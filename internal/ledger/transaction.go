package ledger

// Transaction kinds.
const (
	KindTransfer = "transfer"
	KindStake    = "stake"
	KindUnstake  = "unstake"
	KindReward   = "reward"
	KindSlash    = "slash"
	KindGas      = "gas"
	KindFaucet   = "faucet"
)

// Transaction statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Transaction is one immutable entry in an account's append-only log.
// Once a transaction reaches StatusConfirmed it is never mutated again.
// Transfers produce two correlated transactions (one per party) sharing
// a GroupID.
type Transaction struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Amount    int64  `json:"amount"`
	Memo      string `json:"memo,omitempty"`
	GasUsed   int64  `json:"gas_used,omitempty"`
	Status    string `json:"status"`
	GroupID   string `json:"group_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature,omitempty"`
}

// Filter narrows a History query. Zero values match everything.
type Filter struct {
	Kind  string // match transaction kind
	Since int64  // unix seconds, inclusive
}

func (f Filter) matches(tx Transaction) bool {
	if f.Kind != "" && tx.Kind != f.Kind {
		return false
	}
	if f.Since != 0 && tx.Timestamp < f.Since {
		return false
	}
	return true
}
