package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/ssd-technologies/coherence/internal/ledger"
)

// Archive is the durable transaction log. The JSON wallet caps its history
// array; the archive keeps every confirmed transaction forever, so the
// ledger stays auditable across restarts. It implements ledger.Archiver.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens (or creates) the SQLite archive at path and runs schema
// migrations.
func OpenArchive(path string) (*Archive, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return a, nil
}

// Close closes the underlying database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    from_id TEXT,
    to_id TEXT,
    amount INTEGER NOT NULL,
    memo TEXT,
    gas_used INTEGER DEFAULT 0,
    status TEXT NOT NULL,
    group_id TEXT,
    timestamp INTEGER NOT NULL,
    signature TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_group ON transactions(group_id);
`
	if _, err := a.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// ArchiveTransaction stores one transaction. Retried writes of the same
// transaction id are idempotent.
func (a *Archive) ArchiveTransaction(accountID string, tx ledger.Transaction) error {
	_, err := a.db.Exec(`
INSERT INTO transactions (id, account_id, kind, from_id, to_id, amount, memo, gas_used, status, group_id, timestamp, signature)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET status = excluded.status`,
		tx.ID, accountID, tx.Kind, tx.From, tx.To, tx.Amount, tx.Memo, tx.GasUsed, tx.Status, tx.GroupID, tx.Timestamp, tx.Signature)
	if err != nil {
		return fmt.Errorf("archive transaction %s: %w", tx.ID, err)
	}
	return nil
}

// TransactionCount reports the number of archived transactions for an
// account, or all accounts when accountID is empty.
func (a *Archive) TransactionCount(accountID string) (int, error) {
	var (
		n   int
		err error
	)
	if accountID == "" {
		err = a.db.QueryRow(`SELECT COUNT(*) FROM transactions`).Scan(&n)
	} else {
		err = a.db.QueryRow(`SELECT COUNT(*) FROM transactions WHERE account_id = ?`, accountID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// TransactionsSince returns archived transactions for an account from a unix
// timestamp onward, oldest first.
func (a *Archive) TransactionsSince(accountID string, since int64) ([]ledger.Transaction, error) {
	rows, err := a.db.Query(`
SELECT id, kind, from_id, to_id, amount, memo, gas_used, status, group_id, timestamp, signature
FROM transactions WHERE account_id = ? AND timestamp >= ? ORDER BY timestamp`, accountID, since)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		var tx ledger.Transaction
		var from, to, memo, group, sig sql.NullString
		if err := rows.Scan(&tx.ID, &tx.Kind, &from, &to, &tx.Amount, &memo, &tx.GasUsed, &tx.Status, &group, &tx.Timestamp, &sig); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.From = from.String
		tx.To = to.String
		tx.Memo = memo.String
		tx.GroupID = group.String
		tx.Signature = sig.String
		out = append(out, tx)
	}
	return out, rows.Err()
}
