package invest

import (
	"context"
	"database/sql"
)

// PostgresStore persists the operation journal in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed operation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the operations table and indexes.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vault_operations (
			id          VARCHAR(36) PRIMARY KEY,
			kind        VARCHAR(20) NOT NULL CHECK (kind IN ('deposit','withdraw_yield','withdraw_full')),
			wallet_addr VARCHAR(42) NOT NULL,
			amount      VARCHAR(80) NOT NULL,
			fee         VARCHAR(80),
			receive     VARCHAR(80),
			referrer    VARCHAR(42),
			tx_hash     VARCHAR(66),
			status      VARCHAR(10) NOT NULL CHECK (status IN ('pending','success','error')),
			detail      TEXT,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_vault_operations_wallet ON vault_operations (wallet_addr, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_vault_operations_status ON vault_operations (status, created_at DESC);
	`)
	return err
}

func (p *PostgresStore) CreateOperation(ctx context.Context, op *Operation) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO vault_operations (
			id, kind, wallet_addr, amount, fee, receive,
			referrer, tx_hash, status, detail, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12
		)`,
		op.ID, string(op.Kind), op.WalletAddr, op.Amount, nullString(op.Fee), nullString(op.Receive),
		nullString(op.Referrer), nullString(op.TxHash), string(op.Status), nullString(op.Detail),
		op.CreatedAt, op.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) UpdateOperation(ctx context.Context, op *Operation) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE vault_operations
		SET status = $2, detail = $3, tx_hash = $4, updated_at = $5
		WHERE id = $1`,
		op.ID, string(op.Status), nullString(op.Detail), nullString(op.TxHash), op.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOperationNotFound
	}
	return nil
}

func (p *PostgresStore) GetOperation(ctx context.Context, id string) (*Operation, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, kind, wallet_addr, amount, fee, receive,
		       referrer, tx_hash, status, detail, created_at, updated_at
		FROM vault_operations WHERE id = $1`, id)

	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, ErrOperationNotFound
	}
	return op, err
}

func (p *PostgresStore) ListByWallet(ctx context.Context, walletAddr string, limit int) ([]*Operation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, kind, wallet_addr, amount, fee, receive,
		       referrer, tx_hash, status, detail, created_at, updated_at
		FROM vault_operations
		WHERE LOWER(wallet_addr) = LOWER($1)
		ORDER BY created_at DESC
		LIMIT $2`, walletAddr, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, op)
	}
	return result, rows.Err()
}

// --- scanners ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(sc scanner) (*Operation, error) {
	op := &Operation{}
	var (
		kind     string
		status   string
		fee      sql.NullString
		receive  sql.NullString
		referrer sql.NullString
		txHash   sql.NullString
		detail   sql.NullString
	)

	err := sc.Scan(
		&op.ID, &kind, &op.WalletAddr, &op.Amount, &fee, &receive,
		&referrer, &txHash, &status, &detail, &op.CreatedAt, &op.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	op.Kind = OperationKind(kind)
	op.Status = OperationStatus(status)
	op.Fee = fee.String
	op.Receive = receive.String
	op.Referrer = referrer.String
	op.TxHash = txHash.String
	op.Detail = detail.String
	return op, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
