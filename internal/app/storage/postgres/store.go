package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/account"
	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/amount"
	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/order"
	"github.com/R3E-Network/swap_dispatcher/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.OrderStore = (*Store)(nil)
var _ storage.AmountStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const uniqueViolation = "23505"

type orderRow struct {
	ID         string       `db:"id"`
	Accounts   []byte       `db:"accounts"`
	CreatedAt  time.Time    `db:"created_at"`
	StartedAt  sql.NullTime `db:"started_at"`
	FinishedAt sql.NullTime `db:"finished_at"`
}

func (r orderRow) toOrder() (order.ExecutionOrder, error) {
	ord := order.ExecutionOrder{
		ID:        r.ID,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if len(r.Accounts) > 0 {
		if err := json.Unmarshal(r.Accounts, &ord.Accounts); err != nil {
			return order.ExecutionOrder{}, fmt.Errorf("decode accounts of order %s: %w", r.ID, err)
		}
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time.UTC()
		ord.StartedAt = &t
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time.UTC()
		ord.FinishedAt = &t
	}
	return ord, nil
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) AccountIDRange(ctx context.Context) (account.IDRange, error) {
	var lo, hi sql.NullInt64
	err := s.db.QueryRowxContext(ctx, `
		SELECT MIN(id), MAX(id) FROM managed_accounts
	`).Scan(&lo, &hi)
	if err != nil {
		return account.IDRange{}, err
	}
	if !lo.Valid || !hi.Valid {
		return account.IDRange{}, storage.ErrNotFound
	}
	return account.IDRange{Min: lo.Int64, Max: hi.Int64}, nil
}

func (s *Store) GetAccount(ctx context.Context, id int64) (account.Account, error) {
	var acct account.Account
	err := s.db.GetContext(ctx, &acct, `
		SELECT id, secret FROM managed_accounts WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, storage.ErrNotFound
	}
	if err != nil {
		return account.Account{}, err
	}
	return acct, nil
}

// InsertAccounts inserts all accounts in one transaction.
func (s *Store) InsertAccounts(ctx context.Context, accts []account.Account) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, acct := range accts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO managed_accounts (id, secret) VALUES ($1, $2)
		`, acct.ID, acct.Secret); err != nil {
			return 0, classify(fmt.Errorf("insert account %d: %w", acct.ID, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(accts), nil
}

// --- OrderStore -------------------------------------------------------------

func (s *Store) CreateOrder(ctx context.Context, ord order.ExecutionOrder) (order.ExecutionOrder, error) {
	if ord.ID == "" {
		ord.ID = uuid.NewString()
	}
	if ord.CreatedAt.IsZero() {
		ord.CreatedAt = time.Now().UTC()
	}
	ord.StartedAt = nil
	ord.FinishedAt = nil

	accountsJSON, err := json.Marshal(ord.Accounts)
	if err != nil {
		return order.ExecutionOrder{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_orders (id, accounts, created_at)
		VALUES ($1, $2, $3)
	`, ord.ID, accountsJSON, ord.CreatedAt)
	if err != nil {
		return order.ExecutionOrder{}, classify(err)
	}
	return ord, nil
}

// ClaimOldestUnclaimed selects and stamps the oldest pending order in a single
// statement. SKIP LOCKED lets concurrent claimers move past a row another
// transaction is already stamping instead of waiting on it.
func (s *Store) ClaimOldestUnclaimed(ctx context.Context, at time.Time) (order.ExecutionOrder, error) {
	var row orderRow
	err := s.db.QueryRowxContext(ctx, `
		UPDATE execution_orders SET started_at = $1
		WHERE id = (
			SELECT id FROM execution_orders
			WHERE started_at IS NULL AND finished_at IS NULL
			ORDER BY created_at ASC, seq ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, accounts, created_at, started_at, finished_at
	`, at.UTC()).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return order.ExecutionOrder{}, storage.ErrNotFound
	}
	if err != nil {
		return order.ExecutionOrder{}, err
	}
	return row.toOrder()
}

func (s *Store) FinishOrder(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE execution_orders SET finished_at = $2
		WHERE id = $1 AND finished_at IS NULL
	`, id, at.UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil
	}

	var finished bool
	err = s.db.QueryRowxContext(ctx, `
		SELECT finished_at IS NOT NULL FROM execution_orders WHERE id = $1
	`, id).Scan(&finished)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("order %s: %w", id, storage.ErrNotFound)
	case err != nil:
		return err
	case finished:
		return fmt.Errorf("order %s: %w", id, storage.ErrAlreadyFinished)
	}
	return fmt.Errorf("order %s: %w", id, storage.ErrNotFound)
}

func (s *Store) ListOrders(ctx context.Context, limit int) ([]order.ExecutionOrder, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	var rows []orderRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, accounts, created_at, started_at, finished_at
		FROM execution_orders
		ORDER BY created_at DESC, seq DESC
		LIMIT $1
	`, limit); err != nil {
		return nil, err
	}

	result := make([]order.ExecutionOrder, 0, len(rows))
	for _, r := range rows {
		ord, err := r.toOrder()
		if err != nil {
			return nil, err
		}
		result = append(result, ord)
	}
	return result, nil
}

func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM execution_orders
		WHERE started_at IS NULL AND finished_at IS NULL
	`)
	return n, err
}

// --- AmountStore ------------------------------------------------------------

func (s *Store) GetAmount(ctx context.Context, positionKey int) (amount.Entry, error) {
	var entry amount.Entry
	err := s.db.GetContext(ctx, &entry, `
		SELECT position_key, amount FROM swap_amounts WHERE position_key = $1
	`, positionKey)
	if errors.Is(err, sql.ErrNoRows) {
		return amount.Entry{}, storage.ErrNotFound
	}
	if err != nil {
		return amount.Entry{}, err
	}
	return entry, nil
}

// ReplaceAmounts deletes the table and inserts the new rows in one
// transaction, so readers see either the old or the new table.
func (s *Store) ReplaceAmounts(ctx context.Context, entries []amount.Entry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM swap_amounts`); err != nil {
		return fmt.Errorf("clear swap amounts: %w", err)
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO swap_amounts (position_key, amount) VALUES ($1, $2)
		`, e.PositionKey, e.Amount); err != nil {
			return classify(fmt.Errorf("insert swap amount %d: %w", e.PositionKey, err))
		}
	}
	return tx.Commit()
}

func (s *Store) ListAmounts(ctx context.Context) ([]amount.Entry, error) {
	var entries []amount.Entry
	if err := s.db.SelectContext(ctx, &entries, `
		SELECT position_key, amount FROM swap_amounts ORDER BY position_key
	`); err != nil {
		return nil, err
	}
	return entries, nil
}

// classify maps driver errors onto storage sentinels.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", storage.ErrConflict, err)
	}
	return err
}
