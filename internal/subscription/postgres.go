package subscription

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS subscription_states (
	user_id TEXT PRIMARY KEY,
	stripe_customer_id TEXT NOT NULL DEFAULT '',
	stripe_subscription_id TEXT NOT NULL DEFAULT '',
	document JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

const (
	selectStateSQL          = `SELECT document FROM subscription_states WHERE user_id = $1`
	selectStateForUpdateSQL = `SELECT document FROM subscription_states WHERE user_id = $1 FOR UPDATE`
	selectBySubscriptionSQL = `SELECT document FROM subscription_states WHERE stripe_subscription_id = $1 LIMIT 1`
	selectByCustomerSQL     = `SELECT document FROM subscription_states WHERE stripe_customer_id = $1 LIMIT 1`
)

// insertDefaultStateSQL makes sure a row exists so the FOR UPDATE select below
// serializes the first write of a new user.
const insertDefaultStateSQL = `INSERT INTO subscription_states (user_id, stripe_customer_id, stripe_subscription_id, document, updated_at)
VALUES ($1, '', '', $2, $3)
ON CONFLICT (user_id) DO NOTHING`

const upsertStateSQL = `INSERT INTO subscription_states (user_id, stripe_customer_id, stripe_subscription_id, document, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE SET
	stripe_customer_id = EXCLUDED.stripe_customer_id,
	stripe_subscription_id = EXCLUDED.stripe_subscription_id,
	document = EXCLUDED.document,
	updated_at = EXCLUDED.updated_at`

// PostgresStore keeps each document as a JSONB row. Updates lock the row for the
// duration of the mutation.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// EnsureSchema creates the table when it does not exist.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create subscription_states: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, userID string) (*State, error) {
	s, err := scanState(p.db.QueryRowContext(ctx, selectStateSQL, userID))
	if errors.Is(err, ErrNotFound) {
		return NewState(userID), nil
	}
	return s, err
}

func (p *PostgresStore) Update(ctx context.Context, userID string, fn func(*State) error) (*State, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := p.now()
	blank := NewState(userID)
	blank.UpdatedAt = now
	blankDoc, err := json.Marshal(blank)
	if err != nil {
		return nil, fmt.Errorf("encode subscription state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insertDefaultStateSQL, userID, blankDoc, now); err != nil {
		return nil, fmt.Errorf("insert subscription state: %w", err)
	}

	working, err := scanState(tx.QueryRowContext(ctx, selectStateForUpdateSQL, userID))
	if errors.Is(err, ErrNotFound) {
		working = NewState(userID)
	} else if err != nil {
		return nil, err
	}

	if err := fn(working); err != nil {
		return nil, err
	}
	working.UserID = userID
	working.UpdatedAt = now

	doc, err := json.Marshal(working)
	if err != nil {
		return nil, fmt.Errorf("encode subscription state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsertStateSQL,
		userID, working.StripeCustomerID, working.StripeSubscriptionID, doc, working.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("upsert subscription state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return working, nil
}

func (p *PostgresStore) FindByStripeSubscription(ctx context.Context, subscriptionID string) (*State, error) {
	if subscriptionID == "" {
		return nil, ErrNotFound
	}
	return scanState(p.db.QueryRowContext(ctx, selectBySubscriptionSQL, subscriptionID))
}

func (p *PostgresStore) FindByStripeCustomer(ctx context.Context, customerID string) (*State, error) {
	if customerID == "" {
		return nil, ErrNotFound
	}
	return scanState(p.db.QueryRowContext(ctx, selectByCustomerSQL, customerID))
}

func scanState(row *sql.Row) (*State, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query subscription state: %w", err)
	}
	var s State
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("decode subscription state: %w", err)
	}
	return &s, nil
}
