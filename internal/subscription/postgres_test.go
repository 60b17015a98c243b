package subscription

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"bezhas-entitlements/internal/tiers"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewPostgresStore(db)
	store.now = func() time.Time { return testNow }
	return store, mock
}

func documentRow(t *testing.T, s *State) *sqlmock.Rows {
	doc, err := json.Marshal(s)
	require.NoError(t, err)
	return sqlmock.NewRows([]string{"document"}).AddRow(doc)
}

func TestPostgresStore_GetMissingReturnsDefault(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectStateSQL)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"document"}))

	st, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", st.UserID)
	assert.Empty(t, st.PaidTier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDecodesDocument(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	exp := testNow.AddDate(0, 1, 0)

	mock.ExpectQuery(regexp.QuoteMeta(selectStateSQL)).
		WithArgs("u1").
		WillReturnRows(documentRow(t, &State{UserID: "u1", PaidTier: tiers.Creator, PaidTierExpiresAt: &exp}))

	st, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, tiers.Creator, st.PaidTier)
	assert.True(t, exp.Equal(*st.PaidTierExpiresAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateLocksAndUpserts(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertDefaultStateSQL)).
		WithArgs("u1", sqlmock.AnyArg(), testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(selectStateForUpdateSQL)).
		WithArgs("u1").
		WillReturnRows(documentRow(t, &State{UserID: "u1", UpdatedAt: testNow}))
	mock.ExpectExec(regexp.QuoteMeta(upsertStateSQL)).
		WithArgs("u1", "cus_1", "sub_1", sqlmock.AnyArg(), testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	st, err := store.Update(context.Background(), "u1", func(s *State) error {
		s.PaidTier = tiers.Creator
		s.StripeCustomerID = "cus_1"
		s.StripeSubscriptionID = "sub_1"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, testNow, st.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRollsBackOnMutationError(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertDefaultStateSQL)).
		WithArgs("u1", sqlmock.AnyArg(), testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(selectStateForUpdateSQL)).
		WithArgs("u1").
		WillReturnRows(documentRow(t, &State{UserID: "u1", Trial: Trial{Used: true}}))
	mock.ExpectRollback()

	_, err := store.Update(context.Background(), "u1", func(s *State) error {
		if s.Trial.Used {
			return ErrNotFound
		}
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSeedsRowBeforeLocking(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	mock.MatchExpectationsInOrder(true)

	var seeded []byte
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertDefaultStateSQL)).
		WithArgs("new-user", documentArg{into: &seeded}, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(selectStateForUpdateSQL)).
		WithArgs("new-user").
		WillReturnRows(documentRow(t, &State{UserID: "new-user", UpdatedAt: testNow}))
	mock.ExpectExec(regexp.QuoteMeta(upsertStateSQL)).
		WithArgs("new-user", "", "", sqlmock.AnyArg(), testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	st, err := store.Update(context.Background(), "new-user", func(s *State) error {
		s.TokenLock = TokenLock{Active: true, Tier: tiers.Creator, Amount: 5000}
		return nil
	})
	require.NoError(t, err)
	assert.True(t, st.TokenLock.Active)
	assert.NoError(t, mock.ExpectationsWereMet())

	var blank State
	require.NoError(t, json.Unmarshal(seeded, &blank))
	assert.Equal(t, "new-user", blank.UserID)
	assert.Empty(t, blank.PaidTier)
	assert.False(t, blank.TokenLock.Active)
}

func TestPostgresStore_UpdateSeedFailureAborts(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertDefaultStateSQL)).
		WithArgs("u1", sqlmock.AnyArg(), testNow).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	called := false
	_, err := store.Update(context.Background(), "u1", func(*State) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// documentArg captures a JSON document argument for later inspection.
type documentArg struct{ into *[]byte }

func (a documentArg) Match(v driver.Value) bool {
	b, ok := v.([]byte)
	if ok {
		*a.into = b
	}
	return ok && json.Valid(b)
}

func TestPostgresStore_FindBySubscription(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	ctx := context.Background()

	_, err := store.FindByStripeSubscription(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectQuery(regexp.QuoteMeta(selectBySubscriptionSQL)).
		WithArgs("sub_1").
		WillReturnRows(documentRow(t, &State{UserID: "u9", StripeSubscriptionID: "sub_1"}))
	st, err := store.FindByStripeSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "u9", st.UserID)

	mock.ExpectQuery(regexp.QuoteMeta(selectByCustomerSQL)).
		WithArgs("cus_x").
		WillReturnRows(sqlmock.NewRows([]string{"document"}))
	_, err = store.FindByStripeCustomer(ctx, "cus_x")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
