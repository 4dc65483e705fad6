// ABOUTME: Tests for caller identification
// ABOUTME: Verifies customer auto-create, repeat visits, operator tokens, and context plumbing

package directory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskline/livechat/internal/fault"
	"github.com/deskline/livechat/internal/store"
)

func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestDirectory(t *testing.T) (*Directory, *store.SQLiteStore, *TokenVerifier) {
	t.Helper()
	s := createTestStore(t)
	tokens := NewTokenVerifier([]byte("test-secret"))
	return New(s, tokens, nil), s, tokens
}

func TestIdentifyCustomerCreatesOnFirstContact(t *testing.T) {
	d, s, _ := newTestDirectory(t)
	ctx := context.Background()

	p, visitorID, err := d.IdentifyCustomer(ctx, CallerContext{
		IPAddress: "203.0.113.9",
		UserAgent: "widget/1.0",
	})
	require.NoError(t, err)
	assert.Equal(t, RoleCustomer, p.Role)
	assert.NotZero(t, p.ID)
	assert.NotEmpty(t, visitorID)

	customer, err := s.GetCustomer(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", customer.IPAddress)
}

func TestIdentifyCustomerRepeatVisit(t *testing.T) {
	d, _, _ := newTestDirectory(t)
	ctx := context.Background()

	p1, visitorID, err := d.IdentifyCustomer(ctx, CallerContext{UserAgent: "widget/1.0"})
	require.NoError(t, err)

	p2, returnedID, err := d.IdentifyCustomer(ctx, CallerContext{VisitorID: visitorID})
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID)
	assert.Equal(t, visitorID, returnedID)
}

func TestIdentifyCustomerDistinctVisitors(t *testing.T) {
	d, _, _ := newTestDirectory(t)
	ctx := context.Background()

	p1, _, err := d.IdentifyCustomer(ctx, CallerContext{})
	require.NoError(t, err)
	p2, _, err := d.IdentifyCustomer(ctx, CallerContext{})
	require.NoError(t, err)
	assert.NotEqual(t, p1.ID, p2.ID)
}

func TestIdentifyOperator(t *testing.T) {
	d, s, tokens := newTestDirectory(t)
	ctx := context.Background()

	op := &store.Operator{Username: "sam", DisplayName: "Sam"}
	require.NoError(t, s.CreateOperator(ctx, op))

	token, err := tokens.Generate(op.ID, time.Hour)
	require.NoError(t, err)

	p, err := d.IdentifyOperator(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, RoleOperator, p.Role)
	assert.Equal(t, op.ID, p.ID)
}

func TestIdentifyOperatorBadToken(t *testing.T) {
	d, _, _ := newTestDirectory(t)

	_, err := d.IdentifyOperator(context.Background(), "garbage")
	require.Error(t, err)
	assert.Equal(t, fault.KindPermissionDenied, fault.KindOf(err))
}

func TestIdentifyOperatorUnknown(t *testing.T) {
	d, _, tokens := newTestDirectory(t)

	token, err := tokens.Generate(999, time.Hour)
	require.NoError(t, err)

	_, err = d.IdentifyOperator(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, fault.KindPermissionDenied, fault.KindOf(err))
}

func TestTokenVerifierExpired(t *testing.T) {
	tokens := NewTokenVerifier([]byte("s"))

	token, err := tokens.Generate(1, -time.Minute)
	require.NoError(t, err)

	_, err = tokens.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenVerifierWrongSecret(t *testing.T) {
	token, err := NewTokenVerifier([]byte("one")).Generate(1, time.Hour)
	require.NoError(t, err)

	_, err = NewTokenVerifier([]byte("two")).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParticipantContext(t *testing.T) {
	ctx := context.Background()

	_, ok := FromContext(ctx)
	assert.False(t, ok)

	p := Participant{ID: 42, Role: RoleOperator}
	ctx = WithParticipant(ctx, p)

	got, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, p, got)
}
