// ABOUTME: Tests for the SQLite store
// ABOUTME: Verifies sequencing, atomic append+transition, and the single-active-conversation guard

package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestCustomer(t *testing.T, s *SQLiteStore, visitorID string) *Customer {
	t.Helper()
	c := &Customer{VisitorID: visitorID}
	require.NoError(t, s.CreateCustomer(context.Background(), c))
	return c
}

func createTestConversation(t *testing.T, s *SQLiteStore, customerID int64) *Conversation {
	t.Helper()
	conv := &Conversation{CustomerID: customerID, Subject: "help"}
	require.NoError(t, s.CreateConversation(context.Background(), conv))
	return conv
}

func TestCreateConversationDefaults(t *testing.T) {
	s := createTestStore(t)
	c := createTestCustomer(t, s, "v-1")

	conv := createTestConversation(t, s, c.ID)

	assert.NotZero(t, conv.ID)
	assert.Equal(t, StatusOpen, conv.Status)
	assert.Equal(t, PriorityMedium, conv.Priority)
	assert.Equal(t, int64(0), conv.OperatorID)
	assert.Nil(t, conv.ClosedAt)
}

func TestCreateConversationActiveGuard(t *testing.T) {
	s := createTestStore(t)
	c := createTestCustomer(t, s, "v-1")
	createTestConversation(t, s, c.ID)

	err := s.CreateConversation(context.Background(), &Conversation{CustomerID: c.ID})
	assert.ErrorIs(t, err, ErrActiveConversation)
}

func TestCreateConversationAfterClose(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := createTestCustomer(t, s, "v-1")
	conv := createTestConversation(t, s, c.ID)

	_, err := s.UpdateConversationStatus(ctx, conv.ID, nil, StatusUpdate{Status: StatusClosed})
	require.NoError(t, err)

	// A closed conversation no longer blocks a new one
	err = s.CreateConversation(ctx, &Conversation{CustomerID: c.ID})
	require.NoError(t, err)
}

func TestGetConversationNotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetConversation(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendMessageAssignsSequence(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := createTestCustomer(t, s, "v-1")
	conv := createTestConversation(t, s, c.ID)

	for i := int64(1); i <= 3; i++ {
		msg, err := s.AppendMessage(ctx, &Message{
			ConversationID: conv.ID,
			SenderType:     SenderCustomer,
			SenderID:       c.ID,
			Content:        "hello",
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, i, msg.Sequence)
	}

	max, err := s.MaxSequence(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), max)
}

func TestAppendMessageConcurrentSequences(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := createTestCustomer(t, s, "v-1")
	conv := createTestConversation(t, s, c.ID)

	// Concurrent appends may hit ErrSequenceConflict or SQLITE_BUSY; retry
	// like the coordinator does and verify the final log is gapless.
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := s.AppendMessage(ctx, &Message{
					ConversationID: conv.ID,
					SenderType:     SenderCustomer,
					SenderID:       c.ID,
					Content:        "concurrent",
				}, nil)
				if err == nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	msgs, err := s.ListMessagesSince(ctx, conv.ID, 0, n+1)
	require.NoError(t, err)
	require.Len(t, msgs, n)
	for i, msg := range msgs {
		assert.Equal(t, int64(i+1), msg.Sequence)
	}
}

func TestAppendMessageWithTransition(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := createTestCustomer(t, s, "v-1")
	conv := createTestConversation(t, s, c.ID)

	_, err := s.AppendMessage(ctx, &Message{
		ConversationID: conv.ID,
		SenderType:     SenderOperator,
		SenderID:       7,
		Content:        "hi, how can I help?",
	}, &StatusUpdate{Status: StatusPending})
	require.NoError(t, err)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.ClosedAt)
}

func TestAppendMessageCloseSetsClosedAt(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := createTestCustomer(t, s, "v-1")
	conv := createTestConversation(t, s, c.ID)

	_, err := s.AppendMessage(ctx, &Message{
		ConversationID: conv.ID,
		SenderType:     SenderOperator,
		SenderID:       7,
		Type:           MessageTypeSystem,
		Content:        "resolved via call",
	}, &StatusUpdate{Status: StatusClosed})
	require.NoError(t, err)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, got.Status)
	require.NotNil(t, got.ClosedAt)
}

func TestAppendMessageReopenClearsClosedAt(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := createTestCustomer(t, s, "v-1")
	conv := createTestConversation(t, s, c.ID)

	_, err := s.UpdateConversationStatus(ctx, conv.ID, nil, StatusUpdate{Status: StatusClosed})
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, &Message{
		ConversationID: conv.ID,
		SenderType:     SenderCustomer,
		SenderID:       c.ID,
		Content:        "one more question",
	}, &StatusUpdate{Status: StatusOpen})
	require.NoError(t, err)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, got.Status)
	assert.Nil(t, got.ClosedAt)
}

func TestReopenBlockedByOtherActiveConversation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := createTestCustomer(t, s, "v-1")
	first := createTestConversation(t, s, c.ID)

	_, err := s.UpdateConversationStatus(ctx, first.ID, nil, StatusUpdate{Status: StatusClosed})
	require.NoError(t, err)

	// Customer starts a second conversation, then tries to reopen the first
	createTestConversation(t, s, c.ID)

	_, err = s.AppendMessage(ctx, &Message{
		ConversationID: first.ID,
		SenderType:     SenderCustomer,
		SenderID:       c.ID,
		Content:        "reopening",
	}, &StatusUpdate{Status: StatusOpen})
	assert.ErrorIs(t, err, ErrActiveConversation)

	// The failed transition must not have appended the message
	max, err := s.MaxSequence(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), max)
}

func TestUpdateConversationStatusConditional(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := createTestCustomer(t, s, "v-1")
	conv := createTestConversation(t, s, c.ID)

	opID := int64(7)
	got, err := s.UpdateConversationStatus(ctx, conv.ID, []string{StatusOpen, StatusPending}, StatusUpdate{
		Status:     StatusPending,
		OperatorID: &opID,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, int64(7), got.OperatorID)

	// Expected-status mismatch loses the race and reports the current state
	got, err = s.UpdateConversationStatus(ctx, conv.ID, []string{StatusClosed}, StatusUpdate{Status: StatusResolved})
	assert.ErrorIs(t, err, ErrStatusConflict)
	require.NotNil(t, got)
	assert.Equal(t, StatusPending, got.Status)
}

func TestUpdateConversationStatusNotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.UpdateConversationStatus(context.Background(), 999, nil, StatusUpdate{Status: StatusClosed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListMessagesSince(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := createTestCustomer(t, s, "v-1")
	conv := createTestConversation(t, s, c.ID)

	for i := 0; i < 5; i++ {
		_, err := s.AppendMessage(ctx, &Message{
			ConversationID: conv.ID,
			SenderType:     SenderCustomer,
			SenderID:       c.ID,
			Content:        "msg",
		}, nil)
		require.NoError(t, err)
	}

	msgs, err := s.ListMessagesSince(ctx, conv.ID, 2, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, int64(3), msgs[0].Sequence)
	assert.Equal(t, int64(5), msgs[2].Sequence)

	// Page bound
	msgs, err = s.ListMessagesSince(ctx, conv.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1), msgs[0].Sequence)
}

func TestListRecentMessages(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := createTestCustomer(t, s, "v-1")
	conv := createTestConversation(t, s, c.ID)

	for i := 0; i < 5; i++ {
		_, err := s.AppendMessage(ctx, &Message{
			ConversationID: conv.ID,
			SenderType:     SenderCustomer,
			SenderID:       c.ID,
			Content:        "msg",
		}, nil)
		require.NoError(t, err)
	}

	msgs, err := s.ListRecentMessages(ctx, conv.ID, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	// Most recent 3, ascending
	assert.Equal(t, int64(3), msgs[0].Sequence)
	assert.Equal(t, int64(5), msgs[2].Sequence)
}

func TestMessageAttachmentRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := createTestCustomer(t, s, "v-1")
	conv := createTestConversation(t, s, c.ID)

	_, err := s.AppendMessage(ctx, &Message{
		ConversationID: conv.ID,
		SenderType:     SenderCustomer,
		SenderID:       c.ID,
		Type:           MessageTypeImage,
		Attachment:     &Attachment{URL: "https://cdn.example/x.png", Name: "x.png", Size: 2048},
	}, nil)
	require.NoError(t, err)

	msgs, err := s.ListMessagesSince(ctx, conv.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Attachment)
	assert.Equal(t, "x.png", msgs[0].Attachment.Name)
	assert.Equal(t, int64(2048), msgs[0].Attachment.Size)
	assert.Equal(t, MessageTypeImage, msgs[0].Type)
}

func TestUnreadCountAndMarkRead(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := createTestCustomer(t, s, "v-1")
	conv := createTestConversation(t, s, c.ID)

	for i := 0; i < 3; i++ {
		_, err := s.AppendMessage(ctx, &Message{
			ConversationID: conv.ID,
			SenderType:     SenderOperator,
			SenderID:       7,
			Content:        "hello",
		}, nil)
		require.NoError(t, err)
	}
	_, err := s.AppendMessage(ctx, &Message{
		ConversationID: conv.ID,
		SenderType:     SenderCustomer,
		SenderID:       c.ID,
		Content:        "hi",
	}, nil)
	require.NoError(t, err)

	// Customer has 3 unread operator messages; own message doesn't count
	count, err := s.UnreadCount(ctx, conv.ID, SenderCustomer)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, s.MarkConversationRead(ctx, conv.ID, SenderCustomer))

	count, err = s.UnreadCount(ctx, conv.ID, SenderCustomer)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Operator still has the customer message unread
	count, err = s.UnreadCount(ctx, conv.ID, SenderOperator)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestListConversationsByStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c := createTestCustomer(t, s, "v-"+string(rune('a'+i)))
		createTestConversation(t, s, c.ID)
	}

	page, err := s.ListConversationsByStatus(ctx, StatusOpen, 1, 2)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 3, page.Total)

	page, err = s.ListConversationsByStatus(ctx, StatusOpen, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)

	page, err = s.ListConversationsByStatus(ctx, StatusClosed, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 0, page.Total)

	_, err = s.ListConversationsByStatus(ctx, "bogus", 1, 10)
	assert.Error(t, err)
}

func TestActiveConversationForCustomer(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := createTestCustomer(t, s, "v-1")

	_, err := s.ActiveConversationForCustomer(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	conv := createTestConversation(t, s, c.ID)

	got, err := s.ActiveConversationForCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
}

func TestConversationStats(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	c1 := createTestCustomer(t, s, "v-1")
	c2 := createTestCustomer(t, s, "v-2")
	conv1 := createTestConversation(t, s, c1.ID)
	createTestConversation(t, s, c2.ID)

	_, err := s.UpdateConversationStatus(ctx, conv1.ID, nil, StatusUpdate{Status: StatusClosed})
	require.NoError(t, err)

	stats, err := s.ConversationStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Open)
	assert.Equal(t, 1, stats.Closed)
	assert.Equal(t, 0, stats.Pending)
}

func TestCustomerRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	c := &Customer{
		VisitorID: "v-abc",
		Name:      "Ada",
		Email:     "ada@example.com",
		IPAddress: "203.0.113.9",
		UserAgent: "widget/1.0",
	}
	require.NoError(t, s.CreateCustomer(ctx, c))

	got, err := s.GetCustomerByVisitorID(ctx, "v-abc")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, "Ada", got.Name)

	later := time.Now().Add(time.Hour)
	require.NoError(t, s.TouchCustomer(ctx, c.ID, later))

	got, err = s.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.LastVisitAt.After(got.CreatedAt))

	_, err = s.GetCustomerByVisitorID(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOperatorRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	op := &Operator{Username: "sam", DisplayName: "Sam"}
	require.NoError(t, s.CreateOperator(ctx, op))
	assert.Equal(t, "active", op.Status)

	got, err := s.GetOperator(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, "sam", got.Username)

	_, err = s.GetOperator(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}
