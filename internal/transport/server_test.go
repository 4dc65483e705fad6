// ABOUTME: HTTP surface tests over a real store, directory, and coordinator
// ABOUTME: Covers identification, the JSON envelope, and fault status mapping

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskline/livechat/internal/config"
	"github.com/deskline/livechat/internal/delivery"
	"github.com/deskline/livechat/internal/directory"
	"github.com/deskline/livechat/internal/store"
)

type testServer struct {
	server  *Server
	store   *store.SQLiteStore
	opToken string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	verifier := directory.NewTokenVerifier([]byte("test-secret"))
	dir := directory.New(s, verifier, nil)

	op := &store.Operator{Username: "agent", DisplayName: "Agent", Status: "active"}
	require.NoError(t, s.CreateOperator(context.Background(), op))
	token, err := verifier.Generate(op.ID, time.Hour)
	require.NoError(t, err)

	cfg := config.ChatConfig{
		MaxMessageLength: config.DefaultMaxMessageLength,
		PollPageSize:     config.DefaultPollPageSize,
		InitialBacklog:   config.DefaultInitialBacklog,
		ListPageSize:     config.DefaultListPageSize,
	}
	registry := delivery.NewRegistry(nil)
	coord := delivery.NewCoordinator(s, s, registry, nil, cfg, nil)

	return &testServer{
		server:  NewServer(coord, registry, dir, nil),
		store:   s,
		opToken: token,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, *envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echoHeaderContentType, "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, &env
}

func (ts *testServer) asOperator() map[string]string {
	return map[string]string{"Authorization": "Bearer " + ts.opToken}
}

const echoHeaderContentType = "Content-Type"

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodGet, "/healthz", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}

func TestStartConversationMintsVisitorToken(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/conversations", map[string]string{
		"subject": "billing",
		"content": "hello",
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, env.Success)
	assert.NotEmpty(t, rec.Header().Get("X-Visitor-Token"))

	var data struct {
		Conversation conversationJSON `json:"conversation"`
		Message      messageJSON      `json:"message"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, store.StatusOpen, data.Conversation.Status)
	assert.Equal(t, int64(1), data.Message.Sequence)
}

func TestReturningVisitorKeepsIdentity(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, http.MethodPost, "/api/v1/conversations", map[string]string{"content": "hi"}, nil)
	token := rec.Header().Get("X-Visitor-Token")
	require.NotEmpty(t, token)

	// Same visitor starting a second conversation hits the active guard.
	rec, env := ts.do(t, http.MethodPost, "/api/v1/conversations", map[string]string{"content": "again"},
		map[string]string{"X-Visitor-Token": token})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Message)
}

func TestSendAndPollMessages(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/conversations", map[string]string{"content": "hello"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	token := rec.Header().Get("X-Visitor-Token")
	var created struct {
		Conversation conversationJSON `json:"conversation"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	convPath := "/api/v1/conversations/" + itoa(created.Conversation.ID)

	rec, _ = ts.do(t, http.MethodPost, convPath+"/messages",
		map[string]string{"content": "are you there?"},
		map[string]string{"X-Visitor-Token": token})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env = ts.do(t, http.MethodGet, convPath+"/messages?since=1", nil,
		map[string]string{"X-Visitor-Token": token})
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Messages []messageJSON `json:"messages"`
		Cursor   int64         `json:"cursor"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "are you there?", page.Messages[0].Content)
	assert.Equal(t, int64(2), page.Cursor)
}

func TestCustomerCannotReadForeignConversation(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/conversations", map[string]string{"content": "hello"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Conversation conversationJSON `json:"conversation"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))

	// No visitor token: a brand-new customer identity.
	rec, env = ts.do(t, http.MethodGet, "/api/v1/conversations/"+itoa(created.Conversation.ID), nil, nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, env.Success)
}

func TestOperatorLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/conversations", map[string]string{"content": "help"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Conversation conversationJSON `json:"conversation"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	convPath := "/api/v1/conversations/" + itoa(created.Conversation.ID)

	rec, env = ts.do(t, http.MethodGet, "/api/v1/conversations?status=open", nil, ts.asOperator())
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &listing))
	assert.Equal(t, 1, listing.Total)

	rec, env = ts.do(t, http.MethodPost, convPath+"/close",
		map[string]string{"notes": "resolved by refund"}, ts.asOperator())
	require.Equal(t, http.StatusOK, rec.Code)
	var closed conversationJSON
	require.NoError(t, json.Unmarshal(env.Data, &closed))
	assert.Equal(t, store.StatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)

	rec, env = ts.do(t, http.MethodPost, convPath+"/resolve", nil, ts.asOperator())
	require.Equal(t, http.StatusOK, rec.Code)
	var resolved conversationJSON
	require.NoError(t, json.Unmarshal(env.Data, &resolved))
	assert.Equal(t, store.StatusResolved, resolved.Status)
}

func TestStatsRequiresOperator(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, http.MethodGet, "/api/v1/stats", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env := ts.do(t, http.MethodGet, "/api/v1/stats", nil, ts.asOperator())
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 0, stats.Total)
}

func TestBadBearerTokenForbidden(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodGet, "/api/v1/stats", nil,
		map[string]string{"Authorization": "Bearer not-a-jwt"})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, env.Success)
}

func TestFaultStatusMapping(t *testing.T) {
	ts := newTestServer(t)

	// Unknown conversation.
	rec, _ := ts.do(t, http.MethodGet, "/api/v1/conversations/999", nil, ts.asOperator())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Bad path parameter.
	rec, _ = ts.do(t, http.MethodGet, "/api/v1/conversations/banana", nil, ts.asOperator())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown status filter.
	rec, _ = ts.do(t, http.MethodGet, "/api/v1/conversations?status=bogus", nil, ts.asOperator())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
