// ABOUTME: REST handlers for conversation lifecycle, messaging, and poll sync
// ABOUTME: Thin JSON adapters; all rules live in the delivery coordinator

package transport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/deskline/livechat/internal/delivery"
	"github.com/deskline/livechat/internal/directory"
	"github.com/deskline/livechat/internal/fault"
	"github.com/deskline/livechat/internal/store"
)

type conversationJSON struct {
	ID         int64      `json:"id"`
	CustomerID int64      `json:"customer_id"`
	OperatorID int64      `json:"operator_id,omitempty"`
	Subject    string     `json:"subject,omitempty"`
	Status     string     `json:"status"`
	Priority   string     `json:"priority"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

type messageJSON struct {
	ID             int64             `json:"id"`
	ConversationID int64             `json:"conversation_id"`
	Sequence       int64             `json:"sequence"`
	SenderType     string            `json:"sender_type"`
	SenderID       int64             `json:"sender_id"`
	Type           string            `json:"type"`
	Content        string            `json:"content"`
	Attachment     *store.Attachment `json:"attachment,omitempty"`
	Read           bool              `json:"read"`
	SentAt         time.Time         `json:"sent_at"`
}

func conversationToJSON(c *store.Conversation) *conversationJSON {
	return &conversationJSON{
		ID:         c.ID,
		CustomerID: c.CustomerID,
		OperatorID: c.OperatorID,
		Subject:    c.Subject,
		Status:     c.Status,
		Priority:   c.Priority,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
		ClosedAt:   c.ClosedAt,
	}
}

func messageToJSON(m *store.Message) *messageJSON {
	return &messageJSON{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sequence:       m.Sequence,
		SenderType:     m.SenderType,
		SenderID:       m.SenderID,
		Type:           m.Type,
		Content:        m.Content,
		Attachment:     m.Attachment,
		Read:           m.Read,
		SentAt:         m.SentAt,
	}
}

func messagesToJSON(msgs []*store.Message) []*messageJSON {
	out := make([]*messageJSON, len(msgs))
	for i, m := range msgs {
		out[i] = messageToJSON(m)
	}
	return out
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fault.InvalidArgument("invalid conversation id")
	}
	return id, nil
}

type startConversationRequest struct {
	Subject  string `json:"subject"`
	Priority string `json:"priority"`
	Content  string `json:"content"`
}

func (s *Server) handleStartConversation(c echo.Context) error {
	var req startConversationRequest
	if err := c.Bind(&req); err != nil {
		return respondErr(c, fault.InvalidArgument("invalid request body"))
	}

	conv, msg, err := s.coord.StartConversation(c.Request().Context(), participant(c), delivery.StartRequest{
		Subject:  req.Subject,
		Priority: req.Priority,
		Content:  req.Content,
	})
	if err != nil {
		return respondErr(c, err)
	}
	data := map[string]any{"conversation": conversationToJSON(conv)}
	if msg != nil {
		data["message"] = messageToJSON(msg)
	}
	return respond(c, http.StatusCreated, data)
}

func (s *Server) handleListConversations(c echo.Context) error {
	status := c.QueryParam("status")
	if status == "" {
		status = store.StatusOpen
	}
	page := 1
	if raw := c.QueryParam("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return respondErr(c, fault.InvalidArgument("invalid page"))
		}
		page = n
	}

	res, err := s.coord.ListByStatus(c.Request().Context(), participant(c), status, page)
	if err != nil {
		return respondErr(c, err)
	}
	items := make([]*conversationJSON, len(res.Items))
	for i, conv := range res.Items {
		items[i] = conversationToJSON(conv)
	}
	return respond(c, http.StatusOK, map[string]any{
		"conversations": items,
		"total":         res.Total,
		"page":          page,
	})
}

func (s *Server) handleGetConversation(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}
	conv, err := s.coord.GetConversation(c.Request().Context(), participant(c), id)
	if err != nil {
		return respondErr(c, err)
	}
	return respond(c, http.StatusOK, conversationToJSON(conv))
}

type sendMessageRequest struct {
	Content    string            `json:"content"`
	Type       string            `json:"type"`
	Attachment *store.Attachment `json:"attachment"`
}

func (s *Server) handleSendMessage(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return respondErr(c, fault.InvalidArgument("invalid request body"))
	}

	msg, err := s.coord.Send(c.Request().Context(), participant(c), delivery.SendRequest{
		ConversationID: id,
		Content:        req.Content,
		Type:           req.Type,
		Attachment:     req.Attachment,
	})
	if err != nil {
		return respondErr(c, err)
	}
	return respond(c, http.StatusCreated, messageToJSON(msg))
}

func (s *Server) handlePollMessages(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}
	var since int64
	if raw := c.QueryParam("since"); raw != "" {
		since, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return respondErr(c, fault.InvalidArgument("invalid since cursor"))
		}
	}

	res, err := s.coord.Poll(c.Request().Context(), participant(c), id, since, "")
	if err != nil {
		return respondErr(c, err)
	}
	return respond(c, http.StatusOK, map[string]any{
		"messages": messagesToJSON(res.Messages),
		"cursor":   res.Cursor,
	})
}

func (s *Server) handleMarkRead(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}
	if err := s.coord.MarkRead(c.Request().Context(), participant(c), id); err != nil {
		return respondErr(c, err)
	}
	return respond(c, http.StatusOK, nil)
}

type assignRequest struct {
	OperatorID int64 `json:"operator_id"`
}

func (s *Server) handleAssign(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return respondErr(c, fault.InvalidArgument("invalid request body"))
	}

	conv, err := s.coord.Assign(c.Request().Context(), participant(c), id, req.OperatorID)
	if err != nil {
		return respondErr(c, err)
	}
	return respond(c, http.StatusOK, conversationToJSON(conv))
}

type closeRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) handleClose(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}
	var req closeRequest
	if err := c.Bind(&req); err != nil {
		return respondErr(c, fault.InvalidArgument("invalid request body"))
	}

	conv, err := s.coord.Close(c.Request().Context(), participant(c), id, req.Notes)
	if err != nil {
		return respondErr(c, err)
	}
	return respond(c, http.StatusOK, conversationToJSON(conv))
}

func (s *Server) handleResolve(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}
	conv, err := s.coord.Resolve(c.Request().Context(), participant(c), id)
	if err != nil {
		return respondErr(c, err)
	}
	return respond(c, http.StatusOK, conversationToJSON(conv))
}

type presenceEntry struct {
	ID   int64          `json:"id"`
	Role directory.Role `json:"role"`
}

func (s *Server) handlePresence(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}
	// Ownership check rides on GetConversation.
	if _, err := s.coord.GetConversation(c.Request().Context(), participant(c), id); err != nil {
		return respondErr(c, err)
	}

	present := s.coord.Presence(id)
	entries := make([]presenceEntry, len(present))
	for i, p := range present {
		entries[i] = presenceEntry{ID: p.ID, Role: p.Role}
	}
	return respond(c, http.StatusOK, map[string]any{"participants": entries})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.coord.Stats(c.Request().Context(), participant(c))
	if err != nil {
		return respondErr(c, err)
	}
	return respond(c, http.StatusOK, map[string]int{
		"total":    stats.Total,
		"open":     stats.Open,
		"pending":  stats.Pending,
		"closed":   stats.Closed,
		"resolved": stats.Resolved,
	})
}
