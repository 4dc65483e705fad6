// ABOUTME: Coordinator is the single write path for conversation messages
// ABOUTME: Validates, appends durably with any status transition, then fans out

package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/deskline/livechat/internal/config"
	"github.com/deskline/livechat/internal/directory"
	"github.com/deskline/livechat/internal/fault"
	"github.com/deskline/livechat/internal/store"
)

// appendRetries bounds the retry loop on a cross-process sequence collision.
const appendRetries = 3

// ConversationStore defines what the coordinator needs from conversation
// storage.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id int64) (*store.Conversation, error)
	UpdateConversationStatus(ctx context.Context, id int64, expected []string, update store.StatusUpdate) (*store.Conversation, error)
	ListConversationsByStatus(ctx context.Context, status string, page, perPage int) (*store.ConversationPage, error)
	ActiveConversationForCustomer(ctx context.Context, customerID int64) (*store.Conversation, error)
	ConversationStats(ctx context.Context) (*store.Stats, error)
}

// MessageStore defines what the coordinator needs from the message log.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *store.Message, transition *store.StatusUpdate) (*store.Message, error)
	ListMessagesSince(ctx context.Context, conversationID, since int64, limit int) ([]*store.Message, error)
	ListRecentMessages(ctx context.Context, conversationID int64, limit int) ([]*store.Message, error)
	UnreadCount(ctx context.Context, conversationID int64, readerType string) (int, error)
	MarkConversationRead(ctx context.Context, conversationID int64, readerType string) error
}

// Coordinator orchestrates conversation lifecycle and message delivery.
type Coordinator struct {
	convs    ConversationStore
	messages MessageStore
	registry *Registry
	sink     EventSink // optional cross-node relay
	cfg      config.ChatConfig
	locks    *convLocks
	logger   *slog.Logger
}

// NewCoordinator wires the coordinator. sink may be nil when the node runs
// standalone; logger nil uses the default.
func NewCoordinator(convs ConversationStore, messages MessageStore, registry *Registry, sink EventSink, cfg config.ChatConfig, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		convs:    convs,
		messages: messages,
		registry: registry,
		sink:     sink,
		cfg:      cfg,
		locks:    newConvLocks(),
		logger:   logger.With("component", "coordinator"),
	}
}

// SendRequest carries one message submission.
type SendRequest struct {
	ConversationID int64
	Content        string
	Type           string // defaults to text
	Attachment     *store.Attachment
	ConnID         string // excluded from fan-out; may be empty for poll senders
}

// Send validates, appends, and fans out one message from p. Status
// transitions implied by the sender and current status are applied in the
// same store transaction as the append.
func (c *Coordinator) Send(ctx context.Context, p directory.Participant, req SendRequest) (*store.Message, error) {
	msg, err := c.buildMessage(p, req)
	if err != nil {
		return nil, err
	}

	unlock := c.locks.lock(req.ConversationID)
	defer unlock()

	conv, err := c.convs.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, mapStoreErr(err, "conversation")
	}
	if p.Role == directory.RoleCustomer && conv.CustomerID != p.ID {
		return nil, fault.PermissionDenied("conversation belongs to another customer")
	}

	transition := transitionFor(p, conv.Status)
	appended, err := c.append(ctx, msg, transition)
	if err != nil {
		return nil, err
	}

	c.emit(ctx, &Event{
		Type:           EventNewMessage,
		ConversationID: appended.ConversationID,
		Message:        appended,
	}, req.ConnID)
	return appended, nil
}

// StartRequest opens a conversation with its first message.
type StartRequest struct {
	Subject  string
	Priority string // defaults to medium
	Content  string
	ConnID   string
}

// StartConversation creates a conversation for customer p and appends the
// opening message. A customer with an existing open or pending conversation
// gets a Conflict naming it.
func (c *Coordinator) StartConversation(ctx context.Context, p directory.Participant, req StartRequest) (*store.Conversation, *store.Message, error) {
	if p.Role != directory.RoleCustomer {
		return nil, nil, fault.PermissionDenied("only customers start conversations")
	}
	if req.Priority != "" && !store.ValidPriority(req.Priority) {
		return nil, nil, fault.InvalidArgument("unknown priority %q", req.Priority)
	}

	conv := &store.Conversation{
		CustomerID: p.ID,
		Subject:    req.Subject,
		Priority:   req.Priority,
	}
	if err := c.convs.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrActiveConversation) {
			existing, lookupErr := c.convs.ActiveConversationForCustomer(ctx, p.ID)
			if lookupErr == nil && existing != nil {
				return nil, nil, fault.Conflict("active conversation %d already exists", existing.ID)
			}
			return nil, nil, fault.Conflict("active conversation already exists")
		}
		return nil, nil, fault.Internal(err, "creating conversation")
	}

	var msg *store.Message
	if req.Content != "" {
		sent, err := c.Send(ctx, p, SendRequest{
			ConversationID: conv.ID,
			Content:        req.Content,
			ConnID:         req.ConnID,
		})
		if err != nil {
			return nil, nil, err
		}
		msg = sent
	}
	c.logger.Info("conversation started",
		"conversation_id", conv.ID,
		"customer_id", p.ID,
		"priority", conv.Priority)
	return conv, msg, nil
}

// PollResult is one page of the conversation log plus the cursor to resume
// from.
type PollResult struct {
	Messages []*store.Message
	Cursor   int64 // pass back as since on the next poll
}

// Poll returns messages after the given sequence cursor. since 0 means a
// first sync and returns the most recent backlog instead of the full log.
func (c *Coordinator) Poll(ctx context.Context, p directory.Participant, conversationID, since int64, connID string) (*PollResult, error) {
	if since < 0 {
		return nil, fault.InvalidArgument("since must not be negative")
	}
	conv, err := c.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, mapStoreErr(err, "conversation")
	}
	if p.Role == directory.RoleCustomer && conv.CustomerID != p.ID {
		return nil, fault.PermissionDenied("conversation belongs to another customer")
	}

	var msgs []*store.Message
	if since == 0 {
		msgs, err = c.messages.ListRecentMessages(ctx, conversationID, c.cfg.InitialBacklog)
	} else {
		msgs, err = c.messages.ListMessagesSince(ctx, conversationID, since, c.cfg.PollPageSize)
	}
	if err != nil {
		return nil, fault.Internal(err, "listing messages")
	}

	cursor := since
	if len(msgs) > 0 {
		cursor = msgs[len(msgs)-1].Sequence
	}
	if connID != "" {
		c.registry.Touch(connID, cursor)
	}
	return &PollResult{Messages: msgs, Cursor: cursor}, nil
}

// JoinResult describes the conversation a session just attached to.
type JoinResult struct {
	Conversation *store.Conversation
	Unread       int
	Active       bool // false when the conversation no longer accepts pushes
}

// Join attaches connID to the conversation and announces the participant.
// Joining a closed or resolved conversation succeeds read-only.
func (c *Coordinator) Join(ctx context.Context, p directory.Participant, conversationID int64, connID string) (*JoinResult, error) {
	conv, err := c.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, mapStoreErr(err, "conversation")
	}
	if p.Role == directory.RoleCustomer && conv.CustomerID != p.ID {
		return nil, fault.PermissionDenied("conversation belongs to another customer")
	}

	unread, err := c.messages.UnreadCount(ctx, conversationID, p.SenderType())
	if err != nil {
		return nil, fault.Internal(err, "counting unread messages")
	}

	_, _, created := c.registry.Register(connID, p, conversationID, ChannelPush, conv.Active())
	if created {
		c.emit(ctx, &Event{
			Type:           EventUserJoined,
			ConversationID: conversationID,
			Participant:    &p,
		}, connID)
	}
	return &JoinResult{Conversation: conv, Unread: unread, Active: conv.Active()}, nil
}

// Leave detaches connID. Unknown connections are ignored.
func (c *Coordinator) Leave(ctx context.Context, connID string) {
	sess := c.registry.Unregister(connID)
	if sess == nil {
		return
	}
	c.emit(ctx, &Event{
		Type:           EventUserLeft,
		ConversationID: sess.ConversationID,
		Participant:    &sess.Participant,
	}, connID)
}

// Typing relays a typing indicator to the other sessions. Indicators are
// ephemeral and never persisted.
func (c *Coordinator) Typing(ctx context.Context, p directory.Participant, conversationID int64, connID string, active bool) {
	ev := &Event{
		Type:           EventTypingStop,
		ConversationID: conversationID,
		Participant:    &p,
	}
	if active {
		ev.Type = EventTypingStart
	}
	c.emit(ctx, ev, connID)
}

// Assign sets the conversation's operator and moves it to pending. Assigning
// to a closed or resolved conversation is a Conflict; reassignment is
// last-write-wins.
func (c *Coordinator) Assign(ctx context.Context, p directory.Participant, conversationID, operatorID int64) (*store.Conversation, error) {
	if p.Role != directory.RoleOperator {
		return nil, fault.PermissionDenied("only operators assign conversations")
	}
	if operatorID <= 0 {
		return nil, fault.InvalidArgument("operator_id must be positive")
	}

	unlock := c.locks.lock(conversationID)
	defer unlock()

	conv, err := c.convs.UpdateConversationStatus(ctx, conversationID, store.ActiveStatuses, store.StatusUpdate{
		Status:     store.StatusPending,
		OperatorID: &operatorID,
	})
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, fault.Conflict("conversation is not open or pending")
		}
		return nil, mapStoreErr(err, "conversation")
	}
	c.logger.Info("conversation assigned",
		"conversation_id", conversationID,
		"operator_id", operatorID,
		"assigned_by", p.ID)
	return conv, nil
}

// Close closes the conversation. Non-empty notes are recorded as a system
// message appended atomically with the transition. Closing an already closed
// or resolved conversation is a Conflict.
func (c *Coordinator) Close(ctx context.Context, p directory.Participant, conversationID int64, notes string) (*store.Conversation, error) {
	if p.Role != directory.RoleOperator {
		return nil, fault.PermissionDenied("only operators close conversations")
	}

	unlock := c.locks.lock(conversationID)
	defer unlock()

	if notes != "" {
		msg := &store.Message{
			ConversationID: conversationID,
			SenderType:     store.SenderOperator,
			SenderID:       p.ID,
			Type:           store.MessageTypeSystem,
			Content:        notes,
		}
		// The guard read keeps already-closed conversations a Conflict
		// rather than silently appending another closure note.
		conv, err := c.convs.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, mapStoreErr(err, "conversation")
		}
		if !conv.Active() {
			return nil, fault.Conflict("conversation is already %s", conv.Status)
		}
		operatorID := p.ID
		appended, err := c.append(ctx, msg, &store.StatusUpdate{
			Status:     store.StatusClosed,
			OperatorID: &operatorID,
		})
		if err != nil {
			return nil, err
		}
		c.emit(ctx, &Event{
			Type:           EventNewMessage,
			ConversationID: conversationID,
			Message:        appended,
		}, "")
		return c.getConversation(ctx, conversationID)
	}

	operatorID := p.ID
	conv, err := c.convs.UpdateConversationStatus(ctx, conversationID, store.ActiveStatuses, store.StatusUpdate{
		Status:     store.StatusClosed,
		OperatorID: &operatorID,
	})
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, fault.Conflict("conversation is already closed")
		}
		return nil, mapStoreErr(err, "conversation")
	}
	c.logger.Info("conversation closed",
		"conversation_id", conversationID,
		"operator_id", p.ID)
	return conv, nil
}

// Resolve marks a closed conversation resolved.
func (c *Coordinator) Resolve(ctx context.Context, p directory.Participant, conversationID int64) (*store.Conversation, error) {
	if p.Role != directory.RoleOperator {
		return nil, fault.PermissionDenied("only operators resolve conversations")
	}

	unlock := c.locks.lock(conversationID)
	defer unlock()

	conv, err := c.convs.UpdateConversationStatus(ctx, conversationID, []string{store.StatusClosed}, store.StatusUpdate{
		Status: store.StatusResolved,
	})
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, fault.Conflict("only closed conversations can be resolved")
		}
		return nil, mapStoreErr(err, "conversation")
	}
	return conv, nil
}

// MarkRead marks every message from the other side as read.
func (c *Coordinator) MarkRead(ctx context.Context, p directory.Participant, conversationID int64) error {
	conv, err := c.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return mapStoreErr(err, "conversation")
	}
	if p.Role == directory.RoleCustomer && conv.CustomerID != p.ID {
		return fault.PermissionDenied("conversation belongs to another customer")
	}
	if err := c.messages.MarkConversationRead(ctx, conversationID, p.SenderType()); err != nil {
		return fault.Internal(err, "marking conversation read")
	}
	return nil
}

// GetConversation returns one conversation, enforcing customer ownership.
func (c *Coordinator) GetConversation(ctx context.Context, p directory.Participant, conversationID int64) (*store.Conversation, error) {
	conv, err := c.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, mapStoreErr(err, "conversation")
	}
	if p.Role == directory.RoleCustomer && conv.CustomerID != p.ID {
		return nil, fault.PermissionDenied("conversation belongs to another customer")
	}
	return conv, nil
}

// ListByStatus returns a page of conversations in the given status.
// Operator only.
func (c *Coordinator) ListByStatus(ctx context.Context, p directory.Participant, status string, page int) (*store.ConversationPage, error) {
	if p.Role != directory.RoleOperator {
		return nil, fault.PermissionDenied("only operators list conversations")
	}
	if !store.ValidStatus(status) {
		return nil, fault.InvalidArgument("unknown status %q", status)
	}
	res, err := c.convs.ListConversationsByStatus(ctx, status, page, c.cfg.ListPageSize)
	if err != nil {
		return nil, fault.Internal(err, "listing conversations")
	}
	return res, nil
}

// Stats returns conversation counts by status. Operator only.
func (c *Coordinator) Stats(ctx context.Context, p directory.Participant) (*store.Stats, error) {
	if p.Role != directory.RoleOperator {
		return nil, fault.PermissionDenied("only operators view stats")
	}
	stats, err := c.convs.ConversationStats(ctx)
	if err != nil {
		return nil, fault.Internal(err, "reading stats")
	}
	return stats, nil
}

// Presence returns who is currently attached to the conversation.
func (c *Coordinator) Presence(conversationID int64) []directory.Participant {
	return c.registry.Presence(conversationID)
}

// SweepIdleSessions detaches sessions idle past maxIdle and announces each
// disconnect. Returns the number swept.
func (c *Coordinator) SweepIdleSessions(ctx context.Context, maxIdle time.Duration) int {
	stale := c.registry.Sweep(maxIdle)
	for _, sess := range stale {
		c.emit(ctx, &Event{
			Type:           EventUserDisconnected,
			ConversationID: sess.ConversationID,
			Participant:    &sess.Participant,
		}, sess.ConnID)
	}
	return len(stale)
}

func (c *Coordinator) buildMessage(p directory.Participant, req SendRequest) (*store.Message, error) {
	if req.Content == "" && req.Attachment == nil {
		return nil, fault.InvalidArgument("message content is required")
	}
	if utf8.RuneCountInString(req.Content) > c.cfg.MaxMessageLength {
		return nil, fault.InvalidArgument("message exceeds %d characters", c.cfg.MaxMessageLength)
	}
	msgType := req.Type
	if msgType == "" {
		msgType = store.MessageTypeText
	}
	switch msgType {
	case store.MessageTypeText, store.MessageTypeImage, store.MessageTypeFile:
	case store.MessageTypeSystem:
		return nil, fault.InvalidArgument("system messages cannot be sent directly")
	default:
		return nil, fault.InvalidArgument("unknown message type %q", msgType)
	}
	if (msgType == store.MessageTypeImage || msgType == store.MessageTypeFile) && req.Attachment == nil {
		return nil, fault.InvalidArgument("attachment is required for %s messages", msgType)
	}
	return &store.Message{
		ConversationID: req.ConversationID,
		SenderType:     p.SenderType(),
		SenderID:       p.ID,
		Type:           msgType,
		Content:        req.Content,
		Attachment:     req.Attachment,
	}, nil
}

// transitionFor returns the status transition a message from p implies, or
// nil. Customer messages reopen closed conversations; operator messages move
// open ones to pending. Resolved conversations never transition on message.
func transitionFor(p directory.Participant, status string) *store.StatusUpdate {
	switch {
	case p.Role == directory.RoleCustomer && status == store.StatusClosed:
		return &store.StatusUpdate{Status: store.StatusOpen}
	case p.Role == directory.RoleOperator && status == store.StatusOpen:
		return &store.StatusUpdate{Status: store.StatusPending}
	}
	return nil
}

// append runs the durable append with a bounded retry on cross-process
// sequence collisions.
func (c *Coordinator) append(ctx context.Context, msg *store.Message, transition *store.StatusUpdate) (*store.Message, error) {
	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		appended, err := c.messages.AppendMessage(ctx, msg, transition)
		if err == nil {
			return appended, nil
		}
		if errors.Is(err, store.ErrSequenceConflict) {
			lastErr = err
			continue
		}
		if errors.Is(err, store.ErrActiveConversation) {
			return nil, fault.Conflict("customer already has an active conversation")
		}
		return nil, mapStoreErr(err, "message")
	}
	c.logger.Error("append exhausted retries",
		"conversation_id", msg.ConversationID,
		"attempts", appendRetries,
		"error", lastErr)
	return nil, fault.Internal(lastErr, "appending message")
}

func (c *Coordinator) getConversation(ctx context.Context, id int64) (*store.Conversation, error) {
	conv, err := c.convs.GetConversation(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "conversation")
	}
	return conv, nil
}

// emit fans out locally, then hands the event to the relay sink if present.
// Called only after the message (if any) is durably committed.
func (c *Coordinator) emit(ctx context.Context, ev *Event, excludeConn string) {
	c.registry.Broadcast(ev, excludeConn)
	if c.sink != nil {
		if err := c.sink.Publish(ctx, ev); err != nil {
			c.logger.Warn("relay publish failed",
				"conversation_id", ev.ConversationID,
				"event", ev.Type,
				"error", err)
		}
	}
}

func mapStoreErr(err error, entity string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fault.NotFound("%s not found", entity)
	}
	return fault.Internal(err, "store error")
}
