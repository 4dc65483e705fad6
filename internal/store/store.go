// ABOUTME: Store interface and data types for livechat persistence
// ABOUTME: Defines Conversation, Message, Customer, Operator and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrActiveConversation is returned when creating (or reopening) a conversation
// would give a customer a second open/pending conversation
var ErrActiveConversation = errors.New("active conversation exists")

// ErrSequenceConflict is returned when a message append collides with a
// concurrently assigned sequence number
var ErrSequenceConflict = errors.New("sequence conflict")

// ErrStatusConflict is returned when a conditional status update finds the
// conversation in an unexpected status
var ErrStatusConflict = errors.New("status conflict")

// Conversation status constants
const (
	StatusOpen     = "open"
	StatusPending  = "pending"
	StatusClosed   = "closed"
	StatusResolved = "resolved"
)

// ActiveStatuses are the statuses that accept push sessions and count toward
// the single-active-conversation rule.
var ActiveStatuses = []string{StatusOpen, StatusPending}

// ValidStatus reports whether s is a known conversation status.
func ValidStatus(s string) bool {
	switch s {
	case StatusOpen, StatusPending, StatusClosed, StatusResolved:
		return true
	}
	return false
}

// Conversation priority constants
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// ValidPriority reports whether p is a known priority.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Message sender types
const (
	SenderCustomer = "customer"
	SenderOperator = "operator"
)

// Message type constants
const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

// Conversation is a bounded exchange between one customer and at most one
// operator. OperatorID 0 means unassigned, valid only while status is open.
// ClosedAt is set iff status is closed.
type Conversation struct {
	ID         int64
	CustomerID int64
	OperatorID int64
	Subject    string
	Status     string
	Priority   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ClosedAt   *time.Time
}

// Active reports whether the conversation accepts push sessions.
func (c *Conversation) Active() bool {
	return c.Status == StatusOpen || c.Status == StatusPending
}

// Attachment is a reference to an already-uploaded file carried by a message.
type Attachment struct {
	URL  string
	Name string
	Size int64
}

// Message is one entry in a conversation's append-only log. Sequence is
// per-conversation, gapless, and starts at 1; it doubles as the sync cursor
// for both push and poll delivery. Messages are immutable once appended.
type Message struct {
	ID             int64
	ConversationID int64
	Sequence       int64
	SenderType     string
	SenderID       int64
	Type           string
	Content        string
	Attachment     *Attachment
	Read           bool
	SentAt         time.Time
}

// Customer is a directory record resolved from a visitor token.
type Customer struct {
	ID          int64
	VisitorID   string
	Name        string
	Email       string
	IPAddress   string
	UserAgent   string
	CreatedAt   time.Time
	LastVisitAt time.Time
}

// Operator is a directory record for a support operator.
type Operator struct {
	ID          int64
	Username    string
	DisplayName string
	Status      string // active | disabled
	CreatedAt   time.Time
}

// ConversationPage is one page of a status-filtered conversation listing.
type ConversationPage struct {
	Items []*Conversation
	Total int
}

// Stats holds conversation counts by status.
type Stats struct {
	Total    int
	Open     int
	Pending  int
	Closed   int
	Resolved int
}

// StatusUpdate describes a conditional conversation mutation. Status is the
// new status; OperatorID, when non-nil, reassigns the conversation.
type StatusUpdate struct {
	Status     string
	OperatorID *int64
}

// Store defines the persistence interface for conversations, messages, and
// directory records
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	UpdateConversationStatus(ctx context.Context, id int64, expected []string, update StatusUpdate) (*Conversation, error)
	ListConversationsByStatus(ctx context.Context, status string, page, perPage int) (*ConversationPage, error)
	ActiveConversationForCustomer(ctx context.Context, customerID int64) (*Conversation, error)
	ConversationStats(ctx context.Context) (*Stats, error)

	// Messages (append-only log, sequence-cursored)
	AppendMessage(ctx context.Context, msg *Message, transition *StatusUpdate) (*Message, error)
	ListMessagesSince(ctx context.Context, conversationID, since int64, limit int) ([]*Message, error)
	ListRecentMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error)
	MaxSequence(ctx context.Context, conversationID int64) (int64, error)
	UnreadCount(ctx context.Context, conversationID int64, readerType string) (int, error)
	MarkConversationRead(ctx context.Context, conversationID int64, readerType string) error

	// Directory records
	CreateCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, id int64) (*Customer, error)
	GetCustomerByVisitorID(ctx context.Context, visitorID string) (*Customer, error)
	TouchCustomer(ctx context.Context, id int64, lastVisit time.Time) error
	CreateOperator(ctx context.Context, op *Operator) error
	GetOperator(ctx context.Context, id int64) (*Operator, error)

	// Close releases any resources held by the store
	Close() error
}
