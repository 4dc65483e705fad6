// ABOUTME: Resolves opaque caller identities (visitor tokens, operator JWTs) to participants
// ABOUTME: Creates customer records on first contact; the only external side effect the core triggers

package directory

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/deskline/livechat/internal/fault"
	"github.com/deskline/livechat/internal/store"
)

// Role identifies which side of a conversation a participant is on.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleOperator Role = "operator"
)

// Participant is a resolved caller identity. Referenced, never mutated, by
// the delivery layer.
type Participant struct {
	ID   int64
	Role Role
}

// SenderType returns the store-level sender type for this participant.
func (p Participant) SenderType() string {
	return string(p.Role)
}

// CallerContext carries the request attributes the transport layer already
// resolved. The core never reaches into ambient request state.
type CallerContext struct {
	VisitorID string // customer token; empty means mint a new one
	Name      string
	Email     string
	IPAddress string
	UserAgent string
}

// DirectoryStore defines what the directory needs from storage
type DirectoryStore interface {
	CreateCustomer(ctx context.Context, c *store.Customer) error
	GetCustomer(ctx context.Context, id int64) (*store.Customer, error)
	GetCustomerByVisitorID(ctx context.Context, visitorID string) (*store.Customer, error)
	TouchCustomer(ctx context.Context, id int64, lastVisit time.Time) error
	GetOperator(ctx context.Context, id int64) (*store.Operator, error)
}

// Directory resolves caller identities against the backing store.
type Directory struct {
	store  DirectoryStore
	tokens *TokenVerifier
	logger *slog.Logger
}

// New creates a Directory. Pass nil logger for the default.
func New(st DirectoryStore, tokens *TokenVerifier, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		store:  st,
		tokens: tokens,
		logger: logger.With("component", "directory"),
	}
}

// IdentifyCustomer resolves a visitor token to a customer participant,
// creating the customer record on first contact. Returns the participant and
// the visitor ID the client should present on subsequent requests.
func (d *Directory) IdentifyCustomer(ctx context.Context, caller CallerContext) (Participant, string, error) {
	visitorID := caller.VisitorID
	if visitorID == "" {
		visitorID = newVisitorID(caller)
	}

	customer, err := d.store.GetCustomerByVisitorID(ctx, visitorID)
	if err == nil {
		if touchErr := d.store.TouchCustomer(ctx, customer.ID, time.Now()); touchErr != nil {
			d.logger.Warn("failed to bump last visit", "customer_id", customer.ID, "error", touchErr)
		}
		return Participant{ID: customer.ID, Role: RoleCustomer}, visitorID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Participant{}, "", fault.Internal(err, "looking up customer")
	}

	customer = &store.Customer{
		VisitorID: visitorID,
		Name:      caller.Name,
		Email:     caller.Email,
		IPAddress: caller.IPAddress,
		UserAgent: caller.UserAgent,
	}
	if err := d.store.CreateCustomer(ctx, customer); err != nil {
		// Another request may have created the customer between our lookup
		// and insert; retry the lookup before giving up.
		existing, lookupErr := d.store.GetCustomerByVisitorID(ctx, visitorID)
		if lookupErr == nil {
			return Participant{ID: existing.ID, Role: RoleCustomer}, visitorID, nil
		}
		return Participant{}, "", fault.Internal(err, "creating customer")
	}

	d.logger.Info("new customer identified", "customer_id", customer.ID)
	return Participant{ID: customer.ID, Role: RoleCustomer}, visitorID, nil
}

// IdentifyOperator verifies an operator JWT and resolves it to an operator
// participant. Disabled operators are rejected.
func (d *Directory) IdentifyOperator(ctx context.Context, token string) (Participant, error) {
	operatorID, err := d.tokens.Verify(token)
	if err != nil {
		return Participant{}, fault.Wrap(fault.KindPermissionDenied, err, "invalid operator token")
	}

	op, err := d.store.GetOperator(ctx, operatorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Participant{}, fault.PermissionDenied("unknown operator")
		}
		return Participant{}, fault.Internal(err, "looking up operator")
	}
	if op.Status != "active" {
		return Participant{}, fault.PermissionDenied("operator disabled")
	}

	return Participant{ID: op.ID, Role: RoleOperator}, nil
}

// newVisitorID mints a fresh opaque visitor token. The token is random;
// IP/user-agent only seed the hash so distinct visitors stay distinct even
// when rand fails silently in exotic environments.
func newVisitorID(caller CallerContext) string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	h := sha256.Sum256(append(buf, []byte(caller.IPAddress+caller.UserAgent)...))
	return hex.EncodeToString(h[:])
}

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// TokenVerifier verifies and mints HS256-signed operator tokens. The "sub"
// claim carries the operator ID.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier with the given secret.
func NewTokenVerifier(secret []byte) *TokenVerifier {
	return &TokenVerifier{secret: secret}
}

// Verify validates the token and extracts the operator ID from the "sub" claim.
func (v *TokenVerifier) Verify(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrExpiredToken
		}
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return 0, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return 0, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	operatorID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || operatorID <= 0 {
		return 0, fmt.Errorf("%w: bad sub claim %q", ErrInvalidToken, sub)
	}

	return operatorID, nil
}

// Generate creates a new operator token with the given lifetime.
func (v *TokenVerifier) Generate(operatorID int64, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(operatorID, 10),
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
