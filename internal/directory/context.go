// ABOUTME: Request context plumbing for resolved participant identities
// ABOUTME: Provides WithParticipant/FromContext so handlers never read ambient request state

package directory

import (
	"context"
)

// participantKey is the key type for storing a Participant in context.Context.
type participantKey struct{}

// WithParticipant returns a new context with the resolved participant attached.
func WithParticipant(ctx context.Context, p Participant) context.Context {
	return context.WithValue(ctx, participantKey{}, p)
}

// FromContext retrieves the participant from the context. The second return
// is false if no identification middleware ran for this request.
func FromContext(ctx context.Context) (Participant, bool) {
	val := ctx.Value(participantKey{})
	if val == nil {
		return Participant{}, false
	}
	p, ok := val.(Participant)
	return p, ok
}
