// Package delivery coordinates message flow between participants and the
// append-only conversation log.
//
// The Coordinator is the single write path: every message is validated,
// appended durably (together with any status transition, in one store
// transaction), and only then fanned out to live sessions. Push and poll
// consumers reconcile over the same per-conversation sequence numbers, so a
// client may switch channels freely without losing or duplicating messages.
//
// The Registry tracks live push sessions per conversation. It is a best-effort
// presence and fan-out layer only; the store remains the source of truth.
package delivery
