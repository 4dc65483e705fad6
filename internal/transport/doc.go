// Package transport exposes the delivery core over HTTP.
//
// Two surfaces share one coordinator: a JSON REST API for polling clients
// and admin tooling, and a WebSocket endpoint for push clients. Both resolve
// callers through the directory before any conversation operation runs, and
// both reconcile over the same per-conversation sequence numbers.
package transport
