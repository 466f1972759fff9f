package storage

import "context"

// Doer is the single HTTP transport contract consumed by internal/relay.
// Per spec §6, the relay wire protocol is "POST, text/plain in, text/plain
// out" — the core asks only for that, and the caller can back it with
// any http.Client, a circuit breaker, a mock, or an in-process test relay.
type Doer interface {
	// Do issues method against url with the given headers and body,
	// returning the response body as text. A non-2xx response is not
	// itself an error here — the relay layer decides how to interpret
	// status codes (401 triggers reconnect, for example); Do returns
	// an error only when the request could not be completed at all.
	Do(ctx context.Context, method, url string, headers map[string]string, body string) (respBody string, status int, err error)
}
