package moodo

import "errors"

// Sentinel errors for Moodo cloud operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, moodo.ErrAuth) {
//	    // Re-login with stored credentials
//	}
var (
	// ErrAuth indicates the request was rejected for authentication reasons:
	// HTTP 401/403, a credential-related error body, or a missing token.
	// The caller should re-login rather than retry.
	ErrAuth = errors.New("moodo: authentication failed")

	// ErrRateLimited indicates the cloud returned HTTP 429.
	// The caller should back off before the next request.
	ErrRateLimited = errors.New("moodo: rate limited")

	// ErrCommand indicates the cloud rejected an otherwise well-formed
	// request (4xx/5xx that is neither auth nor rate limiting).
	ErrCommand = errors.New("moodo: command rejected")

	// ErrConnection indicates a transport-level failure: dial errors,
	// timeouts, or malformed responses.
	ErrConnection = errors.New("moodo: connection failed")
)
