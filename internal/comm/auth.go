package comm

import (
	"crypto/subtle"
	"net/http"
)

// TokenHeader carries the shared join token on the websocket upgrade request.
const TokenHeader = "X-Meshfield-Token"

// authorized reports whether r presents token. An empty token disables the
// check.
func authorized(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	got := r.Header.Get(TokenHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}
