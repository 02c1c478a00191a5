package federation

import (
	"errors"
	"fmt"
	"net/http"
)

// ProtocolError is a classified federation failure that maps to an HTTP
// status at the protocol boundary.
type ProtocolError struct {
	Status  int
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Message
}

// BadRequest builds a caller-correctable 400 error.
func BadRequest(format string, args ...any) *ProtocolError {
	return &ProtocolError{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

var (
	// ErrFederationDisabled is returned when the federation feature flag is
	// off; surfaced verbatim to remote callers as 503.
	ErrFederationDisabled = &ProtocolError{Status: http.StatusServiceUnavailable, Message: "federation is disabled"}

	// ErrUnsupportedShareType rejects group and other non-user share targets.
	ErrUnsupportedShareType = &ProtocolError{Status: http.StatusNotImplemented, Message: "only user shares are supported"}

	// ErrNotAllowed rejects mutations of a federated calendar's identity or
	// trust boundary (rename, direct ACL changes).
	ErrNotAllowed = &ProtocolError{Status: http.StatusMethodNotAllowed, Message: "operation not allowed on a federated calendar"}
)

// StatusOf maps an error to the HTTP status it should be surfaced with.
func StatusOf(err error) int {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Status
	}
	return http.StatusInternalServerError
}

// PeerError reports a non-success response from a remote federation peer.
type PeerError struct {
	Host   string
	Status int
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("peer %s returned status %d", e.Host, e.Status)
}
