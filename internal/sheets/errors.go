package sheets

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned by every call when no endpoint is set.
var ErrNotConfigured = errors.New("calculation endpoint not configured: set SP_SCRIPT_URL or sheets.endpoint")

// TransportError describes a failed round trip to the calculation backend.
type TransportError struct {
	Action string
	Status int    // 0 when no response was received
	Body   string // truncated response body
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("sheets %s: http %d: %v", e.Action, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("sheets %s: http %d: %s", e.Action, e.Status, e.Body)
	default:
		return fmt.Sprintf("sheets %s: %v", e.Action, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteError is an application-level failure reported by the backend in a
// successful HTTP response.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "backend reported failure"
	}
	return "backend: " + e.Message
}

const maxErrorBody = 512

func truncate(b []byte) string {
	if len(b) <= maxErrorBody {
		return string(b)
	}
	return string(b[:maxErrorBody]) + "..."
}
