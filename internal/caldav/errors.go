package caldav

import (
	"fmt"

	"github.com/imroc/req/v3"
)

// ProtocolError reports a server response that violates the CalDAV contract,
// such as a report entry without an etag or calendar data. It is fatal for
// the run; there is no safe way to work around a malformed response.
type ProtocolError struct {
	Op       string
	Reason   string
	Fragment string // offending response fragment, set in verbose mode only
}

func (e *ProtocolError) Error() string {
	if e.Fragment != "" {
		return fmt.Sprintf("caldav: %s: %s\n\nThe error occurred while processing the following response:\n%s", e.Op, e.Reason, e.Fragment)
	}
	return fmt.Sprintf("caldav: %s: %s", e.Op, e.Reason)
}

// RemoteError reports a remote operation rejected by the server or a failed
// transport. It aborts the run; no automatic retry.
type RemoteError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("caldav: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("caldav: %s: server returned status %d: %s", e.Op, e.Status, e.Body)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// handleError folds the transport error and the response state into a single
// *RemoteError, or nil when the operation succeeded.
func handleError(resp *req.Response, requestErr error, op string) error {
	if requestErr != nil {
		return &RemoteError{Op: op, Err: requestErr}
	}
	if resp.IsErrorState() {
		return &RemoteError{Op: op, Status: resp.StatusCode, Body: resp.String()}
	}
	return nil
}
