package session

import "fmt"

//MetadataError reports malformed or incomplete torrent metadata at
//construction. The session is never registered when New fails with it.
type MetadataError struct {
	Err error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("bad torrent metadata: %s", e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }

//SessionError classifies a collaborator failure during construction,
//such as storage that cannot be opened.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %s", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

//InvariantViolation signals a broken internal consistency assumption
//(unknown dispatch event, completion counter contradicting the bitfield,
//duplicate registry key). It is unrecoverable for the session and is
//delivered as a panic value so the host can isolate the session's
//goroutine, not as an error return.
type InvariantViolation struct {
	Reason string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation: " + e.Reason
}

func violated(format string, args ...interface{}) {
	panic(&InvariantViolation{Reason: fmt.Sprintf(format, args...)})
}
