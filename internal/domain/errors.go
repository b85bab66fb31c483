package domain

import "fmt"

// SocketError covers URL parse, WebSocket I/O, and text/binary decode failures.
// These are fatal-to-caller only at init; once a connection is established they
// are terminal-for-connection and trigger reconnect.
type SocketError struct {
	Op  string
	Err error
}

func (e *SocketError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("socket: %s", e.Op)
	}
	return fmt.Sprintf("socket: %s: %v", e.Op, e.Err)
}

func (e *SocketError) Unwrap() error { return e.Err }

func NewSocketError(op string, err error) *SocketError {
	return &SocketError{Op: op, Err: err}
}

// SubscribeError covers validation timeout, venue-rejected subscriptions, and a
// close-frame received during validation. Terminal-for-connection; fatal on init.
type SubscribeError struct {
	Reason string
}

func (e *SubscribeError) Error() string { return fmt.Sprintf("subscribe: %s", e.Reason) }

func NewSubscribeError(reason string) *SubscribeError {
	return &SubscribeError{Reason: reason}
}

// DataErrorKind discriminates the two DataError variants.
type DataErrorKind int

const (
	DataErrorDeserialize DataErrorKind = iota
	DataErrorInvalidSequence
)

// DataError is DataError::Deserialize (recoverable, single-frame parse failure) or
// DataError::InvalidSequence (sequencer desync, terminal for the connection).
type DataError struct {
	Kind DataErrorKind

	// set when Kind == DataErrorDeserialize
	Cause error

	// set when Kind == DataErrorInvalidSequence
	PrevLastUpdateId uint64
	FirstUpdateId    uint64
}

func (e *DataError) Error() string {
	switch e.Kind {
	case DataErrorInvalidSequence:
		return fmt.Sprintf("data: invalid sequence prev_last_update_id=%d first_update_id=%d",
			e.PrevLastUpdateId, e.FirstUpdateId)
	default:
		return fmt.Sprintf("data: deserialize: %v", e.Cause)
	}
}

func (e *DataError) Unwrap() error { return e.Cause }

func NewDeserializeError(cause error) *DataError {
	return &DataError{Kind: DataErrorDeserialize, Cause: cause}
}

func NewInvalidSequenceError(prevLastUpdateId, firstUpdateId uint64) *DataError {
	return &DataError{
		Kind:             DataErrorInvalidSequence,
		PrevLastUpdateId: prevLastUpdateId,
		FirstUpdateId:    firstUpdateId,
	}
}

// IndexError is an unknown exchange/asset/instrument encountered while resolving
// configuration against an IndexedInstruments registry. Fatal at build time.
type IndexError struct {
	Msg string
}

func (e *IndexError) Error() string { return fmt.Sprintf("index: %s", e.Msg) }

func NewIndexError(msg string) *IndexError { return &IndexError{Msg: msg} }

// PersistenceError wraps a failure from the optional persistence adapter. It is
// always logged and swallowed by the adapter's caller; it never propagates into
// the ingestion loop.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}
