package comm

import "errors"

// ErrCommunicationFailure reports a transport failure: an aborted world, an
// unreachable rank or a receive that timed out. It is fatal and never retried
var ErrCommunicationFailure = errors.New("comm: communication failure")

// ErrProtocolMismatch reports a payload encoded with a different scheme than the
// receiver expects, or a message the receiver cannot interpret
var ErrProtocolMismatch = errors.New("comm: protocol mismatch")
