// File: selector/errors.go
// Author: momentics <momentics@gmail.com>
package selector

import "errors"

var (
	// ErrClosed reports an operation on a stopped or closed selector. No
	// function in this package returns it.
	ErrClosed = errors.New("selector: closed")
	// ErrAlreadyStarted is returned by Start when called more than once.
	ErrAlreadyStarted = errors.New("selector: already started")
	// ErrKeyInvalid reports an operation on a cancelled key. No function in
	// this package returns it.
	ErrKeyInvalid = errors.New("selector: key no longer valid")
	// ErrConnectTimeout is delivered to a Connect's failure callback when
	// its deadline elapses before the socket becomes writable.
	ErrConnectTimeout = errors.New("selector: connect timed out")
)
