package sqlcached

import (
	"errors"

	"github.com/sqlcached/sqlcached/cache"
)

var (
	// ErrNotFound means the key is absent.
	ErrNotFound = errors.New("key not found")
	// ErrExists means an Add hit an existing key.
	ErrExists = errors.New("key already exists")
	// ErrCasConflict means the expected CAS token did not match the
	// current entry.
	ErrCasConflict = errors.New("cas conflict")
	// ErrInvalidValue means an arithmetic operation hit a value that is
	// not an unsigned decimal integer.
	ErrInvalidValue = errors.New("non-numeric value")
	// ErrNotSupported means the operation is not implemented by this
	// configuration.
	ErrNotSupported = errors.New("operation not supported")
	// ErrWouldBlock means the result is not yet available; completion is
	// delivered later through the engine's NotifyFunc.
	ErrWouldBlock = errors.New("operation pending")
)

// Allocation errors, reported before any cache mutation.
var (
	ErrTooLarge    = cache.ErrTooLarge
	ErrOutOfMemory = cache.ErrOutOfMemory
)
