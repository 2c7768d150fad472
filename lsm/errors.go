package lsm

import "errors"

// Sentinel errors returned across the cursor and tree boundary. Callers
// should compare with errors.Is rather than switching on string content.
var (
	ErrNotFound      = errors.New("lsm: key not found")
	ErrDeleted       = errors.New("lsm: key deleted")
	ErrConflict      = errors.New("lsm: snapshot conflict")
	ErrShutdown      = errors.New("lsm: tree shutting down")
	ErrConfiguration = errors.New("lsm: invalid configuration")
	ErrCorruption    = errors.New("lsm: corrupt manifest or chunk")
	ErrClosed        = errors.New("lsm: tree not open")
	ErrBusy          = errors.New("lsm: throttled, retry")
	ErrMergeCursor   = errors.New("lsm: mutation not allowed on a merge cursor")
)

// transientError marks an error as safe to retry from a worker without
// operator intervention. Flush/bloom/merge/drop I/O failures should be
// wrapped with MarkTransient so the worker retries with backoff instead of
// disabling that unit type permanently.
type transientError struct {
	err error
}

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// MarkTransient wraps err so IsTransient reports true for it.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or something it wraps) was raised as a
// transient I/O condition, per the taxonomy in the design doc: transient
// I/O errors are retried internally by the worker pool, everything else is
// surfaced to the caller or disables further work of that type.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
