package errors

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalid              = errors.New("invalid")
	ErrConflict             = errors.New("conflict")
	ErrInProgress           = errors.New("cache update in progress")
	ErrAlreadyUpdated       = errors.New("cache already updated")
	ErrQueueFull            = errors.New("update queue full")
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")
	ErrInternal             = errors.New("internal")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsInProgress(err error) bool {
	return errors.Is(err, ErrInProgress)
}
