package worker

import "errors"

var (
	ErrQueueClosed       = errors.New("update queue closed")
	ErrDispatcherStopped = errors.New("dispatcher stopped")
	ErrDispatcherStarted = errors.New("dispatcher already started")
	ErrStopTimeout       = errors.New("timeout waiting for workers to stop")
	ErrNilProcessor      = errors.New("processor cannot be nil")
)
