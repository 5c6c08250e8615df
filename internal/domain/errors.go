package domain

import "errors"

var ErrNotFound = errors.New("not found")

var (
	ErrSourceMissing        = errors.New("source file missing")
	ErrProvidersUnavailable = errors.New("providers unavailable")
	ErrEntityNotReady       = errors.New("entity not ready")
	ErrDownloadExhausted    = errors.New("download retries exhausted")
	ErrApplyAborted         = errors.New("application aborted")
	ErrRevertFailed         = errors.New("revert failed")
	ErrSwarmUnavailable     = errors.New("swarm unavailable")
	ErrHashMismatch         = errors.New("content hash mismatch")
	ErrIdentityMismatch     = errors.New("entity identity mismatch")
	ErrDisposed             = errors.New("pair disposed")
)
