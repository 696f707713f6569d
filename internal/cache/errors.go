package cache

import "errors"

var (
	// ErrUnknownReference is returned when a fresh snapshot has no entry for
	// the requested key.
	ErrUnknownReference = errors.New("unknown reference")
	// ErrRefreshInProgress is returned by TryRefresh while a pass is running.
	ErrRefreshInProgress = errors.New("refresh already in progress")
)
