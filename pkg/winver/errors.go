package winver

import "errors"

var (
	// ErrUnparseable is returned for OS strings that are not a recognizable Windows build.
	ErrUnparseable    = errors.New("unparseable windows version")
	ErrNoActivePolicy = errors.New("tenant has no active windows compliance policy")
	ErrTenantNotFound = errors.New("tenant not found")
)
