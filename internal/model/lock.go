package model

import "time"

// LockResult is returned by Lock on success.
type LockResult struct {
	Code          string
	LockedAt      time.Time
	LockExpiresAt time.Time
}
