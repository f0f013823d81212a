package types

import "time"

type LifecycleManager interface {
	Start() error
	Stop() error
	IsRunning() bool
}

// Clock returns the current time. Components accept one so tests can control TTL and staleness.
type Clock func() time.Time
