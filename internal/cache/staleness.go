package cache

import "time"

const (
	DefaultMaxAge       = 8 * time.Hour
	DefaultRetryBackoff = 5 * time.Minute
)

// Policy decides when a snapshot is too old to answer from.
type Policy struct {
	MaxAge time.Duration
	// RetryBackoff is how long an incomplete snapshot is trusted before the
	// failed classes are retried.
	RetryBackoff time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAge: DefaultMaxAge, RetryBackoff: DefaultRetryBackoff}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAge <= 0 {
		p.MaxAge = DefaultMaxAge
	}
	if p.RetryBackoff <= 0 {
		p.RetryBackoff = DefaultRetryBackoff
	}
	return p
}

// IsStale reports whether s should no longer be served as-is. lastAttempt is
// when a refresh was last started, successful or not.
func (p Policy) IsStale(s *Snapshot, now, lastAttempt time.Time) bool {
	if IsStale(s, now, p.MaxAge) {
		return true
	}
	return !s.Complete && now.Sub(lastAttempt) >= p.RetryBackoff
}

// IsStale is the age-only check: an unpopulated snapshot, or one older than
// maxAge, is stale.
func IsStale(s *Snapshot, now time.Time, maxAge time.Duration) bool {
	if s == nil || !s.Populated() {
		return true
	}
	return now.Sub(s.RefreshedAt) > maxAge
}
