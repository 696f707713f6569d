package cache

import (
	"time"

	"ledgercache/internal/ledger"
)

// Health summarizes the cache for operators.
type Health struct {
	Populated   bool                       `json:"populated"`
	Version     uint64                     `json:"version"`
	RunID       string                     `json:"run_id,omitempty"`
	RefreshedAt time.Time                  `json:"refreshed_at,omitempty"`
	AgeSeconds  int64                      `json:"age_seconds"`
	Complete    bool                       `json:"complete"`
	Stale       bool                       `json:"stale"`
	Refreshing  bool                       `json:"refreshing"`
	LastAttempt time.Time                  `json:"last_attempt,omitempty"`
	LastError   string                     `json:"last_error,omitempty"`
	Window      string                     `json:"window,omitempty"`
	Carried     []ledger.EntityClass       `json:"carried,omitempty"`
	Counts      map[ledger.EntityClass]int `json:"counts"`
	Collisions  []NameCollision            `json:"collisions,omitempty"`
}

// Health reports the state of the current snapshot at now.
func (e *Engine) Health(now time.Time) Health {
	snap := e.store.Current()
	h := Health{
		Populated:   snap.Populated(),
		Version:     snap.Version,
		RunID:       snap.RunID,
		RefreshedAt: snap.RefreshedAt,
		AgeSeconds:  int64(snap.Age(now) / time.Second),
		Complete:    snap.Complete,
		Stale:       e.IsStale(snap, now),
		Refreshing:  e.Refreshing(),
		LastAttempt: e.LastAttempt(),
		Carried:     snap.CarriedClasses(),
		Counts:      snap.Counts(),
		Collisions:  snap.Collisions,
	}
	if snap.Populated() && !snap.Window.Start.IsZero() {
		h.Window = snap.Window.String()
	}
	if res, ok := e.LastResult(); ok {
		if err := res.Err(); err != nil {
			h.LastError = err.Error()
		}
	}
	return h
}
