package amqp

import (
	"encoding/json"
	"time"

	"ledgercache/internal/cache"
)

// RefreshCompletedEvent is published after every refresh pass. It carries
// only metadata; consumers re-read the cache for data.
type RefreshCompletedEvent struct {
	RunID     string         `json:"run_id"`
	Version   uint64         `json:"version"`
	Published bool           `json:"published"`
	Complete  bool           `json:"complete"`
	Failed    []string       `json:"failed,omitempty"`
	Counts    map[string]int `json:"counts,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewRefreshCompletedEvent builds an event from a refresh result.
func NewRefreshCompletedEvent(res cache.RefreshResult) *RefreshCompletedEvent {
	ev := &RefreshCompletedEvent{
		RunID:     res.RunID,
		Version:   res.Version,
		Published: res.Published,
		Complete:  res.Complete,
		Timestamp: time.Now(),
	}
	for _, c := range res.FailedClasses() {
		ev.Failed = append(ev.Failed, c.String())
	}
	if len(res.Counts) > 0 {
		ev.Counts = make(map[string]int, len(res.Counts))
		for c, n := range res.Counts {
			ev.Counts[c.String()] = n
		}
	}
	if err := res.Err(); err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// ToJSON converts the event to JSON bytes
func (m *RefreshCompletedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RefreshCompletedEventFromJSON parses an event
func RefreshCompletedEventFromJSON(data []byte) (*RefreshCompletedEvent, error) {
	var msg RefreshCompletedEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// RefreshRequestMessage asks the service to refresh its snapshot.
// Force skips the staleness check.
type RefreshRequestMessage struct {
	Reason    string    `json:"reason,omitempty"`
	Force     bool      `json:"force"`
	Timestamp time.Time `json:"timestamp"`
}

func NewRefreshRequestMessage(reason string, force bool) *RefreshRequestMessage {
	return &RefreshRequestMessage{
		Reason:    reason,
		Force:     force,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *RefreshRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RefreshRequestMessageFromJSON creates a message from JSON bytes
func RefreshRequestMessageFromJSON(data []byte) (*RefreshRequestMessage, error) {
	var msg RefreshRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
