package events

import (
	"time"

	"lol-match-alerts/internal/storage"
)

// NewMatchEventName tags events published when a previously unseen match is
// persisted for a tracked player.
const NewMatchEventName = "match.new"

// NewMatchEvent carries one freshly persisted match for one tracked player.
// It lives only for the duration of a single publish cycle.
type NewMatchEvent struct {
	Player      storage.TrackedPlayer
	Match       storage.MatchRecord
	Participant storage.Participant
	PublishedAt time.Time
}

// EventName implements Event.
func (NewMatchEvent) EventName() string { return NewMatchEventName }
