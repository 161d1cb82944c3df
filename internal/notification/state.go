package notification

import "github.com/auralink/proactive/internal/datastore/entities"

var transitions = map[entities.NotificationStatus][]entities.NotificationStatus{
	entities.StatusPending:   {entities.StatusQueued, entities.StatusExpired},
	entities.StatusQueued:    {entities.StatusDelivered, entities.StatusFailed, entities.StatusExpired},
	entities.StatusDelivered: {entities.StatusRead},
}

// CanTransition reports whether the state machine allows from -> to. READ,
// FAILED and EXPIRED are terminal.
func CanTransition(from, to entities.NotificationStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
