package store

import "github.com/mandalnitish/discom-queue-backend/internal/models"

// transitionMap is the token state machine: each action names the statuses
// it may be applied from. completed and cancelled are terminal; in
// particular a serving token can never be cancelled, only completed.
var transitionMap = map[string][]string{
	"dispatch": {models.StatusWaiting},
	"complete": {models.StatusServing},
	"cancel":   {models.StatusWaiting},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
