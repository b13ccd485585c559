package queue

import "publish-calendar-backend/internal/model"

// transitions lists the legal next states for every non-terminal state.
var transitions = map[model.QueueStatus][]model.QueueStatus{
	model.StatusQueued:     {model.StatusProcessing, model.StatusCancelled},
	model.StatusProcessing: {model.StatusPublished, model.StatusFailed, model.StatusCancelled},
}

// CanTransition reports whether an item may move from one status to another.
func CanTransition(from, to model.QueueStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
