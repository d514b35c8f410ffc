package application

// Actor identifies who is requesting a lifecycle transition. The state
// machine authorizes transitions per actor: owners and admins drive
// enable/disable/cancel, only an admin may complete, and only the engine
// performs the post-firing advance.
type Actor int

const (
	// ActorOwner is the schedule's creating user.
	ActorOwner Actor = iota
	// ActorAdmin is an administrator acting across owners.
	ActorAdmin
	// ActorEngine is the scheduler loop recording a firing.
	ActorEngine
)

// validTransitions enumerates every transition the lifecycle permits.
// ACTIVE -> ACTIVE is the post-firing advance. Terminal states have no
// outgoing entries.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusActive, StatusCancelled, StatusCompleted},
	StatusActive:  {StatusActive, StatusPending, StatusCancelled, StatusCompleted},
}

// CanTransition reports whether the lifecycle permits from -> to for anyone.
func CanTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition validates a lifecycle transition for the given actor. It
// returns an InvalidTransitionError (an ErrConflict) for transitions the
// lifecycle forbids and ErrPermissionDenied for transitions the actor may
// not trigger. It never mutates anything; callers apply the new status only
// on a nil return.
func Transition(from, to Status, actor Actor) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}

	switch {
	case from == StatusActive && to == StatusActive:
		// The advance after a firing belongs to the engine alone.
		if actor != ActorEngine {
			return ErrPermissionDenied
		}
	case to == StatusCompleted:
		// Completion is an explicit administrative closure.
		if actor != ActorAdmin {
			return ErrPermissionDenied
		}
	default:
		// enable/disable/cancel: owner or admin, never the engine.
		if actor == ActorEngine {
			return ErrPermissionDenied
		}
	}

	return nil
}
