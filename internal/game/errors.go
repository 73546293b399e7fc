package game

import "errors"

var (
	// ErrInvalidTransition means an operation was attempted in a phase that
	// does not allow it. Correct client sequencing never triggers it.
	ErrInvalidTransition = errors.New("invalid game state transition")

	// ErrAlreadyCompleted means a submit or expire raced against a round
	// that had already been finished. Benign: typically a duplicate retry.
	ErrAlreadyCompleted = errors.New("round already completed")

	// ErrNoActiveRound means the operation needs a started, unfinished round.
	ErrNoActiveRound = errors.New("no active round")

	// ErrNoActiveSession means no game session exists for the caller.
	ErrNoActiveSession = errors.New("no active game session")
)
