package game

// Status is the phase of a game session. It is the canonical phase driver:
// clients route their screens off this value, and every transition is
// checked against it.
type Status string

const (
	// StatusWaiting: between rounds, ready for the next target.
	StatusWaiting = Status("waiting")
	// StatusStreetView: the player studies the reference imagery.
	StatusStreetView = Status("streetview")
	// StatusCamera: the player is out capturing a photo, clock running.
	StatusCamera = Status("camera")
	// StatusScoring: the round is done and its score is on screen.
	StatusScoring = Status("scoring")
	// StatusFinished: all rounds played, terminal.
	StatusFinished = Status("finished")
)

// Valid reports whether s is one of the defined phases.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusStreetView, StatusCamera, StatusScoring, StatusFinished:
		return true
	}
	return false
}
