package game

import (
	"sync"
	"time"

	"geohunt/internal/geo"
	"geohunt/internal/scoring"
)

// Round is one timed target-location challenge. A round moves through
// streetview -> camera -> scoring and is then immutable. SubmitCapture and
// Expire race when the clock runs out as a photo comes in; the mutex plus
// the completed flag make sure exactly one of them commits.
type Round struct {
	mu sync.Mutex

	RoundNumber       int              `json:"roundNumber"`
	TargetLocation    geo.Coordinates  `json:"targetLocation"`
	ReferenceImageURL string           `json:"referenceImageUrl"`
	TimeLimitSeconds  int              `json:"timeLimitSeconds"`
	StartTime         time.Time        `json:"startTime"`
	EndTime           *time.Time       `json:"endTime,omitempty"`
	CapturedPhotoRef  string           `json:"capturedPhotoRef,omitempty"`
	CapturedLocation  *geo.Coordinates `json:"capturedPhotoLocation,omitempty"`
	SimilarityPercent *float64         `json:"similarityPercent,omitempty"`
	ProximityMeters   *float64         `json:"proximityMeters,omitempty"`
	Points            int              `json:"points"`
	Completed         bool             `json:"completed"`

	phase    Status
	recorded bool
}

// StartRound builds a standalone round in the streetview phase. Rounds
// belonging to a session are started through Session.BeginNextRound, which
// also enforces the one-incomplete-round rule.
func StartRound(number int, target geo.Coordinates, referenceImageURL string, timeLimitSeconds int) *Round {
	return newRound(number, target, referenceImageURL, timeLimitSeconds)
}

func newRound(number int, target geo.Coordinates, referenceImageURL string, timeLimitSeconds int) *Round {
	return &Round{
		RoundNumber:       number,
		TargetLocation:    target,
		ReferenceImageURL: referenceImageURL,
		TimeLimitSeconds:  timeLimitSeconds,
		StartTime:         time.Now(),
		phase:             StatusStreetView,
	}
}

// Phase returns the round's current phase.
func (r *Round) Phase() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// AdvanceToCamera moves the round from streetview to camera.
func (r *Round) AdvanceToCamera() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != StatusStreetView {
		return ErrInvalidTransition
	}
	r.phase = StatusCamera
	return nil
}

// SubmitCapture records the player's photo, scores it against the target
// and completes the round. Valid only in the camera phase; a second call
// after completion returns ErrAlreadyCompleted and changes nothing.
func (r *Round) SubmitCapture(photoRef string, photoLocation geo.Coordinates, similarityPercent float64) (scoring.Breakdown, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Completed {
		return scoring.Breakdown{}, ErrAlreadyCompleted
	}
	if r.phase != StatusCamera {
		return scoring.Breakdown{}, ErrInvalidTransition
	}

	proximity := geo.DistanceMeters(r.TargetLocation, photoLocation)
	breakdown := scoring.Compute(similarityPercent, proximity)

	now := time.Now()
	r.CapturedPhotoRef = photoRef
	r.CapturedLocation = &photoLocation
	r.SimilarityPercent = &similarityPercent
	r.ProximityMeters = &proximity
	r.Points = breakdown.Points
	r.Completed = true
	r.EndTime = &now
	r.phase = StatusScoring

	return breakdown, nil
}

// Expire completes the round with zero points after the time limit. Same
// race rule as SubmitCapture: whichever observes completed=false first wins.
func (r *Round) Expire() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Completed {
		return ErrAlreadyCompleted
	}
	if r.phase != StatusCamera {
		return ErrInvalidTransition
	}

	now := time.Now()
	r.Points = 0
	r.Completed = true
	r.EndTime = &now
	r.phase = StatusScoring
	return nil
}

// markRecorded flips the append-once guard. Returns false if the round was
// already appended to a session's log.
func (r *Round) markRecorded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recorded {
		return false
	}
	r.recorded = true
	return true
}

func (r *Round) isCompleted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Completed
}
