package game

import (
	"fmt"
	"sync"
	"time"

	"geohunt/internal/geo"
	"geohunt/internal/scoring"
)

const (
	// DefaultTotalRounds per game.
	DefaultTotalRounds = 5
	// DefaultTimeLimitSeconds per round.
	DefaultTimeLimitSeconds = 60
)

// Session owns the ordered sequence of rounds and the aggregate score for
// one playthrough. Sessions are constructed explicitly and passed to
// whoever needs them; there is no package-level instance.
type Session struct {
	mu sync.Mutex

	id          string
	totalRounds int
	roundNumber int
	status      Status
	rounds      []*Round
	current     *Round
	totalScore  int
	startTime   time.Time
	endTime     *time.Time
}

// SessionView is a read-only snapshot of a session, safe to serialize.
type SessionView struct {
	SessionID          string     `json:"sessionId"`
	TotalRounds        int        `json:"totalRounds"`
	CurrentRoundNumber int        `json:"currentRoundNumber"`
	Status             Status     `json:"status"`
	Rounds             []*Round   `json:"rounds"`
	CurrentRound       *Round     `json:"currentRound,omitempty"`
	TotalScore         int        `json:"totalScore"`
	StartTime          time.Time  `json:"startTime"`
	EndTime            *time.Time `json:"endTime,omitempty"`
}

// NewSession creates a fresh session in the waiting phase.
func NewSession(id string, totalRounds int) *Session {
	if totalRounds <= 0 {
		totalRounds = DefaultTotalRounds
	}
	return &Session{
		id:          id,
		totalRounds: totalRounds,
		status:      StatusWaiting,
		startTime:   time.Now(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Status returns the session's current phase.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// TotalScore returns the accumulated score across recorded rounds.
func (s *Session) TotalScore() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalScore
}

// CurrentRound returns the round in progress, or nil between rounds.
func (s *Session) CurrentRound() *Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// View snapshots the session for serialization.
func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	rounds := make([]*Round, len(s.rounds))
	copy(rounds, s.rounds)
	return SessionView{
		SessionID:          s.id,
		TotalRounds:        s.totalRounds,
		CurrentRoundNumber: s.roundNumber,
		Status:             s.status,
		Rounds:             rounds,
		CurrentRound:       s.current,
		TotalScore:         s.totalScore,
		StartTime:          s.startTime,
		EndTime:            s.endTime,
	}
}

// BeginNextRound starts the next round against the given target. Allowed
// from waiting, or directly from scoring after a non-final round. Errors
// once all rounds have been played; callers should ProceedFromScoring to
// finish instead.
func (s *Session) BeginNextRound(target geo.Coordinates, referenceImageURL string, timeLimitSeconds int) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusWaiting && s.status != StatusScoring {
		return nil, fmt.Errorf("%w: cannot start round while %s", ErrInvalidTransition, s.status)
	}
	if s.current != nil && !s.current.isCompleted() {
		return nil, fmt.Errorf("%w: round %d still in progress", ErrInvalidTransition, s.roundNumber)
	}
	if s.roundNumber >= s.totalRounds {
		return nil, fmt.Errorf("%w: all %d rounds played", ErrInvalidTransition, s.totalRounds)
	}
	if timeLimitSeconds <= 0 {
		timeLimitSeconds = DefaultTimeLimitSeconds
	}

	s.roundNumber++
	s.current = newRound(s.roundNumber, target, referenceImageURL, timeLimitSeconds)
	s.status = StatusStreetView
	return s.current, nil
}

// AdvanceToCamera moves the active round (and the session) into the camera
// phase.
func (s *Session) AdvanceToCamera() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return ErrNoActiveRound
	}
	if err := s.current.AdvanceToCamera(); err != nil {
		return err
	}
	s.status = StatusCamera
	return nil
}

// SubmitCapture scores the player's photo for the active round and records
// the outcome.
func (s *Session) SubmitCapture(photoRef string, photoLocation geo.Coordinates, similarityPercent float64) (scoring.Breakdown, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return scoring.Breakdown{}, ErrNoActiveRound
	}
	breakdown, err := s.current.SubmitCapture(photoRef, photoLocation, similarityPercent)
	if err != nil {
		return scoring.Breakdown{}, err
	}
	s.recordOutcomeLocked(s.current)
	return breakdown, nil
}

// ExpireRound completes the active round with zero points. The caller owns
// the timer; this is only the hook it fires.
func (s *Session) ExpireRound() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return ErrNoActiveRound
	}
	if err := s.current.Expire(); err != nil {
		return err
	}
	s.recordOutcomeLocked(s.current)
	return nil
}

// RecordRoundOutcome appends a completed round to the session log and adds
// its points to the total. Rounds started through BeginNextRound are
// recorded automatically on submit/expire; this is for rounds driven
// standalone. Appending the same round twice is rejected.
func (s *Session) RecordRoundOutcome(r *Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !r.isCompleted() {
		return fmt.Errorf("%w: round %d not completed", ErrInvalidTransition, r.RoundNumber)
	}
	if !s.recordOutcomeLocked(r) {
		return ErrAlreadyCompleted
	}
	return nil
}

// recordOutcomeLocked appends r to the log exactly once. Caller holds s.mu.
func (s *Session) recordOutcomeLocked(r *Round) bool {
	if !r.markRecorded() {
		return false
	}
	s.rounds = append(s.rounds, r)
	s.totalScore += r.Points
	s.status = StatusScoring
	return true
}

// ProceedFromScoring leaves the scoring screen: on to waiting for the next
// round, or to finished after the last one.
func (s *Session) ProceedFromScoring() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusScoring {
		return fmt.Errorf("%w: cannot proceed while %s", ErrInvalidTransition, s.status)
	}
	s.current = nil
	if s.roundNumber >= s.totalRounds {
		now := time.Now()
		s.status = StatusFinished
		s.endTime = &now
	} else {
		s.status = StatusWaiting
	}
	return nil
}

// Reset clears all round state and returns the session to waiting. Room
// membership is untouched; this only affects the local game.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roundNumber = 0
	s.status = StatusWaiting
	s.rounds = nil
	s.current = nil
	s.totalScore = 0
	s.startTime = time.Now()
	s.endTime = nil
}
