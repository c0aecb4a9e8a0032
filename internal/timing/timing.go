// Package timing owns interval-level time arithmetic for step sessions.
//
// Elapsed time is always a pure function of persisted timestamps and the
// caller-supplied "now" — never an incrementing counter. That makes the
// computed value immune to clock drift between reads and identical across
// process restarts. Nothing in this package reads the wall clock; the engine
// passes now explicitly, which also keeps every function deterministic under
// test.
package timing

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/qatrail/qatrail/model"
)

// Open creates a new active session for the given step, started at now.
func Open(instanceID string, stepIndex int, now time.Time) model.TimeSession {
	return model.TimeSession{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		StepIndex:  stepIndex,
		StartedAt:  now,
		Active:     true,
	}
}

// Elapsed returns the worked seconds for the session at the given instant.
//
//   - active:  (now - StartedAt) - PausedSeconds
//   - paused:  (PausedAt - StartedAt) - PausedSeconds, frozen regardless of now
//   - ended:   (EndedAt - StartedAt) - PausedSeconds
//
// The result is clamped at zero so a skewed caller clock can never produce a
// negative duration.
func Elapsed(s *model.TimeSession, now time.Time) int64 {
	var gross int64
	switch {
	case s.EndedAt != nil:
		gross = int64(s.EndedAt.Sub(s.StartedAt).Seconds())
	case s.Paused():
		gross = int64(s.PausedAt.Sub(s.StartedAt).Seconds())
	default:
		gross = int64(now.Sub(s.StartedAt).Seconds())
	}
	elapsed := gross - s.PausedSeconds
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Pause suspends an active session at now. The elapsed value is frozen at
// this instant until Resume.
func Pause(s *model.TimeSession, now time.Time) error {
	if !s.Active {
		return model.NewInvalidTransitionError(
			fmt.Sprintf("session %s is not active, cannot pause", s.ID),
		)
	}
	t := now
	s.PausedAt = &t
	s.Active = false
	return nil
}

// Resume reactivates a paused session at now, folding the completed pause
// interval into PausedSeconds so it is excluded from all future elapsed
// computations.
func Resume(s *model.TimeSession, now time.Time) error {
	if s.Active {
		return model.NewInvalidTransitionError(
			fmt.Sprintf("session %s is already active, cannot resume", s.ID),
		)
	}
	if s.EndedAt != nil {
		return model.NewInvalidTransitionError(
			fmt.Sprintf("session %s has ended, cannot resume", s.ID),
		)
	}
	if s.PausedAt == nil {
		return model.NewInvalidTransitionError(
			fmt.Sprintf("session %s has no pause to resume from", s.ID),
		)
	}
	paused := int64(now.Sub(*s.PausedAt).Seconds())
	if paused > 0 {
		s.PausedSeconds += paused
	}
	t := now
	s.ResumedAt = &t
	s.PausedAt = nil
	s.Active = true
	return nil
}

// Finalize closes the session at now and returns its final elapsed seconds.
// If the session is paused, the open pause interval is folded in first so
// paused time is never counted as work.
func Finalize(s *model.TimeSession, now time.Time) (int64, error) {
	if s.EndedAt != nil {
		return 0, model.NewInvalidTransitionError(
			fmt.Sprintf("session %s has already ended", s.ID),
		)
	}
	if s.Paused() {
		paused := int64(now.Sub(*s.PausedAt).Seconds())
		if paused > 0 {
			s.PausedSeconds += paused
		}
		s.PausedAt = nil
	}
	t := now
	s.EndedAt = &t
	s.Active = false
	return Elapsed(s, now), nil
}
