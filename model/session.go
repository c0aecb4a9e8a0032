package model

import "time"

// TimeSession is a single timing interval for one step of one instance,
// possibly spanning several pause/resume cycles. Elapsed time is never
// stored; it is recomputed from these timestamps on every read, which makes
// the value identical before and after a process restart.
//
// Invariant: an instance has at most one session with Active set, and zero
// while the instance is paused or terminal.
type TimeSession struct {
	ID            string     `json:"id"`
	InstanceID    string     `json:"instance_id"`
	StepIndex     int        `json:"step_index"`
	StartedAt     time.Time  `json:"started_at"`
	PausedAt      *time.Time `json:"paused_at,omitempty"`
	ResumedAt     *time.Time `json:"resumed_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	PausedSeconds int64      `json:"paused_seconds"`
	Active        bool       `json:"is_active"`
}

// Ended reports whether the session has been finalized.
func (s *TimeSession) Ended() bool {
	return s.EndedAt != nil
}

// Paused reports whether the session is currently paused.
func (s *TimeSession) Paused() bool {
	return !s.Active && s.PausedAt != nil && s.EndedAt == nil
}
