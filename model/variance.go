package model

// GapClass classifies actual time against the estimate for a step or a
// whole instance.
type GapClass string

// Gap classes. OnTrack: actual within estimate. Watch: over estimate by at
// most 20%. Over: more than 20% over estimate. Unrated: no usable estimate.
const (
	GapOnTrack GapClass = "on_track"
	GapWatch   GapClass = "watch"
	GapOver    GapClass = "over"
	GapUnrated GapClass = "unrated"
)

// GapReport is the actual-vs-estimate verdict for a finalized step or an
// instance aggregate. Ratio is actual divided by estimate; it is zero and
// meaningless when Class is Unrated.
type GapReport struct {
	Ratio float64  `json:"ratio"`
	Class GapClass `json:"class"`
}
