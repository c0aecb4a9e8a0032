// Package variance derives actual-vs-estimate gap ratios from finalized step
// times and classifies them. It has no clock and no I/O.
package variance

import "github.com/qatrail/qatrail/model"

// Classify computes the gap report for a finalized step. A zero or negative
// estimate yields Unrated with no ratio. Boundary decisions use integer
// arithmetic so that exactly-on-estimate is OnTrack and exactly 120% of the
// estimate is still Watch, with no float rounding at the thresholds:
//
//	actual <= estimate          -> on_track  (ratio <= 1.0)
//	actual*5 <= estimate*6      -> watch     (ratio <= 1.2)
//	otherwise                   -> over
func Classify(actualSeconds, estimatedSeconds int64) model.GapReport {
	if estimatedSeconds <= 0 {
		return model.GapReport{Class: model.GapUnrated}
	}

	ratio := float64(actualSeconds) / float64(estimatedSeconds)
	switch {
	case actualSeconds <= estimatedSeconds:
		return model.GapReport{Ratio: ratio, Class: model.GapOnTrack}
	case actualSeconds*5 <= estimatedSeconds*6:
		return model.GapReport{Ratio: ratio, Class: model.GapWatch}
	default:
		return model.GapReport{Ratio: ratio, Class: model.GapOver}
	}
}

// Aggregate classifies an instance as a whole: the sum of finalized actual
// seconds against the sum of estimates for every step reached so far. Steps
// still pending are excluded from both sides; the step currently in progress
// counts toward the estimate but contributes no actual time until it is
// finalized. Skipped steps contribute their recorded time to the actual sum
// even though they carry no per-step classification.
func Aggregate(steps []model.StepResult, specs []model.StepSpec) model.GapReport {
	var actual, estimated int64
	for _, sr := range steps {
		if sr.Status == model.StepStatusPending {
			continue
		}
		if sr.StepIndex < len(specs) {
			estimated += specs[sr.StepIndex].EstimatedSeconds
		}
		if sr.Status.Finalized() {
			actual += sr.ActualSeconds
		}
	}
	return Classify(actual, estimated)
}
