// Package scoring converts answer correctness and response time into points.
package scoring

import "math"

// MinTimeFactor is the floor of the time decay: even the slowest correct
// answer keeps 30% of the base points.
const MinTimeFactor = 0.3

// Score computes the points for a single answer. Incorrect answers score 0.
// For correct answers timeSpentMs is clamped to [0, timeLimitMs] before
// computing the decay, which defends against client-reported negative or
// overshot timings. Pure and deterministic.
func Score(correct bool, timeSpentMs, timeLimitMs int64, basePoints int) int {
	if !correct {
		return 0
	}
	if timeLimitMs <= 0 {
		return basePoints
	}
	if timeSpentMs < 0 {
		timeSpentMs = 0
	}
	if timeSpentMs > timeLimitMs {
		timeSpentMs = timeLimitMs
	}

	timeFactor := 1 - float64(timeSpentMs)/float64(timeLimitMs)
	if timeFactor < MinTimeFactor {
		timeFactor = MinTimeFactor
	}
	return int(math.Round(float64(basePoints) * timeFactor))
}
