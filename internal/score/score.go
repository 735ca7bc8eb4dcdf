// Package score computes points for a single answer. Correctness earns a
// flat base; when the quiz has the speed bonus enabled, faster answers earn
// extra points based on how much of the question window was left.
package score

import "time"

const base = 5

// Points returns the points earned by one answer.
//
// A wrong answer is always worth 0. A correct answer is worth the base, plus
// a speed bonus stepped on the percentage of the window remaining when the
// answer arrived: >=90% -> +10, >=80% -> +8, >=60% -> +5, >=50% -> +3.
// Response times outside [0, timeLimit] are clamped.
func Points(correct bool, responseTime, timeLimit time.Duration, speedBonus bool) int {
	if !correct {
		return 0
	}

	if !speedBonus || timeLimit <= 0 {
		return base
	}

	if responseTime < 0 {
		responseTime = 0
	}
	if responseTime > timeLimit {
		responseTime = timeLimit
	}

	remainingPct := float64(timeLimit-responseTime) / float64(timeLimit) * 100

	switch {
	case remainingPct >= 90:
		return base + 10
	case remainingPct >= 80:
		return base + 8
	case remainingPct >= 60:
		return base + 5
	case remainingPct >= 50:
		return base + 3
	default:
		return base
	}
}
