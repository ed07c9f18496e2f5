package main

// hardMultiplier doubles flat-variant scores in hard mode.
const hardMultiplier = 2

// roundScore converts remaining time into points: the base score minus one
// point per elapsed second, floored at zero. remainMs is clamped to the
// question's window so late or malformed values cannot inflate the score.
func roundScore(baseScore, timeLimitSec, remainMs int) int {
	if remainMs < 0 {
		remainMs = 0
	}
	if remainMs > timeLimitSec*1000 {
		remainMs = timeLimitSec * 1000
	}

	elapsed := timeLimitSec - remainMs/1000

	score := baseScore - elapsed
	if score < 0 {
		return 0
	}

	return score
}
