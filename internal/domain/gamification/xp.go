// Package gamification contains the rules engine for practice rewards:
// XP and levels, daily streaks with shields, badges and the gems ledger.
// This is a pure domain layer; storage and notification live behind the
// interfaces declared in repository.go.
package gamification

import "math"

// XPPerLevelUnit is the divisor in the level curve: level = floor(sqrt(xp/100)) + 1.
const XPPerLevelUnit = 100.0

// ImprovementMultiplier is applied when a session reports improvement.
const ImprovementMultiplier = 1.25

// MinSessionXP is the floor of any session award.
const MinSessionXP = 1

var sentimentMultipliers = map[int]float64{
	5: 1.5,
	4: 1.3,
	3: 1.0,
	2: 0.8,
	1: 0.6,
}

// SentimentMultiplier returns the XP multiplier for a 1-5 sentiment score.
// Unknown scores count as neutral.
func SentimentMultiplier(sentiment int) float64 {
	if m, ok := sentimentMultipliers[sentiment]; ok {
		return m
	}
	return 1.0
}

// CalculateSessionXP computes the XP for one practice session.
// One minute of practice is worth one base XP.
func CalculateSessionXP(durationMinutes, sentiment int, improvement bool) int {
	mult := SentimentMultiplier(sentiment)
	if improvement {
		mult *= ImprovementMultiplier
	}

	xp := int(math.Round(float64(durationMinutes) * mult))
	if xp < MinSessionXP {
		return MinSessionXP
	}
	return xp
}

// CalculateLevel maps total XP to a level. Level 1 starts at 0 XP.
func CalculateLevel(totalXP int) int {
	if totalXP <= 0 {
		return 1
	}
	return int(math.Floor(math.Sqrt(float64(totalXP)/XPPerLevelUnit))) + 1
}

// XPForLevel returns the minimum total XP needed to reach level.
func XPForLevel(level int) int {
	if level <= 1 {
		return 0
	}
	n := level - 1
	return n * n * int(XPPerLevelUnit)
}

// LevelChange describes the outcome of a level recomputation.
type LevelChange struct {
	LeveledUp bool `json:"leveled_up"`
	OldLevel  int  `json:"old_level"`
	NewLevel  int  `json:"new_level"`
}
