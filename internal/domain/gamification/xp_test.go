package gamification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateSessionXP(t *testing.T) {
	tests := []struct {
		name        string
		duration    int
		sentiment   int
		improvement bool
		want        int
	}{
		{"great session with improvement", 10, 5, true, 19},
		{"neutral", 30, 3, false, 30},
		{"good", 10, 4, false, 13},
		{"poor", 10, 1, false, 6},
		{"unknown sentiment is neutral", 10, 9, false, 10},
		{"zero duration floors at one", 0, 5, true, 1},
		{"rounding", 3, 2, false, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateSessionXP(tt.duration, tt.sentiment, tt.improvement))
		})
	}
}

func TestCalculateSessionXP_MinimumAndMonotonic(t *testing.T) {
	for s := 1; s <= 5; s++ {
		for _, b := range []bool{false, true} {
			prev := 0
			for d := 0; d <= 300; d++ {
				xp := CalculateSessionXP(d, s, b)
				assert.GreaterOrEqual(t, xp, 1)
				assert.GreaterOrEqual(t, xp, prev, "d=%d s=%d b=%v", d, s, b)
				prev = xp
			}
		}
	}
}

func TestCalculateLevel(t *testing.T) {
	assert.Equal(t, 1, CalculateLevel(0))
	assert.Equal(t, 1, CalculateLevel(99))
	assert.Equal(t, 2, CalculateLevel(100))
	assert.Equal(t, 2, CalculateLevel(399))
	assert.Equal(t, 3, CalculateLevel(400))
	assert.Equal(t, 11, CalculateLevel(10000))
	assert.Equal(t, 1, CalculateLevel(-50))

	prev := 0
	for xp := 0; xp <= 20000; xp += 7 {
		level := CalculateLevel(xp)
		assert.GreaterOrEqual(t, level, prev)
		prev = level
	}
}

func TestXPForLevel(t *testing.T) {
	for level := 1; level <= 20; level++ {
		need := XPForLevel(level)
		assert.Equal(t, level, CalculateLevel(need))
		if need > 0 {
			assert.Equal(t, level-1, CalculateLevel(need-1))
		}
	}
}

func TestUserStats_AddXPRecomputesLevel(t *testing.T) {
	stats := NewUserStats("u1", time.Now())

	change := stats.AddXP(99)
	assert.False(t, change.LeveledUp)
	assert.Equal(t, 1, stats.CurrentLevel)

	change = stats.AddXP(1)
	assert.True(t, change.LeveledUp)
	assert.Equal(t, 1, change.OldLevel)
	assert.Equal(t, 2, change.NewLevel)

	change = stats.AddXP(-500)
	assert.False(t, change.LeveledUp)
	assert.Equal(t, 100, stats.TotalXP)
	assert.Equal(t, 2, stats.CurrentLevel)
}

func TestNewPracticeSession_Validation(t *testing.T) {
	now := time.Now()

	_, err := NewPracticeSession("s1", "", 10, 3, false, "", now)
	assert.Error(t, err)

	_, err = NewPracticeSession("s1", "u1", 0, 3, false, "", now)
	assert.Error(t, err)

	_, err = NewPracticeSession("s1", "u1", 10, 6, false, "", now)
	assert.Error(t, err)

	s, err := NewPracticeSession("s1", "u1", 10, 5, true, "scales", now)
	assert.NoError(t, err)
	assert.Equal(t, 19, s.XPEarned)
}
