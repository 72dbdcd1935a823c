package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_CorrectSequence(t *testing.T) {
	// Five consecutive correct answers: 10, 10, 15, 15, 20.
	wantTotals := []int{10, 10, 15, 15, 20}
	wantStreaks := []int{1, 2, 3, 4, 5}

	streak := 0
	for i, want := range wantTotals {
		r := Score(true, streak)
		assert.Equal(t, want, r.Total(), "total for answer %d", i+1)
		assert.Equal(t, wantStreaks[i], r.NewStreak, "streak after answer %d", i+1)
		assert.Equal(t, BasePoints, r.PointsEarned)
		streak = r.NewStreak
	}
}

func TestScore_Incorrect(t *testing.T) {
	tests := []struct {
		name        string
		priorStreak int
	}{
		{"no streak", 0},
		{"short streak", 2},
		{"long streak", 7},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := Score(false, tc.priorStreak)
			assert.Equal(t, 0, r.PointsEarned)
			assert.Equal(t, 0, r.ComboBonus)
			assert.Equal(t, 0, r.NewStreak)
			assert.Equal(t, 0, r.Total())
		})
	}
}

func TestScore_ComboThresholds(t *testing.T) {
	tests := []struct {
		priorStreak int
		wantBonus   int
	}{
		{0, 0},
		{1, 0},
		{2, 5},  // streak becomes 3
		{3, 5},  // streak becomes 4
		{4, 10}, // streak becomes 5
		{10, 10},
	}

	for _, tc := range tests {
		r := Score(true, tc.priorStreak)
		assert.Equal(t, tc.wantBonus, r.ComboBonus, "prior streak %d", tc.priorStreak)
	}
}
