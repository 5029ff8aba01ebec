package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Worked example from Glickman's Glicko-2 paper: a 1500/200 player beats a
// 1400/30 opponent and loses to 1550/100 and 1700/300, with tau = 0.5 and
// volatility 0.06. The paper gives r' = 1464.06 and RD' = 151.52.
func TestUpdatePlayer_ReferenceExample(t *testing.T) {
	opps := []opponent{
		{mu: toMu(1400), phi: toPhi(30), score: 1},
		{mu: toMu(1550), phi: toPhi(100), score: 0},
		{mu: toMu(1700), phi: toPhi(300), score: 0},
	}

	r, rd := updatePlayer(1500, 200, opps)

	assert.InDelta(t, 1464.06, r, 0.02)
	assert.InDelta(t, 151.52, rd, 0.02)
}

func TestUpdatePlayer_NoGamesGrowsDeviation(t *testing.T) {
	r, rd := updatePlayer(1500, 200, nil)

	assert.Equal(t, 1500.0, r)
	assert.Greater(t, rd, 200.0)
}

func TestG_ShrinksWithDeviation(t *testing.T) {
	assert.InDelta(t, 1.0, g(0), 1e-12)
	assert.Greater(t, g(toPhi(30)), g(toPhi(300)))
}
