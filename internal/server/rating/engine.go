package rating

import (
	"bughouse/internal/server/core"
)

// PlayerRating is the (rating, deviation) pair for one seat, carried as
// floating point end to end. Rounding happens only at the display boundary.
type PlayerRating struct {
	Rating float64
	RD     float64
}

// NewPlayerRating returns the starting state for a fresh account
func NewPlayerRating() PlayerRating {
	return PlayerRating{Rating: DefaultRating, RD: DefaultRD}
}

// UpdateTeamRatings computes post-match ratings for all four seats of a
// bughouse game. Team one is seats 0 and 3, team two is seats 1 and 2.
//
// The match is expanded into pairwise games: every pair of the four plays
// exactly once. On a decisive outcome each member of the winning side beats
// each member of the losing side while partners draw each other; on a drawn
// game the whole quartet is one mutually-drawing group. This mirrors the
// race formulation the site has always used rather than any four-way
// extension of the reference algorithm.
//
// All four outputs are functions of the pre-match inputs only, so the
// update is simultaneous and order-independent.
func UpdateTeamRatings(states [core.NumSeats]*PlayerRating, outcome core.TeamOutcome) ([core.NumSeats]PlayerRating, error) {
	var updated [core.NumSeats]PlayerRating

	switch outcome {
	case core.OutcomeDraw, core.OutcomeTeamOne, core.OutcomeTeamTwo:
	default:
		return updated, core.ErrInvalidOutcome
	}

	for i := range states {
		if states[i] == nil {
			return updated, core.ErrIncompleteRoster
		}
	}

	for i := 0; i < core.NumSeats; i++ {
		opps := make([]opponent, 0, core.NumSeats-1)
		for j := 0; j < core.NumSeats; j++ {
			if j == i {
				continue
			}
			opps = append(opps, opponent{
				mu:    toMu(states[j].Rating),
				phi:   toPhi(states[j].RD),
				score: scoreAgainst(i, j, outcome),
			})
		}
		r, rd := updatePlayer(states[i].Rating, states[i].RD, opps)
		updated[i] = PlayerRating{Rating: r, RD: rd}
	}

	return updated, nil
}

func teamOf(seat int) int {
	if seat == 0 || seat == 3 {
		return 1
	}
	return 2
}

func scoreAgainst(i, j int, outcome core.TeamOutcome) float64 {
	if outcome == core.OutcomeDraw || teamOf(i) == teamOf(j) {
		return 0.5
	}
	winner := 1
	if outcome == core.OutcomeTeamTwo {
		winner = 2
	}
	if teamOf(i) == winner {
		return 1
	}
	return 0
}
