package core

import "strings"

// NumSeats is the fixed arity of a bughouse game: two boards, four players.
const NumSeats = 4

// GameStatus tracks the game lifecycle. Transitions are monotonic:
// open -> active -> terminated, never backward.
type GameStatus string

const (
	StatusOpen       GameStatus = "open"
	StatusActive     GameStatus = "active"
	StatusTerminated GameStatus = "terminated"
)

// GameMode controls whether a finished game feeds the rating engine
type GameMode string

const (
	ModeCasual GameMode = "casual"
	ModeRated  GameMode = "rated"
)

// ParseMode normalizes a mode string, defaulting to casual
func ParseMode(s string) GameMode {
	if strings.EqualFold(s, string(ModeRated)) {
		return ModeRated
	}
	return ModeCasual
}

// TeamOutcome is the result signal consumed by the rating engine.
// Team one is seats 0 and 3, team two is seats 1 and 2 (partners sit on
// opposite boards playing opposite colors).
type TeamOutcome int

const (
	OutcomeDraw TeamOutcome = iota
	OutcomeTeamOne
	OutcomeTeamTwo
)

func (o TeamOutcome) String() string {
	switch o {
	case OutcomeTeamOne:
		return "team1"
	case OutcomeTeamTwo:
		return "team2"
	default:
		return "draw"
	}
}

// Canonical victory phrases produced by the board layer at game end
const (
	teamOneVictorious = "Team 1 is victorious"
	teamTwoVictorious = "Team 2 is victorious"
)

// DeriveOutcome maps termination text to a team outcome. Any text that
// names neither team resolves to a draw.
func DeriveOutcome(termination string) TeamOutcome {
	switch {
	case strings.Contains(termination, teamOneVictorious):
		return OutcomeTeamOne
	case strings.Contains(termination, teamTwoVictorious):
		return OutcomeTeamTwo
	default:
		return OutcomeDraw
	}
}

// TimeClass buckets a game's time control for rating purposes
type TimeClass string

const (
	ClassBullet    TimeClass = "bullet"
	ClassBlitz     TimeClass = "blitz"
	ClassClassical TimeClass = "classical"
)

// ClassForMinutes returns the rating class for a base time in minutes:
// under 3 is bullet, 3 through 8 is blitz, above 8 is classical.
func ClassForMinutes(minutes int) TimeClass {
	switch {
	case minutes < 3:
		return ClassBullet
	case minutes <= 8:
		return ClassBlitz
	default:
		return ClassClassical
	}
}
