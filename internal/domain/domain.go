package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Player is a participant of a match, with the rating snapshot taken at
// pairing time.
type Player struct {
	UserID string
	Rating int
}

// WaitingPlayer is a queue entry. Owned by the matchmaking queue while the
// player waits; it disappears the moment the player is paired or dequeued.
type WaitingPlayer struct {
	UserID    string
	Rating    int
	JoinedAt  time.Time
	Tolerance int
}

type Question struct {
	QuestionID string
	Prompt     string
	Options    []string
	Answer     string
	Category   string
	Difficulty string
}

type MatchStatus string

const (
	MatchInProgress MatchStatus = "in_progress"
	MatchFinished   MatchStatus = "finished"
)

// MatchRecord is the persisted shape of a newly created match.
type MatchRecord struct {
	MatchID     string
	PlayerAID   string
	PlayerBID   string
	Status      MatchStatus
	Mode        string
	QuestionIDs []string
	CreateTime  time.Time
}

// Result values stored with a finished match.
const (
	ResultWin       = "win"
	ResultLose      = "lose"
	ResultDraw      = "draw"
	ResultSurrender = "surrender"
)

// MatchResult is the outcome of one finalized match. Ratings and deltas are
// keyed by user ID; they are empty when the match ended without a rating
// update (surrender).
type MatchResult struct {
	MatchID       string
	Result        string
	WinnerID      string
	CorrectCounts map[string]int
	NewRatings    map[string]int
	RatingDeltas  map[string]int
	FinishTimes   map[string]time.Time
	CompleteTime  time.Time
}

// RatingState is one player's Glicko-2 triple. Rating is rounded for
// display and storage, deviation and volatility stay real-valued.
type RatingState struct {
	Rating     int
	Deviation  float64
	Volatility float64
}

// DefaultRatingState is used for players with no persisted rating row.
func DefaultRatingState() RatingState {
	return RatingState{Rating: 1500, Deviation: 350, Volatility: 0.06}
}

// SkillState is a player's per-category running skill estimate. Estimates
// are on the raw session-score scale, not the 0-100 display scale.
type SkillState struct {
	GamesPlayed int
	Estimates   map[string]decimal.Decimal
}

func ZeroSkillState() SkillState {
	return SkillState{Estimates: make(map[string]decimal.Decimal)}
}
