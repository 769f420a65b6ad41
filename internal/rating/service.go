package rating

import (
	"math"

	glicko "github.com/zelenin/go-glicko2"

	"github.com/quizduel/arena/internal/domain"
)

// Outcome is the match result from player A's perspective.
const (
	OutcomeLoss = 0.0
	OutcomeDraw = 0.5
	OutcomeWin  = 1.0
)

// OutcomeFor encodes a winner as the outcome scalar from player A's
// perspective: 1 when A won, 0 when B won, 0.5 for no winner.
func OutcomeFor(winnerID, aID, bID string) float64 {
	switch winnerID {
	case aID:
		return OutcomeWin
	case bID:
		return OutcomeLoss
	default:
		return OutcomeDraw
	}
}

// Service computes Glicko-2 rating updates. It holds no state and is safe
// to call concurrently for unrelated matches.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Update returns both players' updated triples for a single match. outcome
// is 1 if A won, 0 if A lost, 0.5 for a draw. Ratings are rounded to
// integers, deviation and volatility stay real-valued.
func (*Service) Update(a, b domain.RatingState, outcome float64) (domain.RatingState, domain.RatingState) {
	pa := glicko.NewPlayer(glicko.NewRating(float64(a.Rating), a.Deviation, a.Volatility))
	pb := glicko.NewPlayer(glicko.NewRating(float64(b.Rating), b.Deviation, b.Volatility))

	period := glicko.NewRatingPeriod()

	switch {
	case outcome == OutcomeWin:
		period.AddMatch(pa, pb, glicko.MATCH_RESULT_WIN)
	case outcome == OutcomeLoss:
		period.AddMatch(pa, pb, glicko.MATCH_RESULT_LOSS)
	default:
		period.AddMatch(pa, pb, glicko.MATCH_RESULT_DRAW)
	}

	period.Calculate()

	return fromPlayer(pa), fromPlayer(pb)
}

func fromPlayer(p *glicko.Player) domain.RatingState {
	r := p.Rating()
	return domain.RatingState{
		Rating:     int(math.Round(r.R())),
		Deviation:  r.Rd(),
		Volatility: r.Sigma(),
	}
}
