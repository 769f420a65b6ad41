package skill

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/quizduel/arena/internal/domain"
)

const (
	// MaxSessionScore is the highest score one session can yield: a full
	// 10-question match answered correctly at the hardest tier.
	MaxSessionScore = 40

	// CategoryGeneral is the fallback for question categories that don't
	// match the known set.
	CategoryGeneral = "general"

	earlyGames = 5
)

var (
	earlyAlpha = decimal.NewFromFloat(0.5)
	alphaFloor = decimal.NewFromFloat(0.2)
	one        = decimal.NewFromInt(1)
	hundred    = decimal.NewFromInt(100)
	maxScore   = decimal.NewFromInt(MaxSessionScore)
)

// Categories is the closed set of tracked skill categories.
var Categories = []string{
	"history",
	"science",
	"geography",
	"sports",
	"entertainment",
	CategoryGeneral,
}

// difficulty tier -> session score weight
var difficultyWeights = map[string]int64{
	"easy":   1,
	"medium": 2,
	"hard":   3,
	"expert": 4,
}

// Tracker maintains per-category skill estimates as an exponential moving
// average over session scores.
type Tracker struct{}

func NewTracker() *Tracker {
	return &Tracker{}
}

// NormalizeCategory fuzzily maps a free-form category name onto the closed
// category set, falling back to CategoryGeneral.
func NormalizeCategory(raw string) string {
	c := strings.ToLower(strings.TrimSpace(raw))
	if c == "" {
		return CategoryGeneral
	}

	for _, known := range Categories {
		if c == known || strings.Contains(c, known) || strings.Contains(known, c) {
			return known
		}
	}

	return CategoryGeneral
}

// Weight returns the session score weight for a difficulty tier. Unknown
// tiers score as the lowest tier.
func Weight(difficulty string) int64 {
	if w, ok := difficultyWeights[strings.ToLower(strings.TrimSpace(difficulty))]; ok {
		return w
	}

	return 1
}

// SessionScores computes per-category scores for one player's finished
// match. answers is keyed by question index; missing entries count as
// incorrect.
func (*Tracker) SessionScores(questions []domain.Question, answers map[int]string) map[string]decimal.Decimal {
	scores := make(map[string]decimal.Decimal)

	for i, q := range questions {
		a, ok := answers[i]
		if !ok || a != q.Answer {
			continue
		}

		cat := NormalizeCategory(q.Category)
		scores[cat] = scores[cat].Add(decimal.NewFromInt(Weight(q.Difficulty)))
	}

	return scores
}

// Alpha is the EMA smoothing factor for a player's next game. New players
// move fast; the factor decays with games played down to a fixed floor.
func Alpha(gamesPlayed int) decimal.Decimal {
	if gamesPlayed < earlyGames {
		return earlyAlpha
	}

	a := decimal.NewFromFloat(2.5).Div(decimal.NewFromInt(int64(gamesPlayed)))
	if a.LessThan(alphaFloor) {
		return alphaFloor
	}

	return a
}

// Update folds one finished match into the running estimates and returns
// the new state. It is a pure function of its inputs: calling it twice with
// the same prior state and match yields the same result. The caller must
// not apply the same match twice.
func (t *Tracker) Update(prior domain.SkillState, questions []domain.Question, answers map[int]string) domain.SkillState {
	session := t.SessionScores(questions, answers)
	alpha := Alpha(prior.GamesPlayed)

	next := domain.SkillState{
		GamesPlayed: prior.GamesPlayed + 1,
		Estimates:   make(map[string]decimal.Decimal, len(prior.Estimates)+len(session)),
	}

	for cat, est := range prior.Estimates {
		next.Estimates[cat] = est
	}

	// newEstimate = alpha*sessionScore + (1-alpha)*priorEstimate, applied
	// only to categories seen in this session.
	for cat, score := range session {
		next.Estimates[cat] = alpha.Mul(score).Add(one.Sub(alpha).Mul(prior.Estimates[cat]))
	}

	return next
}

// Normalized maps raw estimates onto the 0-100 display scale.
func Normalized(state domain.SkillState) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(state.Estimates))
	for cat, est := range state.Estimates {
		v := est.Div(maxScore).Mul(hundred)
		if v.LessThan(decimal.Zero) {
			v = decimal.Zero
		}
		if v.GreaterThan(hundred) {
			v = hundred
		}
		out[cat] = v
	}

	return out
}
