package match

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quizduel/arena/internal/domain"
	"github.com/quizduel/arena/internal/errors"
	"github.com/quizduel/arena/internal/event"
	"github.com/quizduel/arena/internal/rating"
	"github.com/quizduel/arena/internal/telemetry"
)

const (
	defaultQuestionCount = 10
	defaultMode          = "1v1"
)

// Store is the persistence gateway consumed by the match core. Every write
// is best-effort from the session's point of view: a failing store degrades
// to unpersisted mode, it never blocks gameplay or notifications.
type Store interface {
	SampleQuestions(ctx context.Context, count int) ([]domain.Question, error)
	CreateMatchRecord(ctx context.Context, rec domain.MatchRecord) error
	UpdateMatchProgress(ctx context.Context, matchID, userID string, progress, correctCount int) error
	UpdateMatchFinish(ctx context.Context, matchID, userID string, finishedAt time.Time, progress, correctCount int) error
	UpdateMatchResult(ctx context.Context, res domain.MatchResult) error
	GetPlayerRatingState(ctx context.Context, userID string) (domain.RatingState, error)
	SetPlayerRatingState(ctx context.Context, userID string, st domain.RatingState) error
	GetCategorySkillState(ctx context.Context, userID string) (domain.SkillState, error)
	SetCategorySkillState(ctx context.Context, userID string, st domain.SkillState) error
}

// Rater updates both players' rating triples for one match outcome, given
// from player A's perspective.
type Rater interface {
	Update(a, b domain.RatingState, outcome float64) (domain.RatingState, domain.RatingState)
}

// SkillTracker folds one finished match into a player's per-category
// estimates.
type SkillTracker interface {
	Update(prior domain.SkillState, questions []domain.Question, answers map[int]string) domain.SkillState
}

type Config struct {
	EventBus *event.Bus
	Store    Store
	Rating   Rater
	Skill    SkillTracker

	QuestionCount int
	Mode          string
}

type playerState struct {
	answers      map[int]string
	progress     int
	correctCount int
	finishedAt   *time.Time
}

// session is the live state of one match. The question slice is set once
// during activation, before either client learns the match ID, and never
// mutated after. All field access happens under mu; the finalized flag
// makes the dual-finish check and both terminal transitions fire at most
// once.
type session struct {
	mu        sync.Mutex
	id        string
	players   [2]domain.Player
	questions []domain.Question
	createdAt time.Time
	status    domain.MatchStatus
	finalized bool
	state     map[string]*playerState
}

func (s *session) stateOf(userID string) *playerState {
	return s.state[userID]
}

func (s *session) opponentOf(userID string) (domain.Player, bool) {
	switch userID {
	case s.players[0].UserID:
		return s.players[1], true
	case s.players[1].UserID:
		return s.players[0], true
	}
	return domain.Player{}, false
}

// Service owns every active match session from creation to finalization.
type Service struct {
	eb    *event.Bus
	store Store
	rater Rater
	skill SkillTracker

	questionCount int
	mode          string

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewService(c Config) *Service {
	if c.QuestionCount <= 0 {
		c.QuestionCount = defaultQuestionCount
	}
	if c.Mode == "" {
		c.Mode = defaultMode
	}

	return &Service{
		eb:            c.EventBus,
		store:         c.Store,
		rater:         c.Rating,
		skill:         c.Skill,
		questionCount: c.QuestionCount,
		mode:          c.Mode,
		sessions:      make(map[string]*session),
	}
}

// Reserve registers a session for two freshly paired players and returns
// its ID. It does no I/O: the caller (the matchmaking queue) invokes it
// under its own lock so that both users count as in-session from the very
// operation that removed them from the queue. Activate completes the
// setup.
func (s *Service) Reserve(a, b domain.Player) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate match ID: %w", err)
	}

	sess := &session{
		id:        id.String(),
		players:   [2]domain.Player{a, b},
		createdAt: time.Now(),
		status:    domain.MatchInProgress,
		state: map[string]*playerState{
			a.UserID: {answers: make(map[int]string)},
			b.UserID: {answers: make(map[int]string)},
		},
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	return sess.id, nil
}

// Activate samples the question set for a reserved session, persists the
// match record and notifies both participants. An empty question sample is
// tolerated: the match proceeds and finish events still drive finalization.
func (s *Service) Activate(ctx context.Context, matchID string) error {
	sess := s.get(matchID)
	if sess == nil {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("unknown match %s", matchID))
	}

	questions, err := s.store.SampleQuestions(ctx, s.questionCount)
	if err != nil {
		slog.ErrorContext(ctx, "match: sample questions failed, starting with empty set",
			"match", matchID, "error", err)
		questions = nil
	}

	sess.mu.Lock()
	sess.questions = questions
	a, b := sess.players[0], sess.players[1]
	createdAt := sess.createdAt
	sess.mu.Unlock()

	telemetry.MatchesStarted.Inc()

	questionIDs := make([]string, 0, len(questions))
	for _, q := range questions {
		questionIDs = append(questionIDs, q.QuestionID)
	}

	if err := s.store.CreateMatchRecord(ctx, domain.MatchRecord{
		MatchID:     sess.id,
		PlayerAID:   a.UserID,
		PlayerBID:   b.UserID,
		Status:      domain.MatchInProgress,
		Mode:        s.mode,
		QuestionIDs: questionIDs,
		CreateTime:  createdAt,
	}); err != nil {
		slog.ErrorContext(ctx, "match: persist match record failed", "match", sess.id, "error", err)
	}

	s.eb.Publish(ctx, domain.EventMatchFound{
		UserID: a.UserID, MatchID: sess.id, Opponent: b, Questions: questions,
	})
	s.eb.Publish(ctx, domain.EventMatchFound{
		UserID: b.UserID, MatchID: sess.id, Opponent: a, Questions: questions,
	})

	return nil
}

// CreateMatch reserves and activates a session in one call, for callers
// that pair players without going through the queue.
func (s *Service) CreateMatch(ctx context.Context, a, b domain.Player) (string, error) {
	id, err := s.Reserve(a, b)
	if err != nil {
		return "", err
	}

	return id, s.Activate(ctx, id)
}

// InSession reports whether a user currently participates in any active
// match.
func (s *Service) InSession(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if _, ok := sess.opponentOf(userID); ok {
			return true
		}
	}
	return false
}

func (s *Service) get(matchID string) *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[matchID]
}

func (s *Service) remove(matchID string) {
	s.mu.Lock()
	delete(s.sessions, matchID)
	s.mu.Unlock()
}

// ProgressReport is one player's in-flight progress. QuestionIndex and
// Answer are optional; when present they record the submitted answer for
// later skill tracking.
type ProgressReport struct {
	MatchID       string
	UserID        string
	Progress      int
	CorrectCount  int
	QuestionIndex int
	Answer        string
}

// Progress applies a progress report and forwards it to the opponent only.
// Unknown matches or users are ignored without error: late and duplicate
// deliveries are benign.
func (s *Service) Progress(ctx context.Context, r ProgressReport) {
	sess := s.get(r.MatchID)
	if sess == nil {
		return
	}

	sess.mu.Lock()
	st := sess.stateOf(r.UserID)
	if st == nil || sess.finalized {
		sess.mu.Unlock()
		return
	}

	st.progress = r.Progress
	st.correctCount = r.CorrectCount
	if r.Answer != "" && r.QuestionIndex >= 0 && r.QuestionIndex < len(sess.questions) {
		st.answers[r.QuestionIndex] = r.Answer
	}

	opponent, _ := sess.opponentOf(r.UserID)
	sess.mu.Unlock()

	s.eb.Publish(ctx, domain.EventOpponentProgress{
		UserID:       opponent.UserID,
		MatchID:      r.MatchID,
		Progress:     r.Progress,
		CorrectCount: r.CorrectCount,
	})

	if err := s.store.UpdateMatchProgress(ctx, r.MatchID, r.UserID, r.Progress, r.CorrectCount); err != nil {
		slog.ErrorContext(ctx, "match: persist progress failed", "match", r.MatchID, "error", err)
	}
}

type FinishReport struct {
	MatchID        string
	UserID         string
	CorrectCount   int
	TotalQuestions int
}

// Finish marks one player done. Repeats overwrite the finish time and
// counts with the latest values. The transition to finished fires exactly
// when, after applying the report, both players carry a finish marker; the
// check shares the session lock with the report so concurrent finishes
// finalize once and only once.
func (s *Service) Finish(ctx context.Context, r FinishReport) {
	sess := s.get(r.MatchID)
	if sess == nil {
		return
	}

	now := time.Now()

	sess.mu.Lock()
	st := sess.stateOf(r.UserID)
	if st == nil || sess.finalized {
		sess.mu.Unlock()
		return
	}

	st.finishedAt = &now
	st.progress = r.TotalQuestions
	st.correctCount = r.CorrectCount

	opponent, _ := sess.opponentOf(r.UserID)
	fire := sess.stateOf(opponent.UserID).finishedAt != nil
	if fire {
		sess.finalized = true
		sess.status = domain.MatchFinished
	}
	sess.mu.Unlock()

	s.eb.Publish(ctx, domain.EventOpponentFinished{
		UserID:         opponent.UserID,
		MatchID:        r.MatchID,
		CorrectCount:   r.CorrectCount,
		TotalQuestions: r.TotalQuestions,
		FinishedAt:     now,
	})

	if err := s.store.UpdateMatchFinish(ctx, r.MatchID, r.UserID, now, r.TotalQuestions, r.CorrectCount); err != nil {
		slog.ErrorContext(ctx, "match: persist finish failed", "match", r.MatchID, "error", err)
	}

	if fire {
		s.finalize(ctx, sess)
	}
}

// finalize runs the one-time result sequence for a dual-finished session:
// derive the winner, update ratings, deliver the result, then update skills
// and persist. Only the caller that flipped the finalized flag reaches
// here.
func (s *Service) finalize(ctx context.Context, sess *session) {
	a, b := sess.players[0], sess.players[1]
	sa, sb := sess.stateOf(a.UserID), sess.stateOf(b.UserID)

	winnerID, result := decideWinner(a, b, sa, sb)

	outcome := rating.OutcomeFor(winnerID, a.UserID, b.UserID)

	res := domain.MatchResult{
		MatchID:  sess.id,
		Result:   result,
		WinnerID: winnerID,
		CorrectCounts: map[string]int{
			a.UserID: sa.correctCount,
			b.UserID: sb.correctCount,
		},
		NewRatings:   map[string]int{},
		RatingDeltas: map[string]int{},
		FinishTimes:  finishTimes(a, b, sa, sb),
		CompleteTime: time.Now(),
	}

	s.applyRatings(ctx, &res, a, b, outcome)

	s.eb.Publish(ctx, domain.EventMatchResult{
		Recipients: [2]string{a.UserID, b.UserID},
		Result:     res,
	})

	s.remove(sess.id)
	telemetry.MatchesFinalized.WithLabelValues(res.Result).Inc()

	s.applySkills(ctx, sess, a.UserID)
	s.applySkills(ctx, sess, b.UserID)

	if err := s.store.UpdateMatchResult(ctx, res); err != nil {
		telemetry.FinalizeFailures.Inc()
		slog.ErrorContext(ctx, "match: persist result failed", "match", sess.id, "error", err)
	}
}

// decideWinner compares correct counts, breaks ties on earlier finish time
// and declares a draw when neither separates the players. The result string
// is from player A's perspective.
func decideWinner(a, b domain.Player, sa, sb *playerState) (string, string) {
	switch {
	case sa.correctCount > sb.correctCount:
		return a.UserID, domain.ResultWin
	case sb.correctCount > sa.correctCount:
		return b.UserID, domain.ResultLose
	}

	if sa.finishedAt != nil && sb.finishedAt != nil && !sa.finishedAt.Equal(*sb.finishedAt) {
		if sa.finishedAt.Before(*sb.finishedAt) {
			return a.UserID, domain.ResultWin
		}
		return b.UserID, domain.ResultLose
	}

	return "", domain.ResultDraw
}

// applyRatings runs the rating service for both players. Any failure is
// logged and leaves the result payload without rating data; delivery of the
// result never depends on it.
func (s *Service) applyRatings(ctx context.Context, res *domain.MatchResult, a, b domain.Player, outcome float64) {
	ra, err := s.store.GetPlayerRatingState(ctx, a.UserID)
	if err != nil {
		telemetry.FinalizeFailures.Inc()
		slog.ErrorContext(ctx, "match: read rating state failed", "user", a.UserID, "error", err)
		return
	}
	rb, err := s.store.GetPlayerRatingState(ctx, b.UserID)
	if err != nil {
		telemetry.FinalizeFailures.Inc()
		slog.ErrorContext(ctx, "match: read rating state failed", "user", b.UserID, "error", err)
		return
	}

	na, nb := s.rater.Update(ra, rb, outcome)

	res.NewRatings[a.UserID] = na.Rating
	res.NewRatings[b.UserID] = nb.Rating
	res.RatingDeltas[a.UserID] = na.Rating - ra.Rating
	res.RatingDeltas[b.UserID] = nb.Rating - rb.Rating

	if err := s.store.SetPlayerRatingState(ctx, a.UserID, na); err != nil {
		telemetry.FinalizeFailures.Inc()
		slog.ErrorContext(ctx, "match: write rating state failed", "user", a.UserID, "error", err)
	}
	if err := s.store.SetPlayerRatingState(ctx, b.UserID, nb); err != nil {
		telemetry.FinalizeFailures.Inc()
		slog.ErrorContext(ctx, "match: write rating state failed", "user", b.UserID, "error", err)
	}
}

func (s *Service) applySkills(ctx context.Context, sess *session, userID string) {
	prior, err := s.store.GetCategorySkillState(ctx, userID)
	if err != nil {
		telemetry.FinalizeFailures.Inc()
		slog.ErrorContext(ctx, "match: read skill state failed", "user", userID, "error", err)
		return
	}

	next := s.skill.Update(prior, sess.questions, sess.stateOf(userID).answers)

	if err := s.store.SetCategorySkillState(ctx, userID, next); err != nil {
		telemetry.FinalizeFailures.Inc()
		slog.ErrorContext(ctx, "match: write skill state failed", "user", userID, "error", err)
	}
}

type SurrenderReport struct {
	MatchID string
	UserID  string
}

// Surrender ends the match immediately with the surrendering player as the
// loser. The result is persisted with the opponent as winner; ratings and
// skills stay untouched (abandoning a match is not a rated outcome).
func (s *Service) Surrender(ctx context.Context, r SurrenderReport) {
	sess := s.get(r.MatchID)
	if sess == nil {
		return
	}

	sess.mu.Lock()
	if sess.stateOf(r.UserID) == nil || sess.finalized {
		sess.mu.Unlock()
		return
	}
	sess.finalized = true
	sess.status = domain.MatchFinished

	opponent, _ := sess.opponentOf(r.UserID)
	a, b := sess.players[0], sess.players[1]
	sa, sb := sess.stateOf(a.UserID), sess.stateOf(b.UserID)
	sess.mu.Unlock()

	s.eb.Publish(ctx, domain.EventOpponentSurrendered{
		UserID:  opponent.UserID,
		MatchID: r.MatchID,
	})

	res := domain.MatchResult{
		MatchID:  sess.id,
		Result:   domain.ResultSurrender,
		WinnerID: opponent.UserID,
		CorrectCounts: map[string]int{
			a.UserID: sa.correctCount,
			b.UserID: sb.correctCount,
		},
		FinishTimes:  finishTimes(a, b, sa, sb),
		CompleteTime: time.Now(),
	}

	s.eb.Publish(ctx, domain.EventMatchResult{
		Recipients: [2]string{a.UserID, b.UserID},
		Result:     res,
	})

	s.remove(sess.id)
	telemetry.MatchesFinalized.WithLabelValues(res.Result).Inc()

	if err := s.store.UpdateMatchResult(ctx, res); err != nil {
		telemetry.FinalizeFailures.Inc()
		slog.ErrorContext(ctx, "match: persist surrender result failed", "match", sess.id, "error", err)
	}
}

// Disconnect drops the disconnected player's session, if any, notifying the
// opponent once. Unlike surrender this is a non-rated abandonment: no
// result row is written.
func (s *Service) Disconnect(ctx context.Context, userID string) {
	var (
		sess     *session
		opponent domain.Player
	)

	s.mu.RLock()
	for _, candidate := range s.sessions {
		if opp, ok := candidate.opponentOf(userID); ok {
			sess, opponent = candidate, opp
			break
		}
	}
	s.mu.RUnlock()

	if sess == nil {
		return
	}

	sess.mu.Lock()
	if sess.finalized {
		sess.mu.Unlock()
		return
	}
	sess.finalized = true
	sess.status = domain.MatchFinished
	sess.mu.Unlock()

	s.eb.Publish(ctx, domain.EventOpponentDisconnected{
		UserID:  opponent.UserID,
		MatchID: sess.id,
	})

	s.remove(sess.id)
	telemetry.MatchesFinalized.WithLabelValues("disconnect").Inc()
}

func finishTimes(a, b domain.Player, sa, sb *playerState) map[string]time.Time {
	times := make(map[string]time.Time, 2)
	if sa.finishedAt != nil {
		times[a.UserID] = *sa.finishedAt
	}
	if sb.finishedAt != nil {
		times[b.UserID] = *sb.finishedAt
	}
	return times
}
