package arena

import (
	"context"

	"github.com/quizduel/arena/internal/domain"
	"github.com/quizduel/arena/internal/errors"
	"github.com/quizduel/arena/internal/event"
	"github.com/quizduel/arena/internal/match"
	"github.com/quizduel/arena/internal/queue"
)

type Config struct {
	EventBus *event.Bus
	Queue    *queue.Service
	Match    *match.Service
}

// Service is the connection-event dispatcher. It validates inbound
// real-time events, routes them to the queue or the relevant session, and
// turns queue pairings into live matches. Validation failures are returned
// to the caller for delivery to the originating client only; stale
// references pass through silently by design of the underlying services.
type Service struct {
	eb    *event.Bus
	queue *queue.Service
	match *match.Service
}

func NewService(c Config) *Service {
	s := &Service{
		eb:    c.EventBus,
		queue: c.Queue,
		match: c.Match,
	}

	s.eb.Subscribe(domain.EventNamePlayersPaired, func(ctx context.Context, e event.Event) error {
		return s.handlePaired(ctx, e.(domain.EventPlayersPaired))
	})

	return s
}

func (s *Service) handlePaired(ctx context.Context, e domain.EventPlayersPaired) error {
	if e.MatchID != "" {
		return s.match.Activate(ctx, e.MatchID)
	}

	_, err := s.match.CreateMatch(ctx,
		domain.Player{UserID: e.PlayerA.UserID, Rating: e.PlayerA.Rating},
		domain.Player{UserID: e.PlayerB.UserID, Rating: e.PlayerB.Rating},
	)
	return err
}

// JoinQueue puts a player into the matchmaking queue. A player already in a
// live match cannot queue again: a user ID lives in at most one of the
// queue and one active session.
func (s *Service) JoinQueue(ctx context.Context, userID string, ratingValue int) error {
	if userID == "" {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("user_id is required"))
	}
	if ratingValue <= 0 {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("rating is required"))
	}
	if s.match.InSession(userID) {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("user %s is already in a match", userID))
	}

	s.queue.Enqueue(ctx, userID, ratingValue)
	return nil
}

func (s *Service) CancelQueue(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("user_id is required"))
	}

	s.queue.Dequeue(ctx, userID)
	return nil
}

func (s *Service) SubmitProgress(ctx context.Context, r match.ProgressReport) error {
	if r.MatchID == "" || r.UserID == "" {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("match_id and user_id are required"))
	}
	if r.Progress < 0 || r.CorrectCount < 0 {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("progress and correct_count must not be negative"))
	}

	s.match.Progress(ctx, r)
	return nil
}

func (s *Service) SubmitFinish(ctx context.Context, r match.FinishReport) error {
	if r.MatchID == "" || r.UserID == "" {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("match_id and user_id are required"))
	}
	if r.CorrectCount < 0 || r.TotalQuestions < 0 || r.CorrectCount > r.TotalQuestions {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid correct_count %d of %d", r.CorrectCount, r.TotalQuestions))
	}

	s.match.Finish(ctx, r)
	return nil
}

func (s *Service) Surrender(ctx context.Context, r match.SurrenderReport) error {
	if r.MatchID == "" || r.UserID == "" {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("match_id and user_id are required"))
	}

	s.match.Surrender(ctx, r)
	return nil
}

// Disconnect removes the user from the queue and drops their live session,
// if any. Both removals are unconditional and silent.
func (s *Service) Disconnect(ctx context.Context, userID string) {
	if userID == "" {
		return
	}

	s.queue.Dequeue(ctx, userID)
	s.match.Disconnect(ctx, userID)
}
