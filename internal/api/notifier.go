package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/quizduel/arena/internal/domain"
	"github.com/quizduel/arena/internal/event"
)

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// notifier turns outbound domain events into client notifications. Each
// notification goes to the user's live websocket, when present, and to a
// per-user pubsub channel for out-of-process consumers.
type notifier struct {
	hub    *Hub
	redis  Redis
	prefix string
}

func newNotifier(eb *event.Bus, hub *Hub, r Redis, prefix string) *notifier {
	n := &notifier{hub: hub, redis: r, prefix: prefix}

	eb.Subscribe(domain.EventNameQueueAcked, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventQueueAcked)
		return n.deliver(ctx, ev.UserID, ev.Name(), queueAckedPayload{QueueSize: ev.QueueSize})
	})

	eb.Subscribe(domain.EventNameQueueTimeout, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventQueueTimeout)
		return n.deliver(ctx, ev.UserID, ev.Name(), struct{}{})
	})

	eb.Subscribe(domain.EventNameMatchFound, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventMatchFound)
		return n.deliver(ctx, ev.UserID, ev.Name(), matchFoundPayload{
			MatchID:   ev.MatchID,
			Opponent:  opponentPayload{UserID: ev.Opponent.UserID, Rating: ev.Opponent.Rating},
			Questions: questionPayloads(ev.Questions),
		})
	})

	eb.Subscribe(domain.EventNameOpponentProgress, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventOpponentProgress)
		return n.deliver(ctx, ev.UserID, ev.Name(), opponentProgressPayload{
			MatchID:      ev.MatchID,
			Progress:     ev.Progress,
			CorrectCount: ev.CorrectCount,
		})
	})

	eb.Subscribe(domain.EventNameOpponentFinished, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventOpponentFinished)
		return n.deliver(ctx, ev.UserID, ev.Name(), opponentFinishedPayload{
			MatchID:        ev.MatchID,
			CorrectCount:   ev.CorrectCount,
			TotalQuestions: ev.TotalQuestions,
		})
	})

	eb.Subscribe(domain.EventNameOpponentSurrendered, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventOpponentSurrendered)
		return n.deliver(ctx, ev.UserID, ev.Name(), matchRefPayload{MatchID: ev.MatchID})
	})

	eb.Subscribe(domain.EventNameOpponentDisconnected, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventOpponentDisconnected)
		return n.deliver(ctx, ev.UserID, ev.Name(), matchRefPayload{MatchID: ev.MatchID})
	})

	eb.Subscribe(domain.EventNameMatchResult, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventMatchResult)
		payload := matchResultPayload{
			MatchID:       ev.Result.MatchID,
			Result:        ev.Result.Result,
			WinnerID:      ev.Result.WinnerID,
			CorrectCounts: ev.Result.CorrectCounts,
			NewRatings:    ev.Result.NewRatings,
			RatingDeltas:  ev.Result.RatingDeltas,
		}

		var eg errgroup.Group
		for _, userID := range ev.Recipients {
			userID := userID
			eg.Go(func() error {
				return n.deliver(ctx, userID, ev.Name(), payload)
			})
		}
		return eg.Wait()
	})

	return n
}

func (n *notifier) deliver(ctx context.Context, userID, eventName string, data any) error {
	b, err := json.Marshal(Notification{Event: eventName, Data: data})
	if err != nil {
		return fmt.Errorf("notifier: marshal %s: %v", eventName, err)
	}

	n.hub.Send(userID, b)

	if n.redis == nil {
		return nil
	}

	return n.redis.Publish(ctx, fmt.Sprintf("%s:user:%s", n.prefix, userID), b).Err()
}

func questionPayloads(qs []domain.Question) []questionPayload {
	out := make([]questionPayload, 0, len(qs))
	for _, q := range qs {
		out = append(out, questionPayload{
			QuestionID: q.QuestionID,
			Prompt:     q.Prompt,
			Options:    q.Options,
			Answer:     q.Answer,
			Category:   q.Category,
			Difficulty: q.Difficulty,
		})
	}
	return out
}
