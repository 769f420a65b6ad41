//go:build integration_test

package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	addr         = "localhost:8081"
	pubsubPrefix = "local"
)

// TestDuel plays one full match between two users against a running server
// and prints everything both sides see, on the socket and on the pubsub
// mirror.
func TestDuel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	watchPubsub(t, makeRedis(t), "u1")

	var eg errgroup.Group
	for i, u := range []string{"u1", "u2"} {
		i, u, correct := i, u, 3+i
		eg.Go(func() error { return playMatch(ctx, t, u, 1500+50*i, correct) })
	}
	require.NoError(t, eg.Wait())
}

func playMatch(ctx context.Context, t *testing.T, user string, ratingValue, correct int) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, fmt.Sprintf("ws://%s/ws?user_id=%s", addr, user), nil)
	if err != nil {
		return fmt.Errorf("dial as %q: %w", user, err)
	}
	defer ws.Close()

	send := func(event string, data any) error {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		return ws.WriteJSON(map[string]json.RawMessage{
			"event": json.RawMessage(fmt.Sprintf("%q", event)),
			"data":  b,
		})
	}

	if err := send("join_queue", map[string]int{"rating": ratingValue}); err != nil {
		return err
	}

	var matchID string
	total := 0

	deadline, _ := ctx.Deadline()
	_ = ws.SetReadDeadline(deadline)

	for {
		var n struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := ws.ReadJSON(&n); err != nil {
			return fmt.Errorf("user %q read: %w", user, err)
		}

		t.Logf("%s <- %s %s", user, n.Event, n.Data)

		switch n.Event {
		case "match.found":
			var found struct {
				MatchID   string `json:"match_id"`
				Questions []any  `json:"questions"`
			}
			if err := json.Unmarshal(n.Data, &found); err != nil {
				return err
			}
			matchID, total = found.MatchID, len(found.Questions)

			if err := send("submit_finish", map[string]any{
				"match_id": matchID, "correct_count": correct, "total_questions": total,
			}); err != nil {
				return err
			}

		case "match.result":
			return nil

		case "error":
			return fmt.Errorf("user %q got error: %s", user, n.Data)
		}
	}
}

func watchPubsub(t *testing.T, rc redis.UniversalClient, user string) {
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	t.Cleanup(cancel)

	sub := rc.Subscribe(ctx, fmt.Sprintf("%s:user:%s", pubsubPrefix, user))
	t.Cleanup(func() { sub.Close() })

	go func() {
		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				return
			}
			t.Logf("pubsub %s: %s", user, msg.Payload)
		}
	}()
}

func makeRedis(t *testing.T) redis.UniversalClient {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{"localhost:6379"},
	})
	t.Cleanup(func() { r.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.Ping(ctx).Err(); err != nil {
		t.Fatal(err)
	}

	return r
}
