package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizduel/arena/internal/api"
	"github.com/quizduel/arena/internal/arena"
	"github.com/quizduel/arena/internal/domain"
	"github.com/quizduel/arena/internal/errors"
	"github.com/quizduel/arena/internal/event"
	"github.com/quizduel/arena/internal/match"
	"github.com/quizduel/arena/internal/queue"
	"github.com/quizduel/arena/internal/rating"
	"github.com/quizduel/arena/internal/skill"
)

type env struct {
	eb  *event.Bus
	srv *httptest.Server
}

func newEnv(t *testing.T, r api.Redis, prefix string) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	m := match.NewService(match.Config{
		EventBus: eb,
		Store:    &stubStore{},
		Rating:   rating.NewService(),
		Skill:    skill.NewTracker(),
	})
	q := queue.NewService(queue.Config{EventBus: eb, Sessions: m, BaseTolerance: 100})
	a := arena.NewService(arena.Config{EventBus: eb, Queue: q, Match: m})

	engine := gin.New()
	api.New(api.Config{
		Engine:       engine,
		EventBus:     eb,
		Arena:        a,
		Redis:        r,
		PubsubPrefix: prefix,
	})

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	return &env{eb: eb, srv: srv}
}

type stubStore struct{}

func (*stubStore) SampleQuestions(context.Context, int) ([]domain.Question, error) {
	return []domain.Question{
		{QuestionID: "q1", Prompt: "1+1", Options: []string{"1", "2"}, Answer: "2", Category: "science", Difficulty: "easy"},
		{QuestionID: "q2", Prompt: "2+2", Options: []string{"3", "4"}, Answer: "4", Category: "science", Difficulty: "easy"},
	}, nil
}
func (*stubStore) CreateMatchRecord(context.Context, domain.MatchRecord) error { return nil }
func (*stubStore) UpdateMatchProgress(context.Context, string, string, int, int) error {
	return nil
}
func (*stubStore) UpdateMatchFinish(context.Context, string, string, time.Time, int, int) error {
	return nil
}
func (*stubStore) UpdateMatchResult(context.Context, domain.MatchResult) error { return nil }
func (*stubStore) GetPlayerRatingState(context.Context, string) (domain.RatingState, error) {
	return domain.DefaultRatingState(), nil
}
func (*stubStore) SetPlayerRatingState(context.Context, string, domain.RatingState) error {
	return nil
}
func (*stubStore) GetCategorySkillState(context.Context, string) (domain.SkillState, error) {
	return domain.ZeroSkillState(), nil
}
func (*stubStore) SetCategorySkillState(context.Context, string, domain.SkillState) error {
	return nil
}

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user_id=" + userID
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	return ws
}

func send(t *testing.T, ws *websocket.Conn, eventName string, payload any) {
	t.Helper()

	b, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(map[string]json.RawMessage{
		"event": json.RawMessage(`"` + eventName + `"`),
		"data":  b,
	}))
}

// readUntil consumes notifications until one matches the wanted event name.
// Interleaved events are expected: the bus gives no cross-event ordering.
func readUntil(t *testing.T, ws *websocket.Conn, eventName string) json.RawMessage {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))

	for {
		var n struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		require.NoError(t, ws.ReadJSON(&n), "waiting for %s", eventName)

		if n.Event == eventName {
			return n.Data
		}
	}
}

func TestAPI_RejectsMissingUserID(t *testing.T) {
	e := newEnv(t, nil, "")

	resp, err := http.Get(e.srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_MatchFlow(t *testing.T) {
	e := newEnv(t, nil, "")

	alice := dial(t, e.srv, "alice")
	bob := dial(t, e.srv, "bob")

	send(t, alice, "join_queue", map[string]int{"rating": 1500})
	readUntil(t, alice, domain.EventNameQueueAcked)

	send(t, bob, "join_queue", map[string]int{"rating": 1520})

	var aliceFound, bobFound struct {
		MatchID  string `json:"match_id"`
		Opponent struct {
			UserID string `json:"user_id"`
			Rating int    `json:"rating"`
		} `json:"opponent"`
		Questions []struct {
			QuestionID string `json:"question_id"`
		} `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(readUntil(t, alice, domain.EventNameMatchFound), &aliceFound))
	require.NoError(t, json.Unmarshal(readUntil(t, bob, domain.EventNameMatchFound), &bobFound))

	assert.Equal(t, "bob", aliceFound.Opponent.UserID)
	assert.Equal(t, 1520, aliceFound.Opponent.Rating)
	assert.Equal(t, "alice", bobFound.Opponent.UserID)
	require.Equal(t, aliceFound.MatchID, bobFound.MatchID)
	assert.Len(t, aliceFound.Questions, 2)

	matchID := aliceFound.MatchID

	send(t, alice, "submit_progress", map[string]any{
		"match_id": matchID, "progress": 1, "correct_count": 1,
		"question_index": 0, "answer": "2",
	})

	var progress struct {
		MatchID      string `json:"match_id"`
		Progress     int    `json:"progress"`
		CorrectCount int    `json:"correct_count"`
	}
	require.NoError(t, json.Unmarshal(readUntil(t, bob, domain.EventNameOpponentProgress), &progress))
	assert.Equal(t, matchID, progress.MatchID)
	assert.Equal(t, 1, progress.CorrectCount)

	send(t, alice, "submit_finish", map[string]any{
		"match_id": matchID, "correct_count": 2, "total_questions": 2,
	})
	readUntil(t, bob, domain.EventNameOpponentFinished)

	send(t, bob, "submit_finish", map[string]any{
		"match_id": matchID, "correct_count": 1, "total_questions": 2,
	})

	var result struct {
		MatchID       string         `json:"match_id"`
		Result        string         `json:"result"`
		WinnerID      string         `json:"winner_id"`
		CorrectCounts map[string]int `json:"correct_counts"`
		NewRatings    map[string]int `json:"new_ratings"`
	}
	for _, ws := range []*websocket.Conn{alice, bob} {
		require.NoError(t, json.Unmarshal(readUntil(t, ws, domain.EventNameMatchResult), &result))
		assert.Equal(t, matchID, result.MatchID)
		assert.Equal(t, domain.ResultWin, result.Result)
		assert.Equal(t, "alice", result.WinnerID)
		assert.Equal(t, map[string]int{"alice": 2, "bob": 1}, result.CorrectCounts)
		assert.Greater(t, result.NewRatings["alice"], result.NewRatings["bob"])
	}
}

func TestAPI_SurrenderNotifiesOpponent(t *testing.T) {
	e := newEnv(t, nil, "")

	alice := dial(t, e.srv, "alice")
	bob := dial(t, e.srv, "bob")

	send(t, alice, "join_queue", map[string]int{"rating": 1500})
	send(t, bob, "join_queue", map[string]int{"rating": 1500})

	var found struct {
		MatchID string `json:"match_id"`
	}
	require.NoError(t, json.Unmarshal(readUntil(t, alice, domain.EventNameMatchFound), &found))
	readUntil(t, bob, domain.EventNameMatchFound)

	send(t, alice, "surrender", map[string]string{"match_id": found.MatchID})
	readUntil(t, bob, domain.EventNameOpponentSurrendered)

	var result struct {
		Result   string `json:"result"`
		WinnerID string `json:"winner_id"`
	}
	require.NoError(t, json.Unmarshal(readUntil(t, alice, domain.EventNameMatchResult), &result))
	assert.Equal(t, domain.ResultSurrender, result.Result)
	assert.Equal(t, "bob", result.WinnerID)
}

func TestAPI_UnknownEventReturnsError(t *testing.T) {
	e := newEnv(t, nil, "")

	alice := dial(t, e.srv, "alice")
	send(t, alice, "poke", map[string]string{})

	var errPayload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(readUntil(t, alice, "error"), &errPayload))
	assert.Equal(t, int(errors.CodeInvalidArgument), errPayload.Code)
	assert.Contains(t, errPayload.Message, "poke")
}

func TestAPI_ValidationErrorGoesToSenderOnly(t *testing.T) {
	e := newEnv(t, nil, "")

	alice := dial(t, e.srv, "alice")
	send(t, alice, "join_queue", map[string]int{"rating": -1})

	var errPayload struct {
		Code int `json:"code"`
	}
	require.NoError(t, json.Unmarshal(readUntil(t, alice, "error"), &errPayload))
	assert.Equal(t, int(errors.CodeInvalidArgument), errPayload.Code)
}

func TestAPI_ReconnectReplacesConnection(t *testing.T) {
	e := newEnv(t, nil, "")

	stale := dial(t, e.srv, "alice")
	fresh := dial(t, e.srv, "alice")

	require.NoError(t, stale.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := stale.ReadMessage()
	assert.Error(t, err, "the replaced connection is closed by the server")

	send(t, fresh, "join_queue", map[string]int{"rating": 1500})
	readUntil(t, fresh, domain.EventNameQueueAcked)
}

func TestAPI_DisconnectedConnectionsLeaveNoGoroutines(t *testing.T) {
	e := newEnv(t, nil, "")

	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?user_id=leaver"

	before := runtime.NumGoroutine()

	for i := 0; i < 50; i++ {
		ws, _, err := websocket.DefaultDialer.Dial(u, nil)
		require.NoError(t, err)
		require.NoError(t, ws.Close())
	}

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+3
	}, 3*time.Second, 50*time.Millisecond,
		"write pumps must end when their connection goes away, got %d goroutines over the %d baseline",
		runtime.NumGoroutine()-before, before)
}

func TestAPI_PubsubMirror(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	e := newEnv(t, client, "arena")

	ctx := context.Background()
	sub := client.Subscribe(ctx, "arena:user:alice")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	alice := dial(t, e.srv, "alice")
	send(t, alice, "join_queue", map[string]int{"rating": 1500})
	readUntil(t, alice, domain.EventNameQueueAcked)

	select {
	case msg := <-sub.Channel():
		var n struct {
			Event string `json:"event"`
			Data  struct {
				QueueSize int `json:"queue_size"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
		assert.Equal(t, domain.EventNameQueueAcked, n.Event)
		assert.Equal(t, 1, n.Data.QueueSize)
	case <-time.After(3 * time.Second):
		t.Fatal("no pubsub mirror message received")
	}
}
