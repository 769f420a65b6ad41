package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/quizduel/arena/internal/arena"
	"github.com/quizduel/arena/internal/errors"
	"github.com/quizduel/arena/internal/event"
	"github.com/quizduel/arena/internal/match"
)

const writeTimeout = 10 * time.Second

type Config struct {
	Engine   *gin.Engine
	EventBus *event.Bus
	Arena    *arena.Service

	Redis        Redis
	PubsubPrefix string
}

// API is the websocket transport surface: it decodes inbound messages into
// orchestrator calls and fans outbound bus events back to clients.
type API struct {
	arena *arena.Service
	hub   *Hub
}

func New(c Config) *API {
	a := &API{
		arena: c.Arena,
		hub:   NewHub(),
	}

	c.Engine.GET("/ws", a.serveWS)

	newNotifier(c.EventBus, a.hub, c.Redis, c.PubsubPrefix)

	return a
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Connection authentication lives upstream; the origin check follows.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (a *API) serveWS(gc *gin.Context) {
	userID := gc.Query("user_id")
	if userID == "" {
		e := errors.New(errors.CodeInvalidArgument, errors.WithMessagef("user_id is required"))
		gc.JSON(e.HTTPStatusCode(), gin.H{"error": e.Message})
		return
	}

	ws, err := upgrader.Upgrade(gc.Writer, gc.Request, nil)
	if err != nil {
		return
	}

	c := &conn{
		userID: userID,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
	}

	a.hub.add(c)
	go c.writePump()
	a.readLoop(gc.Request.Context(), c)
}

func (a *API) readLoop(ctx context.Context, c *conn) {
	// removeIfSame closes the conn (send channel and socket) unless a
	// reconnect already replaced and closed it.
	defer func() {
		a.hub.removeIfSame(c)
		a.arena.Disconnect(context.WithoutCancel(ctx), c.userID)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		if err := a.dispatch(ctx, c, data); err != nil {
			a.sendError(c, err)
		}
	}
}

// dispatch routes one inbound message by its event name. The user identity
// is the connection's, never the payload's.
func (a *API) dispatch(ctx context.Context, c *conn, data []byte) error {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed message"), errors.WithCause(err))
	}

	switch msg.Event {
	case msgJoinQueue:
		var p joinQueuePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed %s payload", msg.Event), errors.WithCause(err))
		}
		return a.arena.JoinQueue(ctx, c.userID, p.Rating)

	case msgCancelQueue:
		return a.arena.CancelQueue(ctx, c.userID)

	case msgSubmitProgress:
		var p progressPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed %s payload", msg.Event), errors.WithCause(err))
		}
		return a.arena.SubmitProgress(ctx, match.ProgressReport{
			MatchID:       p.MatchID,
			UserID:        c.userID,
			Progress:      p.Progress,
			CorrectCount:  p.CorrectCount,
			QuestionIndex: p.QuestionIndex,
			Answer:        p.Answer,
		})

	case msgSubmitFinish:
		var p finishPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed %s payload", msg.Event), errors.WithCause(err))
		}
		return a.arena.SubmitFinish(ctx, match.FinishReport{
			MatchID:        p.MatchID,
			UserID:         c.userID,
			CorrectCount:   p.CorrectCount,
			TotalQuestions: p.TotalQuestions,
		})

	case msgSurrender:
		var p surrenderPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed %s payload", msg.Event), errors.WithCause(err))
		}
		return a.arena.Surrender(ctx, match.SurrenderReport{
			MatchID: p.MatchID,
			UserID:  c.userID,
		})
	}

	return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown event %q", msg.Event))
}

// sendError notifies the originating client only.
func (a *API) sendError(c *conn, err error) {
	e := errors.Convert(err)

	b, mErr := json.Marshal(Notification{
		Event: "error",
		Data:  errorPayload{Code: int(e.Code), Message: e.Message},
	})
	if mErr != nil {
		return
	}

	a.hub.Send(c.userID, b)
}

func (c *conn) writePump() {
	for b := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}
