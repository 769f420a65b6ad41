package domain

import "time"

const (
	EventNameQueueAcked           = "queue.acked"
	EventNameQueueTimeout         = "queue.timeout"
	EventNamePlayersPaired        = "queue.paired"
	EventNameMatchFound           = "match.found"
	EventNameOpponentProgress     = "match.opponent_progress"
	EventNameOpponentFinished     = "match.opponent_finished"
	EventNameOpponentSurrendered  = "match.opponent_surrendered"
	EventNameOpponentDisconnected = "match.opponent_disconnected"
	EventNameMatchResult          = "match.result"
)

// EventQueueAcked confirms a join-queue request to the requesting player.
type EventQueueAcked struct {
	UserID    string
	QueueSize int
}

func (EventQueueAcked) Name() string { return EventNameQueueAcked }

// EventQueueTimeout tells a player the queue gave up finding an opponent.
type EventQueueTimeout struct {
	UserID string
}

func (EventQueueTimeout) Name() string { return EventNameQueueTimeout }

// EventPlayersPaired is internal: the queue removed both entries atomically,
// reserved a session for them, and hands the pair to the orchestrator to
// activate it. MatchID is the reserved session; it is empty only when the
// queue runs without a session gate.
type EventPlayersPaired struct {
	MatchID string
	PlayerA WaitingPlayer
	PlayerB WaitingPlayer
}

func (EventPlayersPaired) Name() string { return EventNamePlayersPaired }

type EventMatchFound struct {
	UserID    string // recipient
	MatchID   string
	Opponent  Player
	Questions []Question
}

func (EventMatchFound) Name() string { return EventNameMatchFound }

type EventOpponentProgress struct {
	UserID       string // recipient
	MatchID      string
	Progress     int
	CorrectCount int
}

func (EventOpponentProgress) Name() string { return EventNameOpponentProgress }

type EventOpponentFinished struct {
	UserID         string // recipient
	MatchID        string
	CorrectCount   int
	TotalQuestions int
	FinishedAt     time.Time
}

func (EventOpponentFinished) Name() string { return EventNameOpponentFinished }

type EventOpponentSurrendered struct {
	UserID  string // recipient
	MatchID string
}

func (EventOpponentSurrendered) Name() string { return EventNameOpponentSurrendered }

type EventOpponentDisconnected struct {
	UserID  string // recipient
	MatchID string
}

func (EventOpponentDisconnected) Name() string { return EventNameOpponentDisconnected }

// EventMatchResult is delivered to both participants of a finalized match.
type EventMatchResult struct {
	Recipients [2]string
	Result     MatchResult
}

func (EventMatchResult) Name() string { return EventNameMatchResult }
