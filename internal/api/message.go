package api

import "encoding/json"

// Inbound event names form a closed set; anything else is rejected back to
// the sender.
const (
	msgJoinQueue      = "join_queue"
	msgCancelQueue    = "cancel_queue"
	msgSubmitProgress = "submit_progress"
	msgSubmitFinish   = "submit_finish"
	msgSurrender      = "surrender"
)

type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinQueuePayload struct {
	Rating int `json:"rating"`
}

type progressPayload struct {
	MatchID       string `json:"match_id"`
	Progress      int    `json:"progress"`
	CorrectCount  int    `json:"correct_count"`
	QuestionIndex int    `json:"question_index"`
	Answer        string `json:"answer"`
}

type finishPayload struct {
	MatchID        string `json:"match_id"`
	CorrectCount   int    `json:"correct_count"`
	TotalQuestions int    `json:"total_questions"`
}

type surrenderPayload struct {
	MatchID string `json:"match_id"`
}

// Notification is the outbound envelope, shared by the websocket and the
// pubsub channel.
type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type errorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type queueAckedPayload struct {
	QueueSize int `json:"queue_size"`
}

type opponentPayload struct {
	UserID string `json:"user_id"`
	Rating int    `json:"rating"`
}

type questionPayload struct {
	QuestionID string   `json:"question_id"`
	Prompt     string   `json:"prompt"`
	Options    []string `json:"options"`
	Answer     string   `json:"answer"`
	Category   string   `json:"category"`
	Difficulty string   `json:"difficulty"`
}

type matchFoundPayload struct {
	MatchID   string            `json:"match_id"`
	Opponent  opponentPayload   `json:"opponent"`
	Questions []questionPayload `json:"questions"`
}

type opponentProgressPayload struct {
	MatchID      string `json:"match_id"`
	Progress     int    `json:"progress"`
	CorrectCount int    `json:"correct_count"`
}

type opponentFinishedPayload struct {
	MatchID        string `json:"match_id"`
	CorrectCount   int    `json:"correct_count"`
	TotalQuestions int    `json:"total_questions"`
}

type matchRefPayload struct {
	MatchID string `json:"match_id"`
}

type matchResultPayload struct {
	MatchID       string         `json:"match_id"`
	Result        string         `json:"result"`
	WinnerID      string         `json:"winner_id"`
	CorrectCounts map[string]int `json:"correct_counts"`
	NewRatings    map[string]int `json:"new_ratings,omitempty"`
	RatingDeltas  map[string]int `json:"rating_deltas,omitempty"`
}
