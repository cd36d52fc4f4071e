// Package protocol defines the JSON wire frames exchanged between the relay
// and its clients. Every frame is a JSON object with a mandatory "type"
// field; DecodeInbound is the single choke point where malformed frames are
// rejected before any state is touched.
package protocol

import (
	"encoding/json"
	"errors"
	"math"
)

// Inbound frame types (client -> server)
const (
	TypeCreateRoom    = "create_room"
	TypeReconnectHost = "reconnect_host"
	TypeRestoreRoom   = "restore_room"
	TypeJoin          = "join"
	TypeSubmitAnswer  = "submit_answer"
	TypeStartQuestion = "start_question"
	TypeSendResults   = "send_results"
	TypeTerminate     = "terminate"
)

// Outbound frame types (server -> client)
const (
	TypeRoomCreated            = "room_created"
	TypeHostReconnected        = "host_reconnected"
	TypeRoomNotFoundTryRestore = "room_not_found_try_restore"
	TypeJoined                 = "joined"
	TypePlayerJoined           = "player_joined"
	TypePlayerReconnected      = "player_reconnected"
	TypePlayerLeft             = "player_left"
	TypePlayerAnswered         = "player_answered"
	TypeQuestion               = "question"
	TypeResult                 = "result"
	TypeQuizTerminated         = "quiz_terminated"
	TypeError                  = "error"
)

var (
	// ErrMalformedFrame means the frame was not a JSON object with a string "type".
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownType means the frame parsed but carries a type the relay does not speak.
	ErrUnknownType = errors.New("unknown frame type")
)

// LaxNumber decodes any JSON value without failing the surrounding frame.
// Valid is true only when the value was a well-formed JSON number. Clients
// send hand-rolled payloads; one bad field must not invalidate fields the
// handler can still clamp or default.
type LaxNumber struct {
	Value float64
	Valid bool
}

// UnmarshalJSON never returns an error; anything that is not a finite
// number is recorded as invalid.
func (n *LaxNumber) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		n.Valid = false
		return nil
	}
	n.Value = v
	n.Valid = true
	return nil
}

// --- Inbound frames ---

type CreateRoom struct{}

type ReconnectHost struct {
	RoomID    string `json:"roomId"`
	SessionID string `json:"sessionId"`
}

// RestorePlayer is one entry of the host's client-side room snapshot.
type RestorePlayer struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Score LaxNumber `json:"score"`
}

type RestoreRoom struct {
	RoomID    string          `json:"roomId"`
	SessionID string          `json:"sessionId"`
	Players   []RestorePlayer `json:"players"`
}

type Join struct {
	RoomCode   string `json:"roomCode"`
	PlayerName string `json:"playerName"`
	SessionID  string `json:"sessionId"`
}

// SubmitAnswer keeps answerData raw: a non-array payload is dropped by the
// handler without an error frame, so it must not fail the decode.
type SubmitAnswer struct {
	AnswerData json.RawMessage `json:"answerData"`
}

type StartQuestion struct {
	Question string    `json:"question"`
	Options  []string  `json:"options"`
	Index    LaxNumber `json:"index"`
	Total    LaxNumber `json:"total"`
	Duration LaxNumber `json:"duration"`
}

type SendResults struct {
	Correct      []int                `json:"correct"`
	IsFinal      bool                 `json:"isFinal"`
	PlayerScores map[string]LaxNumber `json:"playerScores"`
	Leaderboard  []LeaderboardEntry   `json:"leaderboard"`
}

type Terminate struct{}

// --- Outbound frames ---

// PlayerInfo is the player list entry sent to hosts.
type PlayerInfo struct {
	SessionID   string  `json:"sessionId"`
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	IsConnected bool    `json:"isConnected"`
}

// LeaderboardEntry appears in result frames. Inbound entries carry a lax
// score; sanitized outbound entries always hold a finite non-negative one.
type LeaderboardEntry struct {
	Name  string    `json:"name"`
	Score LaxNumber `json:"score"`
}

// MarshalJSON emits the plain numeric score.
func (e LeaderboardEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}{Name: e.Name, Score: e.Score.Value})
}

type RoomCreated struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	SessionID string `json:"sessionId"`
}

type HostReconnected struct {
	Type       string       `json:"type"`
	RoomID     string       `json:"roomId"`
	Players    []PlayerInfo `json:"players"`
	IsRestored bool         `json:"isRestored,omitempty"`
}

type RoomNotFoundTryRestore struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	SessionID string `json:"sessionId"`
}

type Joined struct {
	Type        string  `json:"type"`
	SessionID   string  `json:"sessionId"`
	Score       float64 `json:"score"`
	PlayerName  string  `json:"playerName"`
	IsReconnect bool    `json:"isReconnect"`
}

type PlayerJoined struct {
	Type        string `json:"type"`
	SessionID   string `json:"sessionId"`
	Name        string `json:"name"`
	PlayerCount int    `json:"playerCount"`
}

type PlayerReconnected struct {
	Type        string  `json:"type"`
	SessionID   string  `json:"sessionId"`
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	PlayerCount int     `json:"playerCount"`
}

type PlayerLeft struct {
	Type        string `json:"type"`
	SessionID   string `json:"sessionId"`
	Name        string `json:"name"`
	PlayerCount int    `json:"playerCount"`
}

type PlayerAnswered struct {
	Type       string `json:"type"`
	SessionID  string `json:"sessionId"`
	Name       string `json:"name"`
	AnswerData []int  `json:"answerData"`
	AnswerTime int64  `json:"answerTime"`
	ElapsedMs  *int64 `json:"elapsedMs,omitempty"`
}

type Question struct {
	Type      string   `json:"type"`
	Question  string   `json:"question"`
	Options   []string `json:"options"`
	Index     int      `json:"index"`
	Total     int      `json:"total"`
	StartTime int64    `json:"startTime"`
	Duration  int      `json:"duration"`
}

type Result struct {
	Type          string             `json:"type"`
	Correct       []int              `json:"correct"`
	IsFinal       bool               `json:"isFinal"`
	QuestionIndex int                `json:"questionIndex"`
	Leaderboard   []LeaderboardEntry `json:"leaderboard,omitempty"`
	PlayerScore   float64            `json:"playerScore"`
}

type QuizTerminated struct {
	Type string `json:"type"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type envelope struct {
	Type string `json:"type"`
}

// DecodeInbound parses a raw frame into its typed variant. It returns
// ErrMalformedFrame for unparseable frames and ErrUnknownType for verbs the
// relay does not speak; neither touches any state.
func DecodeInbound(data []byte) (string, any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		return "", nil, ErrMalformedFrame
	}

	var msg any
	switch env.Type {
	case TypeCreateRoom:
		msg = &CreateRoom{}
	case TypeReconnectHost:
		msg = &ReconnectHost{}
	case TypeRestoreRoom:
		msg = &RestoreRoom{}
	case TypeJoin:
		msg = &Join{}
	case TypeSubmitAnswer:
		msg = &SubmitAnswer{}
	case TypeStartQuestion:
		msg = &StartQuestion{}
	case TypeSendResults:
		msg = &SendResults{}
	case TypeTerminate:
		msg = &Terminate{}
	default:
		return env.Type, nil, ErrUnknownType
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return env.Type, nil, ErrMalformedFrame
	}
	return env.Type, msg, nil
}

// Encode marshals an outbound frame. Frames are plain structs with json
// tags, so this cannot fail for the types above; a nil slice is returned
// only on programmer error.
func Encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
