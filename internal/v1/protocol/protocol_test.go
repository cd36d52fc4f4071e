package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound_CreateRoom(t *testing.T) {
	typ, msg, err := DecodeInbound([]byte(`{"type":"create_room"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeCreateRoom, typ)
	assert.IsType(t, &CreateRoom{}, msg)
}

func TestDecodeInbound_Join(t *testing.T) {
	typ, msg, err := DecodeInbound([]byte(`{"type":"join","roomCode":"ab12","playerName":"Eve","sessionId":"sess-x"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeJoin, typ)

	join := msg.(*Join)
	assert.Equal(t, "ab12", join.RoomCode)
	assert.Equal(t, "Eve", join.PlayerName)
	assert.Equal(t, "sess-x", join.SessionID)
}

func TestDecodeInbound_MalformedJSON(t *testing.T) {
	_, _, err := DecodeInbound([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeInbound_MissingType(t *testing.T) {
	_, _, err := DecodeInbound([]byte(`{"roomCode":"AB12"}`))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeInbound_UnknownType(t *testing.T) {
	typ, msg, err := DecodeInbound([]byte(`{"type":"drop_tables"}`))
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Equal(t, "drop_tables", typ)
	assert.Nil(t, msg)
}

func TestDecodeInbound_SubmitAnswerKeepsRawPayload(t *testing.T) {
	// A non-array answerData must survive decoding; the handler drops it.
	typ, msg, err := DecodeInbound([]byte(`{"type":"submit_answer","answerData":"not-an-array"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeSubmitAnswer, typ)

	submit := msg.(*SubmitAnswer)
	var indices []int
	assert.Error(t, json.Unmarshal(submit.AnswerData, &indices))
}

func TestDecodeInbound_StartQuestionLaxFields(t *testing.T) {
	raw := `{"type":"start_question","question":"Q?","options":["a","b"],"index":2,"total":10,"duration":"soon"}`
	_, msg, err := DecodeInbound([]byte(raw))
	require.NoError(t, err)

	sq := msg.(*StartQuestion)
	assert.True(t, sq.Index.Valid)
	assert.Equal(t, float64(2), sq.Index.Value)
	assert.True(t, sq.Total.Valid)
	assert.False(t, sq.Duration.Valid, "non-numeric duration must decode as invalid, not fail the frame")
}

func TestLaxNumber(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		valid bool
		value float64
	}{
		{"integer", `42`, true, 42},
		{"float", `4.5`, true, 4.5},
		{"string", `"42"`, false, 0},
		{"null", `null`, false, 0},
		{"object", `{}`, false, 0},
		{"array", `[]`, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n LaxNumber
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &n))
			assert.Equal(t, tt.valid, n.Valid)
			assert.Equal(t, tt.value, n.Value)
		})
	}
}

func TestSendResults_Decode(t *testing.T) {
	raw := `{"type":"send_results","correct":[1,3],"isFinal":true,
		"playerScores":{"sess-a":100,"sess-b":"cheat"},
		"leaderboard":[{"name":"Ana","score":100}]}`
	_, msg, err := DecodeInbound([]byte(raw))
	require.NoError(t, err)

	sr := msg.(*SendResults)
	assert.Equal(t, []int{1, 3}, sr.Correct)
	assert.True(t, sr.IsFinal)
	assert.True(t, sr.PlayerScores["sess-a"].Valid)
	assert.False(t, sr.PlayerScores["sess-b"].Valid)
	require.Len(t, sr.Leaderboard, 1)
	assert.Equal(t, "Ana", sr.Leaderboard[0].Name)
}

func TestEncode_Question(t *testing.T) {
	q := Question{
		Type:      TypeQuestion,
		Question:  "Hauptstadt?",
		Options:   []string{"Berlin", "Bonn"},
		Index:     0,
		Total:     5,
		StartTime: 1700000000000,
		Duration:  20,
	}
	data := Encode(q)
	require.NotNil(t, data)

	var round map[string]any
	require.NoError(t, json.Unmarshal(data, &round))
	assert.Equal(t, "question", round["type"])
	assert.Equal(t, float64(1700000000000), round["startTime"])
}

func TestEncode_PlayerAnsweredOmitsElapsedWithoutQuestion(t *testing.T) {
	pa := PlayerAnswered{
		Type:       TypePlayerAnswered,
		SessionID:  "sess-x",
		Name:       "Eve",
		AnswerData: []int{1, 3},
		AnswerTime: 1700000004200,
	}
	data := Encode(pa)

	var round map[string]any
	require.NoError(t, json.Unmarshal(data, &round))
	_, hasElapsed := round["elapsedMs"]
	assert.False(t, hasElapsed)
}

func TestLeaderboardEntry_MarshalPlainScore(t *testing.T) {
	e := LeaderboardEntry{Name: "Ana", Score: LaxNumber{Value: 12, Valid: true}}
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ana","score":12}`, string(data))
}

func TestNewError(t *testing.T) {
	frame := NewError(ErrKindRateLimited)
	assert.Equal(t, TypeError, frame.Type)
	assert.Contains(t, frame.Message, "Zu viele Nachrichten")

	frame = NewError(ErrKindRoomNotFound)
	assert.Equal(t, "Raum nicht gefunden.", frame.Message)
}

func TestHostReconnected_OmitsIsRestoredWhenFalse(t *testing.T) {
	data := Encode(HostReconnected{Type: TypeHostReconnected, RoomID: "AB12", Players: []PlayerInfo{}})

	var round map[string]any
	require.NoError(t, json.Unmarshal(data, &round))
	_, has := round["isRestored"]
	assert.False(t, has)
}
