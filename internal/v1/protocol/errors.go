package protocol

// ErrorKind enumerates the recoverable protocol errors surfaced to clients.
type ErrorKind int

const (
	ErrKindRoomNotFound ErrorKind = iota
	ErrKindInvalidSession
	ErrKindRoomFull
	ErrKindRoomNotActive
	ErrKindPlayerNotFound
	ErrKindRestoreRateLimited
	ErrKindMalformedFrame
	ErrKindRateLimited
	ErrKindAlreadyHostingRoom
)

// User-facing texts. The clients display these verbatim.
var errorMessages = map[ErrorKind]string{
	ErrKindRoomNotFound:       "Raum nicht gefunden.",
	ErrKindInvalidSession:     "Ungültige Sitzung.",
	ErrKindRoomFull:           "Der Raum ist voll.",
	ErrKindRoomNotActive:      "Der Raum ist nicht mehr aktiv.",
	ErrKindPlayerNotFound:     "Spieler nicht gefunden.",
	ErrKindRestoreRateLimited: "Zu viele Wiederherstellungsversuche. Bitte kurz warten.",
	ErrKindMalformedFrame:     "Ungültige Nachricht.",
	ErrKindRateLimited:        "Zu viele Nachrichten. Bitte langsamer senden.",
	ErrKindAlreadyHostingRoom: "Diese Verbindung hat bereits einen Raum erstellt.",
}

// Message returns the user-facing text for the kind.
func (k ErrorKind) Message() string {
	return errorMessages[k]
}

// NewError builds the error frame for the kind.
func NewError(kind ErrorKind) ErrorFrame {
	return ErrorFrame{Type: TypeError, Message: kind.Message()}
}
