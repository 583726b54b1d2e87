package errs

import "fmt"

// Error classes. A class code is the parent of every concrete code below it.
const (
	AuthError       = 1000
	AccessError     = 1100
	ProtocolError   = 1200
	ValidationError = 1300
	StorageError    = 1400
	SessionError    = 1500

	MissingCredential = 1001
	InvalidCredential = 1002

	NotAParticipant = 1101

	MalformedFrame    = 1201
	UnrecognizedFrame = 1202

	EmptyContent = 1301

	StorageFailure = 1401

	SessionClosed = 1501
	SlowConsumer  = 1502

	ServerInternalError = 5000
)

var (
	ErrAuth       = NewCodeError(AuthError, "Authentication failed")
	ErrAccess     = NewCodeError(AccessError, "Access denied")
	ErrProtocol   = NewCodeError(ProtocolError, "Protocol error")
	ErrValidation = NewCodeError(ValidationError, "Validation failed")
	ErrStorage    = NewCodeError(StorageError, "An error occurred")

	ErrMissingCredential = NewCodeError(MissingCredential, "Missing credential")
	ErrInvalidCredential = NewCodeError(InvalidCredential, "Invalid or expired credential")
	ErrNotAParticipant   = NewCodeError(NotAParticipant, "Not a participant of this room")
	ErrMalformedFrame    = NewCodeError(MalformedFrame, "Invalid JSON format")
	ErrUnrecognizedFrame = NewCodeError(UnrecognizedFrame, "Unrecognized frame type")
	ErrEmptyContent      = NewCodeError(EmptyContent, "Message cannot be empty")
	ErrStorageFailure    = NewCodeError(StorageFailure, "An error occurred")
	ErrSessionClosed     = NewCodeError(SessionClosed, "Session closed")
	ErrSlowConsumer      = NewCodeError(SlowConsumer, "Send queue overflow")
)

func init() {
	for _, pair := range [][2]int{
		{AuthError, MissingCredential},
		{AuthError, InvalidCredential},
		{AccessError, NotAParticipant},
		{ProtocolError, MalformedFrame},
		{ProtocolError, UnrecognizedFrame},
		{ValidationError, EmptyContent},
		{StorageError, StorageFailure},
		{SessionError, SessionClosed},
		{SessionError, SlowConsumer},
	} {
		if err := DefaultCodeRelation.Add(pair[0], pair[1]); err != nil {
			panic(err)
		}
	}
}

// PublicMessage is the text a client sees for err. Anything that is not a
// CodeError collapses into the generic storage message.
func PublicMessage(err error) string {
	if ce, ok := CodeOf(err); ok && ce.Msg != "" {
		return ce.Msg
	}
	return ErrStorageFailure.Msg
}

func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	return NewCodeError(ServerInternalError, "panic").WrapMsg(fmt.Sprint(r))
}
