package relay

// Error codes surfaced to clients and used as metric labels.
const (
	CodeInvalidMessage   = "INVALID_MESSAGE"
	CodeUnknownRecipient = "UNKNOWN_RECIPIENT"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeNotConnected     = "NOT_CONNECTED"
)

// Error maps application-level validation failures to error frames. Non-fatal
// errors leave the connection open; fatal ones close it after a single error
// frame. No Error is ever fatal to the server process.
type Error struct {
	Code    string
	Message string
	Fatal   bool
}

func (e *Error) Error() string {
	return e.Message
}

func errInvalidMessage(msg string) *Error {
	return &Error{Code: CodeInvalidMessage, Message: msg}
}

func errUnknownRecipient(msg string) *Error {
	return &Error{Code: CodeUnknownRecipient, Message: msg}
}

func errUnauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Message: msg}
}

func errNotConnected(msg string) *Error {
	return &Error{Code: CodeNotConnected, Message: msg, Fatal: true}
}
