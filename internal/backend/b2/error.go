package b2

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// ErrorCode identifies the kind of failure a B2 operation ran into.
type ErrorCode string

const (
	ErrorCodeAuthorizing      ErrorCode = "authorizing"
	ErrorCodeBadStatus        ErrorCode = "bad-status"
	ErrorCodeTransport        ErrorCode = "transport"
	ErrorCodeDecodingResponse ErrorCode = "decoding-response"
)

var errorCodeString = map[ErrorCode]string{
	ErrorCodeAuthorizing:      "error authorizing with b2",
	ErrorCodeBadStatus:        "b2 returned a bad status",
	ErrorCodeTransport:        "error sending request to b2",
	ErrorCodeDecodingResponse: "error decoding b2 response",
}

func (e ErrorCode) String() string {
	if msg, ok := errorCodeString[e]; ok {
		return msg
	}
	return "unknown error code"
}

// Error stores error details from a B2 backend operation.
type Error struct {
	Code       ErrorCode
	StatusCode int
	Body       string
	Err        error
}

func newError(code ErrorCode, err error) *Error {
	return &Error{Code: code, Err: errors.WithStack(err)}
}

func newStatusError(statusCode int, body string) *Error {
	return &Error{Code: ErrorCodeBadStatus, StatusCode: statusCode, Body: body}
}

func (e Error) Error() string { return e.String() }

func (e Error) String() string {
	if e.Code == ErrorCodeBadStatus {
		return fmt.Sprintf("b2: bad status %d: %s", e.StatusCode, e.Body)
	}
	var err string
	if e.Err != nil {
		err = fmt.Sprintf(". details: %s", e.Err)
	}
	return fmt.Sprintf("b2: %s%s", e.Code, err)
}

// Unauthorized reports whether the error was a 401, the one status the B2
// backend reacts to by triggering a single coalesced auth renewal (§4.5).
func (e Error) Unauthorized() bool {
	return e.Code == ErrorCodeBadStatus && e.StatusCode == http.StatusUnauthorized
}
