package glacier

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode identifies the kind of failure a Glacier operation ran into.
type ErrorCode string

const (
	// ErrorCodeInitializingSession error resolving credentials/endpoint.
	ErrorCodeInitializingSession ErrorCode = "initializing-session"

	// ErrorCodeBadStatus the service answered with a non-2xx status.
	ErrorCodeBadStatus ErrorCode = "bad-status"

	// ErrorCodeSigning error signing the request with SigV4.
	ErrorCodeSigning ErrorCode = "signing"

	// ErrorCodeTransport a network-level failure sending the request.
	ErrorCodeTransport ErrorCode = "transport"

	// ErrorCodeChecksumMismatch the server-echoed tree hash didn't match the
	// one computed locally.
	ErrorCodeChecksumMismatch ErrorCode = "checksum-mismatch"

	// ErrorCodeDecodingResponse the response couldn't be parsed.
	ErrorCodeDecodingResponse ErrorCode = "decoding-response"
)

var errorCodeString = map[ErrorCode]string{
	ErrorCodeInitializingSession: "error initializing glacier session",
	ErrorCodeBadStatus:           "glacier returned a bad status",
	ErrorCodeSigning:             "error signing request",
	ErrorCodeTransport:           "error sending request to glacier",
	ErrorCodeChecksumMismatch:    "local checksum differs from glacier's",
	ErrorCodeDecodingResponse:    "error decoding glacier response",
}

func (e ErrorCode) String() string {
	if msg, ok := errorCodeString[e]; ok {
		return msg
	}
	return "unknown error code"
}

// Error stores error details from a Glacier backend operation. A bad-status
// error carries the HTTP status code and response body so callers can
// distinguish transient (5xx/429) from permanent (4xx) failures.
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

// Error returns the error in a human readable format.
func (e Error) Error() string { return e.String() }

// String translates the error to a human readable text.
func (e Error) String() string {
	if e.Code == ErrorCodeBadStatus {
		return fmt.Sprintf("glacier: bad status %d: %s", e.StatusCode, e.Body)
	}

	var err string
	if e.Err != nil {
		err = fmt.Sprintf(". details: %s", e.Err)
	}
	return fmt.Sprintf("glacier: %s%s", e.Code, err)
}

// Temporary reports whether the error is worth retrying: timeouts and
// server-side failures are, malformed requests and auth failures aren't.
func (e Error) Temporary() bool {
	switch e.Code {
	case ErrorCodeTransport, ErrorCodeChecksumMismatch:
		return true
	case ErrorCodeBadStatus:
		return e.StatusCode >= 500 || e.StatusCode == 429
	default:
		return false
	}
}
