package state

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode identifies the kind of failure a Store operation ran into.
type ErrorCode string

const (
	// ErrorCodeOpeningFile the backing file for a key could not be opened.
	ErrorCodeOpeningFile ErrorCode = "opening-file"

	// ErrorCodeWritingFile the backing file for a key could not be written
	// durably.
	ErrorCodeWritingFile ErrorCode = "writing-file"

	// ErrorCodeDecodingSession the session document exists but is malformed.
	ErrorCodeDecodingSession ErrorCode = "decoding-session"

	// ErrorCodeLocked another process already holds the working directory
	// lock.
	ErrorCodeLocked ErrorCode = "locked"
)

var errorCodeString = map[ErrorCode]string{
	ErrorCodeOpeningFile:     "error opening working directory file",
	ErrorCodeWritingFile:     "error writing working directory file",
	ErrorCodeDecodingSession: "error decoding session document",
	ErrorCodeLocked:          "working directory already locked by another run",
}

// String translates the error code to a human readable text.
func (e ErrorCode) String() string {
	if msg, ok := errorCodeString[e]; ok {
		return msg
	}
	return "unknown error code"
}

// Error stores error details from a State Store operation.
type Error struct {
	Key  string
	Code ErrorCode
	Err  error
}

func newError(key string, code ErrorCode, err error) *Error {
	return &Error{Key: key, Code: code, Err: errors.WithStack(err)}
}

// Error returns the error in a human readable format.
func (e Error) Error() string { return e.String() }

// String translates the error to a human readable text.
func (e Error) String() string {
	var key string
	if e.Key != "" {
		key = fmt.Sprintf("key %q, ", e.Key)
	}

	var err string
	if e.Err != nil {
		err = fmt.Sprintf(". details: %s", e.Err)
	}

	return fmt.Sprintf("state: %s%s%s", key, e.Code, err)
}
