package importer

// messages.go maps internal errors onto user-facing messages with support
// codes. Parse-fatal problems get FILE codes, capacity and dispatch problems
// get IMP codes. The web layer logs the technical error and shows only the
// mapped message.

import (
	"errors"
	"strings"
)

// UserMessage is the user-visible rendering of an internal error.
type UserMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

var userMessages = []struct {
	match func(error) bool
	msg   UserMessage
}{
	{
		match: func(err error) bool { return errors.Is(err, ErrNoHeader) },
		msg: UserMessage{
			Code:    "FILE001",
			Message: "The file has no header row",
			Action:  "Export the communications log again with column headers included",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrNoRecords) },
		msg: UserMessage{
			Code:    "FILE002",
			Message: "The file contains no records",
			Action:  "Check that the export includes data rows below the header",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrFormatNotDetected) },
		msg: UserMessage{
			Code:    "FILE003",
			Message: "The file format was not recognized",
			Action:  "Retry with force import to attempt best-effort field mapping",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrTooManyImports) },
		msg: UserMessage{
			Code:    "IMP001",
			Message: "Too many imports are running right now",
			Action:  "Wait a moment and try again",
		},
	},
	{
		match: func(err error) bool { return contains(err, "timeout", "deadline exceeded") },
		msg: UserMessage{
			Code:    "IMP002",
			Message: "The operation timed out",
			Action:  "Try a smaller file or try again later",
		},
	},
}

// MapError translates an internal error into its user-facing message. Errors
// without a specific mapping fall back to a generic entry so raw internals
// never leak to clients.
func MapError(err error) UserMessage {
	for _, entry := range userMessages {
		if entry.match(err) {
			return entry.msg
		}
	}
	return UserMessage{
		Code:    "GEN001",
		Message: "Something went wrong processing the request",
		Action:  "Try again; quote the request id if the problem persists",
	}
}

func contains(err error, patterns ...string) bool {
	s := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
