package core

// error_messages.go maps technical errors to messages an administrator can act on.
//
// Each message carries a code that can be quoted to support:
//
//	IMP001 - Invalid CSV: the parser rejected the file
//	IMP002 - Cannot read header: the file has no header line
//	IMP003 - Invalid field name: a header column contains markup or control characters
//	IMP004 - Duplicate field name: two header columns have the same name
//	IMP005 - Missing field: a configured column is absent from the header
//	IMP006 - Invalid group pattern: the group transform setting does not compile
//
//	FILE001 - File too large
//	FILE002 - Encoding error: unknown or unsupported encoding
//	FILE003 - No file: the upload contained no file
//
//	SYNC001 - Busy: too many imports are running
//	SYNC002 - Row not found
//	SYNC003 - Import not found
//	SYNC004 - Invalid setting
//
//	QUE001 - Unknown command: a queued task has an unregistered kind
//
//	DB001 - Unique violation
//	DB002 - Connection refused
//	DB003 - Connection reset
//	DB004 - Timeout
//	DB005 - Deadlock
//
//	REQ001 - Request cancelled
//	REQ002 - Request timeout
//	RATE001 - Rate limited
//
//	ERR000 - Anything else

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage is a user-facing error description.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Support reference
}

var importErrorMessages = map[ImportErrorKind]UserMessage{
	CsvLoadError: {
		Message: "The file is not a valid CSV",
		Action:  "Check the delimiter and that every line has the same number of columns",
		Code:    "IMP001",
	},
	CannotReadHeader: {
		Message: "The CSV header could not be read",
		Action:  "Make sure the first line contains the column names",
		Code:    "IMP002",
	},
	InvalidFieldName: {
		Message: "A column name in the CSV is invalid",
		Action:  "Remove markup and special characters from the header line",
		Code:    "IMP003",
	},
	DuplicateFieldName: {
		Message: "A column name appears twice in the CSV",
		Action:  "Column names are compared without case; rename or remove the duplicate",
		Code:    "IMP004",
	},
	MissingField: {
		Message: "A required column is missing from the CSV",
		Action:  "Check the column names in the settings or on the import form",
		Code:    "IMP005",
	},
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

var sentinelMessages = []sentinelMessage{
	{ErrInvalidPattern, UserMessage{
		Message: "The group transform pattern is invalid",
		Action:  "Use the /pattern/flags form, for example /(A[0-9]+)\\s*gr([0-9]\\.[0-9])/i",
		Code:    "IMP006",
	}},
	{ErrTooManyImports, UserMessage{
		Message: "Too many imports are running",
		Action:  "Please wait a moment and try again",
		Code:    "SYNC001",
	}},
	{ErrRowNotFound, UserMessage{
		Message: "The import row does not exist",
		Action:  "It may have been purged; refresh the log",
		Code:    "SYNC002",
	}},
	{ErrImportNotFound, UserMessage{
		Message: "The import does not exist or has nothing left to process",
		Action:  "List unprocessed imports and pick one of those ids",
		Code:    "SYNC003",
	}},
	{ErrInvalidSetting, UserMessage{
		Message: "The setting is unknown or its value is invalid",
		Action:  "Check the setting name and value",
		Code:    "SYNC004",
	}},
	{ErrUnknownCommand, UserMessage{
		Message: "A queued task could not be understood",
		Action:  "Contact support with the task id",
		Code:    "QUE001",
	}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"file too large", UserMessage{
		Message: "The file exceeds the maximum upload size",
		Action:  "Split the export into smaller files",
		Code:    "FILE001",
	}},
	{"request body too large", UserMessage{
		Message: "The file exceeds the maximum upload size",
		Action:  "Split the export into smaller files",
		Code:    "FILE001",
	}},
	{"encoding error", UserMessage{
		Message: "The file encoding is not supported",
		Action:  "Choose utf-8, iso-8859-1 or windows-1252",
		Code:    "FILE002",
	}},
	{"no file provided", UserMessage{
		Message: "No file was uploaded",
		Action:  "Select a CSV file to import",
		Code:    "FILE003",
	}},
	{"duplicate key", UserMessage{
		Message: "A record with this key already exists",
		Action:  "Please try again",
		Code:    "DB001",
	}},
	{"violates unique", UserMessage{
		Message: "A record with this key already exists",
		Action:  "Please try again",
		Code:    "DB001",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB002",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB003",
	}},
	{"context canceled", UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "REQ001",
	}},
	{"context deadline exceeded", UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or run the import from the command line",
		Code:    "REQ002",
	}},
	{"timeout", UserMessage{
		Message: "Operation timed out",
		Action:  "Please try again later",
		Code:    "DB004",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB005",
	}},
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error into a UserMessage.
// Typed import errors and sentinels are checked before message patterns.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var ie *ImportError
	if errors.As(err, &ie) {
		if msg, ok := importErrorMessages[ie.Kind]; ok {
			if ie.Field != "" {
				msg.Message = fmt.Sprintf("%s: %s", msg.Message, ie.Field)
			}
			return msg
		}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	lower := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(lower, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
