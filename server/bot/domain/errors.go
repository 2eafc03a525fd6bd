package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindStorageRead   ErrorKind = "storage_read"
	KindStorageWrite  ErrorKind = "storage_write"
	KindSettingsStore ErrorKind = "settings_store"
	KindVoiceConnect  ErrorKind = "voice_connect"
	KindValidation    ErrorKind = "validation"
)

// Error is the typed failure carried across the storage and playback
// layers. Kind and Code are fixed at the failure site so callers never
// have to pattern-match free-form message text.
type Error struct {
	Kind    ErrorKind
	Op      string
	GuildID string
	Object  string
	Code    string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.GuildID != "" {
		msg += " guild=" + e.GuildID
	}
	if e.Object != "" {
		msg += " object=" + e.Object
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func E(kind ErrorKind, op, guildID, object string, err error) *Error {
	return &Error{Kind: kind, Op: op, GuildID: guildID, Object: object, Err: err}
}

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: "validate", Err: fmt.Errorf(format, args...)}
}

func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Provider error codes that map to specific operator guidance.
const (
	codeAccessDenied     = "AccessDenied"
	codeInvalidAccessKey = "InvalidAccessKeyId"
	codeSignatureBad     = "SignatureDoesNotMatch"
	codeNoSuchBucket     = "NoSuchBucket"
)

// UserMessage converts any error from the core into a message safe and
// useful to show in chat. Unknown failures get the generic fallback.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "Something went wrong. Please contact the administrator."
	}
	switch e.Kind {
	case KindValidation:
		if e.Err != nil {
			return e.Err.Error()
		}
		return "That request is not valid."
	case KindVoiceConnect:
		return "Couldn't join the voice channel. Check my permissions and try again."
	case KindSettingsStore:
		return "Server settings are temporarily unavailable. Defaults are in effect."
	case KindStorageRead, KindStorageWrite:
		switch e.Code {
		case codeAccessDenied, codeInvalidAccessKey, codeSignatureBad:
			return "Storage credentials issue. Please contact the administrator."
		case codeNoSuchBucket:
			return "Storage bucket access issue. Please contact the administrator."
		default:
			return "Storage network issue. Please try again in a moment."
		}
	default:
		return "Something went wrong. Please contact the administrator."
	}
}
