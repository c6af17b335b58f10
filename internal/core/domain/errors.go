package domain

import "errors"

var (
	ErrInvalidConversationID  = errors.New("invalid conversation id")
	ErrConversationNotFound   = errors.New("conversation not found")
	ErrConversationNotGroup   = errors.New("conversation is not a group")
	ErrConversationIsGroup    = errors.New("conversation is a group")
	ErrInvalidUserID          = errors.New("invalid user id")
	ErrUserNotFound           = errors.New("user not found")
	ErrDirectoryNotFound      = errors.New("directory not found")
	ErrParticipantNotFound    = errors.New("participant not found")
	ErrEmptyMessage           = errors.New("message needs text or an image")
	ErrEmptyGroupName         = errors.New("group name is required")
	ErrNotEnoughMembers       = errors.New("a group needs at least 2 participants")
	ErrNotGroupAdmin          = errors.New("only the group admin can do this")
	ErrCannotRemoveAdmin      = errors.New("the admin cannot be removed from the group")
	ErrSendBlocked            = errors.New("messaging is blocked in this conversation")
	ErrSelfConversation       = errors.New("cannot start a conversation with yourself")
	ErrUsernameRequired       = errors.New("username is required")
	ErrUsernameTaken          = errors.New("username already exists")
	ErrInvalidProfile         = errors.New("invalid profile")
	ErrAccountExists          = errors.New("account already exists")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrNotSignedIn            = errors.New("no signed in user")
	ErrEmptyUpload            = errors.New("upload is empty")
	ErrUploadTooLarge         = errors.New("upload exceeds size limit")
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrStorageDisabled        = errors.New("blob storage is disabled")
	ErrSessionClosed          = errors.New("session is closed")
)

// ErrorKind classifies failures at component boundaries.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindPermission    ErrorKind = "permission"
	KindTransient     ErrorKind = "transient"
	KindUpload        ErrorKind = "upload"
	KindPartialFanOut ErrorKind = "partial_fan_out"
)

// Error is a classified failure returned by the core components.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return e.Op + ": " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(op string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

func Permission(op string, err error) error {
	return &Error{Kind: KindPermission, Op: op, Err: err}
}

func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

func Upload(op string, err error) error {
	return &Error{Kind: KindUpload, Op: op, Err: err}
}

func PartialFanOut(op string, err error) error {
	return &Error{Kind: KindPartialFanOut, Op: op, Err: err}
}

// KindOf returns the classification of err, or "" if it has none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsPermission(err error) bool { return KindOf(err) == KindPermission }
func IsTransient(err error) bool  { return KindOf(err) == KindTransient }
func IsUpload(err error) bool     { return KindOf(err) == KindUpload }
