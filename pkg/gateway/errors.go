package gateway

import (
	"errors"
	"fmt"
	"strings"

	"charchat/pkg/provider"
)

// Messages shown when the cause carries no message fit for users.
const (
	MsgSignUpFailed     = "Sign up failed"
	MsgSignInFailed     = "Sign in failed"
	MsgSignOutFailed    = "Sign out failed"
	MsgCreateUserFailed = "Failed to create user"
	MsgNoUserOnSignIn   = "Failed to sign in"

	MsgSaveCharacterFailed   = "Failed to save character"
	MsgLoadCharactersFailed  = "Failed to load characters"
	MsgDeleteCharacterFailed = "Failed to delete character"
	MsgSaveSessionFailed     = "Failed to save session"
	MsgLoadSessionsFailed    = "Failed to load sessions"
	MsgDeleteSessionFailed   = "Failed to delete session"
	MsgSaveMessageFailed     = "Failed to save message"
	MsgLoadMessagesFailed    = "Failed to load messages"
	MsgSaveSettingsFailed    = "Failed to save settings"
	MsgLoadSettingsFailed    = "Failed to load settings"
	MsgUploadAvatarFailed    = "Failed to upload avatar"
)

var (
	// ErrNoObjectStorage is returned by UploadAvatar when the gateway has no
	// object uploader.
	ErrNoObjectStorage = errors.New("object storage is not configured")

	errNoUser    = errors.New("provider returned no user")
	errAvatarKey = errors.New("avatar key needs user and character ids")
)

// Error is the failure of a gateway operation. Error returns the message to
// show to users; Unwrap returns the cause.
type Error struct {
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError keeps the message of provider-reported failures and replaces
// anything else with fallback.
func newError(op, fallback string, err error) *Error {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}
	var pErr *provider.Error
	if errors.As(err, &pErr) && strings.TrimSpace(pErr.Message) != "" {
		return &Error{Op: op, Message: pErr.Message, Err: err}
	}
	return &Error{Op: op, Message: fallback, Err: err}
}

func panicError(op, fallback string, recovered any) *Error {
	return &Error{Op: op, Message: fallback, Err: fmt.Errorf("panic: %v", recovered)}
}
