// Package authform holds the sign-in / sign-up form as a value-typed state
// machine. Reduce is pure; the caller performs the submission when the form
// enters PhaseSubmitting and feeds the outcome back as an action.
package authform

import (
	"strings"
	"unicode/utf8"

	"charchat/pkg/auth"
)

const (
	MsgFillAllFields     = "Please fill in all fields"
	MsgPasswordsMismatch = "Passwords do not match"
	MsgPasswordTooShort  = "Password must be at least 6 characters"
)

type Mode int

const (
	ModeSignIn Mode = iota
	ModeSignUp
)

func (m Mode) String() string {
	if m == ModeSignUp {
		return "sign-up"
	}
	return "sign-in"
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubmitting
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseSubmitting:
		return "submitting"
	case PhaseError:
		return "error"
	default:
		return "idle"
	}
}

type Field int

const (
	FieldEmail Field = iota
	FieldPassword
	FieldConfirmPassword
)

// State is the whole form. The zero value is an empty sign-in form.
type State struct {
	Mode            Mode
	Email           string
	Password        string
	ConfirmPassword string
	Phase           Phase
	Error           string
}

// Action is one of SetField, ToggleMode, Submit, Succeeded or Failed.
type Action interface {
	apply(State) State
}

type SetField struct {
	Field Field
	Value string
}

// ToggleMode switches between sign-in and sign-up and clears the error.
type ToggleMode struct{}

// Submit validates the form. A valid form moves to PhaseSubmitting; an
// invalid one moves to PhaseError without any submission.
type Submit struct{}

// Succeeded resets the form after the gateway accepted the credentials.
type Succeeded struct{}

// Failed records the gateway's error message.
type Failed struct {
	Message string
}

// Reduce returns the state after applying action.
func Reduce(s State, action Action) State {
	if action == nil {
		return s
	}
	return action.apply(s)
}

func (a SetField) apply(s State) State {
	if s.Phase == PhaseSubmitting {
		return s
	}
	switch a.Field {
	case FieldEmail:
		s.Email = a.Value
	case FieldPassword:
		s.Password = a.Value
	case FieldConfirmPassword:
		s.ConfirmPassword = a.Value
	}
	return s
}

func (ToggleMode) apply(s State) State {
	if s.Phase == PhaseSubmitting {
		return s
	}
	if s.Mode == ModeSignUp {
		s.Mode = ModeSignIn
	} else {
		s.Mode = ModeSignUp
	}
	s.Phase = PhaseIdle
	s.Error = ""
	return s
}

func (Submit) apply(s State) State {
	if s.Phase == PhaseSubmitting {
		return s
	}
	if msg := Validate(s); msg != "" {
		s.Phase = PhaseError
		s.Error = msg
		return s
	}
	s.Phase = PhaseSubmitting
	s.Error = ""
	return s
}

func (Succeeded) apply(s State) State {
	if s.Phase != PhaseSubmitting {
		return s
	}
	return State{}
}

func (a Failed) apply(s State) State {
	if s.Phase != PhaseSubmitting {
		return s
	}
	s.Phase = PhaseError
	s.Error = a.Message
	return s
}

// Validate returns the first local validation message, or "" when the form
// may be submitted. Sign-in only requires non-empty fields.
func Validate(s State) string {
	if strings.TrimSpace(s.Email) == "" || strings.TrimSpace(s.Password) == "" {
		return MsgFillAllFields
	}
	if s.Mode != ModeSignUp {
		return ""
	}
	if strings.TrimSpace(s.ConfirmPassword) == "" {
		return MsgFillAllFields
	}
	if s.Password != s.ConfirmPassword {
		return MsgPasswordsMismatch
	}
	if utf8.RuneCountInString(s.Password) < auth.MinPasswordLength {
		return MsgPasswordTooShort
	}
	return ""
}
