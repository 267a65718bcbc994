package cli

import (
	"context"
	"errors"
	"fmt"

	"charchat/pkg/domain"
	"charchat/services/studio/internal/authform"
)

type formField struct {
	field authform.Field
	value *string
	label string
}

func (a *App) signUp(ctx context.Context, args []string) error {
	return a.submitForm(ctx, authform.ModeSignUp, args)
}

func (a *App) signIn(ctx context.Context, args []string) error {
	return a.submitForm(ctx, authform.ModeSignIn, args)
}

// submitForm fills the auth form from flags or prompts and submits it once.
// Validation failures never reach the gateway.
func (a *App) submitForm(ctx context.Context, mode authform.Mode, args []string) error {
	fs := a.newFlagSet(mode.String())
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	confirm := fs.String("confirm", "", "repeat the password (sign-up only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	state := authform.State{}
	if mode == authform.ModeSignUp {
		state = authform.Reduce(state, authform.ToggleMode{})
	}
	fields := []formField{
		{authform.FieldEmail, email, "Email"},
		{authform.FieldPassword, password, "Password"},
	}
	if mode == authform.ModeSignUp {
		fields = append(fields, formField{authform.FieldConfirmPassword, confirm, "Confirm Password"})
	}
	for _, f := range fields {
		value := *f.value
		if value == "" {
			var err error
			if value, err = a.prompt(f.label); err != nil {
				return err
			}
		}
		state = authform.Reduce(state, authform.SetField{Field: f.field, Value: value})
	}

	state = authform.Reduce(state, authform.Submit{})
	if state.Phase == authform.PhaseError {
		return errors.New(state.Error)
	}

	var (
		user *domain.AuthUser
		err  error
	)
	if mode == authform.ModeSignUp {
		user, err = a.Auth.SignUp(ctx, state.Email, state.Password)
	} else {
		user, err = a.Auth.SignIn(ctx, state.Email, state.Password)
	}
	if err != nil {
		state = authform.Reduce(state, authform.Failed{Message: err.Error()})
		return errors.New(state.Error)
	}
	fmt.Fprintf(a.Err, "Signed in as %s\n", user.Email)
	return a.printJSON(user)
}

func (a *App) signOut(ctx context.Context, args []string) error {
	if err := wantArgs("signout", args, 0); err != nil {
		return err
	}
	if err := a.Auth.SignOut(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.Err, "Signed out")
	return nil
}

func (a *App) account(ctx context.Context, args []string) error {
	if err := wantArgs("account", args, 0); err != nil {
		return err
	}
	user, err := a.requireUser(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(user)
}
