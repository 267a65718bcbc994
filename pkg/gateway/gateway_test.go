package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"charchat/pkg/provider"
)

var errNetwork = errors.New("dial tcp 127.0.0.1:54321: connect: connection refused")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fakeIdentity is a scripted IdentityProvider.
type fakeIdentity struct {
	listeners *provider.Listeners

	signUpUser    *provider.User
	signUpErr     error
	signInSession *provider.Session
	signInErr     error
	signOutErr    error
	session       *provider.Session
	sessionErr    error
	panicOn       string

	lastCreds provider.Credentials
	calls     int
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{listeners: provider.NewListeners()}
}

func (f *fakeIdentity) SignUp(_ context.Context, creds provider.Credentials) (*provider.User, *provider.Session, error) {
	f.calls++
	f.lastCreds = creds
	if f.panicOn == "SignUp" {
		panic("sign up exploded")
	}
	return f.signUpUser, nil, f.signUpErr
}

func (f *fakeIdentity) SignInWithPassword(_ context.Context, creds provider.Credentials) (*provider.Session, error) {
	f.calls++
	f.lastCreds = creds
	if f.panicOn == "SignIn" {
		panic("sign in exploded")
	}
	return f.signInSession, f.signInErr
}

func (f *fakeIdentity) SignOut(context.Context) error {
	f.calls++
	if f.panicOn == "SignOut" {
		panic("sign out exploded")
	}
	return f.signOutErr
}

func (f *fakeIdentity) GetSession(context.Context) (*provider.Session, error) {
	f.calls++
	if f.panicOn == "GetSession" {
		panic("get session exploded")
	}
	return f.session, f.sessionErr
}

func (f *fakeIdentity) OnAuthStateChange(listener provider.AuthListener) provider.Subscription {
	return f.listeners.Add(listener)
}

// failingTables fails every call the way an unreachable provider does.
type failingTables struct {
	err   error
	panic bool
	calls int
}

func (f *failingTables) fail() error {
	f.calls++
	if f.panic {
		panic("table store exploded")
	}
	return f.err
}

func (f *failingTables) Select(context.Context, string, provider.Query) ([]provider.Row, error) {
	return nil, f.fail()
}

func (f *failingTables) Insert(context.Context, string, provider.Row) error {
	return f.fail()
}

func (f *failingTables) Upsert(context.Context, string, provider.Row, string) error {
	return f.fail()
}

func (f *failingTables) Delete(context.Context, string, ...provider.Filter) error {
	return f.fail()
}
