// Package cli implements the studio command line: account commands driven by
// the auth form, and JSON data commands over the data gateway.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"charchat/internal/util"
	"charchat/pkg/domain"
	"charchat/pkg/gateway"
)

const usage = `usage: studio <command> [args]

account commands:
  signup [-email e] [-password p] [-confirm p]
  signin [-email e] [-password p]
  signout
  account

data commands (print JSON):
  characters list | save <file> | delete <id>
  avatar <characterID> <image>
  sessions list <characterID> | save <characterID> <file> | delete <id>
  messages list <sessionID> | send <sessionID> <user|model> <text>
  settings get | set <file>

<file> may be "-" for stdin.`

var errNotSignedIn = errors.New("Not signed in")

// App runs one studio command.
type App struct {
	Auth *gateway.AuthGateway
	Data *gateway.DataGateway
	In   io.Reader
	Out  io.Writer
	Err  io.Writer
	// Now stamps new messages; NewID names new characters, sessions and
	// messages.
	Now   func() time.Time
	NewID func() string

	input *bufio.Reader
}

type command func(ctx context.Context, args []string) error

// Run executes args and returns the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	if a.Now == nil {
		a.Now = time.Now
	}
	if a.NewID == nil {
		a.NewID = util.NewID
	}
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprintln(a.Err, usage)
		if len(args) == 0 {
			return 2
		}
		return 0
	}
	commands := map[string]command{
		"signup":     a.signUp,
		"signin":     a.signIn,
		"signout":    a.signOut,
		"account":    a.account,
		"characters": a.characters,
		"avatar":     a.avatar,
		"sessions":   a.sessions,
		"messages":   a.messages,
		"settings":   a.settings,
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(a.Err, "unknown command %q\n\n%s\n", args[0], usage)
		return 2
	}
	if err := cmd(ctx, args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(a.Err, err)
		return 1
	}
	return 0
}

func (a *App) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.Err)
	return fs
}

func (a *App) requireUser(ctx context.Context) (*domain.AuthUser, error) {
	user := a.Auth.CurrentUser(ctx)
	if user == nil {
		return nil, errNotSignedIn
	}
	return user, nil
}

// prompt reads one line from In after printing label to Err.
func (a *App) prompt(label string) (string, error) {
	if a.input == nil {
		a.input = bufio.NewReader(a.In)
	}
	fmt.Fprintf(a.Err, "%s: ", label)
	line, err := a.input.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readJSON decodes path, or stdin when path is "-", into v.
func (a *App) readJSON(path string, v any) error {
	var r io.Reader
	if path == "-" {
		r = a.In
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func wantArgs(name string, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s: expected %d argument(s), got %d", name, n, len(args))
	}
	return nil
}
