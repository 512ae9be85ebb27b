// Command absencectl administers an absences database from the shell.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"absences/internal/config"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

var errUsage = errors.New("usage")

const usage = `usage: absencectl <command> [flags]

commands:
  create-account <email>   create an account, prompting for its password
  send-recovery <email>    send a password recovery email
  list-accounts            list accounts, newest first
  schema-version           print the database schema version
`

// ctl holds a run's IO so tests can drive it without a terminal.
type ctl struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	lookup config.Lookup
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	c := &ctl{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr, lookup: os.LookupEnv}
	if err := c.run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "absencectl: %v\n", err)
		os.Exit(1)
	}
}

func (c *ctl) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "create-account":
		return c.createAccount(ctx, args[1:])
	case "send-recovery":
		return c.sendRecovery(ctx, args[1:])
	case "list-accounts":
		return c.listAccounts(ctx, args[1:])
	case "schema-version":
		return c.schemaVersion(ctx, args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(c.stdout, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
}

// commonFlags are accepted by every command and forwarded to config.Load.
type commonFlags struct {
	configPath string
	dbPath     string
}

func (f *commonFlags) bind(set *pflag.FlagSet) {
	set.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	set.StringVar(&f.dbPath, "db", "", "path to the SQLite database")
}

func (f *commonFlags) load(lookup config.Lookup) (config.Config, error) {
	var args []string
	if f.configPath != "" {
		args = append(args, "--config", f.configPath)
	}
	if f.dbPath != "" {
		args = append(args, "--db", f.dbPath)
	}
	return config.Load(args, lookup)
}

// parse parses a command's flags and returns its single positional argument.
func parse(set *pflag.FlagSet, args []string, positional string) (string, error) {
	set.SetOutput(io.Discard)
	if err := set.Parse(args); err != nil {
		return "", fmt.Errorf("%s: %v: %w", set.Name(), err, errUsage)
	}
	rest := set.Args()
	if positional == "" {
		if len(rest) != 0 {
			return "", fmt.Errorf("%s: unexpected argument %q: %w", set.Name(), rest[0], errUsage)
		}
		return "", nil
	}
	if len(rest) != 1 {
		return "", fmt.Errorf("%s: exactly one %s is required: %w", set.Name(), positional, errUsage)
	}
	return strings.TrimSpace(rest[0]), nil
}
