package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	emailPkg "absences/internal/adapters/email"
	idp "absences/internal/adapters/identity"
	"absences/internal/adapters/storage"
	accountStore "absences/internal/adapters/storage/account"
	tokenStore "absences/internal/adapters/storage/authtoken"
	sessionStore "absences/internal/adapters/storage/devicesession"
	"absences/internal/application/orchestrators"
	"absences/internal/config"
	"absences/internal/domain/account"
	"absences/internal/domain/identity"
)

var errSigningKeyRequired = errors.New("send-recovery needs the server's signing key (ABSENCES_SIGNING_KEY); a generated key would mint links the server rejects")

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.MigrateDB(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func (c *ctl) createAccount(ctx context.Context, args []string) error {
	var common commonFlags
	var role, passwordFile string
	set := pflag.NewFlagSet("create-account", pflag.ContinueOnError)
	common.bind(set)
	set.StringVar(&role, "role", account.RoleTeacher, "account role: admin or teacher")
	set.StringVar(&passwordFile, "password-file", "", "file holding the password, or - for stdin (default: prompt)")
	addr, err := parse(set, args, "email")
	if err != nil {
		return err
	}
	cfg, err := common.load(c.lookup)
	if err != nil {
		return err
	}

	password, err := c.password(passwordFile, cfg.Auth.MinPasswordLength)
	if err != nil {
		return err
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := orchestrators.ExecuteCreateAccount(ctx, orchestrators.CreateAccountInput{
		Email:    addr,
		Password: password,
		Role:     role,
	}, orchestrators.CreateAccountDeps{AccountStore: accountStore.NewSQLiteStore(db)})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "created %s account %s for %s\n", role, id, account.NormalizeEmail(addr))
	return nil
}

// password reads the new account's password from a file, from stdin, or
// from a confirmed terminal prompt.
func (c *ctl) password(source string, minLength int) (string, error) {
	switch source {
	case "":
		f, ok := c.stdin.(*os.File)
		if !ok || !term.IsTerminal(int(f.Fd())) {
			return c.password("-", minLength)
		}
		fmt.Fprint(c.stderr, "Password: ")
		first, err := readPassword(int(f.Fd()))
		fmt.Fprintln(c.stderr)
		if err != nil {
			return "", err
		}
		fmt.Fprint(c.stderr, "Confirm password: ")
		second, err := readPassword(int(f.Fd()))
		fmt.Fprintln(c.stderr)
		if err != nil {
			return "", err
		}
		if err := account.ValidateNewPassword(string(first), string(second), minLength); err != nil {
			return "", err
		}
		return string(first), nil
	case "-":
		line, err := bufio.NewReader(c.stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read password from stdin: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	default:
		data, err := os.ReadFile(source)
		if err != nil {
			return "", fmt.Errorf("read password file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
}

func (c *ctl) sendRecovery(ctx context.Context, args []string) error {
	var common commonFlags
	var redirectTo string
	set := pflag.NewFlagSet("send-recovery", pflag.ContinueOnError)
	common.bind(set)
	set.StringVar(&redirectTo, "redirect-to", "", "where the link returns the user (default: the site URL)")
	addr, err := parse(set, args, "email")
	if err != nil {
		return err
	}
	cfg, err := common.load(c.lookup)
	if err != nil {
		return err
	}
	key, generated, err := cfg.SigningKeyBytes()
	if err != nil {
		return err
	}
	if generated {
		return errSigningKeyRequired
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var sender emailPkg.Sender
	noop := emailPkg.NewNoopSender()
	if cfg.Email.ResendKey != "" {
		sender = emailPkg.NewResendSender(cfg.Email.ResendKey, cfg.Email.From, cfg.Email.ReplyTo)
	} else {
		sender = noop
	}

	server, err := idp.NewServer(idp.Config{
		SiteURL:           cfg.SiteURL,
		Mode:              identity.DeliveryMode(cfg.Auth.DeliveryMode),
		SigningKey:        key,
		RecoveryTokenTTL:  cfg.Auth.RecoveryTokenTTL,
		ResetInterval:     cfg.Auth.ResetInterval,
		MinPasswordLength: cfg.Auth.MinPasswordLength,
		AllowedRedirects:  cfg.Auth.AllowedRedirects,
	}, idp.Deps{
		Accounts: accountStore.NewSQLiteStore(db),
		Tokens:   tokenStore.NewSQLiteStore(db),
		Sessions: sessionStore.NewSQLiteStore(db),
		Sender:   sender,
	})
	if err != nil {
		return err
	}

	if err := server.RequestPasswordReset(ctx, addr, identity.RedirectOptions{RedirectTo: redirectTo}); err != nil {
		return err
	}

	// Without a mail provider the email is printed so an operator can pass
	// the link on by hand.
	for _, req := range noop.Sent() {
		fmt.Fprintln(c.stdout, req.Text)
	}
	if sender != noop {
		fmt.Fprintf(c.stdout, "recovery email requested for %s\n", account.NormalizeEmail(addr))
	}
	return nil
}

func (c *ctl) listAccounts(ctx context.Context, args []string) error {
	var common commonFlags
	var role string
	var limit, offset int
	set := pflag.NewFlagSet("list-accounts", pflag.ContinueOnError)
	common.bind(set)
	set.StringVar(&role, "role", "", "only list accounts with this role")
	set.IntVar(&limit, "limit", 50, "maximum accounts to list")
	set.IntVar(&offset, "offset", 0, "accounts to skip")
	if _, err := parse(set, args, ""); err != nil {
		return err
	}
	cfg, err := common.load(c.lookup)
	if err != nil {
		return err
	}
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	accounts, err := accountStore.NewSQLiteStore(db).List(ctx, accountStore.ListFilter{
		Limit:  limit,
		Offset: offset,
		Role:   role,
	})
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EMAIL\tROLE\tCREATED\tLOCKED")
	now := time.Now()
	for _, a := range accounts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", a.Email, a.Role, a.CreatedAt.UTC().Format(time.DateOnly), a.IsLocked(now))
	}
	return w.Flush()
}

func (c *ctl) schemaVersion(ctx context.Context, args []string) error {
	var common commonFlags
	set := pflag.NewFlagSet("schema-version", pflag.ContinueOnError)
	common.bind(set)
	if _, err := parse(set, args, ""); err != nil {
		return err
	}
	cfg, err := common.load(c.lookup)
	if err != nil {
		return err
	}
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	v, err := storage.SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, v)
	return nil
}
