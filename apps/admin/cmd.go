package main

import (
	"fmt"
	"io"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trezcool/edmm/core"
	"github.com/trezcool/edmm/core/auth"
	"github.com/trezcool/edmm/core/session"
	"github.com/trezcool/edmm/core/upstream"
	"github.com/trezcool/edmm/storage"
	inmemdb "github.com/trezcool/edmm/storage/database/inmem"
)

var readPasswordFunc = term.ReadPassword // mockable

type commandLine struct {
	conf   *core.Config
	stores *storage.Stores
	client upstream.Caller
	logger core.Logger
}

func newRootCmd(cli *commandLine) *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "edmm administration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(cli.newMigrateCmd())
	root.AddCommand(cli.newSessionsCmd())
	root.AddCommand(cli.newCacheCmd())
	root.AddCommand(cli.newLoginCmd())
	return root
}

func (cli *commandLine) newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if cli.stores.DB == nil {
				_, _ = fmt.Fprintln(out, "memory engine: nothing to migrate")
				return nil
			}
			// storage.Open migrates already: report what it applied
			if len(cli.stores.Applied) == 0 {
				_, _ = fmt.Fprintln(out, "no pending migrations")
				return nil
			}
			for _, name := range cli.stores.Applied {
				_, _ = fmt.Fprintf(out, "applied %s\n", name)
			}
			return nil
		},
	}
}

func (cli *commandLine) newSessionsCmd() *cobra.Command {
	sessions := &cobra.Command{Use: "sessions", Short: "Manage the stored sessions"}

	sessions.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the stored sessions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := cli.stores.Sessions.List(cmd.Context())
			if err != nil {
				return errors.Wrap(err, "listing sessions")
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				_, _ = fmt.Fprintln(out, "no sessions")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "DEVICE\tUSER\tNAME\tUPDATED")
			for _, s := range list {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\n",
					s.DeviceID, s.UserID, s.FirstName, s.LastName, s.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	})

	sessions.AddCommand(&cobra.Command{
		Use:   "delete <device-id>",
		Short: "Delete the session of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := cli.stores.Sessions.Get(cmd.Context(), args[0]); err != nil {
				if errors.Cause(err) == session.ErrNotFound {
					return errors.Errorf("no session for device %q", args[0])
				}
				return errors.Wrap(err, "loading session")
			}
			if err := cli.stores.Sessions.Delete(cmd.Context(), args[0]); err != nil {
				return errors.Wrap(err, "deleting session")
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted session of %s\n", args[0])
			return nil
		},
	})
	return sessions
}

func (cli *commandLine) newCacheCmd() *cobra.Command {
	c := &cobra.Command{Use: "cache", Short: "Manage the domain cache"}
	c.AddCommand(&cobra.Command{
		Use:   "purge <user-id>",
		Short: "Drop every cached payload of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.stores.Cache.Purge(cmd.Context(), args[0]); err != nil {
				return errors.Wrap(err, "purging cache")
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "purged cache of user %s\n", args[0])
			return nil
		},
	})
	return c
}

func (cli *commandLine) newLoginCmd() *cobra.Command {
	var identifier string
	login := &cobra.Command{
		Use:   "login --identifier <identifier>",
		Short: "Check credentials against the school server; the password is prompted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			identifier = core.CleanString(identifier)
			if identifier == "" {
				return errors.New("--identifier is required")
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprint(out, "Enter password:")
			pwd, err := readPasswordFunc(int(syscall.Stdin))
			_, _ = fmt.Fprintln(out)
			if err != nil {
				return errors.Wrap(err, "reading password")
			}
			if len(pwd) == 0 {
				return errors.New("empty password")
			}
			return cli.probeLogin(cmd, auth.Credentials{Identifier: identifier, Secret: string(pwd)})
		},
	}
	login.Flags().StringVar(&identifier, "identifier", "", "EcoleDirecte identifier")
	return login
}

// probeLogin runs the login handshake without persisting anything.
func (cli *commandLine) probeLogin(cmd *cobra.Command, creds auth.Credentials) error {
	pending := auth.NewMemoryPendingStore(cli.conf.ChallengeTTL)
	defer pending.Close()
	sessions := session.NewStore(inmemdb.NewSessionRepository(inmemdb.Open()), cli.logger, 0)
	engine := auth.NewEngine(cli.client, pending, auth.NewMemoryCredentialStore(), sessions, cli.logger, cli.conf.Upstream.LoginTimeout)

	res, err := engine.Login(cmd.Context(), uuid.NewString(), creds)
	if err != nil {
		return errors.Wrap(err, "logging in")
	}
	printResult(cmd.OutOrStdout(), res)
	if !res.Success && !res.NeedsDoubleAuth {
		return errors.New("login failed")
	}
	return nil
}

func printResult(out io.Writer, res auth.Result) {
	_, _ = fmt.Fprintf(out, "state: %s\n", res.State)
	switch {
	case res.Success:
		_, _ = fmt.Fprintf(out, "user: %s (%s %s)\n", res.UserID, res.FirstName, res.LastName)
	case res.NeedsDoubleAuth:
		_, _ = fmt.Fprintf(out, "question: %s\n", res.Challenge.QuestionText)
		for _, o := range res.Challenge.Options {
			_, _ = fmt.Fprintf(out, "  - %s\n", o.DisplayText)
		}
	default:
		_, _ = fmt.Fprintf(out, "message: %s\n", res.Message)
	}
}
