// Command digestctl manages users and inspects dispatch runs.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/willemschots/stockdigest/internal/app"
	"github.com/willemschots/stockdigest/internal/auth"
	"github.com/willemschots/stockdigest/internal/config"
	"github.com/willemschots/stockdigest/internal/email"
	"github.com/willemschots/stockdigest/internal/runlog"
	"github.com/willemschots/stockdigest/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// cli holds what the commands share. The config is read before any
// command runs, the database is only opened by commands that need it.
type cli struct {
	cfg    config.Config
	logger *slog.Logger
	auth   *auth.Service
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	var verbose bool

	root := &cobra.Command{
		Use:           "digestctl",
		Short:         "Manage digest users and inspect dispatch runs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			c.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			err := config.LoadDotenv()
			if err != nil {
				return err
			}

			c.cfg, err = config.FromEnv()
			if err != nil {
				return fmt.Errorf("failed to get config from environment: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage a single user",
	}

	userCmd.AddCommand(
		&cobra.Command{
			Use:   "register <username> <email>",
			Short: "Register a user, the password is read from stdin",
			Args:  cobra.ExactArgs(2),
			RunE: c.withAuth(func(cmd *cobra.Command, args []string) error {
				var (
					r   auth.Registration
					err error
				)

				r.Username, err = auth.ParseUsername(args[0])
				if err != nil {
					return err
				}

				r.Email, err = email.ParseAddress(args[1])
				if err != nil {
					return err
				}

				r.Password, err = readPassword(cmd)
				if err != nil {
					return err
				}

				id, err := c.auth.Register(cmd.Context(), r)
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s)\n", r.Username, id)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "login <username|email>",
			Short: "Check credentials, the password is read from stdin",
			Args:  cobra.ExactArgs(1),
			RunE: c.withAuth(func(cmd *cobra.Command, args []string) error {
				pwd, err := readPassword(cmd)
				if err != nil {
					return err
				}

				sess, err := c.auth.Login(cmd.Context(), args[0], pwd)
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s)\n", sess.Username, sess.UserID)

				if c.cfg.Session.Key.IsZero() {
					return nil
				}

				token, err := session.NewIssuer(c.cfg.Session.Key, c.cfg.Session.TTL).Issue(sess)
				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "show <username|email>",
			Short: "Print a user as JSON",
			Args:  cobra.ExactArgs(1),
			RunE: c.withAuth(func(cmd *cobra.Command, args []string) error {
				u, err := c.auth.Lookup(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), newUserView(u))
			}),
		},
		c.toggleCmd("subscribe", "Sign a user up for the newsletter", func(ctx context.Context, u auth.User) error {
			return c.auth.SetNewsletter(ctx, u.ID, true)
		}),
		c.toggleCmd("unsubscribe", "Remove a user from the newsletter", func(ctx context.Context, u auth.User) error {
			return c.auth.SetNewsletter(ctx, u.ID, false)
		}),
		c.toggleCmd("activate", "Activate a user", func(ctx context.Context, u auth.User) error {
			return c.auth.SetActive(ctx, u.ID, true)
		}),
		c.toggleCmd("deactivate", "Deactivate a user, they can't log in or receive the digest", func(ctx context.Context, u auth.User) error {
			return c.auth.SetActive(ctx, u.ID, false)
		}),
	)

	favoritesCmd := &cobra.Command{
		Use:   "favorites",
		Short: "Manage the favorite symbols of a user",
	}
	favoritesCmd.AddCommand(&cobra.Command{
		Use:   "set <username|email> <symbols>",
		Short: `Replace the favorites with a comma separated list such as "aapl,msft"`,
		Args:  cobra.ExactArgs(2),
		RunE: c.withAuth(func(cmd *cobra.Command, args []string) error {
			favs, err := auth.ParseFavorites(args[1])
			if err != nil {
				return err
			}

			u, err := c.auth.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			err = c.auth.SetFavorites(cmd.Context(), u.ID, favs)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s follows %s\n", u.Username, formatSymbols(favs))
			return nil
		}),
	})

	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage the profile data of a user",
	}
	profileCmd.AddCommand(&cobra.Command{
		Use:   "set <username|email> <json>",
		Short: "Replace the profile data with a JSON object",
		Args:  cobra.ExactArgs(2),
		RunE: c.withAuth(func(cmd *cobra.Command, args []string) error {
			u, err := c.auth.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return c.auth.SetProfileData(cmd.Context(), u.ID, json.RawMessage(args[1]))
		}),
	})

	userCmd.AddCommand(favoritesCmd, profileCmd)

	subscribersCmd := &cobra.Command{
		Use:   "subscribers",
		Short: "List the users that receive the next digest",
		Args:  cobra.NoArgs,
		RunE: c.withAuth(func(cmd *cobra.Command, args []string) error {
			subs, err := c.auth.ListDispatchEligible(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tUSERNAME\tEMAIL\tSYMBOLS")
			for _, s := range subs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.UserID, s.Username, s.Email, formatSymbols(s.Symbols))
			}
			return tw.Flush()
		}),
	}

	var (
		runsLimit int
		runsJSON  bool
	)
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent dispatch runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runsLimit < 0 {
				return errors.New("--limit can't be negative")
			}

			runs, err := runlog.ReadFile(cmd.Context(), c.cfg.RunLog, runsLimit)
			if err != nil {
				return err
			}

			if runsJSON {
				return printJSON(cmd.OutOrStdout(), runs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tMANUAL\tTOTAL\tSENT\tFAILED\tSKIPPED\tDURATION")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%d\t%d\t%d\t%s\n",
					r.ID, r.StartedAt.Format(time.RFC3339), r.Manual,
					r.Summary.Total, r.Summary.Sent, r.Summary.Failed(), r.Summary.Skipped,
					r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond),
				)
			}
			return tw.Flush()
		},
	}
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs, 0 lists all")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "print the runs with all outcomes as JSON")

	root.AddCommand(userCmd, subscribersCmd, runsCmd)

	return root
}

// withAuth opens the database for the duration of f.
func (c *cli) withAuth(f func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		pools, err := app.OpenDB(cmd.Context(), c.cfg.DB, c.logger)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, pools.Close())
		}()

		c.auth, err = app.NewAuthService(pools, c.cfg.DB, c.logger)
		if err != nil {
			return err
		}

		return f(cmd, args)
	}
}

func (c *cli) toggleCmd(use, short string, f func(ctx context.Context, u auth.User) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <username|email>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: c.withAuth(func(cmd *cobra.Command, args []string) error {
			u, err := c.auth.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			err = f(cmd.Context(), u)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", use, u.Username)
			return nil
		}),
	}
}

// readPassword reads the first line of stdin.
func readPassword(cmd *cobra.Command) (auth.Password, error) {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return auth.Password{}, fmt.Errorf("failed to read password: %w", err)
	}

	return auth.ParsePassword(strings.TrimRight(line, "\r\n"))
}

type userView struct {
	ID                    string          `json:"id"`
	Username              auth.Username   `json:"username"`
	Email                 string          `json:"email"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
	LastLogin             *time.Time      `json:"lastLogin"`
	IsActive              bool            `json:"isActive"`
	SignedUpForNewsletter bool            `json:"signedUpForNewsletter"`
	FavStocks             []string        `json:"favStocks"`
	ProfileData           json.RawMessage `json:"profileData"`
}

// newUserView leaves out the password hash.
func newUserView(u auth.User) userView {
	return userView{
		ID:                    u.ID.String(),
		Username:              u.Username,
		Email:                 u.Email.String(),
		CreatedAt:             u.CreatedAt,
		UpdatedAt:             u.UpdatedAt,
		LastLogin:             u.LastLogin,
		IsActive:              u.IsActive,
		SignedUpForNewsletter: u.SignedUpForNewsletter,
		FavStocks:             u.FavStocks.Strings(),
		ProfileData:           u.ProfileData,
	}
}

func formatSymbols(favs auth.Favorites) string {
	if len(favs) == 0 {
		return "-"
	}
	return strings.Join(favs.Strings(), ",")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
