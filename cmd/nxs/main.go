package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "nexus/internal/cli"
	"nexus/internal/config"
	"nexus/internal/syncq"

	"github.com/spf13/cobra"
)

func main() {
	_ = config.LoadDotEnv()
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "nxs",
		Short:        "NEXUS realm client: raids, the throne and the royal treasury",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "realm API base URL")

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newKingdomCmd(&apiBase),
		newDoctrineCmd(&apiBase),
		newTaxCmd(&apiBase),
		newKnightsCmd(&apiBase),
		newRaidCmd(&apiBase),
		newSyncCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

// withSession runs fn with a valid access token, refreshing it once when it
// has expired or the API rejects it.
func withSession(cmd *cobra.Command, apiBase *string, fn func(ctx context.Context, client *cl.Client, token string) error) error {
	sess, err := cl.LoadSession()
	if err != nil {
		return err
	}
	client := newClient(apiBase)
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	if sess.Expired(time.Now()) {
		if sess, err = refreshSession(ctx, client, sess); err != nil {
			return err
		}
	}
	err = fn(ctx, client, sess.AccessToken)
	if !cl.IsUnauthorized(err) || sess.RefreshToken == "" {
		return err
	}
	if sess, err = refreshSession(ctx, client, sess); err != nil {
		return err
	}
	return fn(ctx, client, sess.AccessToken)
}

func refreshSession(ctx context.Context, client *cl.Client, sess cl.Session) (cl.Session, error) {
	if sess.RefreshToken == "" {
		return sess, fmt.Errorf("session expired, run `nxs login`")
	}
	out, err := client.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		return sess, fmt.Errorf("refresh session: %w", err)
	}
	next := cl.SessionFrom(out, time.Now())
	if next.Email == "" {
		next.Email = sess.Email
	}
	if next.UserID == "" {
		next.UserID = sess.UserID
	}
	if err := cl.SaveSession(next); err != nil {
		return sess, err
	}
	return next, nil
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create a NEXUS account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			username, err := promptOptional("Display name (optional)")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Signup(ctx, email, password, username)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Account created. Verify your email, then run `nxs login`.")
				return nil
			}
			if err := cl.SaveSession(cl.SessionFrom(session, time.Now())); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in to NEXUS",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.SessionFrom(session, time.Now())); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newKingdomCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "kingdom",
		Short:   "Show the throne, the treasury and the active doctrines",
		Aliases: []string{"throne"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, token string) error {
				k, err := client.KingdomState(ctx, token)
				if err != nil {
					return err
				}
				renderKingdom(k)
				return nil
			})
		},
	}
}

func newDoctrineCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctrine [category] [doctrine]",
		Short: "Change a kingdom doctrine (king only)",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, token string) error {
				category, doctrine := argOr(args, 0), argOr(args, 1)
				if category == "" || doctrine == "" {
					k, err := client.KingdomState(ctx, token)
					if err != nil {
						return err
					}
					if category == "" {
						if category, err = promptChoice("Category", catalogCategories(k.DoctrineCatalog), "military"); err != nil {
							return err
						}
					}
					if doctrine == "" {
						options := k.DoctrineCatalog[category]
						if len(options) == 0 {
							return fmt.Errorf("unknown doctrine category %q", category)
						}
						if doctrine, err = promptChoice("Doctrine", options, options[0]); err != nil {
							return err
						}
					}
				}
				res, err := client.SetDoctrine(ctx, token, category, doctrine)
				if err != nil {
					return err
				}
				renderDoctrineResult(res, category, doctrine)
				return nil
			})
		},
	}
}

func newTaxCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tax [amount]",
		Short: "Pay royal coins into the kingdom treasury",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := int64FromArgOrPrompt(args, 0, "Tax amount")
			if err != nil {
				return err
			}
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, token string) error {
				res, err := client.AddTax(ctx, token, amount)
				if err != nil {
					return queueOnNetworkError(err, syncq.Command{
						Action:  "addTaxToKingdomTreasury",
						Payload: map[string]any{"taxAmount": amount},
					})
				}
				printSuccess(fmt.Sprintf("Paid %s coins. Treasury now holds %s.", coins(amount), coins(res.RoyalTreasuryBalance)))
				return nil
			})
		},
	}
}

func newKnightsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "knights",
		Short: "List your knights and pocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, token string) error {
				roster, err := client.Knights(ctx, token)
				if err != nil {
					return err
				}
				renderRoster(roster)
				return nil
			})
		},
	}
}

func newRaidCmd(apiBase *string) *cobra.Command {
	raid := &cobra.Command{
		Use:   "raid",
		Short: "Raid other castles",
	}
	raid.AddCommand(&cobra.Command{
		Use:   "targets",
		Short: "List castles within raiding range",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, token string) error {
				targets, err := client.RaidTargets(ctx, token)
				if err != nil {
					return err
				}
				renderTargets(targets)
				return nil
			})
		},
	})

	var knightFlag []string
	launch := &cobra.Command{
		Use:   "launch [defender_id]",
		Short: "Send a raiding party against a castle",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, token string) error {
				defender := argOr(args, 0)
				if defender == "" {
					var err error
					if defender, err = promptRequired("Defender id"); err != nil {
						return err
					}
				}
				knights := knightFlag
				if len(knights) == 0 {
					roster, err := client.Knights(ctx, token)
					if err != nil {
						return err
					}
					if knights, err = pickKnights(roster); err != nil {
						return err
					}
				}
				res, err := client.LaunchRaid(ctx, token, defender, knights)
				if err != nil {
					return err
				}
				renderRaidResult(res)
				return nil
			})
		},
	}
	launch.Flags().StringSliceVarP(&knightFlag, "knights", "k", nil, "knight ids to send (skips the picker)")
	raid.AddCommand(launch)

	raid.AddCommand(&cobra.Command{
		Use:   "history",
		Short: "Recent raids you took part in",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, token string) error {
				history, err := client.RaidHistory(ctx, token)
				if err != nil {
					return err
				}
				sess, _ := cl.LoadSession()
				renderHistory(history, sess.UserID)
				return nil
			})
		},
	})
	raid.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Your raid record, ratings and timers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, token string) error {
				st, err := client.RaidStats(ctx, token)
				if err != nil {
					return err
				}
				renderRaidStats(st)
				return nil
			})
		},
	})
	return raid
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay writes queued while the realm was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, token string) error {
				results, remaining := syncq.Replay(ctx, client, token, queue)
				replayed := 0
				for _, r := range results {
					switch {
					case r.Err == nil:
						replayed++
					case syncq.Unreachable(r.Err):
						printWarn(fmt.Sprintf("Realm still unreachable: %v", r.Err))
					default:
						printError(fmt.Sprintf("%s rejected: %v", r.Command.Action, r.Err))
					}
				}
				if err := syncq.Save(remaining); err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", replayed, len(remaining)))
				return nil
			})
		},
	}
}

func queueOnNetworkError(err error, q syncq.Command) error {
	if err == nil {
		return nil
	}
	if !syncq.Unreachable(err) {
		return err
	}
	if qerr := syncq.Push(q); qerr != nil {
		return errors.Join(err, fmt.Errorf("queue offline write: %w", qerr))
	}
	printWarn("Realm unreachable. Queued for `nxs sync`.")
	return nil
}

func argOr(args []string, idx int) string {
	if len(args) > idx {
		return strings.TrimSpace(args[idx])
	}
	return ""
}

func int64FromArgOrPrompt(args []string, idx int, label string) (int64, error) {
	if len(args) > idx {
		v, err := strconv.ParseInt(strings.TrimSpace(args[idx]), 10, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid %s", strings.ToLower(label))
		}
		return v, nil
	}
	return promptInt64(label, 1)
}
