package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"tycoon/internal/auth"
	cl "tycoon/internal/cli"
	"tycoon/internal/config"
	"tycoon/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "tyc",
		Short:        "Tycoon investment client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newTokenCmd(cfg),
		newCatalogCmd(&apiBase),
		newStatusCmd(&apiBase),
		newBuyCmd(&apiBase),
		newCollectCmd(&apiBase),
		newRepairCmd(&apiBase),
		newRespondCmd(&apiBase),
		newEventsCmd(&apiBase),
		newEmergenciesCmd(&apiBase),
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

func requireSession() (cl.Session, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("login required: %w", err)
	}
	return sess, nil
}

func newLoginCmd(apiBase *string) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a bearer token for later commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(token) == "" {
				var err error
				token, err = promptRequired("Token")
				if err != nil {
					return err
				}
			}
			sess, err := cl.NewSession(token)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			view, err := newClient(apiBase).Status(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			if view.OwnerID != sess.OwnerID {
				return fmt.Errorf("server resolved owner %q, token names %q", view.OwnerID, sess.OwnerID)
			}
			if err := cl.SaveSession(sess); err != nil {
				return err
			}
			msg := fmt.Sprintf("Logged in as %s.", sess.OwnerID)
			if !sess.ExpiresAt.IsZero() {
				msg = fmt.Sprintf("Logged in as %s until %s.", sess.OwnerID, sess.ExpiresAt.Local().Format(time.DateTime))
			}
			printSuccess(msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "bearer token")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newTokenCmd(cfg config.CLIConfig) *cobra.Command {
	var (
		owner string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an owner token from TYCOON_JWT_SECRET (development)",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := auth.NewSigner(cfg.JWTSecret)
			if err != nil {
				return fmt.Errorf("TYCOON_JWT_SECRET: %w", err)
			}
			if strings.TrimSpace(owner) == "" {
				owner = uuid.NewString()
			}
			tok, err := signer.Issue(owner, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (random when empty)")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}

func newCatalogCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List purchasable investments",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			entries, err := newClient(apiBase).Catalog(ctx)
			if err != nil {
				return err
			}
			renderCatalog(entries)
			return nil
		},
	}
}

func newStatusCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show your investments and wallet",
		Aliases: []string{"dash"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			view, err := newClient(apiBase).Status(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			renderStatus(view)
			return nil
		},
	}
}

func newBuyCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "buy <type>",
		Short:   "Buy an investment, or reopen a shut down one at half price",
		Aliases: []string{"purchase"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Purchase(ctx, sess.AccessToken, args[0], idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{Op: "purchase", TypeID: args[0], IdempotencyKey: idem})
			}
			verb := "Bought"
			if out.Reopened {
				verb = "Reopened"
			}
			printSuccess(fmt.Sprintf("%s %s for %s coins.", verb, out.Investment.TypeID, comma(out.Charged)))
			return nil
		},
	}
}

func newCollectCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "collect <type>",
		Short: "Move accrued income into your wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Collect(ctx, sess.AccessToken, args[0], idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{Op: "collect", TypeID: args[0], IdempotencyKey: idem})
			}
			printSuccess(fmt.Sprintf("Collected %s coins from %s.", comma(out.Collected), out.Investment.TypeID))
			return nil
		},
	}
}

func newRepairCmd(apiBase *string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "repair <type>",
		Short: "Restore condition to 100% (allowed at 50% or below)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			quote, err := client.RepairQuote(ctx, sess.AccessToken, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Condition %.1f%%, repair costs %s coins.\n", quote.Condition, comma(quote.Cost))
			if !yes {
				ok, err := promptConfirm("Proceed")
				if err != nil {
					return err
				}
				if !ok {
					printInfo("Repair cancelled.")
					return nil
				}
			}
			idem := uuid.NewString()
			out, err := client.Repair(ctx, sess.AccessToken, args[0], quote.Cost, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{Op: "repair", TypeID: args[0], MaxCost: quote.Cost, IdempotencyKey: idem})
			}
			printSuccess(fmt.Sprintf("Repaired %s for %s coins.", out.Investment.TypeID, comma(out.Charged)))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func newRespondCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "respond <type> <quick|standard|basic|ignore>",
		Short: "Answer a pending emergency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).RespondToEmergency(ctx, sess.AccessToken, args[0], args[1], idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{Op: "emergency", TypeID: args[0], Tier: args[1], IdempotencyKey: idem})
			}
			if out.Charged == 0 {
				printWarn(fmt.Sprintf("Emergency at %s ignored.", out.Investment.TypeID))
				return nil
			}
			printSuccess(fmt.Sprintf("%s response paid for %s: %s coins.", out.Tier, out.Investment.TypeID, comma(out.Charged)))
			return nil
		},
	}
}

func newEventsCmd(apiBase *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events <type>",
		Short: "Show recent events for an investment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Events(ctx, sess.AccessToken, args[0], limit)
			if err != nil {
				return err
			}
			return renderEvents(out)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of events")
	return cmd
}

func newEmergenciesCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "emergencies",
		Short: "List pending emergency decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			list, err := newClient(apiBase).Emergencies(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			renderEmergencies(list)
			return nil
		},
	}
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay locally queued offline writes",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			results, err := newClient(apiBase).SyncReplay(ctx, sess.AccessToken, queue)
			if err != nil {
				return err
			}
			byKey := make(map[string]cl.ReplayResult, len(results))
			for _, r := range results {
				byKey[r.IdempotencyKey] = r
			}

			remaining := make([]syncq.Command, 0, len(queue))
			success, applied := 0, 0
			for _, q := range queue {
				r, ok := byKey[q.IdempotencyKey]
				switch {
				case !ok || r.Status >= http.StatusInternalServerError:
					remaining = append(remaining, q)
				case r.OK:
					success++
				case r.Duplicate:
					applied++
				default:
					printError(fmt.Sprintf("Dropped %s %s: %s", q.Op, q.TypeID, r.Error))
				}
			}
			if err := syncq.Save(remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d already_applied=%d remaining=%d", success, applied, len(remaining)))
			return nil
		},
	}
}

// queueOnNetworkError keeps a write for `tyc sync` when the server could
// not be reached. Server refusals are returned as they are.
func queueOnNetworkError(err error, cmd syncq.Command) error {
	if err == nil || cl.IsAPIError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if qerr := syncq.Push(cmd); qerr != nil {
		return fmt.Errorf("request failed and could not be queued: %w", errors.Join(err, qerr))
	}
	printWarn(fmt.Sprintf("Server unreachable, queued %s %s. Run `tyc sync` later.", cmd.Op, cmd.TypeID))
	return nil
}
