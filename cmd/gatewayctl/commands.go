package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/boddenberg/pj-gateway-go/internal/domain"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	url     string
	tenant  string
	token   string
	timeout time.Duration
	json    bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "gatewayctl",
		Short:         "Query balances, statements and send transfers through the gateway",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&g.url, "url", envOr("GATEWAY_URL", "http://localhost:8080"), "Gateway base URL")
	rootCmd.PersistentFlags().StringVarP(&g.tenant, "tenant", "t", os.Getenv("GATEWAY_TENANT"), "Tenant id")
	rootCmd.PersistentFlags().StringVar(&g.token, "auth-token", os.Getenv("GATEWAY_TOKEN"), "Bearer token for tenant routes")
	rootCmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 40*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVarP(&g.json, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(accountsCmd(g))
	rootCmd.AddCommand(balanceCmd(g))
	rootCmd.AddCommand(statementCmd(g))
	rootCmd.AddCommand(transferCmd(g))
	rootCmd.AddCommand(overviewCmd(g))

	return rootCmd
}

func (g *globalFlags) client() (*apiClient, error) {
	if g.tenant == "" {
		return nil, errors.New("--tenant is required (or set GATEWAY_TENANT)")
	}
	return &apiClient{
		baseURL: g.url,
		tenant:  g.tenant,
		token:   g.token,
		http:    &http.Client{Timeout: g.timeout},
	}, nil
}

func (g *globalFlags) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), g.timeout)
}

func accountsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List the tenant's accounts and their capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()

			accounts, err := c.accounts(ctx)
			if err != nil {
				return err
			}
			if g.json {
				return printJSON(cmd.OutOrStdout(), accounts)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tLABEL\tPROVIDER\tENV\tCAPABILITIES")
			for _, a := range accounts {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%v\n", a.ID, a.Label, a.Provider, a.Environment, a.Capabilities.List())
			}
			return tw.Flush()
		},
	}
}

func balanceCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [account-id]",
		Short: "Fetch a fresh balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()

			snap, err := c.balance(ctx, args[0])
			if err != nil {
				return err
			}
			if g.json {
				return printJSON(cmd.OutOrStdout(), snap)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Available: %s %s\n", domain.FormatMinorUnits(snap.Available, snap.Currency), snap.Currency)
			fmt.Fprintf(out, "Pending:   %s %s\n", domain.FormatMinorUnits(snap.Pending, snap.Currency), snap.Currency)
			if snap.Blocked != nil {
				fmt.Fprintf(out, "Blocked:   %s %s\n", domain.FormatMinorUnits(*snap.Blocked, snap.Currency), snap.Currency)
			}
			fmt.Fprintf(out, "As of:     %s\n", snap.FetchedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func statementCmd(g *globalFlags) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "statement [account-id]",
		Short: "List the entries of a date range (bounds included)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}

			rng, err := parseRange(from, to, time.Now())
			if err != nil {
				return err
			}

			ctx, cancel := g.context(cmd)
			defer cancel()

			st, err := c.statement(ctx, args[0], rng)
			if err != nil {
				return err
			}
			if g.json {
				return printJSON(cmd.OutOrStdout(), st)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(tw, "DATE\tAMOUNT\tDESCRIPTION\t")
			for _, e := range st.Entries {
				fmt.Fprintf(tw, "%s\t%d\t%s\t\n", e.Date, e.Amount, e.Description)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			s := st.Summary
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d entries, credits %d, debits %d, net %d\n", s.Count, s.TotalCredits, s.TotalDebits, s.Net)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "First day (YYYY-MM-DD), defaults to 30 days ago")
	cmd.Flags().StringVar(&to, "to", "", "Last day (YYYY-MM-DD), defaults to today")

	return cmd
}

func transferCmd(g *globalFlags) *cobra.Command {
	var (
		method      string
		destination string
		description string
		token       string
	)

	cmd := &cobra.Command{
		Use:   "transfer [account-id] [amount]",
		Short: "Send an outbound transfer (amount as a decimal, e.g. 50.00)",
		Long: `Send an outbound transfer.

Every invocation carries an idempotency token. When the outcome is unknown
(timeout, provider unavailable) run the same command again with --token set
to the printed token: the transfer is never executed twice.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			draft := domain.NewTransferDraft(domain.TransferRequest{
				AccountID:        args[0],
				Method:           domain.TransferMethod(method),
				Destination:      destination,
				Description:      description,
				IdempotencyToken: token,
			})
			token = draft.Request.IdempotencyToken

			ctx, cancel := g.context(cmd)
			defer cancel()

			out, err := c.transfer(ctx, draft.Request.AccountID, token, transferPayload{
				Method:      string(draft.Request.Method),
				Destination: draft.Request.Destination,
				Amount:      args[1],
				Description: draft.Request.Description,
			})
			if err != nil {
				var apiErr *apiError
				if !errors.As(err, &apiErr) || apiErr.Body.Code.Retryable() {
					fmt.Fprintf(cmd.ErrOrStderr(), "outcome unknown, retry with --token %s\n", token)
				}
				return err
			}
			if g.json {
				return printJSON(cmd.OutOrStdout(), out)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Status:      %s\n", out.Status)
			fmt.Fprintf(w, "External id: %s\n", out.ExternalID)
			fmt.Fprintf(w, "Amount:      %d\n", out.AmountMinorUnits)
			fmt.Fprintf(w, "Token:       %s\n", token)
			if out.Replayed {
				fmt.Fprintln(w, "(already executed, original result returned)")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&method, "method", "m", string(domain.MethodInstant), "Transfer method (instant, wire)")
	cmd.Flags().StringVar(&destination, "to", "", "Destination (instant-transfer key, or wire destination)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Description shown on the statement")
	cmd.Flags().StringVar(&token, "token", "", "Idempotency token (a new UUID when empty)")

	return cmd
}

func overviewCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Show the balance of every account of the tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()

			rows, err := c.overview(ctx)
			if err != nil {
				return err
			}
			if g.json {
				return printJSON(cmd.OutOrStdout(), rows)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ACCOUNT\tLABEL\tAVAILABLE\tPENDING")
			for _, r := range rows {
				if r.Error != nil {
					fmt.Fprintf(tw, "%s\t%s\t%s\t\n", r.Account.ID, r.Account.Label, r.Error.Message)
					continue
				}
				b := r.Balance
				fmt.Fprintf(tw, "%s\t%s\t%s %s\t%s\n", r.Account.ID, r.Account.Label,
					domain.FormatMinorUnits(b.Available, b.Currency), b.Currency,
					domain.FormatMinorUnits(b.Pending, b.Currency))
			}
			return tw.Flush()
		},
	}
}

func parseRange(from, to string, now time.Time) (domain.DateRange, error) {
	end := domain.DateOf(now)
	if to != "" {
		d, err := domain.ParseDate(to)
		if err != nil {
			return domain.DateRange{}, err
		}
		end = d
	}
	start := end.AddDays(-29)
	if from != "" {
		d, err := domain.ParseDate(from)
		if err != nil {
			return domain.DateRange{}, err
		}
		start = d
	}
	return domain.DateRange{Start: start, End: end}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
